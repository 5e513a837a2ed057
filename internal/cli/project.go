package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/livetemplate/blockstudio/internal/config"
	"github.com/livetemplate/blockstudio/internal/metadata"
	"github.com/livetemplate/blockstudio/internal/store"
)

// project is an opened project directory: its config, store and catalog.
type project struct {
	dir     string
	cfg     *config.Config
	store   store.Store
	catalog *metadata.Catalog
}

// loadConfig reads the project config and validates it.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	path := opts.config
	if path == "" {
		path = filepath.Join(opts.dir, config.FileName)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// storeConfig resolves the storage section against the project directory.
func storeConfig(dir string, c config.StorageConfig) store.Config {
	path := c.Path
	if c.GetDriver() == "file" && path == "" {
		path = "data"
	}
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	retry := store.DefaultRetryConfig()
	retry.MaxRetries = c.GetRetryMaxRetries()
	retry.BaseDelay = c.GetRetryBaseDelay()
	retry.MaxDelay = c.GetRetryMaxDelay()
	return store.Config{
		Driver: c.GetDriver(),
		Path:   path,
		DSN:    c.GetDSN(),
		Retry:  retry,
	}
}

// loadCatalog returns the built-in catalog with the project's overrides
// merged in.
func loadCatalog(dir string, cfg *config.Config) (*metadata.Catalog, error) {
	catalog, err := metadata.Default()
	if err != nil {
		return nil, err
	}
	if path := cfg.Metadata.Catalog; path != "" {
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if err := catalog.LoadFile(path); err != nil {
			return nil, err
		}
	}
	return catalog, nil
}

// openProject loads the config, opens the store and builds the catalog
// with any project overrides merged in.
func openProject(ctx context.Context, opts *rootOptions, logger *log.Logger) (*project, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(opts.dir, cfg)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, storeConfig(opts.dir, cfg.Storage), logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.GetDriver(), err)
	}
	logger.Debug("project opened", "dir", opts.dir, "driver", cfg.Storage.GetDriver())
	return &project{dir: opts.dir, cfg: cfg, store: st, catalog: catalog}, nil
}

func (p *project) Close() error {
	if p == nil || p.store == nil {
		return nil
	}
	return p.store.Close()
}

// closeWith folds the project's close error into err.
func (p *project) closeWith(err error) error {
	return errors.Join(err, p.Close())
}
