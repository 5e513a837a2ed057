package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/livetemplate/blockstudio/internal/browser"
	"github.com/livetemplate/blockstudio/internal/config"
	"github.com/livetemplate/blockstudio/internal/server"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	port         int
	host         string
	watch        bool
	allowScripts bool
	layout       string
	chromeURL    string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the editor, page previews and the REST API",
		Long: `Serve opens the project's store and listens for editor connections on /ws,
renders page previews under /preview/{name} and serves the REST API under /api/.

Flags override the matching settings in blockstudio.yaml.`,
		Example: `  blockstudio serve
  blockstudio serve --port 3000 --watch=false
  blockstudio serve --layout chrome --chrome-url ws://127.0.0.1:9222/devtools/browser/...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, root, opts)
		},
	}
	bindServeFlags(cmd, opts)
	return cmd
}

func bindServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "port to listen on")
	cmd.Flags().StringVar(&opts.host, "host", "", "host to bind")
	cmd.Flags().BoolVar(&opts.watch, "watch", true, "reload open editors when page files change (file storage only)")
	cmd.Flags().BoolVar(&opts.allowScripts, "allow-scripts", false, "run event scripts attached to blocks")
	cmd.Flags().StringVar(&opts.layout, "layout", "", "layout host: virtual or chrome")
	cmd.Flags().StringVar(&opts.chromeURL, "chrome-url", "", "DevTools websocket URL of a running Chrome")
}

// applyServeFlags copies the flags the user set over cfg.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config, opts *serveOptions) error {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = opts.port
	}
	if flags.Changed("host") {
		cfg.Server.Host = opts.host
	}
	if flags.Changed("watch") {
		cfg.Features.Watch = opts.watch
	}
	if flags.Changed("layout") {
		cfg.Editor.Layout = opts.layout
	}
	if flags.Changed("chrome-url") {
		cfg.Editor.ChromeURL = opts.chromeURL
	}
	return cfg.Validate()
}

func runServe(ctx context.Context, cmd *cobra.Command, root *rootOptions, opts *serveOptions) (err error) {
	logger := loggerFromContext(ctx)

	p, err := openProject(ctx, root, logger)
	if err != nil {
		return err
	}
	defer func() { err = p.closeWith(err) }()

	cfg := p.cfg
	if err := applyServeFlags(cmd, cfg, opts); err != nil {
		return err
	}
	if cfg.Server.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	config.SetAllowScripts(opts.allowScripts)

	var chromeCtx context.Context
	if cfg.Editor.GetLayout() == "chrome" {
		var cancel context.CancelFunc
		if cfg.Editor.ChromeURL != "" {
			chromeCtx, cancel = browser.Connect(ctx, cfg.Editor.ChromeURL)
		} else {
			chromeCtx, cancel = browser.Launch(ctx)
		}
		defer cancel()
		if err := browser.Start(chromeCtx); err != nil {
			return fmt.Errorf("start chrome: %w", err)
		}
	}

	srv := server.New(server.Options{
		Config:        cfg,
		Store:         p.store,
		Catalog:       p.catalog,
		Logger:        logger,
		ChromeContext: chromeCtx,
	})
	defer srv.Close()

	if cfg.Features.Watch {
		switch err := srv.EnableWatch(); {
		case errors.Is(err, server.ErrWatchUnsupported):
			logger.Info("watch disabled", "driver", cfg.Storage.GetDriver())
		case err != nil:
			return fmt.Errorf("watch pages: %w", err)
		}
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("serving", "url", "http://"+addr, "layout", cfg.Editor.GetLayout(), "scripts", opts.allowScripts)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
