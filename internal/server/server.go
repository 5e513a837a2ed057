// Package server exposes the studio over HTTP: the REST API, the websocket
// editor protocol, rendered page previews and the file watcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/codec"
	"github.com/livetemplate/blockstudio/internal/components"
	"github.com/livetemplate/blockstudio/internal/config"
	"github.com/livetemplate/blockstudio/internal/metadata"
	"github.com/livetemplate/blockstudio/internal/render"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/store"
)

// ErrWatchUnsupported is returned by EnableWatch for stores that are not
// kept on disk.
var ErrWatchUnsupported = errors.New("server: watching needs the file store")

// Options configure a Server.
type Options struct {
	Config   *config.Config
	Store    store.Store
	Catalog  *metadata.Catalog
	Sandbox  *script.Sandbox
	Logger   *log.Logger
	Renderer *render.Renderer
	// ChromeContext is the browser context editor tabs are opened in when
	// the editor layout is "chrome".
	ChromeContext context.Context
	// Breaker tunes the breakers on script API calls. The zero value means
	// DefaultBreakerConfig.
	Breaker BreakerConfig
}

// Server serves one studio project.
type Server struct {
	cfg      *config.Config
	store    store.Store
	catalog  *metadata.Catalog
	sandbox  *script.Sandbox
	registry *components.Registry
	renderer *render.Renderer
	chrome   context.Context
	breakers *breakers
	log      *log.Logger

	connMu      sync.RWMutex
	connections map[*editorConn]struct{}
	watcher     *Watcher
}

// New creates a server. Missing catalog, sandbox and renderer are filled
// with defaults.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	catalog := opts.Catalog
	if catalog == nil {
		catalog = metadata.MustDefault()
	}
	sb := opts.Sandbox
	if sb == nil {
		sb = script.NewSandbox(script.DefaultScope(catalog.Names()...))
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = render.New(render.Options{Catalog: catalog, Logger: logger})
	}
	breakerCfg := opts.Breaker
	if breakerCfg == (BreakerConfig{}) {
		breakerCfg = DefaultBreakerConfig()
	}
	return &Server{
		cfg:         cfg,
		store:       opts.Store,
		catalog:     catalog,
		sandbox:     sb,
		registry:    components.NewRegistry(opts.Store, sb, logger.WithPrefix("components")),
		renderer:    renderer,
		chrome:      opts.ChromeContext,
		breakers:    newBreakers(breakerCfg, logger.WithPrefix("breaker")),
		log:         logger,
		connections: make(map[*editorConn]struct{}),
	}
}

// Handler returns the server's routes wrapped in its middleware. The rate
// limiter's cleanup goroutine runs until ctx is done.
func (s *Server) Handler(ctx context.Context) http.Handler {
	api := s.cfg.API
	headerName := ""
	if api != nil && api.Auth != nil {
		headerName = api.Auth.GetHeaderName()
	}
	var auth *config.AuthConfig
	if api.IsAuthEnabled() {
		auth = api.Auth
	}
	rateLimit, _ := RateLimitMiddleware(ctx, api.GetRateLimitRPS(), api.GetRateLimitBurst(), api.GetMaxTrackedIPs(), s.log.WithPrefix("ratelimit"))

	apiHandler := Chain(NewAPIHandler(s.store, s.catalog, s.registry, s.log),
		CORSMiddleware(api.GetCORSOrigins(), headerName),
		AuthMiddleware(auth),
		rateLimit,
		CompressionMiddleware,
	)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.HandleFunc("GET /ws", s.serveEditor)
	mux.Handle("GET /preview/{name}", CompressionMiddleware(http.HandlerFunc(s.servePreview)))
	mux.HandleFunc("GET /{$}", s.serveIndex)

	return Chain(mux, SecurityHeadersMiddleware(), RequestLogMiddleware(s.log.WithPrefix("http")))
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"title":      s.cfg.Title,
		"layout":     s.cfg.Editor.GetLayout(),
		"components": len(s.catalog.Names()),
	})
}

// servePreview renders a page as standalone HTML: its draft unless
// ?published=1 asks for the published blocks.
func (s *Server) servePreview(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.GetPage(r.Context(), r.PathValue("name"))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.log.Error("preview failed", "page", r.PathValue("name"), "err", err)
		}
		http.Error(w, store.UserFriendlyMessage(err), status)
		return
	}

	doc := page.Document()
	if published, _ := strconv.ParseBool(r.URL.Query().Get("published")); published {
		doc = page.Blocks
	}
	root, err := codec.LoadDocument([]byte(doc), s.sandbox)
	if err != nil {
		s.log.Warn("preview document unreadable", "page", page.Name, "err", err)
		root = block.NewRoot()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = s.renderer.Page(w, render.Page{
		Title:   page.PageTitle,
		Root:    root,
		Context: script.Context{"route": page.Route},
	})
	if err != nil {
		s.log.Error("render failed", "page", page.Name, "err", err)
	}
}

// registerConnection tracks an editor connection for watcher reloads.
func (s *Server) registerConnection(c *editorConn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connections[c] = struct{}{}
	s.log.Debug("editor connected", "active", len(s.connections))
}

func (s *Server) unregisterConnection(c *editorConn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.connections, c)
	s.log.Debug("editor disconnected", "active", len(s.connections))
}

// ConnectionCount returns the number of open editor connections.
func (s *Server) ConnectionCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.connections)
}

func (s *Server) snapshotConnections() []*editorConn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	out := make([]*editorConn, 0, len(s.connections))
	for c := range s.connections {
		out = append(out, c)
	}
	return out
}

// PageChanged reloads page name in every editor that has it open and whose
// copy differs from the stored one, then pushes the new document.
func (s *Server) PageChanged(ctx context.Context, name string) error {
	var errs []error
	for _, c := range s.snapshotConnections() {
		reloaded, err := c.sess.RefreshPage(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if reloaded {
			c.push("reload")
		}
	}
	return errors.Join(errs...)
}

// EnableWatch reloads open pages when their files change on disk.
func (s *Server) EnableWatch() error {
	fs, ok := s.store.(*store.FileStore)
	if !ok {
		return ErrWatchUnsupported
	}
	dir := filepath.Join(fs.Dir(), store.PagesDir)
	w, err := NewWatcher(dir, fs.PageFromPath, func(page string) error {
		return s.PageChanged(context.Background(), page)
	}, s.log)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	s.watcher = w
	w.Start()
	s.log.Info("watching pages", "dir", dir)
	return nil
}

// StopWatch stops the file watcher if it's running.
func (s *Server) StopWatch() error {
	if s.watcher != nil {
		return s.watcher.Stop()
	}
	return nil
}

// Close stops the watcher and releases the component registry.
func (s *Server) Close() error {
	err := s.StopWatch()
	s.registry.Close()
	return err
}
