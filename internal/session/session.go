// Package session is one editor's working state: the open page and its
// canvas, the active app, save and publish, and fragment canvases opened
// over the page.
//
// A Session is safe for concurrent use. Store calls run without the lock
// held; results are applied under it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/canvas"
	"github.com/livetemplate/blockstudio/internal/codec"
	"github.com/livetemplate/blockstudio/internal/metadata"
	"github.com/livetemplate/blockstudio/internal/resolver"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/store"
	"github.com/livetemplate/blockstudio/internal/style"
)

var (
	// ErrStaleLoad is returned by SetPage when a newer SetPage started
	// before this one finished; its result was discarded.
	ErrStaleLoad = errors.New("session: page load superseded")
	// ErrSaveInProgress is returned by SavePage while another save runs.
	ErrSaveInProgress = errors.New("session: save already in progress")
	// ErrNoPage is returned by page operations before a page is set.
	ErrNoPage = errors.New("session: no active page")
	// ErrNoFragment is returned by fragment operations when none is open.
	ErrNoFragment = errors.New("session: no fragment open")
	// ErrScriptsDisabled is returned by TriggerEvent for a "Run Script"
	// binding when AllowScripts is off.
	ErrScriptsDisabled = errors.New("session: event scripts are disabled")
)

// Options configure a Session.
type Options struct {
	Store   store.Store
	Catalog *metadata.Catalog
	Sandbox *script.Sandbox
	// NewHost builds the layout host for a canvas tree. Without it the
	// canvases have no drop support.
	NewHost         func(*block.Tree) resolver.Host
	Services        script.Services
	AllowScripts    bool
	HistoryCapacity int
	DropThrottle    time.Duration
	Logger          *log.Logger
}

// State is a snapshot of the session for display.
type State struct {
	ActiveBreakpoint  style.Breakpoint      `json:"activeBreakpoint"`
	Guides            canvas.Guides         `json:"guides"`
	HoveredBlock      string                `json:"hoveredBlock,omitempty"`
	HoveredBreakpoint style.Breakpoint      `json:"hoveredBreakpoint,omitempty"`
	SettingPage       bool                  `json:"settingPage"`
	SavingPage        bool                  `json:"savingPage"`
	ActivePage        *store.Page           `json:"activePage,omitempty"`
	ActiveApp         *store.App            `json:"activeApp,omitempty"`
	AppPages          map[string]store.Page `json:"appPages,omitempty"`
	Selected          []string              `json:"selected"`
	Fragment          *FragmentInfo         `json:"fragment,omitempty"`
}

// FragmentInfo describes the open fragment.
type FragmentInfo struct {
	Label string `json:"label"`
	Name  string `json:"name"`
	ID    string `json:"id"`
	Kind  string `json:"kind"`
}

type openFragment struct {
	canvas.Fragment
	canvas *canvas.Canvas
}

// Session holds one editor's state.
type Session struct {
	opts Options
	log  *log.Logger

	mu         sync.Mutex
	page       *canvas.Canvas
	fragment   *openFragment
	breakpoint style.Breakpoint
	setting    bool
	saving     bool
	activePage *store.Page
	activeApp  *store.App
	appPages   map[string]store.Page
	resources  map[string]any

	gen atomic.Uint64
}

// New creates a session with an empty page canvas.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Session{opts: opts, log: logger, breakpoint: style.Desktop}
	s.page = s.newCanvas(block.NewRoot())
	return s
}

func (s *Session) newCanvas(root *block.Block) *canvas.Canvas {
	tree := block.NewTree(root)
	tree.SetActiveBreakpoint(s.breakpoint)
	copts := canvas.Options{
		Tree:            tree,
		Catalog:         s.opts.Catalog,
		Sandbox:         s.opts.Sandbox,
		Fragments:       dropFragments{s},
		HistoryCapacity: s.opts.HistoryCapacity,
		DropThrottle:    s.opts.DropThrottle,
		Logger:          s.log,
	}
	if s.opts.NewHost != nil {
		copts.Host = s.opts.NewHost(tree)
	}
	return canvas.New(copts)
}

// active returns the canvas edits apply to. Callers hold mu.
func (s *Session) active() *canvas.Canvas {
	if s.fragment != nil {
		return s.fragment.canvas
	}
	return s.page
}

// Do runs fn on the active canvas under the session lock.
func (s *Session) Do(fn func(c *canvas.Canvas) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.active())
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.active()
	st := State{
		ActiveBreakpoint: s.breakpoint,
		Guides:           c.Guides,
		SettingPage:      s.setting,
		SavingPage:       s.saving,
		ActiveApp:        s.activeApp,
		Selected:         c.Selection.IDs(),
	}
	if s.activePage != nil {
		p := *s.activePage
		st.ActivePage = &p
	}
	if len(s.appPages) > 0 {
		st.AppPages = make(map[string]store.Page, len(s.appPages))
		for k, v := range s.appPages {
			st.AppPages[k] = v
		}
	}
	if r := c.Resolver(); r != nil {
		st.HoveredBlock, st.HoveredBreakpoint = r.Hovered()
	}
	if f := s.fragment; f != nil {
		st.Fragment = &FragmentInfo{Label: f.Label, Name: f.Name, ID: f.ID, Kind: f.Kind}
	}
	return st
}

// SetBreakpoint changes the breakpoint style edits apply to.
func (s *Session) SetBreakpoint(bp style.Breakpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakpoint = bp
	s.page.SetBreakpoint(bp)
	if s.fragment != nil {
		s.fragment.canvas.SetBreakpoint(bp)
	}
}

// SetResources replaces the data resources expressions are evaluated
// against.
func (s *Session) SetResources(r map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources = r
}

// EvalContext returns the context {{ expressions }} are evaluated in.
func (s *Session) EvalContext() script.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := script.Context{}
	for k, v := range s.resources {
		ctx[k] = v
	}
	if s.activePage != nil {
		ctx["route"] = s.activePage.Route
	}
	return ctx
}

// SetPage loads a page into the page canvas: its draft, else its published
// blocks, else an empty document. A document that does not decode opens as
// an empty page. If another SetPage starts before this one finishes, this
// one returns ErrStaleLoad and changes nothing.
func (s *Session) SetPage(ctx context.Context, name string) error {
	gen := s.gen.Add(1)
	s.mu.Lock()
	s.setting = true
	s.mu.Unlock()

	page, err := s.opts.Store.GetPage(ctx, name)
	var root *block.Block
	if err == nil {
		root, err = codec.LoadDocument([]byte(page.Document()), s.opts.Sandbox)
		if err != nil {
			s.log.Warn("page document unreadable, opening empty page", "page", name, "err", err)
			root, err = block.NewRoot(), nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen.Load() != gen {
		return ErrStaleLoad
	}
	s.setting = false
	if err != nil {
		return err
	}
	s.closeFragment()
	s.activePage = page
	s.page.SetRoot(root)
	s.page.Tree.SetActiveBreakpoint(s.breakpoint)
	s.page.Viewport = canvas.NewViewport()
	return nil
}

// RefreshPage reloads the active page when it is name and its stored
// document no longer matches the one the session loaded or last saved.
// It reports whether the page was reloaded.
func (s *Session) RefreshPage(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	active := s.activePage
	s.mu.Unlock()
	if active == nil || active.Name != name {
		return false, nil
	}
	page, err := s.opts.Store.GetPage(ctx, name)
	if err != nil {
		return false, err
	}
	if page.Document() == active.Document() {
		return false, nil
	}
	if err := s.SetPage(ctx, name); err != nil {
		return false, err
	}
	return true, nil
}

// SavePage writes the page canvas to the active page's draft. Only one
// save runs at a time.
func (s *Session) SavePage(ctx context.Context) error {
	s.mu.Lock()
	if s.activePage == nil {
		s.mu.Unlock()
		return ErrNoPage
	}
	if s.saving {
		s.mu.Unlock()
		return ErrSaveInProgress
	}
	data, err := codec.EncodeDocument(s.page.Root())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("encode page: %w", err)
	}
	name := s.activePage.Name
	s.saving = true
	s.mu.Unlock()

	err = s.opts.Store.SaveDraft(ctx, name, string(data))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if err != nil {
		return err
	}
	if s.activePage != nil && s.activePage.Name == name {
		s.activePage.DraftBlocks = string(data)
	}
	return nil
}

func (s *Session) activePageName() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activePage == nil {
		return "", ErrNoPage
	}
	return s.activePage.Name, nil
}

// PublishPage publishes the active page's draft and reloads its record.
func (s *Session) PublishPage(ctx context.Context) (*store.Page, error) {
	name, err := s.activePageName()
	if err != nil {
		return nil, err
	}
	if err := s.opts.Store.Publish(ctx, name); err != nil {
		return nil, err
	}
	page, err := s.opts.Store.GetPage(ctx, name)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.activePage != nil && s.activePage.Name == name {
		s.activePage = page
	}
	s.mu.Unlock()
	return page, nil
}

// UpdateActivePage sets one field of the active page record, then
// refreshes the app's page list.
func (s *Session) UpdateActivePage(ctx context.Context, key string, value any) error {
	name, err := s.activePageName()
	if err != nil {
		return err
	}
	if err := s.opts.Store.UpdatePage(ctx, name, map[string]any{key: value}); err != nil {
		return err
	}
	page, err := s.opts.Store.GetPage(ctx, name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.activePage != nil && s.activePage.Name == name {
		s.activePage = page
	}
	app := s.activeApp
	s.mu.Unlock()

	if app != nil {
		return s.SetApp(ctx, app.Name)
	}
	return nil
}

// SetApp makes app active and loads its pages.
func (s *Session) SetApp(ctx context.Context, app string) error {
	a, err := s.opts.Store.GetApp(ctx, app)
	if err != nil {
		return err
	}
	pages, err := s.opts.Store.AppPages(ctx, app)
	if err != nil {
		return err
	}
	byName := make(map[string]store.Page, len(pages))
	for _, p := range pages {
		byName[p.Name] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeApp = a
	s.appPages = byName
	return nil
}

// SetAppHome makes page the app's home and reloads the app.
func (s *Session) SetAppHome(ctx context.Context, app, page string) error {
	if err := s.opts.Store.SetAppHome(ctx, app, page); err != nil {
		return err
	}
	return s.SetApp(ctx, app)
}

// DeleteAppPage removes page from app and then tries to delete the page
// itself.
func (s *Session) DeleteAppPage(ctx context.Context, app, page string) error {
	if err := s.opts.Store.UnlinkPage(ctx, app, page); err != nil {
		return err
	}
	if err := s.opts.Store.DeletePage(ctx, page); err != nil {
		s.log.Debug("page kept after unlinking", "page", page, "err", err)
	}
	return s.SetApp(ctx, app)
}

// AppPageRoute returns the route of one of the active app's pages.
func (s *Session) AppPageRoute(page string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.appPages[page]
	if !ok {
		return "", false
	}
	return p.Route, true
}

// TriggerEvent runs the handler bound to event on a block of the active
// canvas. Blocks without a handler for the event are ignored.
func (s *Session) TriggerEvent(ctx context.Context, blockID, event string) error {
	s.mu.Lock()
	b := s.active().FindBlock(blockID)
	var (
		ev script.ComponentEvent
		ok bool
	)
	if b != nil {
		raw, _ := b.Event(event)
		ev, ok = script.EventFromMap(event, raw)
	}
	s.mu.Unlock()
	if b == nil {
		return &store.NotFoundError{Kind: "block", Name: blockID}
	}
	if !ok {
		return nil
	}
	if ev.Action == script.ActionRunScript && !s.opts.AllowScripts {
		return ErrScriptsDisabled
	}
	return s.opts.Services.Dispatch(ctx, ev, s.EvalContext())
}

// Close releases the canvases.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeFragment()
	s.page.Close()
}
