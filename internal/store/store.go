// Package store persists pages, apps and studio components.
//
// Three drivers share one contract: sqlite (modernc.org/sqlite), postgres
// (lib/pq) and file (one JSON document per record in a directory). Page
// documents are stored as encoded block JSON; the store never decodes them.
package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Defaults applied on insert.
const (
	DefaultPageTitle = "My Page"
	DefaultAppTitle  = "My App"
	EmptyDocument    = "[]"
)

// Page is a stored page. Blocks holds the published document and
// DraftBlocks unpublished edits, both as encoded block JSON.
type Page struct {
	Name        string    `json:"name"`
	PageName    string    `json:"page_name"`
	PageTitle   string    `json:"page_title"`
	Route       string    `json:"route"`
	Published   bool      `json:"published"`
	Blocks      string    `json:"blocks"`
	DraftBlocks string    `json:"draft_blocks,omitempty"`
	App         string    `json:"app,omitempty"`
	Modified    time.Time `json:"modified"`
}

// Document returns the document the editor should open: the draft when
// there is one, then the published blocks, then an empty document.
func (p *Page) Document() string {
	switch {
	case p.DraftBlocks != "":
		return p.DraftBlocks
	case p.Blocks != "":
		return p.Blocks
	}
	return EmptyDocument
}

// App groups pages under a common route prefix.
type App struct {
	Name     string `json:"name"`
	AppTitle string `json:"app_title"`
	Route    string `json:"route"`
	AppHome  string `json:"app_home,omitempty"`
}

// ComponentInput declares one input of a studio component.
type ComponentInput struct {
	InputName   string `json:"input_name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Default     string `json:"default,omitempty"`
	Options     string `json:"options,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// Component is a user-built component: a named block document with inputs.
type Component struct {
	ComponentID   string           `json:"component_id"`
	ComponentName string           `json:"component_name"`
	Block         string           `json:"block"`
	Inputs        []ComponentInput `json:"inputs"`
}

// Store is implemented by every driver.
type Store interface {
	GetPage(ctx context.Context, name string) (*Page, error)
	ListPages(ctx context.Context) ([]Page, error)
	InsertPage(ctx context.Context, p Page) (*Page, error)
	// UpdatePage sets the given columns, keyed by their JSON names.
	UpdatePage(ctx context.Context, name string, fields map[string]any) error
	SaveDraft(ctx context.Context, name, blocks string) error
	// Publish moves the draft into blocks, clears it and marks the page
	// published.
	Publish(ctx context.Context, name string) error
	DeletePage(ctx context.Context, name string) error

	GetApp(ctx context.Context, name string) (*App, error)
	ListApps(ctx context.Context) ([]App, error)
	InsertApp(ctx context.Context, a App) (*App, error)
	SetAppHome(ctx context.Context, app, page string) error
	AppPages(ctx context.Context, app string) ([]Page, error)
	UnlinkPage(ctx context.Context, app, page string) error

	GetComponent(ctx context.Context, id string) (*Component, error)
	ListComponents(ctx context.Context) ([]Component, error)
	InsertComponent(ctx context.Context, c Component) (*Component, error)
	SaveComponent(ctx context.Context, c Component) error
	DeleteComponent(ctx context.Context, id string) error

	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver string // "sqlite", "postgres" or "file"
	Path   string // sqlite database file or file-store directory
	DSN    string // postgres connection string
	Retry  RetryConfig
}

// Open returns the driver cfg names.
func Open(ctx context.Context, cfg Config, logger *log.Logger) (Store, error) {
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.WithPrefix("store")
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(ctx, cfg.Path, cfg.Retry, logger)
	case "postgres", "pg":
		return OpenPostgres(ctx, cfg.DSN, cfg.Retry, logger)
	case "file":
		fs, err := OpenFile(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	return nil, &ValidationError{Field: "driver", Reason: fmt.Sprintf("unknown store driver %q", cfg.Driver)}
}

// hash returns n random lowercase hex characters.
func hash(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

func preparePage(p Page, now time.Time) Page {
	if p.Name == "" {
		p.Name = "page-" + hash(8)
	}
	if p.PageTitle == "" {
		p.PageTitle = DefaultPageTitle
	}
	if p.PageName == "" {
		p.PageName = p.Name
	}
	if p.Blocks == "" {
		p.Blocks = EmptyDocument
	}
	if p.Route == "" {
		p.Route = p.Name
	}
	p.Modified = now
	return p
}

func prepareApp(a App) App {
	if a.Name == "" {
		a.Name = "app-" + hash(8)
	}
	if a.AppTitle == "" {
		a.AppTitle = DefaultAppTitle
	}
	if a.Route == "" {
		a.Route = "studio-app/" + Kebab(a.AppTitle) + "-" + hash(4)
	}
	return a
}

var (
	camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	nonWord       = regexp.MustCompile(`[^a-z0-9]+`)
)

// Kebab turns a title such as "My SalesApp" into "my-sales-app".
func Kebab(s string) string {
	s = camelBoundary.ReplaceAllString(s, "$1-$2")
	s = nonWord.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}

// Scrub turns a display name into an identifier: lowercased, with spaces
// and dashes replaced by underscores.
func Scrub(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// uniqueID returns base, or base-N for the smallest N>0 that is free.
func uniqueID(base string, taken func(string) (bool, error)) (string, error) {
	id := base
	for n := 1; ; n++ {
		exists, err := taken(id)
		if err != nil {
			return "", err
		}
		if !exists {
			return id, nil
		}
		id = fmt.Sprintf("%s-%d", base, n)
	}
}

// pageColumns maps UpdatePage keys to column names.
var pageColumns = map[string]string{
	"page_name":    "page_name",
	"page_title":   "page_title",
	"route":        "route",
	"published":    "published",
	"blocks":       "blocks",
	"draft_blocks": "draft_blocks",
	"app":          "app",
}

// checkPageFields validates UpdatePage input and returns the columns to set.
func checkPageFields(fields map[string]any) (map[string]any, error) {
	if len(fields) == 0 {
		return nil, &ValidationError{Reason: "no fields to update"}
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		col, ok := pageColumns[k]
		if !ok {
			return nil, &ValidationError{Field: k, Reason: "not an editable page field"}
		}
		switch col {
		case "published":
			b, ok := v.(bool)
			if !ok {
				return nil, &ValidationError{Field: k, Reason: "must be a boolean"}
			}
			out[col] = b
		default:
			s, ok := v.(string)
			if !ok {
				return nil, &ValidationError{Field: k, Reason: "must be a string"}
			}
			out[col] = s
		}
	}
	return out, nil
}

func checkComponent(c Component) error {
	if strings.TrimSpace(c.ComponentName) == "" {
		return &ValidationError{Field: "component_name", Reason: "required"}
	}
	for i, in := range c.Inputs {
		if in.InputName == "" {
			return &ValidationError{Field: "inputs", Reason: fmt.Sprintf("input %d has no name", i)}
		}
	}
	return nil
}
