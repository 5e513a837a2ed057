package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Record directories under a file store root.
const (
	PagesDir      = "pages"
	AppsDir       = "apps"
	ComponentsDir = "components"
)

var recordName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// FileStore keeps each record as a JSON file, so a project can be edited by
// hand or kept in version control alongside the site it builds.
type FileStore struct {
	dir   string
	mu    sync.Mutex
	log   *log.Logger
	clock func() time.Time
}

// OpenFile opens a file store rooted at dir, creating its directories.
func OpenFile(dir string, logger *log.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, &ValidationError{Field: "path", Reason: "file store needs a directory"}
	}
	for _, sub := range []string{PagesDir, AppsDir, ComponentsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("file store: %w", err)
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FileStore{dir: dir, log: logger, clock: time.Now}, nil
}

// Dir returns the store root.
func (s *FileStore) Dir() string { return s.dir }

// PageFromPath reports the page a file under the store belongs to.
func (s *FileStore) PageFromPath(path string) (string, bool) {
	rel, err := filepath.Rel(filepath.Join(s.dir, PagesDir), path)
	if err != nil || strings.Contains(rel, string(filepath.Separator)) || !strings.HasSuffix(rel, ".json") {
		return "", false
	}
	return strings.TrimSuffix(rel, ".json"), true
}

func (s *FileStore) path(kind, name string) (string, error) {
	if !recordName.MatchString(name) || name == "." || name == ".." {
		return "", &ValidationError{Field: "name", Reason: fmt.Sprintf("%q cannot be used as a file name", name)}
	}
	return filepath.Join(s.dir, kind, name+".json"), nil
}

func (s *FileStore) read(kind, label, name string, v any) error {
	p, err := s.path(kind, name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return &NotFoundError{Kind: label, Name: name}
	}
	if err != nil {
		return newStoreError("read "+label, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return newStoreError("read "+label, fmt.Errorf("%s: %w", p, err))
	}
	return nil
}

// write replaces the record atomically.
func (s *FileStore) write(kind, label, name string, v any) error {
	p, err := s.path(kind, name)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return newStoreError("write "+label, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), "."+name+"-*.tmp")
	if err != nil {
		return newStoreError("write "+label, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return newStoreError("write "+label, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return newStoreError("write "+label, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return newStoreError("write "+label, err)
	}
	return nil
}

func (s *FileStore) exists(kind, name string) bool {
	p, err := s.path(kind, name)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

func (s *FileStore) remove(kind, label, name string) error {
	p, err := s.path(kind, name)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return &NotFoundError{Kind: label, Name: name}
	}
	if err != nil {
		return newStoreError("delete "+label, err)
	}
	return nil
}

// readAll decodes every record of a kind, skipping files that do not parse.
func readAll[T any](s *FileStore, kind string) ([]T, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, kind))
	if err != nil {
		return nil, newStoreError("list "+kind, err)
	}
	var out []T
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, kind, name))
		if err != nil {
			return nil, newStoreError("list "+kind, err)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			s.log.Warn("skipping unreadable record", "file", name, "err", err)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *FileStore) GetPage(_ context.Context, name string) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p Page
	if err := s.read(PagesDir, "page", name, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func sortPages(pages []Page) {
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].PageTitle != pages[j].PageTitle {
			return pages[i].PageTitle < pages[j].PageTitle
		}
		return pages[i].Name < pages[j].Name
	})
}

func (s *FileStore) ListPages(_ context.Context) ([]Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pages, err := readAll[Page](s, PagesDir)
	sortPages(pages)
	return pages, err
}

func (s *FileStore) InsertPage(_ context.Context, p Page) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = preparePage(p, s.clock())
	if s.exists(PagesDir, p.Name) {
		return nil, &ValidationError{Field: "name", Reason: fmt.Sprintf("page %q already exists", p.Name)}
	}
	var app App
	if p.App != "" {
		if err := s.read(AppsDir, "app", p.App, &app); err != nil {
			return nil, err
		}
	}
	if err := s.write(PagesDir, "page", p.Name, p); err != nil {
		return nil, err
	}
	if p.App != "" && app.AppHome == "" {
		app.AppHome = p.Name
		if err := s.write(AppsDir, "app", app.Name, app); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// updatePage applies fn to a stored page under the lock.
func (s *FileStore) updatePage(name string, fn func(*Page)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p Page
	if err := s.read(PagesDir, "page", name, &p); err != nil {
		return err
	}
	fn(&p)
	p.Modified = s.clock()
	return s.write(PagesDir, "page", name, p)
}

func (s *FileStore) UpdatePage(_ context.Context, name string, fields map[string]any) error {
	cols, err := checkPageFields(fields)
	if err != nil {
		return err
	}
	return s.updatePage(name, func(p *Page) {
		for k, v := range cols {
			switch k {
			case "page_name":
				p.PageName = v.(string)
			case "page_title":
				p.PageTitle = v.(string)
			case "route":
				p.Route = v.(string)
			case "published":
				p.Published = v.(bool)
			case "blocks":
				p.Blocks = v.(string)
			case "draft_blocks":
				p.DraftBlocks = v.(string)
			case "app":
				p.App = v.(string)
			}
		}
	})
}

func (s *FileStore) SaveDraft(_ context.Context, name, blocks string) error {
	return s.updatePage(name, func(p *Page) { p.DraftBlocks = blocks })
}

func (s *FileStore) Publish(_ context.Context, name string) error {
	return s.updatePage(name, func(p *Page) {
		if p.DraftBlocks != "" {
			p.Blocks = p.DraftBlocks
		}
		p.DraftBlocks = ""
		p.Published = true
	})
}

func (s *FileStore) DeletePage(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.remove(PagesDir, "page", name); err != nil {
		return err
	}
	apps, err := readAll[App](s, AppsDir)
	if err != nil {
		return err
	}
	for _, a := range apps {
		if a.AppHome == name {
			a.AppHome = ""
			if err := s.write(AppsDir, "app", a.Name, a); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *FileStore) GetApp(_ context.Context, name string) (*App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var a App
	if err := s.read(AppsDir, "app", name, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *FileStore) ListApps(_ context.Context) ([]App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	apps, err := readAll[App](s, AppsDir)
	sort.Slice(apps, func(i, j int) bool {
		if apps[i].AppTitle != apps[j].AppTitle {
			return apps[i].AppTitle < apps[j].AppTitle
		}
		return apps[i].Name < apps[j].Name
	})
	return apps, err
}

func (s *FileStore) InsertApp(_ context.Context, a App) (*App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a = prepareApp(a)
	if s.exists(AppsDir, a.Name) {
		return nil, &ValidationError{Field: "name", Reason: fmt.Sprintf("app %q already exists", a.Name)}
	}
	if err := s.write(AppsDir, "app", a.Name, a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *FileStore) SetAppHome(_ context.Context, app, page string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p Page
	if err := s.read(PagesDir, "page", page, &p); err != nil {
		return err
	}
	if p.App != app {
		return &ValidationError{Field: "app_home", Reason: fmt.Sprintf("page %q is not part of app %q", page, app)}
	}
	var a App
	if err := s.read(AppsDir, "app", app, &a); err != nil {
		return err
	}
	a.AppHome = page
	return s.write(AppsDir, "app", app, a)
}

func (s *FileStore) appPages(app string) ([]Page, error) {
	all, err := readAll[Page](s, PagesDir)
	if err != nil {
		return nil, err
	}
	var pages []Page
	for _, p := range all {
		if p.App == app {
			pages = append(pages, p)
		}
	}
	sortPages(pages)
	return pages, nil
}

func (s *FileStore) AppPages(_ context.Context, app string) ([]Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appPages(app)
}

func (s *FileStore) UnlinkPage(_ context.Context, app, page string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p Page
	if err := s.read(PagesDir, "page", page, &p); err != nil {
		return err
	}
	if p.App != app {
		return &NotFoundError{Kind: "page", Name: page}
	}
	p.App = ""
	p.Modified = s.clock()
	if err := s.write(PagesDir, "page", page, p); err != nil {
		return err
	}

	var a App
	if err := s.read(AppsDir, "app", app, &a); err != nil {
		return err
	}
	if a.AppHome != page {
		return nil
	}
	remaining, err := s.appPages(app)
	if err != nil {
		return err
	}
	a.AppHome = ""
	if len(remaining) > 0 {
		a.AppHome = remaining[0].Name
	}
	return s.write(AppsDir, "app", app, a)
}

func (s *FileStore) GetComponent(_ context.Context, id string) (*Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Component
	if err := s.read(ComponentsDir, "component", id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *FileStore) ListComponents(_ context.Context) ([]Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comps, err := readAll[Component](s, ComponentsDir)
	sort.Slice(comps, func(i, j int) bool {
		if comps[i].ComponentName != comps[j].ComponentName {
			return comps[i].ComponentName < comps[j].ComponentName
		}
		return comps[i].ComponentID < comps[j].ComponentID
	})
	return comps, err
}

func (s *FileStore) InsertComponent(_ context.Context, c Component) (*Component, error) {
	if err := checkComponent(c); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Inputs == nil {
		c.Inputs = []ComponentInput{}
	}
	if c.ComponentID == "" {
		id, _ := uniqueID(Scrub(c.ComponentName), func(id string) (bool, error) {
			return s.exists(ComponentsDir, id), nil
		})
		c.ComponentID = id
	} else if s.exists(ComponentsDir, c.ComponentID) {
		return nil, &ValidationError{Field: "component_id", Reason: fmt.Sprintf("component %q already exists", c.ComponentID)}
	}
	if err := s.write(ComponentsDir, "component", c.ComponentID, c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *FileStore) SaveComponent(_ context.Context, c Component) error {
	if err := checkComponent(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists(ComponentsDir, c.ComponentID) {
		return &NotFoundError{Kind: "component", Name: c.ComponentID}
	}
	if c.Inputs == nil {
		c.Inputs = []ComponentInput{}
	}
	return s.write(ComponentsDir, "component", c.ComponentID, c)
}

func (s *FileStore) DeleteComponent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(ComponentsDir, "component", id)
}

// Close is a no-op; every write is already on disk.
func (s *FileStore) Close() error { return nil }
