package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pages (
		name TEXT PRIMARY KEY,
		page_name TEXT NOT NULL,
		page_title TEXT NOT NULL,
		route TEXT NOT NULL,
		published INTEGER NOT NULL DEFAULT 0,
		blocks TEXT NOT NULL,
		draft_blocks TEXT,
		app TEXT,
		modified BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS apps (
		name TEXT PRIMARY KEY,
		app_title TEXT NOT NULL,
		route TEXT NOT NULL,
		app_home TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS components (
		component_id TEXT PRIMARY KEY,
		component_name TEXT NOT NULL,
		block TEXT NOT NULL,
		inputs TEXT NOT NULL
	)`,
}

// sqlStore implements Store over database/sql. The sqlite and postgres
// drivers differ only in their bind variables.
type sqlStore struct {
	db     *sql.DB
	dollar bool // postgres-style $N bind variables
	retry  RetryConfig
	log    *log.Logger
	clock  func() time.Time
}

func newSQLStore(ctx context.Context, db *sql.DB, dollar bool, retry RetryConfig, logger *log.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, dollar: dollar, retry: retry, log: logger, clock: time.Now}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return s, nil
}

// rebind rewrites ? placeholders for the active driver.
func (s *sqlStore) rebind(query string) string {
	if !s.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// do runs fn with retries, wrapping untyped driver errors.
func (s *sqlStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return withRetry(ctx, s.log, op, s.retry, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var nf *NotFoundError
		var ve *ValidationError
		if errors.As(err, &nf) || errors.As(err, &ve) {
			return err
		}
		return newStoreError(op, err)
	})
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

const pageSelect = `SELECT name, page_name, page_title, route, published, blocks, draft_blocks, app, modified FROM pages`

func scanPage(row scanner) (*Page, error) {
	var (
		p         Page
		published int64
		draft     sql.NullString
		app       sql.NullString
		modified  int64
	)
	if err := row.Scan(&p.Name, &p.PageName, &p.PageTitle, &p.Route, &published, &p.Blocks, &draft, &app, &modified); err != nil {
		return nil, err
	}
	p.Published = published != 0
	p.DraftBlocks = draft.String
	p.App = app.String
	p.Modified = time.UnixMilli(modified)
	return &p, nil
}

func (s *sqlStore) queryPages(ctx context.Context, query string, args ...any) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pages []Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		pages = append(pages, *p)
	}
	return pages, rows.Err()
}

func (s *sqlStore) GetPage(ctx context.Context, name string) (*Page, error) {
	var page *Page
	err := s.do(ctx, "get page", func(ctx context.Context) error {
		p, err := scanPage(s.db.QueryRowContext(ctx, s.rebind(pageSelect+` WHERE name = ?`), name))
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{Kind: "page", Name: name}
		}
		page = p
		return err
	})
	return page, err
}

func (s *sqlStore) ListPages(ctx context.Context) ([]Page, error) {
	var pages []Page
	err := s.do(ctx, "list pages", func(ctx context.Context) (err error) {
		pages, err = s.queryPages(ctx, pageSelect+` ORDER BY page_title, name`)
		return err
	})
	return pages, err
}

func (s *sqlStore) InsertPage(ctx context.Context, p Page) (*Page, error) {
	p = preparePage(p, s.clock())
	if p.App != "" {
		if _, err := s.GetApp(ctx, p.App); err != nil {
			return nil, err
		}
	}
	err := s.do(ctx, "insert page", func(ctx context.Context) error {
		_, err := s.exec(ctx,
			`INSERT INTO pages (name, page_name, page_title, route, published, blocks, draft_blocks, app, modified)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Name, p.PageName, p.PageTitle, p.Route, boolInt(p.Published), p.Blocks,
			nullable(p.DraftBlocks), nullable(p.App), p.Modified.UnixMilli())
		if err != nil {
			return err
		}
		if p.App == "" {
			return nil
		}
		_, err = s.exec(ctx, `UPDATE apps SET app_home = ? WHERE name = ? AND (app_home IS NULL OR app_home = '')`, p.Name, p.App)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *sqlStore) UpdatePage(ctx context.Context, name string, fields map[string]any) error {
	cols, err := checkPageFields(fields)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(cols))
	for k := range cols {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys)+2)
	for _, k := range keys {
		sets = append(sets, k+" = ?")
		switch v := cols[k].(type) {
		case bool:
			args = append(args, boolInt(v))
		case string:
			if k == "draft_blocks" || k == "app" {
				args = append(args, nullable(v))
			} else {
				args = append(args, v)
			}
		}
	}
	sets = append(sets, "modified = ?")
	args = append(args, s.clock().UnixMilli(), name)

	return s.do(ctx, "update page", func(ctx context.Context) error {
		n, err := s.exec(ctx, `UPDATE pages SET `+strings.Join(sets, ", ")+` WHERE name = ?`, args...)
		if err == nil && n == 0 {
			return &NotFoundError{Kind: "page", Name: name}
		}
		return err
	})
}

func (s *sqlStore) SaveDraft(ctx context.Context, name, blocks string) error {
	return s.do(ctx, "save draft", func(ctx context.Context) error {
		n, err := s.exec(ctx, `UPDATE pages SET draft_blocks = ?, modified = ? WHERE name = ?`,
			nullable(blocks), s.clock().UnixMilli(), name)
		if err == nil && n == 0 {
			return &NotFoundError{Kind: "page", Name: name}
		}
		return err
	})
}

func (s *sqlStore) Publish(ctx context.Context, name string) error {
	return s.do(ctx, "publish", func(ctx context.Context) error {
		n, err := s.exec(ctx,
			`UPDATE pages SET blocks = COALESCE(draft_blocks, blocks), draft_blocks = NULL, published = 1, modified = ? WHERE name = ?`,
			s.clock().UnixMilli(), name)
		if err == nil && n == 0 {
			return &NotFoundError{Kind: "page", Name: name}
		}
		return err
	})
}

func (s *sqlStore) DeletePage(ctx context.Context, name string) error {
	return s.do(ctx, "delete page", func(ctx context.Context) error {
		n, err := s.exec(ctx, `DELETE FROM pages WHERE name = ?`, name)
		if err != nil {
			return err
		}
		if n == 0 {
			return &NotFoundError{Kind: "page", Name: name}
		}
		_, err = s.exec(ctx, `UPDATE apps SET app_home = NULL WHERE app_home = ?`, name)
		return err
	})
}

func scanApp(row scanner) (*App, error) {
	var a App
	var home sql.NullString
	if err := row.Scan(&a.Name, &a.AppTitle, &a.Route, &home); err != nil {
		return nil, err
	}
	a.AppHome = home.String
	return &a, nil
}

func (s *sqlStore) GetApp(ctx context.Context, name string) (*App, error) {
	var app *App
	err := s.do(ctx, "get app", func(ctx context.Context) error {
		a, err := scanApp(s.db.QueryRowContext(ctx, s.rebind(`SELECT name, app_title, route, app_home FROM apps WHERE name = ?`), name))
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{Kind: "app", Name: name}
		}
		app = a
		return err
	})
	return app, err
}

func (s *sqlStore) ListApps(ctx context.Context) ([]App, error) {
	var apps []App
	err := s.do(ctx, "list apps", func(ctx context.Context) error {
		apps = nil
		rows, err := s.db.QueryContext(ctx, `SELECT name, app_title, route, app_home FROM apps ORDER BY app_title, name`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			a, err := scanApp(rows)
			if err != nil {
				return err
			}
			apps = append(apps, *a)
		}
		return rows.Err()
	})
	return apps, err
}

func (s *sqlStore) InsertApp(ctx context.Context, a App) (*App, error) {
	a = prepareApp(a)
	err := s.do(ctx, "insert app", func(ctx context.Context) error {
		_, err := s.exec(ctx, `INSERT INTO apps (name, app_title, route, app_home) VALUES (?, ?, ?, ?)`,
			a.Name, a.AppTitle, a.Route, nullable(a.AppHome))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *sqlStore) SetAppHome(ctx context.Context, app, page string) error {
	p, err := s.GetPage(ctx, page)
	if err != nil {
		return err
	}
	if p.App != app {
		return &ValidationError{Field: "app_home", Reason: fmt.Sprintf("page %q is not part of app %q", page, app)}
	}
	return s.do(ctx, "set app home", func(ctx context.Context) error {
		n, err := s.exec(ctx, `UPDATE apps SET app_home = ? WHERE name = ?`, page, app)
		if err == nil && n == 0 {
			return &NotFoundError{Kind: "app", Name: app}
		}
		return err
	})
}

func (s *sqlStore) AppPages(ctx context.Context, app string) ([]Page, error) {
	var pages []Page
	err := s.do(ctx, "app pages", func(ctx context.Context) (err error) {
		pages, err = s.queryPages(ctx, pageSelect+` WHERE app = ? ORDER BY page_title, name`, app)
		return err
	})
	return pages, err
}

func (s *sqlStore) UnlinkPage(ctx context.Context, app, page string) error {
	err := s.do(ctx, "unlink page", func(ctx context.Context) error {
		n, err := s.exec(ctx, `UPDATE pages SET app = NULL WHERE name = ? AND app = ?`, page, app)
		if err == nil && n == 0 {
			return &NotFoundError{Kind: "page", Name: page}
		}
		return err
	})
	if err != nil {
		return err
	}

	a, err := s.GetApp(ctx, app)
	if err != nil || a.AppHome != page {
		return err
	}
	remaining, err := s.AppPages(ctx, app)
	if err != nil {
		return err
	}
	var home string
	if len(remaining) > 0 {
		home = remaining[0].Name
	}
	return s.do(ctx, "unlink page", func(ctx context.Context) error {
		_, err := s.exec(ctx, `UPDATE apps SET app_home = ? WHERE name = ?`, nullable(home), app)
		return err
	})
}

func scanComponent(row scanner) (*Component, error) {
	var c Component
	var inputs string
	if err := row.Scan(&c.ComponentID, &c.ComponentName, &c.Block, &inputs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(inputs), &c.Inputs); err != nil {
		return nil, fmt.Errorf("component %q inputs: %w", c.ComponentID, err)
	}
	return &c, nil
}

func encodeInputs(in []ComponentInput) (string, error) {
	if in == nil {
		in = []ComponentInput{}
	}
	data, err := json.Marshal(in)
	return string(data), err
}

func (s *sqlStore) GetComponent(ctx context.Context, id string) (*Component, error) {
	var comp *Component
	err := s.do(ctx, "get component", func(ctx context.Context) error {
		c, err := scanComponent(s.db.QueryRowContext(ctx,
			s.rebind(`SELECT component_id, component_name, block, inputs FROM components WHERE component_id = ?`), id))
		if errors.Is(err, sql.ErrNoRows) {
			return &NotFoundError{Kind: "component", Name: id}
		}
		comp = c
		return err
	})
	return comp, err
}

func (s *sqlStore) ListComponents(ctx context.Context) ([]Component, error) {
	var comps []Component
	err := s.do(ctx, "list components", func(ctx context.Context) error {
		comps = nil
		rows, err := s.db.QueryContext(ctx, `SELECT component_id, component_name, block, inputs FROM components ORDER BY component_name, component_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			c, err := scanComponent(rows)
			if err != nil {
				return err
			}
			comps = append(comps, *c)
		}
		return rows.Err()
	})
	return comps, err
}

func (s *sqlStore) componentExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM components WHERE component_id = ?`), id).Scan(&n)
	return n > 0, err
}

func (s *sqlStore) InsertComponent(ctx context.Context, c Component) (*Component, error) {
	if err := checkComponent(c); err != nil {
		return nil, err
	}
	inputs, err := encodeInputs(c.Inputs)
	if err != nil {
		return nil, err
	}
	err = s.do(ctx, "insert component", func(ctx context.Context) error {
		if c.ComponentID == "" {
			id, err := uniqueID(Scrub(c.ComponentName), func(id string) (bool, error) {
				return s.componentExists(ctx, id)
			})
			if err != nil {
				return err
			}
			c.ComponentID = id
		}
		_, err := s.exec(ctx, `INSERT INTO components (component_id, component_name, block, inputs) VALUES (?, ?, ?, ?)`,
			c.ComponentID, c.ComponentName, c.Block, inputs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *sqlStore) SaveComponent(ctx context.Context, c Component) error {
	if err := checkComponent(c); err != nil {
		return err
	}
	inputs, err := encodeInputs(c.Inputs)
	if err != nil {
		return err
	}
	return s.do(ctx, "save component", func(ctx context.Context) error {
		n, err := s.exec(ctx, `UPDATE components SET component_name = ?, block = ?, inputs = ? WHERE component_id = ?`,
			c.ComponentName, c.Block, inputs, c.ComponentID)
		if err == nil && n == 0 {
			return &NotFoundError{Kind: "component", Name: c.ComponentID}
		}
		return err
	})
}

func (s *sqlStore) DeleteComponent(ctx context.Context, id string) error {
	return s.do(ctx, "delete component", func(ctx context.Context) error {
		n, err := s.exec(ctx, `DELETE FROM components WHERE component_id = ?`, id)
		if err == nil && n == 0 {
			return &NotFoundError{Kind: "component", Name: id}
		}
		return err
	})
}

// Close releases the database connection.
func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
