package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/livetemplate/blockstudio/internal/codec"
	"github.com/livetemplate/blockstudio/internal/render"
	"github.com/livetemplate/blockstudio/internal/script"
	"github.com/livetemplate/blockstudio/internal/store"
)

type renderOptions struct {
	out   string
	draft bool
}

func newRenderCmd(root *rootOptions) *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render [name...]",
		Short: "Render pages to static HTML",
		Long: `Render writes each page as a standalone HTML document named <page>.html.

Without names every published page is rendered. --draft renders the
unpublished edits instead of the published blocks. --out - writes to stdout.`,
		Example: `  blockstudio render --out site
  blockstudio render page-1a2b3c4d --draft --out -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, root, func(ctx context.Context, p *project) error {
				return runRender(ctx, cmd.OutOrStdout(), p, args, opts)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.out, "out", "o", "dist", "output directory, or - for stdout")
	cmd.Flags().BoolVar(&opts.draft, "draft", false, "render drafts instead of published blocks")
	return cmd
}

// pagesToRender returns the named pages, or every published page.
func pagesToRender(ctx context.Context, st store.Store, names []string, draft bool) ([]store.Page, error) {
	if len(names) == 0 {
		all, err := st.ListPages(ctx)
		if err != nil {
			return nil, err
		}
		var pages []store.Page
		for _, p := range all {
			if p.Published || draft {
				pages = append(pages, p)
			}
		}
		return pages, nil
	}
	pages := make([]store.Page, 0, len(names))
	for _, name := range names {
		p, err := st.GetPage(ctx, name)
		if err != nil {
			return nil, err
		}
		pages = append(pages, *p)
	}
	return pages, nil
}

func runRender(ctx context.Context, stdout io.Writer, p *project, names []string, opts *renderOptions) error {
	logger := loggerFromContext(ctx)
	prog := newProgress(logger)

	pages, err := pagesToRender(ctx, p.store, names, opts.draft)
	if err != nil {
		return err
	}
	if opts.out != "-" {
		if err := os.MkdirAll(opts.out, 0755); err != nil {
			return fmt.Errorf("create %s: %w", opts.out, err)
		}
	}

	sb := script.NewSandbox(script.DefaultScope(p.catalog.Names()...))
	renderer := render.New(render.Options{Catalog: p.catalog, Logger: logger})

	for _, page := range pages {
		doc := page.Blocks
		if opts.draft {
			doc = page.Document()
		}
		root, err := codec.LoadDocument([]byte(doc), sb)
		if err != nil {
			logger.Warn("document unreadable, rendering empty page", "page", page.Name, "err", err)
		}
		rp := render.Page{
			Title:   page.PageTitle,
			Root:    root,
			Context: script.Context{"route": page.Route},
		}

		if opts.out == "-" {
			if err := renderer.Page(stdout, rp); err != nil {
				return fmt.Errorf("render %s: %w", page.Name, err)
			}
			continue
		}
		if err := writePage(filepath.Join(opts.out, page.Name+".html"), renderer, rp); err != nil {
			return fmt.Errorf("render %s: %w", page.Name, err)
		}
		logger.Debug("rendered", "page", page.Name, "route", page.Route)
	}

	prog.done(fmt.Sprintf("Rendered %d page(s)", len(pages)))
	return nil
}

func writePage(path string, r *render.Renderer, p render.Page) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return r.Page(f, p)
}
