package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livetemplate/blockstudio/internal/store"
)

const timeLayout = "2006-01-02 15:04"

func newPagesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "List, create, publish and delete stored pages",
	}
	cmd.AddCommand(newPagesListCmd(root))
	cmd.AddCommand(newPagesCreateCmd(root))
	cmd.AddCommand(newPagesPublishCmd(root))
	cmd.AddCommand(newPagesDeleteCmd(root))
	return cmd
}

// withProject opens the project for the duration of fn.
func withProject(cmd *cobra.Command, root *rootOptions, fn func(ctx context.Context, p *project) error) (err error) {
	ctx := cmd.Context()
	p, err := openProject(ctx, root, loggerFromContext(ctx))
	if err != nil {
		return err
	}
	defer func() { err = p.closeWith(err) }()
	return fn(ctx, p)
}

func pageRow(p store.Page) row {
	return row{
		"name":      p.Name,
		"title":     p.PageTitle,
		"route":     p.Route,
		"published": p.Published,
		"draft":     p.DraftBlocks != "",
		"app":       p.App,
		"modified":  p.Modified.Format(timeLayout),
	}
}

func newPagesListCmd(root *rootOptions) *cobra.Command {
	var format, app string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pages",
		Example: `  blockstudio pages list
  blockstudio pages list --app shop --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, root, func(ctx context.Context, p *project) error {
				var (
					pages []store.Page
					err   error
				)
				if app != "" {
					pages, err = p.store.AppPages(ctx, app)
				} else {
					pages, err = p.store.ListPages(ctx)
				}
				if err != nil {
					return err
				}
				rows := make([]row, len(pages))
				for i, pg := range pages {
					rows[i] = pageRow(pg)
				}
				return writeRows(cmd.OutOrStdout(), format, rows)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, json or csv")
	cmd.Flags().StringVar(&app, "app", "", "only pages of this app")
	return cmd
}

func newPagesCreateCmd(root *rootOptions) *cobra.Command {
	var page store.Page
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, root, func(ctx context.Context, p *project) error {
				created, err := p.store.InsertPage(ctx, page)
				if err != nil {
					return err
				}
				loggerFromContext(ctx).Info("page created", "name", created.Name, "route", created.Route)
				_, err = fmt.Fprintln(cmd.OutOrStdout(), created.Name)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&page.PageTitle, "title", "", "page title")
	cmd.Flags().StringVar(&page.Route, "route", "", "page route (default the page name)")
	cmd.Flags().StringVar(&page.App, "app", "", "app the page belongs to")
	return cmd
}

func newPagesPublishCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <name>...",
		Short: "Publish the drafts of pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd, root, func(ctx context.Context, p *project) error {
				logger := loggerFromContext(ctx)
				for _, name := range args {
					if err := p.store.Publish(ctx, name); err != nil {
						return fmt.Errorf("publish %s: %w", name, err)
					}
					logger.Info("published", "page", name)
				}
				return nil
			})
		},
	}
}

// confirm asks a yes/no question on in. Anything but y or yes, including
// a read error, is a no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && response == "" {
		fmt.Fprintln(out)
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func newPagesDeleteCmd(root *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <name>...",
		Short: "Delete pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete %s?", strings.Join(args, ", "))) {
				fmt.Fprintln(cmd.OutOrStdout(), "Delete cancelled.")
				return nil
			}
			return withProject(cmd, root, func(ctx context.Context, p *project) error {
				logger := loggerFromContext(ctx)
				for _, name := range args {
					if err := p.store.DeletePage(ctx, name); err != nil {
						return fmt.Errorf("delete %s: %w", name, err)
					}
					logger.Info("deleted", "page", name)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}
