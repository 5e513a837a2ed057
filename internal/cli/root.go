package cli

import (
	"context"
	"fmt"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	version = "dev" // semantic version, injected via ldflags
	commit  string  // git commit SHA
	date    string  // build timestamp
)

// SetVersion sets the version information displayed by --version. The main
// package calls it with values injected via ldflags at build time.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}

// rootOptions are the flags every command shares.
type rootOptions struct {
	verbose bool
	dir     string
	config  string
}

// Execute runs the blockstudio CLI until ctx is cancelled or the command
// returns.
func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "blockstudio",
		Short:        "Block Studio is a visual page builder",
		Long:         `Block Studio edits pages built from nested component blocks: it serves the editor protocol and page previews, manages stored pages and renders them to static HTML.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if opts.verbose {
				level = charmlog.DebugLevel
			}
			cmd.SetContext(withLogger(cmd.Context(), newLogger(cmd.ErrOrStderr(), level)))
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("blockstudio %s\ncommit: %s\nbuilt: %s\n", version, commit, date))
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVarP(&opts.dir, "dir", "C", ".", "project directory")
	root.PersistentFlags().StringVar(&opts.config, "config", "", "config file (default <dir>/blockstudio.yaml)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newInitCmd(opts))
	root.AddCommand(newPagesCmd(opts))
	root.AddCommand(newRenderCmd(opts))
	root.AddCommand(newCatalogCmd(opts))

	return root
}

