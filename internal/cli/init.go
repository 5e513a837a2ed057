package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/livetemplate/blockstudio/internal/block"
	"github.com/livetemplate/blockstudio/internal/codec"
	"github.com/livetemplate/blockstudio/internal/config"
	"github.com/livetemplate/blockstudio/internal/metadata"
	"github.com/livetemplate/blockstudio/internal/store"
)

var starters = []string{"blank", "landing"}

var starterDescriptions = map[string]string{
	"blank":   "One empty home page",
	"landing": "Home page with a heading and a call to action",
}

type initOptions struct {
	title   string
	driver  string
	starter string
}

func newInitCmd(root *rootOptions) *cobra.Command {
	opts := &initOptions{}
	cmd := &cobra.Command{
		Use:   "init <directory>",
		Short: "Create a project with a config file and a home page",
		Long:  "Init creates a project directory holding blockstudio.yaml and a store with one home page.\n\nStarters:\n" + starterList(),
		Example: `  blockstudio init my-site
  blockstudio init my-site --starter landing --driver sqlite`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.title, "title", "", "site title (default derived from the directory name)")
	cmd.Flags().StringVar(&opts.driver, "driver", "file", "storage driver: file or sqlite")
	cmd.Flags().StringVar(&opts.starter, "starter", "blank", "starter content: "+strings.Join(starters, ", "))
	return cmd
}

func starterList() string {
	var b strings.Builder
	for _, s := range starters {
		fmt.Fprintf(&b, "  %-10s %s\n", s, starterDescriptions[s])
	}
	return b.String()
}

// toTitle turns "my-site" into "My Site".
func toTitle(name string) string {
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '-' || r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// starterDocument builds the home page's blocks.
func starterDocument(starter, title string) (string, error) {
	root := block.NewRoot()
	if starter == "landing" {
		catalog, err := metadata.Default()
		if err != nil {
			return "", err
		}
		hero := block.FromTemplate(block.ContainerTemplate)
		hero.SetBlockName("hero")
		heading := catalog.NewBlock("TextBlock")
		heading.SetProp("text", "# "+title)
		cta := catalog.NewBlock("Button")
		cta.SetProp("label", "Get started")
		for _, b := range []*block.Block{heading, cta} {
			if err := hero.AddChild(b); err != nil {
				return "", err
			}
		}
		if err := root.AddChild(hero); err != nil {
			return "", err
		}
	}
	data, err := codec.EncodeDocument(root)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runInit(cmd *cobra.Command, dir string, opts *initOptions) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	if !isStarter(opts.starter) {
		return fmt.Errorf("unknown starter: %s\n\nAvailable starters: %s", opts.starter, strings.Join(starters, ", "))
	}
	if opts.driver != "file" && opts.driver != "sqlite" {
		return fmt.Errorf("unknown driver %q (want file or sqlite)", opts.driver)
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		return fmt.Errorf("directory '%s' already exists and is not empty", dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	title := opts.title
	if title == "" {
		title = toTitle(filepath.Base(filepath.Clean(dir)))
	}

	cfg := config.DefaultConfig()
	cfg.Title = title
	cfg.Storage.Driver = opts.driver
	if opts.driver == "file" {
		cfg.Storage.Path = "data"
	} else {
		cfg.Storage.Path = "blockstudio.db"
		cfg.Features.Watch = false
	}
	if err := cfg.Save(filepath.Join(dir, config.FileName)); err != nil {
		return err
	}

	doc, err := starterDocument(opts.starter, title)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, storeConfig(dir, cfg.Storage), logger)
	if err != nil {
		return err
	}
	defer st.Close()
	home, err := st.InsertPage(ctx, store.Page{
		PageTitle: title,
		Route:     "home",
		Blocks:    doc,
		Published: true,
	})
	if err != nil {
		return err
	}

	logger.Info("project created", "dir", dir, "driver", opts.driver, "home", home.Name)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created %s\n\n", dir)
	fmt.Fprintf(out, "  cd %s\n", dir)
	fmt.Fprintln(out, "  blockstudio serve")
	return nil
}

func isStarter(name string) bool {
	for _, s := range starters {
		if s == name {
			return true
		}
	}
	return false
}
