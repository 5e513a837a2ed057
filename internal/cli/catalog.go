package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func newCatalogCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List the components blocks can be built from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(root.dir, cfg)
			if err != nil {
				return err
			}
			names := catalog.Names()
			rows := make([]row, 0, len(names))
			for _, name := range names {
				rows = append(rows, row{
					"name":     name,
					"title":    catalog.Title(name),
					"external": catalog.IsKnownExternalComponent(name),
					"emits":    strings.Join(catalog.Emits(name), ","),
				})
			}
			return writeRows(cmd.OutOrStdout(), format, rows)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, json or csv")
	return cmd
}
