package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"archivist/internal/config"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Maintain the catalog snapshot",
	}
	catalogCmd.AddCommand(&cobra.Command{
		Use:   "import <manifest.toml>",
		Short: "Load users, items, files and tags from a TOML export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open manifest: %w", err)
			}
			defer file.Close()

			return ctx.withEnvironment(cmd, func(env *environment) error {
				stats, err := env.catalog.Import(cmd.Context(), file)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"Imported %d user(s), %d group(s), %d item(s), %d file(s), %d tag(s), %d note(s)\n",
					stats.Users, stats.Groups, stats.Items, stats.Files, stats.Tags, stats.Notes)
				return nil
			})
		},
	})
	return catalogCmd
}
