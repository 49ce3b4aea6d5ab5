package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"catalog-import-service/internal/config"
)

type seededImporter struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

func newSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Upsert every importer of the YAML catalog into the database",
		Long: `seed writes names, credentials and settings from the importer catalog.
Existing importers keep their id, categories and selection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			specs, err := config.LoadImporters(a.importersPath)
			if err != nil {
				return err
			}
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			out := make([]seededImporter, 0, len(specs))
			for _, spec := range specs {
				imp := spec.Importer()
				if err := st.importers.Upsert(ctx, &imp); err != nil {
					return fmt.Errorf("upsert %s: %w", imp.Name, err)
				}
				a.log.Info().Int64("importer_id", imp.ID).Str("importer", imp.Name).Msg("importer seeded")
				out = append(out, seededImporter{ID: imp.ID, Name: imp.Name, Active: imp.Active})
			}
			return printJSON(cmd, out)
		},
	}
}
