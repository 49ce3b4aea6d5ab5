package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"catalog-import-service/internal/entity"
)

func newCategoriesCmd(a *app) *cobra.Command {
	var importer string
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List categories and choose which ones products jobs extract",
	}
	cmd.PersistentFlags().StringVarP(&importer, flagImporter, "i", "", "importer name, e.g. NORIEGA")
	if err := cmd.MarkPersistentFlagRequired(flagImporter); err != nil {
		panic(fmt.Errorf("failed to mark importer flag as required for categories command: %w", err))
	}

	var onlySelected bool
	list := &cobra.Command{
		Use:   "list",
		Short: "Print the importer's categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, imp, err := a.openImporter(cmd, importer)
			if err != nil {
				return err
			}
			defer st.Close()

			cats, err := st.catalog.Categories(cmd.Context(), imp.ID, onlySelected)
			if err != nil {
				return err
			}
			if cats == nil {
				cats = []entity.Category{}
			}
			return printJSON(cmd, cats)
		},
	}
	list.Flags().BoolVar(&onlySelected, flagSelected, false, "only selected categories")

	cmd.AddCommand(list, newSelectCmd(a, &importer, true), newSelectCmd(a, &importer, false))
	return cmd
}

func newSelectCmd(a *app, importer *string, selected bool) *cobra.Command {
	use, short := "select", "Mark categories for extraction by external id"
	if !selected {
		use, short = "unselect", "Stop extracting categories by external id"
	}
	return &cobra.Command{
		Use:   use + " <external-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, imp, err := a.openImporter(cmd, *importer)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.catalog.SetSelected(cmd.Context(), imp.ID, args, selected)
			if err != nil {
				return err
			}
			if n < int64(len(args)) {
				a.log.Warn().Int64("updated", n).Int("requested", len(args)).Msg("some external ids matched no category")
			}
			return printJSON(cmd, map[string]int64{"updated": n})
		},
	}
}

func (a *app) openImporter(cmd *cobra.Command, name string) (*store, *entity.Importer, error) {
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	imp, err := st.importers.GetByName(cmd.Context(), normalizeName(name))
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("importer %s: %w", name, err)
	}
	return st, imp, nil
}
