package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tourney-registry/internal/ledger"
	"tourney-registry/internal/models"
)

var exportStage string

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write registered teams as CSV to stdout",
		Example: `  tourneyd export
  tourneyd export --stage finals > finals.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			stage := models.Stage(exportStage)
			if stage != "" && !stage.Valid() {
				return fmt.Errorf("unknown stage %q", exportStage)
			}
			_, db, err := openDB()
			if err != nil {
				return err
			}
			csv, err := ledger.New(db, newLogger()).BuildCSV(cmd.Context(), stage)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), csv)
			return err
		},
	}
	cmd.Flags().StringVarP(&exportStage, "stage", "s", "", "only teams at this stage")
	return cmd
}
