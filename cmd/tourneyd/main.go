package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"tourney-registry/internal/config"
	"tourney-registry/internal/models"
	"tourney-registry/internal/store"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "tourneyd",
		Short:   "Tournament registration service",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// openDB loads config and returns a migrated database.
func openDB() (config.Config, *gorm.DB, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, nil, fmt.Errorf("config: %w", err)
	}
	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return cfg, nil, err
	}
	defaults := models.Settings{RegistrationOpen: true, FeeAmount: cfg.RegistrationFee, Currency: cfg.Currency}
	if err := store.Migrate(db, defaults); err != nil {
		return cfg, nil, err
	}
	return cfg, db, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema and seed the team counter and settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := openDB(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}
