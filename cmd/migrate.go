/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jjudge-oj/mediastore/config"
	"github.com/jjudge-oj/mediastore/internal/db"
	"github.com/jjudge-oj/mediastore/internal/logging"
)

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run media metadata migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration("up", func(m *migrate.Migrate) error { return m.Up() })
	},
}

var migrateDownSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert migrations",
	Long:  "Revert the given number of migrations, or all of them when --steps is 0.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigration("down", func(m *migrate.Migrate) error {
			if migrateDownSteps > 0 {
				return m.Steps(-migrateDownSteps)
			}
			return m.Down()
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 0, "number of migrations to revert (0 reverts all)")
}

func runMigration(direction string, apply func(*migrate.Migrate) error) error {
	cfg := config.LoadConfig()

	migrator, err := migrate.New(db.MigrationsSource, db.URL(cfg.Database))
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer func() {
		_, _ = migrator.Close()
	}()

	if err := apply(migrator); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logging.L().Info("no migration to apply", zap.String("direction", direction))
			return nil
		}
		return fmt.Errorf("migrate %s failed: %w", direction, err)
	}

	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	logging.L().Info("migration applied",
		zap.String("direction", direction),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}
