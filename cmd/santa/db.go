package main

import (
	"fmt"

	"github.com/abdomilano6222222/tg-secret-santa-bot/internal/db"
	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Long:  "Migrates the session tables for the sqlite and mysql drivers. With the memory and redis drivers only the identity directory lives in SQL.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd)
		},
	}
}

func runDBMigrate(cmd *cobra.Command) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.database(); err != nil {
		return err
	}
	driver := a.cfg.Storage.Driver
	if driver != db.DriverSQLite && driver != db.DriverMySQL {
		driver = db.DriverSQLite + " (identity directory)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d tables on %s\n", len(db.AllModels()), driver)
	return nil
}
