// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package main

import (
	"os"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/memberd/memberd/internal/store"
)

// NewMigrateCmd creates the migrate subcommand with its up/down/status
// children.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Long:  `Apply, roll back, and inspect schema migrations for the members database.`,
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateForceCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long:  `Roll back the most recent migration, or --steps of them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				if err := m.Steps(-steps); err != nil {
					return oops.Code("MIGRATION_FAILED").
						With("operation", "down").
						With("steps", steps).
						Wrap(err)
				}
				cmd.Printf("Rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				version, dirty, err := m.Version()
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
				}
				if version == 0 {
					cmd.Println("Current version: none (no migrations applied)")
				} else {
					cmd.Printf("Current version: %d (dirty: %t)\n", version, dirty)
				}

				applied, err := m.AppliedMigrations()
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "applied").Wrap(err)
				}
				pending, err := m.PendingMigrations()
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "pending").Wrap(err)
				}

				printMigrationList(cmd, "Applied:", applied)
				printMigrationList(cmd, "Pending:", pending)
				return nil
			})
		},
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the schema version without running migrations",
		Long: `Set the recorded schema version and clear the dirty flag. Use only to
recover from a failed migration after fixing the schema by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil || version < 0 {
				return oops.Code("MIGRATION_INVALID_VERSION").
					With("version", args[0]).
					Errorf("version must be a non-negative integer")
			}
			return withMigrator(cmd, func(m *store.Migrator) error {
				if err := m.Force(version); err != nil {
					return oops.Code("MIGRATION_FAILED").
						With("operation", "force").
						With("version", version).
						Wrap(err)
				}
				cmd.Printf("Forced schema version to %d\n", version)
				return nil
			})
		},
	}
}

// withMigrator opens a migrator against DATABASE_URL, runs fn, and closes.
func withMigrator(cmd *cobra.Command, fn func(*store.Migrator) error) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL environment variable is required")
	}

	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			cmd.PrintErrf("warning: closing migrator: %v\n", closeErr)
		}
	}()

	return fn(m)
}

func printMigrationList(cmd *cobra.Command, header string, versions []uint) {
	cmd.Println(header)
	if len(versions) == 0 {
		cmd.Println("  (none)")
		return
	}
	for _, v := range versions {
		name, err := store.MigrationName(v)
		if err != nil {
			name = "unknown"
		}
		cmd.Printf("  %d %s\n", v, name)
	}
}
