// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/memberd/memberd/internal/store"
)

// ServiceStatus holds the status information reported by the status command.
type ServiceStatus struct {
	DatabaseReachable bool   `json:"database_reachable"`
	SchemaVersion     uint   `json:"schema_version"`
	SchemaDirty       bool   `json:"schema_dirty"`
	PendingMigrations int    `json:"pending_migrations"`
	Members           int64  `json:"members"`
	Error             string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	jsonOutput bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database and schema status",
		Long:  `Check database reachability, the applied schema version, and the member count.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 10*time.Second, "timeout for database operations")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL environment variable is required")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	status := queryStatus(ctx, databaseURL)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return oops.Code("STATUS_FAILED").With("operation", "marshal status").Wrap(err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(formatStatus(status))
	return nil
}

func queryStatus(ctx context.Context, databaseURL string) ServiceStatus {
	var status ServiceStatus

	pool, err := store.OpenPool(ctx, databaseURL)
	if err != nil {
		status.Error = fmt.Sprintf("connect: %v", err)
		return status
	}
	defer pool.Close()
	status.DatabaseReachable = true

	if m, err := store.NewMigrator(databaseURL); err == nil {
		if version, dirty, verErr := m.Version(); verErr == nil {
			status.SchemaVersion = version
			status.SchemaDirty = dirty
		}
		if pending, pendErr := m.PendingMigrations(); pendErr == nil {
			status.PendingMigrations = len(pending)
		}
		_ = m.Close() //nolint:errcheck // status is read-only
	}

	if err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM members").Scan(&status.Members); err != nil {
		status.Error = fmt.Sprintf("count members: %v", err)
	}

	return status
}

func formatStatus(status ServiceStatus) string {
	if !status.DatabaseReachable {
		return fmt.Sprintf("database: unreachable (%s)", status.Error)
	}

	out := fmt.Sprintf("database: ok\nschema version: %d (dirty: %t)\npending migrations: %d\nmembers: %d",
		status.SchemaVersion, status.SchemaDirty, status.PendingMigrations, status.Members)
	if status.Error != "" {
		out += "\nwarning: " + status.Error
	}
	return out
}
