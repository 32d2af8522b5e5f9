// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/memberd/memberd/internal/member"
	memberpg "github.com/memberd/memberd/internal/member/postgres"
	"github.com/memberd/memberd/internal/store"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	userID   string
	userName string
	password string
	phone    string
	timeout  time.Duration
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the initial admin member",
		Long: `Creates a pre-verified admin member so the service has an operator
account before any self-registration. This command is idempotent - it will
not create a duplicate if run multiple times.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, args, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.userID, "user-id", "", "admin login identifier (email address)")
	cmd.Flags().StringVar(&cfg.userName, "user-name", "Administrator", "admin display name")
	cmd.Flags().StringVar(&cfg.password, "password", "", "admin password")
	cmd.Flags().StringVar(&cfg.phone, "phone", "", "admin phone number (optional)")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func runSeed(cmd *cobra.Command, _ []string, cfg *seedConfig) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("DATABASE_URL environment variable is required")
	}

	// Use cmd.Context() to respect SIGINT/SIGTERM signals
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	cmd.Println("Connecting to database...")
	pool, err := store.OpenPool(ctx, databaseURL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	repo := memberpg.NewMemberRepository(pool)

	hash, err := member.NewArgon2idHasher().Hash(cfg.password)
	if err != nil {
		return oops.Code("SEED_FAILED").With("operation", "hash admin password").Wrap(err)
	}

	// The admin never goes through email verification, but the token column
	// is non-null and unique, so it still gets one.
	token, err := member.GenerateToken()
	if err != nil {
		return oops.Code("SEED_FAILED").With("operation", "generate verification token").Wrap(err)
	}

	now := time.Now().UTC()
	admin, err := member.NewMember(cfg.userID, cfg.userName, cfg.phone, hash, token, now)
	if err != nil {
		return oops.Code("SEED_FAILED").With("operation", "build admin member").Wrap(err)
	}
	admin.EmailVerified = true
	admin.EmailVerifiedAt = &now
	admin.Admin = true

	if err := repo.Create(ctx, admin); err != nil {
		if errors.Is(err, member.ErrAlreadyExists) {
			cmd.Println("Admin member already exists, skipping seed")
			slog.Info("admin already seeded", "user_id", cfg.userID)
			return nil
		}
		return oops.Code("SEED_FAILED").With("operation", "create admin member").Wrap(err)
	}

	cmd.Printf("Created admin member: %s\n", cfg.userID)
	slog.Info("created admin member", "user_id", admin.UserID, "user_name", admin.UserName)
	return nil
}
