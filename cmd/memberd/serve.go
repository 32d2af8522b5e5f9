// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/memberd/memberd/internal/config"
	"github.com/memberd/memberd/internal/httpapi"
	"github.com/memberd/memberd/internal/logging"
	"github.com/memberd/memberd/internal/mail"
	"github.com/memberd/memberd/internal/member"
	memberpg "github.com/memberd/memberd/internal/member/postgres"
	"github.com/memberd/memberd/internal/observability"
	"github.com/memberd/memberd/internal/store"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the member API and observability servers",
		Long: `Start the HTTP member API together with the observability server
(Prometheus metrics and health endpoints). Configuration comes from the
config file with flag overrides.`,
		RunE: runServe,
	}

	// Flag names mirror config file keys so they overlay cleanly.
	cmd.Flags().String("http.listen", "", "member API listen address")
	cmd.Flags().String("http.public_base_url", "", "public base URL used in emailed links")
	cmd.Flags().String("observability.listen", "", "metrics/health listen address")
	cmd.Flags().String("database.url", "", "PostgreSQL connection URL")
	cmd.Flags().String("mail.api_url", "", "mail provider API URL")
	cmd.Flags().String("mail.api_key", "", "mail provider API key")
	cmd.Flags().String("mail.sender_email", "", "sender email address")
	cmd.Flags().String("mail.sender_name", "", "sender display name")
	cmd.Flags().String("log.format", "", "log format (json or text)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("memberd", version, cfg.Log.Format)

	slog.Info("starting memberd",
		"http_addr", cfg.HTTP.Listen,
		"observability_addr", cfg.Observability.Listen,
		"log_format", cfg.Log.Format,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := store.OpenPool(ctx, cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer pool.Close()

	slog.Info("connected to database")

	repo := memberpg.NewMemberRepository(pool)

	mailClient, err := mail.NewClient(cfg.Mail.APIURL, cfg.Mail.APIKey, mail.Recipient{
		Email: cfg.Mail.SenderEmail,
		Name:  cfg.Mail.SenderName,
	})
	if err != nil {
		return err
	}
	notifier, err := mail.NewNotifier(mailClient, cfg.HTTP.PublicBaseURL)
	if err != nil {
		return err
	}

	svc, err := member.NewLifecycleService(repo, member.NewArgon2idHasher(), notifier)
	if err != nil {
		return err
	}

	obsServer := observability.NewServer(cfg.Observability.Listen, func() bool {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx) == nil
	})

	apiServer, err := httpapi.NewServer(cfg.HTTP.Listen, svc,
		httpapi.WithLogger(slog.Default()),
		httpapi.WithMetrics(obsServer.Metrics()),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obsErrChan, err := obsServer.Start()
	if err != nil {
		return oops.Code("SERVER_START_FAILED").With("server", "observability").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	slog.Info("observability server started", "addr", obsServer.Addr())

	apiErrChan, err := apiServer.Start()
	if err != nil {
		stopServer(obsServer.Stop, "observability")
		return oops.Code("SERVER_START_FAILED").With("server", "httpapi").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "httpapi")

	cmd.Println("memberd started")
	slog.Info("member API ready", "addr", apiServer.Addr())

	<-ctx.Done()

	slog.Info("shutting down...")
	stopServer(apiServer.Stop, "httpapi")
	stopServer(obsServer.Stop, "observability")
	slog.Info("shutdown complete")
	return nil
}

// stopServer stops a server with the standard shutdown timeout, logging
// rather than propagating failures so the remaining servers still stop.
func stopServer(stop func(context.Context) error, name string) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := stop(ctx); err != nil {
		slog.Warn("error stopping server", "server", name, "error", err)
	}
}

// monitorServerErrors watches a server's error channel and cancels the
// context on error so a failed listener shuts the whole process down.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
