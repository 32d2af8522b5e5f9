// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

// Package store provides database connection and schema management.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// connectTimeout bounds the initial connectivity probe.
const connectTimeout = 10 * time.Second

// OpenPool creates a pgx connection pool and verifies connectivity with a
// ping before returning it.
func OpenPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").
			With("operation", "create connection pool").
			Wrap(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, oops.Code("STORE_PING_FAILED").
			With("operation", "ping database").
			Wrap(err)
	}

	return pool, nil
}
