// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memberd Contributors

package store

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	// Register pgx/v5 database driver for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Cached migration versions - computed once since embedded FS is immutable.
var (
	cachedVersionsOnce sync.Once
	cachedVersions     []uint
	cachedVersionsErr  error
)

// migrateIface abstracts golang-migrate so migration logic can be unit tested
// without a live database.
type migrateIface interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator wraps golang-migrate for the members schema.
type Migrator struct {
	m migrateIface
}

// NewMigrator creates a new Migrator instance.
// databaseURL accepts postgres://, postgresql://, or pgx5:// schemes; the
// first two are rewritten to pgx5:// for the golang-migrate pgx/v5 driver.
func NewMigrator(databaseURL string) (*Migrator, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_SOURCE_FAILED").With("operation", "create migration source").Wrap(err)
	}

	migrateURL := databaseURL
	if rest, found := strings.CutPrefix(databaseURL, "postgres://"); found {
		migrateURL = "pgx5://" + rest
	} else if rest, found := strings.CutPrefix(databaseURL, "postgresql://"); found {
		migrateURL = "pgx5://" + rest
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, migrateURL)
	if err != nil {
		_ = source.Close() //nolint:errcheck // cleanup for embedded FS; init error takes precedence
		return nil, oops.Code("MIGRATION_INIT_FAILED").With("operation", "initialize migrator").Wrap(err)
	}

	return &Migrator{m: m}, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up() error {
	if err := m.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_UP_FAILED").Wrap(err)
	}
	return nil
}

// Down rolls back all migrations to version 0.
// WARNING: destructive, drops all tables and member data.
func (m *Migrator) Down() error {
	if err := m.m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_DOWN_FAILED").Wrap(err)
	}
	return nil
}

// Steps applies n migrations. Positive n migrates up, negative n migrates down.
func (m *Migrator) Steps(n int) error {
	if err := m.m.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return oops.Code("MIGRATION_STEPS_FAILED").With("steps", n).Wrap(err)
	}
	return nil
}

// Version returns the current migration version and dirty state. A dirty
// state means a migration failed partway through and needs manual recovery.
// Returns version 0 with dirty=false when no migrations have been applied.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, oops.Code("MIGRATION_VERSION_FAILED").Wrap(err)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations. Use only for
// recovering from a dirty state after manually fixing the database.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.Code("INVALID_VERSION").Errorf("version must be non-negative, got %d", version)
	}
	if err := m.m.Force(version); err != nil {
		return oops.Code("MIGRATION_FORCE_FAILED").With("version", version).Wrap(err)
	}
	return nil
}

// Close releases resources.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	if srcErr != nil && dbErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").
			With("component", "both").
			Errorf("source: %v; database: %v", srcErr, dbErr)
	}
	if srcErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "source").Wrap(srcErr)
	}
	if dbErr != nil {
		return oops.Code("MIGRATION_CLOSE_FAILED").With("component", "database").Wrap(dbErr)
	}
	return nil
}

// allMigrationVersions returns all available migration versions from the
// embedded FS, sorted ascending. Results are cached; a copy is returned so
// callers cannot mutate the cache.
func allMigrationVersions() ([]uint, error) {
	cachedVersionsOnce.Do(func() {
		cachedVersions, cachedVersionsErr = loadMigrationVersions()
	})
	if cachedVersionsErr != nil {
		return nil, cachedVersionsErr
	}
	result := make([]uint, len(cachedVersions))
	copy(result, cachedVersions)
	return result, nil
}

// loadMigrationVersions reads the embedded migrations directory and parses
// version numbers. Malformed filenames are logged and skipped rather than
// failing, so stray files in the embedded FS cannot brick the binary.
func loadMigrationVersions() ([]uint, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, oops.Code("MIGRATION_LIST_FAILED").With("operation", "read migrations dir").Wrap(err)
	}

	versionSet := make(map[uint]struct{})
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		var version uint
		if _, err := fmt.Sscanf(name, "%06d", &version); err != nil {
			slog.Warn("migration file name doesn't match expected format, skipping",
				"filename", name,
				"expected_format", "NNNNNN_name.up.sql",
				"error", err)
			continue
		}
		versionSet[version] = struct{}{}
	}

	versions := make([]uint, 0, len(versionSet))
	for v := range versionSet {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

// MigrationName returns the NNNNNN_name identifier of a migration by version.
// Returns ("", nil) when the version is unknown; an error only when the
// embedded FS cannot be read.
func MigrationName(version uint) (string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return "", oops.Code("MIGRATION_READ_FAILED").With("operation", "read migrations dir").Wrap(err)
	}

	prefix := fmt.Sprintf("%06d_", version)
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ".up.sql") {
			return strings.TrimSuffix(name, ".up.sql"), nil
		}
	}
	return "", nil
}

// PendingMigrations returns the migration versions that Up() would apply,
// sorted ascending.
func (m *Migrator) PendingMigrations() ([]uint, error) {
	currentVersion, _, err := m.Version()
	if err != nil {
		return nil, oops.With("operation", "get pending migrations").Wrap(err)
	}

	allVersions, err := allMigrationVersions()
	if err != nil {
		return nil, oops.With("operation", "get pending migrations").Wrap(err)
	}

	var pending []uint
	for _, v := range allVersions {
		if v > currentVersion {
			pending = append(pending, v)
		}
	}
	return pending, nil
}

// AppliedMigrations returns the migration versions already applied, sorted
// ascending.
func (m *Migrator) AppliedMigrations() ([]uint, error) {
	currentVersion, _, err := m.Version()
	if err != nil {
		return nil, oops.With("operation", "get applied migrations").Wrap(err)
	}

	if currentVersion == 0 {
		return nil, nil
	}

	allVersions, err := allMigrationVersions()
	if err != nil {
		return nil, oops.With("operation", "get applied migrations").Wrap(err)
	}

	var applied []uint
	for _, v := range allVersions {
		if v <= currentVersion {
			applied = append(applied, v)
		}
	}
	return applied, nil
}
