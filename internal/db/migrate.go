package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/tern/v2/migrate"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const versionTable = "schema_version"

func newMigrator(ctx context.Context, s *Store, fn func(*migrate.Migrator) error) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}
	defer conn.Release()

	m, err := migrate.NewMigrator(ctx, conn.Conn(), versionTable)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	migrations, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	if err := m.LoadMigrations(migrations); err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m.OnStart = func(sequence int32, name, direction, _ string) {
		log.Info().Int32("sequence", sequence).Str("name", name).Str("direction", direction).Msg("applying migration")
	}
	return fn(m)
}

// Migrate applies pending embedded migrations and returns how many ran.
// tern serializes concurrent runs with an advisory lock.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	var applied int
	err := newMigrator(ctx, s, func(m *migrate.Migrator) error {
		before, err := m.GetCurrentVersion(ctx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		after, err := m.GetCurrentVersion(ctx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		applied = int(after - before)
		return nil
	})
	return applied, err
}

// MigrateTo moves the schema up or down to version. Version 0 drops everything.
func (s *Store) MigrateTo(ctx context.Context, version int32) error {
	return newMigrator(ctx, s, func(m *migrate.Migrator) error {
		if err := m.MigrateTo(ctx, version); err != nil {
			return fmt.Errorf("migrate to %d: %w", version, err)
		}
		return nil
	})
}

// SchemaVersion reports the applied and the latest embedded version.
func (s *Store) SchemaVersion(ctx context.Context) (current, latest int32, err error) {
	err = newMigrator(ctx, s, func(m *migrate.Migrator) error {
		v, err := m.GetCurrentVersion(ctx)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		current, latest = v, int32(len(m.Migrations))
		return nil
	})
	return current, latest, err
}
