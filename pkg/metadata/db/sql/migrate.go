// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package sql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
)

// Migrate creates schema_migrations if needed and applies pending migrations for the
// store's driver.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	driver := s.config.Driver
	if driver == "" {
		driver = db.Driver(s.dialect.Name())
	}
	return db.RunMigrations(ctx, &migrator{db: s.db, dialect: s.dialect}, driver)
}

// migrator implements db.Migrator for both dialects.
type migrator struct {
	db      *sql.DB
	dialect Dialect
}

func (m *migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM schema_migrations
	`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return version, nil
}

func (m *migrator) Apply(ctx context.Context, migration db.Migration) error {
	for _, stmt := range db.SplitStatements(migration.SQL) {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement: %w", err)
		}
	}
	return nil
}

func (m *migrator) SetVersion(ctx context.Context, version int) error {
	_, err := m.db.ExecContext(ctx, m.dialect.ReplacePlaceholders(`
		INSERT INTO schema_migrations (version) VALUES ($1)
	`), version)
	if err != nil {
		return fmt.Errorf("record migration version: %w", err)
	}
	return nil
}
