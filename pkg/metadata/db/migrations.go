// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// Migration is one numbered schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// LoadMigrations returns the migrations of driver ordered by version.
// File names follow 001_create_file_data.sql.
func LoadMigrations(driver Driver) ([]Migration, error) {
	dir := path.Join("migrations", string(driver))
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations for %s: %w", driver, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		var name string
		if _, err := fmt.Sscanf(entry.Name(), "%d_%s", &version, &name); err != nil {
			return nil, fmt.Errorf("parse migration filename %s: %w", entry.Name(), err)
		}

		content, err := fs.ReadFile(migrationsFS, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(name, ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Migrator applies migrations to one database.
type Migrator interface {
	CurrentVersion(ctx context.Context) (int, error)
	Apply(ctx context.Context, m Migration) error
	SetVersion(ctx context.Context, version int) error
}

// RunMigrations applies every migration of driver newer than the recorded version.
func RunMigrations(ctx context.Context, migrator Migrator, driver Driver) error {
	migrations, err := LoadMigrations(driver)
	if err != nil {
		return err
	}

	current, err := migrator.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := migrator.Apply(ctx, m); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if err := migrator.SetVersion(ctx, m.Version); err != nil {
			return fmt.Errorf("set version %d: %w", m.Version, err)
		}
	}
	return nil
}

// SplitStatements splits a migration script on semicolons that are outside quotes
// and comments, dropping comment-only statements.
func SplitStatements(script string) []string {
	var (
		statements   []string
		current      strings.Builder
		quote        byte
		lineComment  bool
		blockComment bool
	)

	flush := func() {
		if stmt := stripLeadingComments(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		next := byte(0)
		if i+1 < len(script) {
			next = script[i+1]
		}

		switch {
		case lineComment:
			current.WriteByte(c)
			if c == '\n' {
				lineComment = false
			}
		case blockComment:
			current.WriteByte(c)
			if c == '*' && next == '/' {
				current.WriteByte(next)
				i++
				blockComment = false
			}
		case quote != 0:
			current.WriteByte(c)
			if c == quote {
				if next == quote {
					current.WriteByte(next)
					i++
				} else {
					quote = 0
				}
			}
		case c == '-' && next == '-':
			lineComment = true
			current.WriteByte(c)
		case c == '/' && next == '*':
			blockComment = true
			current.WriteByte(c)
		case c == '\'' || c == '"' || c == '`':
			quote = c
			current.WriteByte(c)
		case c == ';':
			flush()
		default:
			current.WriteByte(c)
		}
	}
	flush()

	return statements
}

func stripLeadingComments(stmt string) string {
	lines := strings.Split(strings.TrimSpace(stmt), "\n")
	for len(lines) > 0 {
		line := strings.TrimSpace(lines[0])
		if line == "" || strings.HasPrefix(line, "--") {
			lines = lines[1:]
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
