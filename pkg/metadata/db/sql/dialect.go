// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package sql provides a dialect-aware SQL metadata store.
// It abstracts the differences between PostgreSQL and MySQL,
// allowing a single implementation to support both databases.
package sql

import (
	"fmt"
	"strings"
)

// Dialect abstracts database-specific SQL syntax differences.
type Dialect interface {
	// Name returns the dialect name (e.g., "postgres", "mysql").
	Name() string

	// ReplacePlaceholders converts PostgreSQL-style placeholders ($1, $2, ...)
	// to the dialect's format.
	ReplacePlaceholders(query string) string

	// ScanBool returns a scanner that can read a boolean from a row.
	ScanBool() BoolScanner

	// InsertIgnorePrefix returns the prefix for INSERT statements that should ignore duplicates.
	// PostgreSQL: "" (uses ON CONFLICT suffix instead)
	// MySQL: "IGNORE "
	InsertIgnorePrefix() string

	// InsertIgnoreSuffix returns the suffix for INSERT statements that should ignore duplicates.
	// PostgreSQL: "ON CONFLICT (conflict_column) DO NOTHING"
	// MySQL: ""
	InsertIgnoreSuffix(conflictColumn string) string

	// UpsertSuffix returns the suffix for INSERT statements that should update on conflict.
	// PostgreSQL: "ON CONFLICT (conflict_columns) DO UPDATE SET col1 = EXCLUDED.col1, ..."
	// MySQL: "ON DUPLICATE KEY UPDATE col1 = VALUES(col1), ..."
	UpsertSuffix(conflictColumns string, updateColumns []string) string
}

// BoolScanner scans a boolean value from SQL.
type BoolScanner interface {
	Dest() any
	Value() bool
}

// ============================================================================
// PostgreSQL Dialect
// ============================================================================

type PostgresDialect struct{}

var _ Dialect = PostgresDialect{}

func (d PostgresDialect) Name() string {
	return "postgres"
}

func (d PostgresDialect) ReplacePlaceholders(query string) string {
	return query
}

func (d PostgresDialect) ScanBool() BoolScanner {
	return &directBoolScanner{}
}

func (d PostgresDialect) InsertIgnorePrefix() string {
	return ""
}

func (d PostgresDialect) InsertIgnoreSuffix(conflictColumn string) string {
	return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", conflictColumn)
}

func (d PostgresDialect) UpsertSuffix(conflictColumns string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return ""
	}
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflictColumns, strings.Join(updates, ", "))
}

// ============================================================================
// MySQL Dialect
// ============================================================================

type MySQLDialect struct{}

var _ Dialect = MySQLDialect{}

func (d MySQLDialect) Name() string {
	return "mysql"
}

// ReplacePlaceholders replaces from the highest index down so "$12" is not turned
// into "?2" by the "$1" pass.
func (d MySQLDialect) ReplacePlaceholders(query string) string {
	result := query
	for i := 50; i >= 1; i-- {
		result = strings.ReplaceAll(result, fmt.Sprintf("$%d", i), "?")
	}
	return result
}

func (d MySQLDialect) ScanBool() BoolScanner {
	return &intBoolScanner{}
}

func (d MySQLDialect) InsertIgnorePrefix() string {
	return "IGNORE "
}

func (d MySQLDialect) InsertIgnoreSuffix(conflictColumn string) string {
	return ""
}

func (d MySQLDialect) UpsertSuffix(conflictColumns string, updateColumns []string) string {
	if len(updateColumns) == 0 {
		return ""
	}
	updates := make([]string, len(updateColumns))
	for i, col := range updateColumns {
		updates[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}
	return " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
}

// ============================================================================
// Boolean Scanners
// ============================================================================

type directBoolScanner struct {
	value bool
}

func (s *directBoolScanner) Dest() any {
	return &s.value
}

func (s *directBoolScanner) Value() bool {
	return s.value
}

// intBoolScanner scans TINYINT(1) columns.
type intBoolScanner struct {
	value int
}

func (s *intBoolScanner) Dest() any {
	return &s.value
}

func (s *intBoolScanner) Value() bool {
	return s.value != 0
}
