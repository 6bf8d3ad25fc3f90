// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package mysql provides a MySQL implementation of the db.DB interface.
package mysql

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	dbsql "github.com/LeeDigitalWorks/blobgate/pkg/metadata/db/sql"
)

// TLSMode specifies how TLS should be configured for MySQL connections
type TLSMode string

const (
	TLSModeDisabled  TLSMode = "disabled"
	TLSModePreferred TLSMode = "preferred"
	// TLSModeRequired requires TLS but skips certificate verification
	TLSModeRequired TLSMode = "required"
	// TLSModeVerifyCA requires TLS and verifies the server certificate against a CA
	TLSModeVerifyCA TLSMode = "verify-ca"
)

const tlsConfigName = "blobgate"

// Config holds MySQL connection configuration.
type Config struct {
	db.Config

	TLSMode   TLSMode
	TLSCAFile string // for verify-ca
}

// MySQL implements db.DB using MySQL as the backing store.
type MySQL struct {
	*dbsql.Store
}

// NewMySQL opens a go-sql-driver backed store. cfg.DSN uses the driver's format,
// e.g. "user:pass@tcp(db:3306)/blobgate".
func NewMySQL(cfg Config) (*MySQL, error) {
	dsn, err := BuildDSN(cfg)
	if err != nil {
		return nil, err
	}

	sqlCfg := cfg.Config
	sqlCfg.DSN = dsn
	sqlCfg.Driver = db.DriverMySQL

	store, err := dbsql.Open("mysql", dbsql.MySQLDialect{}, sqlCfg)
	if err != nil {
		return nil, err
	}
	return &MySQL{Store: store}, nil
}

// BuildDSN normalizes cfg.DSN: times are parsed into time.Time in UTC, and UPDATE
// reports matched rather than changed rows so not-found detection works for
// no-op updates.
func BuildDSN(cfg Config) (string, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}

	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.ClientFoundRows = true

	switch cfg.TLSMode {
	case "", TLSModeDisabled:
	case TLSModePreferred:
		mc.TLSConfig = "preferred"
	case TLSModeRequired:
		mc.TLSConfig = "skip-verify"
	case TLSModeVerifyCA:
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if cfg.TLSCAFile != "" {
			caCert, err := os.ReadFile(cfg.TLSCAFile)
			if err != nil {
				return "", fmt.Errorf("read CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return "", fmt.Errorf("failed to append CA certificate")
			}
			tlsConfig.RootCAs = pool
		}
		if err := mysql.RegisterTLSConfig(tlsConfigName, tlsConfig); err != nil {
			return "", fmt.Errorf("register TLS config: %w", err)
		}
		mc.TLSConfig = tlsConfigName
	default:
		return "", fmt.Errorf("unknown TLS mode: %s", cfg.TLSMode)
	}

	return mc.FormatDSN(), nil
}

var _ db.DB = (*MySQL)(nil)
