// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package mysql

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
)

func TestBuildDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mode    TLSMode
		wantTLS string
	}{
		{name: "no tls", mode: ""},
		{name: "disabled", mode: TLSModeDisabled},
		{name: "preferred", mode: TLSModePreferred, wantTLS: "preferred"},
		{name: "required skips verification", mode: TLSModeRequired, wantTLS: "skip-verify"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dsn, err := BuildDSN(Config{
				Config:  db.Config{DSN: "blob:secret@tcp(db:3306)/blobgate"},
				TLSMode: tt.mode,
			})
			require.NoError(t, err)

			parsed, err := mysql.ParseDSN(dsn)
			require.NoError(t, err)
			assert.True(t, parsed.ParseTime)
			assert.True(t, parsed.ClientFoundRows)
			assert.Equal(t, "UTC", parsed.Loc.String())
			assert.Equal(t, "blobgate", parsed.DBName)
			assert.Equal(t, tt.wantTLS, parsed.TLSConfig)
		})
	}
}

func TestBuildDSN_Errors(t *testing.T) {
	t.Parallel()

	_, err := BuildDSN(Config{Config: db.Config{DSN: "blob:secret@tcp(db:3306)/blobgate"}, TLSMode: "bogus"})
	assert.ErrorContains(t, err, "unknown TLS mode")

	_, err = BuildDSN(Config{
		Config:    db.Config{DSN: "blob:secret@tcp(db:3306)/blobgate"},
		TLSMode:   TLSModeVerifyCA,
		TLSCAFile: "/does/not/exist.pem",
	})
	assert.ErrorContains(t, err, "read CA file")
}
