package cmd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/blobgate/pkg/apierr"
	"github.com/LeeDigitalWorks/blobgate/pkg/compression"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/notify"
	"github.com/LeeDigitalWorks/blobgate/pkg/signature"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

const runtimeConfig = `
db:
  driver: memory
jobs:
  compression: lz4
  snapshot_storage:
    type: memory
cleanup:
  interval: 30s
integrity:
  output: stdout
  max_reported_findings: 7
buckets:
  - internal_bucket_id: 0192a0c4-7c1e-7000-8000-000000000001
    bucket_id: invoices
    key: s3cret
    storage:
      type: memory
`

func loadViper(t *testing.T, cfg string) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(cfg)))
	return v
}

// ============================================================================
// Settings
// ============================================================================

func TestLoadSettings_Defaults(t *testing.T) {
	t.Parallel()

	s, err := LoadSettings(viper.New())
	require.NoError(t, err)

	assert.Equal(t, db.DriverMemory, s.DB.Driver)
	assert.Equal(t, db.DefaultMaxOpenConns, s.DB.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, s.Cleanup.Interval)
	assert.Equal(t, string(compression.ZSTD), s.Jobs.Compression)
	assert.False(t, s.Redis.Enabled)
	assert.False(t, s.SMTP.Enabled())
	assert.Equal(t, ":8085", s.DebugAddr)
}

func TestLoadSettings_Overrides(t *testing.T) {
	t.Parallel()

	s, err := LoadSettings(loadViper(t, runtimeConfig))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, s.Cleanup.Interval)
	// keys absent from the section keep their defaults
	assert.Equal(t, 1000, s.Cleanup.BatchSize)
	assert.Equal(t, "lz4", s.Jobs.Compression)
	assert.Equal(t, types.StorageTypeMemory, s.Jobs.SnapshotStorage.Type)
	assert.Equal(t, 7, s.Integrity.MaxReportedFindings)
	assert.Equal(t, "stdout", s.Integrity.Output)
}

// ============================================================================
// Runtime
// ============================================================================

func TestNewRuntime_Memory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rt, err := NewRuntime(ctx, loadViper(t, runtimeConfig))
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	_, ok := rt.SQLDB()
	assert.False(t, ok, "memory store has no connection pool")
	assert.IsType(t, notify.LogMailer{}, rt.Mailer)

	_, ok = rt.Backends.Get("0192a0c4-7c1e-7000-8000-000000000001")
	assert.True(t, ok)

	j, err := rt.Jobs.Backup(ctx, "0192a0c4-7c1e-7000-8000-000000000001")
	require.NoError(t, err)
	assert.Equal(t, types.JobStatusFinished, j.Status)
	assert.True(t, strings.HasSuffix(j.FileRef, ".json.lz4"), j.FileRef)
}

func TestNewRuntime_GuardAuthorizesSignedRequests(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rt, err := NewRuntime(ctx, loadViper(t, runtimeConfig))
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	require.NotNil(t, rt.Guard)

	raw, err := signature.NewURL("http://files.example.com/api/v1/files/0190a4b2", signature.URLParams{
		BucketID:     "invoices",
		Method:       http.MethodGet,
		CreationTime: time.Now(),
	})
	require.NoError(t, err)
	signedURL, err := signature.SignURL("s3cret", raw)
	require.NoError(t, err)

	cfg, err := rt.Guard.Check(httptest.NewRequest(http.MethodGet, signedURL, nil), "blob:get-file", http.MethodGet)
	require.NoError(t, err)
	assert.Equal(t, "0192a0c4-7c1e-7000-8000-000000000001", cfg.InternalID)

	_, err = rt.Guard.Check(httptest.NewRequest(http.MethodGet, signedURL+"&fileName=x", nil), "blob:get-file", http.MethodGet)
	assert.True(t, apierr.IsKind(err, apierr.KindForbidden))
}

func TestNewRuntime_UnknownDriver(t *testing.T) {
	t.Parallel()

	v := loadViper(t, runtimeConfig)
	v.Set("db.driver", "oracle")

	_, err := NewRuntime(context.Background(), v)
	assert.ErrorContains(t, err, "unknown db driver")
}

func TestNewRuntime_BadCompression(t *testing.T) {
	t.Parallel()

	v := loadViper(t, runtimeConfig)
	v.Set("jobs.compression", "brotli")

	_, err := NewRuntime(context.Background(), v)
	assert.Error(t, err)
}

// ============================================================================
// Flags
// ============================================================================

func TestFlagLoader_FallsBackToFlagDefault(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().Int("flagloader_limit", 20, "")
	cmd.Flags().String("flagloader_name", "", "")

	f := NewFlagLoader(cmd)
	assert.Equal(t, 20, f.Int("flagloader_limit"))

	viper.Set("flagloader_name", "from-config")
	t.Cleanup(func() { viper.Set("flagloader_name", nil) })
	assert.Equal(t, "from-config", f.String("flagloader_name"))

	require.NoError(t, cmd.Flags().Set("flagloader_name", "from-flag"))
	assert.Equal(t, "from-flag", f.String("flagloader_name"))
}
