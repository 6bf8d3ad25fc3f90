// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LeeDigitalWorks/blobgate/pkg/blob"
	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
	"github.com/LeeDigitalWorks/blobgate/pkg/compression"
	"github.com/LeeDigitalWorks/blobgate/pkg/gateway"
	"github.com/LeeDigitalWorks/blobgate/pkg/integrity"
	"github.com/LeeDigitalWorks/blobgate/pkg/jobs"
	"github.com/LeeDigitalWorks/blobgate/pkg/lock"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db/memory"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db/mysql"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db/postgres"
	"github.com/LeeDigitalWorks/blobgate/pkg/notify"
	"github.com/LeeDigitalWorks/blobgate/pkg/signature"
	"github.com/LeeDigitalWorks/blobgate/pkg/storage/backend"
	"github.com/LeeDigitalWorks/blobgate/pkg/taskqueue"
)

// Settings is the whole process configuration, read once at startup.
type Settings struct {
	DB        db.Config
	DBTLSMode string
	DBTLSCA   string

	Cleanup   blob.ScannerConfig
	Integrity integrity.Config
	Jobs      jobs.Config
	Redis     lock.RedisConfig
	SMTP      notify.SMTPConfig

	DebugAddr      string
	ForwardedProto bool
}

// LoadSettings reads Settings from v, starting from every component's defaults.
func LoadSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		DB:        db.DefaultConfig(db.Driver(v.GetString("db.driver")), v.GetString("db.dsn")),
		DBTLSMode: v.GetString("db.tls_mode"),
		DBTLSCA:   v.GetString("db.tls_ca_file"),
		Cleanup:   blob.DefaultScannerConfig(),
		Integrity: integrity.DefaultConfig(),
		Jobs:      jobs.DefaultConfig(),
		Redis:     lock.DefaultRedisConfig(),
		DebugAddr: ":8085",
	}
	if s.DB.Driver == "" {
		s.DB.Driver = db.DriverMemory
	}
	if v.IsSet("db.max_open_conns") {
		s.DB.MaxOpenConns = v.GetInt("db.max_open_conns")
	}
	if v.IsSet("db.max_idle_conns") {
		s.DB.MaxIdleConns = v.GetInt("db.max_idle_conns")
	}
	if v.IsSet("db.conn_max_lifetime") {
		s.DB.ConnMaxLifetime = v.GetDuration("db.conn_max_lifetime")
	}
	if v.IsSet("debug_addr") {
		s.DebugAddr = v.GetString("debug_addr")
	}
	s.ForwardedProto = v.GetBool("forwarded_proto")

	for key, dst := range map[string]any{
		"cleanup":   &s.Cleanup,
		"integrity": &s.Integrity,
		"jobs":      &s.Jobs,
		"redis":     &s.Redis,
		"smtp":      &s.SMTP,
	} {
		if !v.IsSet(key) {
			continue
		}
		if err := v.UnmarshalKey(key, dst); err != nil {
			return Settings{}, fmt.Errorf("read %s config: %w", key, err)
		}
	}
	return s, nil
}

// Runtime holds the components every command builds on.
type Runtime struct {
	Settings Settings

	DB        db.DB
	Buckets   *bucket.Registry
	Backends  *backend.Manager
	Snapshots io.Closer
	Locker    lock.Locker
	Mailer    notify.Mailer

	Files   *blob.Service
	Locks   *bucket.LockService
	Guard   *gateway.Guard
	Checker *integrity.Checker
	Jobs    *jobs.Engine
	Queue   *taskqueue.MemoryQueue

	closers []func() error
}

// NewRuntime connects to the metadata store, runs its migrations and builds every
// component from v.
func NewRuntime(ctx context.Context, v *viper.Viper) (rt *Runtime, err error) {
	settings, err := LoadSettings(v)
	if err != nil {
		return nil, err
	}
	rt = &Runtime{Settings: settings}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	if rt.Buckets, err = bucket.LoadRegistry(v); err != nil {
		return nil, err
	}

	raw, err := openDB(settings)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, raw.Close)
	rt.DB = db.NewMetricsDB(raw)
	if err := rt.DB.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate metadata store: %w", err)
	}

	rt.Backends = backend.NewManager()
	rt.closers = append(rt.closers, rt.Backends.Close)
	for _, b := range rt.Buckets.All() {
		if err := rt.Backends.Add(b.InternalID, b.Storage); err != nil {
			return nil, err
		}
	}

	snapshots, err := backend.New(settings.Jobs.SnapshotStorage)
	if err != nil {
		return nil, fmt.Errorf("create snapshot storage: %w", err)
	}
	rt.Snapshots = snapshots
	rt.closers = append(rt.closers, snapshots.Close)

	if rt.Locker, err = newLocker(settings.Redis); err != nil {
		return nil, err
	}
	if c, ok := rt.Locker.(io.Closer); ok {
		rt.closers = append(rt.closers, c.Close)
	}

	if rt.Mailer, err = newMailer(settings.SMTP); err != nil {
		return nil, err
	}

	algo, err := compression.ParseAlgorithm(settings.Jobs.Compression)
	if err != nil {
		return nil, err
	}

	rt.Queue = taskqueue.NewMemoryQueue()
	rt.closers = append(rt.closers, rt.Queue.Close)

	rt.Files = blob.NewService(rt.DB, rt.Buckets, rt.Backends,
		blob.WithMailer(rt.Mailer),
		blob.WithBatchSize(settings.Cleanup.BatchSize))
	rt.Locks = bucket.NewLockService(rt.DB)
	var authOpts []signature.Option
	if settings.ForwardedProto {
		authOpts = append(authOpts, signature.WithForwardedProto())
	}
	rt.Guard = gateway.NewGuard(signature.NewAuthorizer(rt.Buckets, authOpts...), rt.Locks)
	rt.Checker = integrity.NewChecker(rt.DB, rt.Buckets, rt.Backends, settings.Integrity)
	rt.Jobs = jobs.NewEngine(rt.DB, rt.Buckets, snapshots,
		jobs.WithCompression(algo),
		jobs.WithQueue(rt.Queue))

	logger.Debug().
		Str("db_driver", string(settings.DB.Driver)).
		Int("buckets", len(rt.Buckets.All())).
		Str("compression", string(algo)).
		Bool("redis_lock", settings.Redis.Enabled).
		Msg("runtime initialized")
	return rt, nil
}

// SQLDB returns the connection pool of SQL-backed stores.
func (rt *Runtime) SQLDB() (*sql.DB, bool) {
	raw := rt.DB
	if m, ok := raw.(*db.MetricsDB); ok {
		raw = m.Unwrap()
	}
	p, ok := raw.(interface{ DB() *sql.DB })
	if !ok {
		return nil, false
	}
	return p.DB(), true
}

// Close releases everything NewRuntime opened, in reverse order.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

func openDB(s Settings) (db.DB, error) {
	switch s.DB.Driver {
	case db.DriverMemory:
		logger.Warn().Msg("using the in-memory metadata store; nothing survives a restart")
		return memory.New(), nil
	case db.DriverPostgres:
		return postgres.NewPostgres(s.DB)
	case db.DriverMySQL:
		return mysql.NewMySQL(mysql.Config{
			Config:    s.DB,
			TLSMode:   mysql.TLSMode(s.DBTLSMode),
			TLSCAFile: s.DBTLSCA,
		})
	default:
		return nil, fmt.Errorf("unknown db driver %q (memory, postgres, mysql)", s.DB.Driver)
	}
}

func newLocker(cfg lock.RedisConfig) (lock.Locker, error) {
	if !cfg.Enabled {
		return lock.NewLocal(), nil
	}
	r, err := lock.NewRedis(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("redis_addr", cfg.Addr).Msg("using Redis run locks")
	return r, nil
}

func newMailer(cfg notify.SMTPConfig) (notify.Mailer, error) {
	if !cfg.Enabled() {
		return notify.LogMailer{}, nil
	}
	return notify.NewSMTPMailer(cfg)
}

// withRuntime builds a Runtime for one operator command and closes it afterwards.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := NewRuntime(ctx, viper.GetViper())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}
