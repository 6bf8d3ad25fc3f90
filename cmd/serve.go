// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LeeDigitalWorks/blobgate/pkg/blob"
	"github.com/LeeDigitalWorks/blobgate/pkg/debug"
	"github.com/LeeDigitalWorks/blobgate/pkg/env"
	"github.com/LeeDigitalWorks/blobgate/pkg/integrity"
	"github.com/LeeDigitalWorks/blobgate/pkg/jobs"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/taskqueue"
)

const connMetricsInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background workers",
	Long: `Runs the expiry sweep, the scheduled integrity checks, the backup and
restore worker and the optional backup scheduler until interrupted.

Metrics, health and readiness are served on --debug_addr.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("debug_addr", ":8085", "Address for /metrics, /health and /ready")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f := NewFlagLoader(cmd)
	if addr := f.String("debug_addr"); addr != "" {
		viper.Set("debug_addr", addr)
	}

	rt, err := NewRuntime(ctx, viper.GetViper())
	if err != nil {
		return err
	}
	defer rt.Close()
	s := rt.Settings

	debugErr := make(chan error, 1)
	go func() {
		debugErr <- debug.Serve(ctx, s.DebugAddr)
	}()

	scanner := blob.NewScanner(rt.Files, rt.Locker, s.Cleanup)
	scanner.Start()
	defer scanner.Stop()

	sink, err := integrity.NewSink(s.Integrity.Output, integrity.SinkOptions{
		Stdout: cmd.OutOrStdout(),
		Path:   s.Integrity.OutputFile,
		Mailer: rt.Mailer,
	})
	if err != nil {
		return err
	}
	checks := integrity.NewScheduler(rt.Checker, sink, rt.Locker, s.Integrity)
	checks.Start()
	defer checks.Stop()

	host, _ := os.Hostname()
	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		ID:           "blobgate-" + host,
		Queue:        rt.Queue,
		PollInterval: s.Jobs.PollInterval,
		Concurrency:  s.Jobs.WorkerConcurrency,
	})
	for _, h := range rt.Jobs.Handlers() {
		worker.RegisterHandler(h)
	}
	worker.Start(ctx)
	defer worker.Stop()

	backups := jobs.NewScheduler(rt.Jobs, rt.Buckets, rt.Locker, s.Jobs)
	backups.Start()
	defer backups.Stop()

	if sqlDB, ok := rt.SQLDB(); ok {
		debug.AddReadyCheck(func() bool {
			pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return sqlDB.PingContext(pingCtx) == nil
		})
		go func() {
			t := time.NewTicker(connMetricsInterval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					db.UpdateConnectionMetrics(sqlDB.Stats())
				}
			}
		}()
	}

	debug.SetReady()
	logger.Info().
		Str("env", env.Current()).
		Str("debug_addr", s.DebugAddr).
		Int("buckets", len(rt.Buckets.All())).
		Bool("cleanup", s.Cleanup.Enabled).
		Bool("integrity", s.Integrity.Enabled).
		Bool("scheduled_backups", s.Jobs.ScheduledBackups).
		Msg("blobgate workers started")

	select {
	case <-ctx.Done():
	case err = <-debugErr:
		if err != nil {
			logger.Error().Err(err).Msg("debug server failed")
		}
	}

	debug.SetNotReady()
	logger.Info().Msg("shutting down")
	return err
}
