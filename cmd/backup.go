// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/blobgate/pkg/metadata/db"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up and restore bucket metadata",
	Long: `Back up and restore the file metadata of a bucket.

A backup writes a compressed JSON snapshot of every file row of the bucket to
the snapshot storage. A restore replaces the bucket's file rows and size
ledger with the content of a finished backup. File bytes in the bucket's
storage backend are never touched.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Back up the metadata of a bucket",
	Long: `Back up the metadata of a bucket and wait for the job to finish.

Older finished backups of the bucket are removed once the new one finishes.

Example:
  blobgate backup create --bucket 3b0c1d9e-internal`,
	RunE: runBackupCreate,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore bucket metadata from a finished backup",
	Long: `Restore bucket metadata from a finished backup and wait for the job.

WARNING: every file row of the bucket is replaced by the backup's content.

Example:
  blobgate backup restore --job 0192a0c4-...`,
	RunE: runBackupRestore,
}

var backupCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a running backup or restore job",
	RunE:  runBackupCancel,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup or restore jobs, newest first",
	RunE:  runBackupList,
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)
	backupCmd.AddCommand(backupCancelCmd)
	backupCmd.AddCommand(backupListCmd)

	backupCreateCmd.Flags().String("bucket", "", "Internal bucket id (required)")
	backupCreateCmd.MarkFlagRequired("bucket")

	backupRestoreCmd.Flags().String("job", "", "Id of the finished backup job to restore (required)")
	backupRestoreCmd.MarkFlagRequired("job")

	backupCancelCmd.Flags().String("job", "", "Job id (required)")
	backupCancelCmd.Flags().Bool("restore", false, "Cancel a restore job instead of a backup job")
	backupCancelCmd.MarkFlagRequired("job")

	backupListCmd.Flags().String("bucket", "", "Only jobs of this internal bucket id")
	backupListCmd.Flags().Bool("restore", false, "List restore jobs instead of backup jobs")
	backupListCmd.Flags().Int("limit", 20, "Maximum number of jobs")
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	bucketID := NewFlagLoader(cmd).String("bucket")
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		fmt.Fprintf(cmd.OutOrStdout(), "Backing up bucket %s...\n", bucketID)
		j, err := rt.Jobs.Backup(ctx, bucketID)
		if j.ID != "" {
			printJob(cmd.OutOrStdout(), j)
		}
		return err
	})
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	backupID := NewFlagLoader(cmd).String("job")
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		fmt.Fprintf(cmd.OutOrStdout(), "Restoring backup %s...\n", backupID)
		j, err := rt.Jobs.Restore(ctx, backupID)
		if j.ID != "" {
			printJob(cmd.OutOrStdout(), j)
		}
		return err
	})
}

func runBackupCancel(cmd *cobra.Command, args []string) error {
	f := NewFlagLoader(cmd)
	id := f.String("job")
	restore := f.Bool("restore")
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		cancel := rt.Jobs.CancelBackup
		if restore {
			cancel = rt.Jobs.CancelRestore
		}
		j, err := cancel(ctx, id)
		if err != nil {
			return err
		}
		printJob(cmd.OutOrStdout(), j)
		return nil
	})
}

func runBackupList(cmd *cobra.Command, args []string) error {
	f := NewFlagLoader(cmd)
	params := db.ListJobsParams{
		Kind:     types.JobKindBackup,
		BucketID: f.String("bucket"),
		Limit:    f.Int("limit"),
	}
	if f.Bool("restore") {
		params.Kind = types.JobKindRestore
	}
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		list, err := rt.Jobs.ListJobs(ctx, params)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No %s jobs found\n", params.Kind)
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tBUCKET\tSTATUS\tSTARTED\tFILES\tSIZE")
		for _, j := range list {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				j.ID, j.BucketID, j.Status, humanize.Time(j.Started),
				j.FileCount, humanize.Bytes(uint64(j.TotalBytes)))
		}
		return w.Flush()
	})
}

func printJob(out io.Writer, j types.Job) {
	fmt.Fprintf(out, "  Job ID:   %s\n", j.ID)
	fmt.Fprintf(out, "  Kind:     %s\n", j.Kind)
	fmt.Fprintf(out, "  Bucket:   %s\n", j.BucketID)
	fmt.Fprintf(out, "  Status:   %s\n", j.Status)
	fmt.Fprintf(out, "  Started:  %s\n", j.Started.Format(time.RFC3339))
	if j.Finished != nil {
		fmt.Fprintf(out, "  Took:     %s\n", j.Finished.Sub(j.Started).Round(time.Millisecond))
	}
	if j.BackupJobID != "" {
		fmt.Fprintf(out, "  Backup:   %s\n", j.BackupJobID)
	}
	if j.FileRef != "" {
		fmt.Fprintf(out, "  Artifact: %s\n", j.FileRef)
	}
	if j.Hash != "" {
		fmt.Fprintf(out, "  SHA-256:  %s\n", j.Hash)
	}
	fmt.Fprintf(out, "  Files:    %d (%s)\n", j.FileCount, humanize.Bytes(uint64(j.TotalBytes)))
	if j.ErrorID != "" {
		fmt.Fprintf(out, "  Error:    %s: %s\n", j.ErrorID, j.ErrorMessage)
	}
}
