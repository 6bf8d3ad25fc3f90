// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/blobgate/pkg/bucket"
	"github.com/LeeDigitalWorks/blobgate/pkg/ledger"
	"github.com/LeeDigitalWorks/blobgate/pkg/types"
)

var bucketCmd = &cobra.Command{
	Use:   "bucket",
	Short: "Inspect buckets, their size ledgers and method locks",
	RunE:  runBucketList,
}

var bucketRecomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute size ledgers from the file rows",
	Long: `Sums the file sizes of each bucket and compares the result with its ledger.

With --apply the ledger is overwritten with the recomputed total.`,
	RunE: runBucketRecompute,
}

var bucketLockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Manage the method locks of a bucket",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var bucketLockGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the lock of a bucket",
	RunE:  runBucketLockGet,
}

var bucketLockSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or replace the lock of a bucket",
	Long: `Create or replace the lock of a bucket. Methods not named are unlocked.

Example:
  blobgate bucket lock set --bucket 3b0c1d9e-internal --post --patch --delete`,
	RunE: runBucketLockSet,
}

var bucketLockDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the lock of a bucket",
	RunE:  runBucketLockDelete,
}

func init() {
	rootCmd.AddCommand(bucketCmd)
	bucketCmd.AddCommand(bucketRecomputeCmd)
	bucketCmd.AddCommand(bucketLockCmd)
	bucketLockCmd.AddCommand(bucketLockGetCmd)
	bucketLockCmd.AddCommand(bucketLockSetCmd)
	bucketLockCmd.AddCommand(bucketLockDeleteCmd)

	bucketRecomputeCmd.Flags().String("bucket", "", "Only this internal bucket id")
	bucketRecomputeCmd.Flags().Bool("apply", false, "Overwrite the ledger with the recomputed total")

	for _, c := range []*cobra.Command{bucketLockGetCmd, bucketLockSetCmd, bucketLockDeleteCmd} {
		c.Flags().String("bucket", "", "Internal bucket id (required)")
		c.MarkFlagRequired("bucket")
	}
	bucketLockSetCmd.Flags().Bool("get", false, "Lock GET and HEAD")
	bucketLockSetCmd.Flags().Bool("post", false, "Lock POST and PUT")
	bucketLockSetCmd.Flags().Bool("patch", false, "Lock PATCH")
	bucketLockSetCmd.Flags().Bool("delete", false, "Lock DELETE")
}

func runBucketList(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INTERNAL ID\tBUCKET ID\tNAME\tSTORAGE\tUSED\tQUOTA")
		for _, b := range rt.Buckets.All() {
			used, err := rt.Files.Ledger().Get(ctx, b.InternalID)
			if err != nil {
				return err
			}
			quota := "unlimited"
			if b.Quota > 0 {
				quota = humanize.Bytes(uint64(b.Quota))
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				b.InternalID, b.BucketID, b.Name, b.Storage.Type,
				humanize.Bytes(uint64(max(used, 0))), quota)
		}
		return w.Flush()
	})
}

func runBucketRecompute(cmd *cobra.Command, args []string) error {
	f := NewFlagLoader(cmd)
	bucketFilter := f.String("bucket")
	apply := f.Bool("apply")

	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		configs, err := rt.Buckets.Select(bucketFilter)
		if err != nil {
			return err
		}
		l := rt.Files.Ledger()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BUCKET\tLEDGER\tRECOMPUTED\tSTATE")
		for _, b := range configs {
			c, err := recompute(ctx, l, b, apply)
			if err != nil {
				return err
			}
			state := "ok"
			switch {
			case c.Changed() && apply:
				state = "corrected"
			case c.Changed():
				state = fmt.Sprintf("drift %+d", c.After-c.Before)
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", b.InternalID, c.Before, c.After, state)
		}
		return w.Flush()
	})
}

func recompute(ctx context.Context, l *ledger.Ledger, b bucket.Config, apply bool) (ledger.Correction, error) {
	if apply {
		return l.Reset(ctx, b.InternalID)
	}
	before, err := l.Get(ctx, b.InternalID)
	if err != nil {
		return ledger.Correction{}, err
	}
	after, err := l.Recompute(ctx, b.InternalID)
	if err != nil {
		return ledger.Correction{}, err
	}
	return ledger.Correction{BucketID: b.InternalID, Before: before, After: after}, nil
}

func runBucketLockGet(cmd *cobra.Command, args []string) error {
	bucketID := NewFlagLoader(cmd).String("bucket")
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		l, err := rt.Locks.Get(ctx, bucketID)
		if err != nil {
			return err
		}
		printLock(cmd, l)
		return nil
	})
}

func runBucketLockSet(cmd *cobra.Command, args []string) error {
	f := NewFlagLoader(cmd)
	want := types.BucketLock{
		BucketID:   f.String("bucket"),
		GetLock:    f.Bool("get"),
		PostLock:   f.Bool("post"),
		PatchLock:  f.Bool("patch"),
		DeleteLock: f.Bool("delete"),
	}
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		if _, ok := rt.Buckets.ByInternalID(want.BucketID); !ok {
			return fmt.Errorf("bucket %q is not configured", want.BucketID)
		}
		l, err := rt.Locks.Put(ctx, want)
		if err != nil {
			return err
		}
		printLock(cmd, l)
		return nil
	})
}

func runBucketLockDelete(cmd *cobra.Command, args []string) error {
	bucketID := NewFlagLoader(cmd).String("bucket")
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		if err := rt.Locks.Delete(ctx, bucketID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Lock of bucket %s removed\n", bucketID)
		return nil
	})
}

func printLock(cmd *cobra.Command, l types.BucketLock) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Bucket: %s (lock %s)\n", l.BucketID, l.ID)
	fmt.Fprintf(out, "  GET:    %v\n", l.GetLock)
	fmt.Fprintf(out, "  POST:   %v\n", l.PostLock)
	fmt.Fprintf(out, "  PATCH:  %v\n", l.PatchLock)
	fmt.Fprintf(out, "  DELETE: %v\n", l.DeleteLock)
}
