// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove every expired file once",
	Long: `Removes every file whose expiry has passed, in all buckets, and releases
its bytes from the bucket's size ledger. "blobgate serve" runs the same
sweep periodically.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		res, err := rt.Files.CleanUp(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Removed %d expired files (%s)\n", len(res.Removed), humanize.Bytes(uint64(res.Bytes())))
		for _, f := range res.Failures {
			fmt.Fprintf(out, "  failed %s: %v\n", f.FileID, f.Err)
		}
		return res.Err()
	})
}
