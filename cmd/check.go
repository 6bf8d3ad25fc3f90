// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/LeeDigitalWorks/blobgate/pkg/integrity"
	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check metadata, ledger and storage against each other",
	Long: `Runs one consistency check and delivers the reports.

Findings are reported, never repaired; the command exits 0 whatever it finds.
Use "blobgate bucket recompute --apply" to correct a size ledger.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var checkBucketSizeCmd = &cobra.Command{
	Use:   "bucket-size",
	Short: "Compare each size ledger with the sum of the bucket's file sizes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, (*integrity.Checker).CheckBucketSizes)
	},
}

var checkIntegrityCmd = &cobra.Command{
	Use:   "integrity",
	Short: "Verify content hashes and metadata of every file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, (*integrity.Checker).CheckFileAndMetadataIntegrity)
	},
}

var checkOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List stored objects that have no metadata row",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, (*integrity.Checker).FindOrphanFilesInStorage)
	},
}

var checkAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every check",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, (*integrity.Checker).RunAll)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	for _, c := range []*cobra.Command{checkBucketSizeCmd, checkIntegrityCmd, checkOrphansCmd, checkAllCmd} {
		c.Flags().String("bucket", "", "Only check this internal bucket id")
		c.Flags().String("output", "stdout", "Where reports go: stdout, file or email")
		c.Flags().String("output-file", "", "Report file when --output=file")
		c.Flags().StringSlice("email-to", nil, "Recipients overriding the bucket's configured ones")
		checkCmd.AddCommand(c)
	}
}

type checkFunc func(c *integrity.Checker, ctx context.Context, bucketFilter string) ([]*integrity.Report, error)

func runCheck(cmd *cobra.Command, check checkFunc) error {
	f := NewFlagLoader(cmd)
	bucketFilter := f.String("bucket")
	output := f.String("output")
	outputFile := f.String("output-file")
	to := f.StringSlice("email-to")

	return withRuntime(cmd, func(ctx context.Context, rt *Runtime) error {
		sink, err := integrity.NewSink(output, integrity.SinkOptions{
			Stdout: cmd.OutOrStdout(),
			Path:   outputFile,
			Mailer: rt.Mailer,
			To:     to,
		})
		if err != nil {
			return err
		}

		reports, err := check(rt.Checker, ctx, bucketFilter)
		if err != nil {
			return err
		}
		if err := sink.Deliver(ctx, reports); err != nil {
			return fmt.Errorf("deliver reports: %w", err)
		}

		findings := 0
		for _, r := range reports {
			findings += r.Total
		}
		logger.Info().Int("reports", len(reports)).Int("findings", findings).Msg("check complete")
		return nil
	})
}
