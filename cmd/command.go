// Copyright 2025 blobgate Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LeeDigitalWorks/blobgate/pkg/logger"
	"github.com/LeeDigitalWorks/blobgate/pkg/utils"
)

var rootCmd = &cobra.Command{
	Use:   "blobgate",
	Short: "blobgate - signed-URL file gateway",
	Long: `blobgate stores files for configured buckets behind signed URLs.

It keeps file metadata in a SQL store, file bytes in per-bucket storage
backends, and a size ledger per bucket. The operator commands check those
three against each other, back up and restore bucket metadata, and sweep
expired files.`,
	PersistentPreRunE: initialize,
	SilenceUsage:      true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	rootCmd.PersistentFlags().String("log_level", "", "Log level (trace, debug, info, warn, error); overrides LOG_LEVEL")
}

// initialize loads blobgate.yaml into viper and applies the log level.
func initialize(cmd *cobra.Command, args []string) error {
	utils.LoadConfiguration("blobgate", false)

	level := NewFlagLoader(cmd).String("log_level")
	if level == "" {
		level = viper.GetString("LOG_LEVEL")
	}
	if level != "" {
		lvl, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return err
		}
		logger.SetLevel(lvl)
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
