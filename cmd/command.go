// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"

	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"
	"github.com/LeeDigitalWorks/gdprkv/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "gdprkv",
	Short: "gdprkv - GDPR-compliant key-value access layer",
	Long: `gdprkv mediates every read and write of a key-value store.
Each stored value carries GDPR metadata (owner, purposes, objections, origin,
expiration, sharing and monitoring). Queries are checked against it, writes
rewrite it, and monitored keys get a per-key binary audit log that regulators
can read back.`,
	PersistentPreRun: initializeLogging,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&utils.ConfigurationFileDirectory, "config_dir", ".", "Directory for configuration files")
	rootCmd.PersistentFlags().String("log_level", "info", "Log level (debug, info, warn, error, fatal)")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log_level"))
}

func initializeLogging(cmd *cobra.Command, args []string) {
	lvl := viper.GetString("log_level")
	if cmd.Flags().Changed("log_level") {
		lvl, _ = cmd.Flags().GetString("log_level")
	}
	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		logger.Warn().Str("log_level", lvl).Msg("unknown log level, keeping default")
		return
	}
	logger.SetLevel(level)
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
