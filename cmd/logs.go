// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/auditlog"
	"github.com/LeeDigitalWorks/gdprkv/pkg/cipher"
	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"
	"github.com/LeeDigitalWorks/gdprkv/pkg/regulator"
	"github.com/LeeDigitalWorks/gdprkv/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Read audit logs offline",
	Long: `Read the audit log directory of a controller the way a regulator
session does, without a running controller. Entries appended after the
command starts are not shown.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log files",
	Run:   runLogsList,
}

var logsShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Print the audit log of one key",
	Long: `Print the audit log of one key.

Example:
  gdprkv logs show user42 --log_dir /var/lib/gdprkv/logs`,
	Args: cobra.ExactArgs(1),
	Run:  runLogsShow,
}

var logsDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print every audit log, prefixed by key",
	Run:   runLogsDump,
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsShowCmd)
	logsCmd.AddCommand(logsDumpCmd)

	f := logsCmd.PersistentFlags()
	f.String("log_dir", "/tmp/gdprkv/logs", "Audit log directory")
	f.String("log_delimiter", ",", "Single byte separating audit entry fields")
	f.String("log_encryption_key", "", "Log key when logs are encrypted: 16/24/32 bytes or hex:<hex>")
	viper.BindPFlags(f)
}

func openRegulator(cmd *cobra.Command) (*auditlog.Logger, *regulator.Regulator) {
	utils.LoadConfiguration("gdprkv", false)
	f := NewFlagLoader(cmd)

	delim := f.String("log_delimiter")
	if len(delim) != 1 {
		logger.Fatal().Str("log_delimiter", delim).Msg("log_delimiter must be a single byte")
	}
	cfg := auditlog.Config{
		Dir:          utils.ResolvePath(f.String("log_dir")),
		Delimiter:    delim[0],
		MaxOpenFiles: 1,
	}
	if raw := f.String("log_encryption_key"); raw != "" {
		key, err := cipher.ParseKey(raw)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid log_encryption_key")
		}
		// Only the log key is used when reading.
		engine, err := cipher.New(key, key)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid log_encryption_key")
		}
		cfg.Cipher = engine
	}
	logs, err := auditlog.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("log_dir", cfg.Dir).Msg("failed to open audit log directory")
	}
	return logs, regulator.New(logs, time.Now())
}

func runLogsList(cmd *cobra.Command, args []string) {
	logs, reg := openRegulator(cmd)
	defer logs.Close()

	names, err := reg.ListLogs()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to list audit logs")
	}
	var total uint64
	for _, name := range names {
		size := uint64(0)
		if info, err := os.Stat(filepath.Join(logs.Dir(), name)); err == nil {
			size = uint64(info.Size())
		}
		total += size
		fmt.Printf("%-40s %10s\n", name, humanize.Bytes(size))
	}
	fmt.Printf("%d logs, %s\n", len(names), humanize.Bytes(total))
}

func runLogsShow(cmd *cobra.Command, args []string) {
	logs, reg := openRegulator(cmd)
	defer logs.Close()

	lines, err := reg.ReadKeyLog(args[0])
	if err != nil {
		logger.Fatal().Err(err).Str("key", args[0]).Msg("failed to read audit log")
	}
	for _, l := range lines {
		fmt.Println(l)
	}
}

func runLogsDump(cmd *cobra.Command, args []string) {
	logs, reg := openRegulator(cmd)
	defer logs.Close()

	all, err := reg.ReadAll()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read audit logs")
	}
	for _, kl := range all {
		for _, l := range kl.Lines {
			fmt.Printf("%s: %s\n", kl.Key, l)
		}
	}
	logger.Debug().Time("threshold", reg.Threshold()).Int("logs", len(all)).Msg("dump complete")
}
