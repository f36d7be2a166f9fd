// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/debug"
	"github.com/LeeDigitalWorks/gdprkv/pkg/kv"
	"github.com/LeeDigitalWorks/gdprkv/pkg/kv/proxy"
	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"
	"github.com/LeeDigitalWorks/gdprkv/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type KVProxyOpts struct {
	IP          string
	Port        int
	DebugPort   int
	IdleTimeout time.Duration
	KV          kv.Config
}

var kvproxyCmd = &cobra.Command{
	Use:   "kvproxy",
	Short: "Serve a backing store over the remote kv protocol",
	Long: `Serve a local backing store (LevelDB by default) over TCP so that
controllers started with --kv_type remote can share it.

Example:
  gdprkv kvproxy --kv_path /var/lib/gdprkv/data --port 9597
  gdprkv serve --kv_type remote --kv_addr localhost:9597`,
	Run: runKVProxy,
}

func init() {
	rootCmd.AddCommand(kvproxyCmd)

	// Flag names are prefixed so they do not share viper keys with serve.
	f := kvproxyCmd.Flags()
	f.String("proxy_ip", "127.0.0.1", "IP address to bind to")
	f.Int("proxy_port", 9597, "Proxy TCP port")
	f.Int("proxy_debug_port", 0, "Debug HTTP port; 0 disables it")
	f.Duration("proxy_idle_timeout", 0, "Close connections idle for this long; 0 disables it")
	f.String("proxy_kv_type", string(kv.TypeLevelDB), "Backing store (memory, redis, leveldb, postgres)")
	f.String("proxy_kv_addr", "localhost:6379", "Redis address")
	f.String("proxy_kv_path", "/tmp/gdprkv/proxy", "LevelDB directory")
	f.Bool("proxy_kv_sync", true, "Sync LevelDB writes before acknowledging them")
	f.String("proxy_kv_dsn", "", "Postgres connection string")
	f.String("proxy_kv_table", "gdprkv", "Postgres table")

	viper.BindPFlags(f)
}

func loadKVProxyOpts(cmd *cobra.Command) KVProxyOpts {
	f := NewFlagLoader(cmd)
	return KVProxyOpts{
		IP:          f.String("proxy_ip"),
		Port:        f.Int("proxy_port"),
		DebugPort:   f.Int("proxy_debug_port"),
		IdleTimeout: f.Duration("proxy_idle_timeout"),
		KV: kv.Config{
			Type:  kv.Type(f.String("proxy_kv_type")),
			Addr:  f.String("proxy_kv_addr"),
			Path:  f.String("proxy_kv_path"),
			Sync:  f.Bool("proxy_kv_sync"),
			DSN:   f.String("proxy_kv_dsn"),
			Table: f.String("proxy_kv_table"),
		},
	}
}

func runKVProxy(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("gdprkv", false)
	opts := loadKVProxyOpts(cmd)

	if opts.KV.Type == kv.TypeRemote {
		logger.Fatal().Msg("kvproxy cannot serve a remote backend")
	}
	client, err := kv.New(opts.KV)
	if err != nil {
		logger.Fatal().Err(err).Str("kv_type", string(opts.KV.Type)).Msg("failed to initialize backing store")
	}
	defer client.Close()

	listener, err := utils.NewListener(joinHostPort(opts.IP, opts.Port), opts.IdleTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create proxy listener")
	}
	server := proxy.NewServer(client)
	go func() {
		if err := server.Serve(listener); err != nil {
			logger.Fatal().Err(err).Msg("kv proxy stopped")
		}
	}()

	if opts.DebugPort > 0 {
		debugServer := startHTTPServer(debug.GetMux(), opts.IP, opts.DebugPort)
		defer debugServer.Shutdown(context.Background())
	}

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("kv proxy shutdown timed out")
	}
}
