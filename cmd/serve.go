// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/auditlog"
	"github.com/LeeDigitalWorks/gdprkv/pkg/cipher"
	"github.com/LeeDigitalWorks/gdprkv/pkg/controller"
	"github.com/LeeDigitalWorks/gdprkv/pkg/debug"
	"github.com/LeeDigitalWorks/gdprkv/pkg/events"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/policy"
	"github.com/LeeDigitalWorks/gdprkv/pkg/kv"
	_ "github.com/LeeDigitalWorks/gdprkv/pkg/kv/proxy" // registers the remote backend
	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"
	"github.com/LeeDigitalWorks/gdprkv/pkg/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type ServeOpts struct {
	IP          string
	Port        int
	DebugPort   int
	IdleTimeout time.Duration
	MaxQPS      float64

	DefaultPolicyFile string

	KV kv.Config

	LogDir             string
	LogDelimiter       string
	EncryptLogs        bool
	MaxOpenLogFiles    int
	DescriptorFraction float64

	Keys KeyOpts

	// Audit events mirror
	EventsPublisher string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisChannel    string
	KafkaBrokers    []string
	KafkaTopic      string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gdprkv controller",
	Long: `Start the gdprkv controller. Clients connect over TCP, send a
user_policy line and then one query per line:

  user_policy -sessionKey alice -encryption false -purpose purpose0 -objection -origin eu -expTime 0 -objShare -monitor true
  query(put("k1","v1"))
  query(get("k1"))
  query(exit)

The backing store is selected with --kv_type (memory, redis, leveldb, postgres, remote).`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("ip", "127.0.0.1", "IP address to bind to")
	f.Int("port", 9595, "Controller TCP port")
	f.Int("debug_port", 9596, "Debug HTTP port (metrics, health, pprof); 0 disables it")
	f.Duration("idle_timeout", 10*time.Minute, "Close client connections idle for this long; 0 disables it")
	f.Float64("max_qps", 0, "Per-connection query rate limit; 0 disables it")
	f.String("default_policy_file", "", "YAML or JSON policy used when a client sends no user_policy line")

	f.String("kv_type", string(kv.TypeMemory), "Backing store (memory, redis, leveldb, postgres, remote)")
	f.String("kv_addr", "localhost:6379", "Backing store address (redis, remote)")
	f.String("kv_password", "", "Redis password")
	f.Int("kv_db", 0, "Redis database number")
	f.String("kv_path", "/tmp/gdprkv/data", "LevelDB directory")
	f.Bool("kv_sync", false, "Sync LevelDB writes before acknowledging them")
	f.String("kv_dsn", "", "Postgres connection string")
	f.String("kv_table", "gdprkv", "Postgres table")
	f.Duration("kv_timeout", kv.DefaultTimeout, "Backing store dial and request timeout")

	f.String("log_dir", "/tmp/gdprkv/logs", "Audit log directory")
	f.String("log_delimiter", ",", "Single byte separating audit entry fields")
	f.Bool("encrypt_logs", false, "Seal audit entries with the log key")
	f.Int("max_open_log_files", 0, "Audit log handle budget; 0 derives it from RLIMIT_NOFILE")
	f.Float64("log_descriptor_fraction", 0.8, "Share of RLIMIT_NOFILE usable for audit log handles")

	addKeyFlags(f)

	f.String("events_publisher", "none", "Mirror audit entries to: none, redis, kafka")
	f.String("events_redis_addr", "localhost:6379", "Redis address for audit events")
	f.String("events_redis_password", "", "Redis password for audit events")
	f.Int("events_redis_db", 0, "Redis database for audit events")
	f.String("events_redis_channel", "gdprkv:audit", "Redis channel prefix for audit events")
	f.StringSlice("events_kafka_brokers", []string{"localhost:9092"}, "Kafka brokers for audit events")
	f.String("events_kafka_topic", "gdprkv-audit", "Kafka topic for audit events")

	viper.BindPFlags(f)
}

func loadServeOpts(cmd *cobra.Command) ServeOpts {
	f := NewFlagLoader(cmd)
	return ServeOpts{
		IP:                f.String("ip"),
		Port:              f.Int("port"),
		DebugPort:         f.Int("debug_port"),
		IdleTimeout:       f.Duration("idle_timeout"),
		MaxQPS:            f.Float64("max_qps"),
		DefaultPolicyFile: f.String("default_policy_file"),
		KV: kv.Config{
			Type:     kv.Type(f.String("kv_type")),
			Addr:     f.String("kv_addr"),
			Password: f.String("kv_password"),
			DB:       f.Int("kv_db"),
			Path:     f.String("kv_path"),
			Sync:     f.Bool("kv_sync"),
			DSN:      f.String("kv_dsn"),
			Table:    f.String("kv_table"),
			Timeout:  f.Duration("kv_timeout"),
		},
		LogDir:             f.String("log_dir"),
		LogDelimiter:       f.String("log_delimiter"),
		EncryptLogs:        f.Bool("encrypt_logs"),
		MaxOpenLogFiles:    f.Int("max_open_log_files"),
		DescriptorFraction: f.Float64("log_descriptor_fraction"),
		Keys:               loadKeyOpts(f),
		EventsPublisher:    f.String("events_publisher"),
		RedisAddr:          f.String("events_redis_addr"),
		RedisPassword:      f.String("events_redis_password"),
		RedisDB:            f.Int("events_redis_db"),
		RedisChannel:       f.String("events_redis_channel"),
		KafkaBrokers:       f.StringSlice("events_kafka_brokers"),
		KafkaTopic:         f.String("events_kafka_topic"),
	}
}

func runServe(cmd *cobra.Command, args []string) {
	utils.LoadConfiguration("gdprkv", false)
	opts := loadServeOpts(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	debug.SetNotReady()

	engine, err := loadCipher(ctx, opts.Keys)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load cipher keys")
	}

	var defaultPolicy *policy.Default
	if opts.DefaultPolicyFile != "" {
		defaultPolicy, err = policy.LoadFile(utils.ResolvePath(opts.DefaultPolicyFile))
		if err != nil {
			logger.Fatal().Err(err).Str("path", opts.DefaultPolicyFile).Msg("failed to load default policy")
		}
		logger.Info().Str("path", opts.DefaultPolicyFile).Str("owner", defaultPolicy.OwnerKey).Msg("loaded default policy")
	}

	logger.Info().Str("kv_type", string(opts.KV.Type)).Str("kv_dsn", maskDSN(opts.KV.DSN)).Msg("initializing backing store")
	client, err := kv.New(opts.KV)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize backing store")
	}
	store := kv.NewStore(client, engine)
	defer store.Close()

	publisher, err := newPublisher(opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize audit events publisher")
	}
	if publisher != nil {
		defer publisher.Close()
		logger.Info().Str("publisher", publisher.Name()).Msg("audit events enabled")
	}

	audit, err := newAuditLogger(opts, engine, publisher)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize audit logger")
	}
	defer audit.Close()

	server := controller.NewServer(controller.NewEngine(store, audit), controller.ServerConfig{
		DefaultPolicy: defaultPolicy,
		MaxQPS:        opts.MaxQPS,
	})
	listener, err := utils.NewListener(joinHostPort(opts.IP, opts.Port), opts.IdleTimeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create controller listener")
	}
	go func() {
		if err := server.Serve(listener); err != nil {
			logger.Fatal().Err(err).Msg("controller stopped")
		}
	}()

	if opts.DebugPort > 0 {
		debugServer := startHTTPServer(debug.GetMux(), opts.IP, opts.DebugPort)
		defer debugServer.Shutdown(context.Background())
	}

	debug.SetReady()
	waitForShutdown()
	debug.SetNotReady()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("controller shutdown timed out")
	}
}

func newPublisher(opts ServeOpts) (events.Publisher, error) {
	cfg := events.Config{Publisher: opts.EventsPublisher}
	switch opts.EventsPublisher {
	case "redis":
		cfg.Redis = events.DefaultRedisConfig(opts.RedisAddr)
		cfg.Redis.Password = opts.RedisPassword
		cfg.Redis.DB = opts.RedisDB
		cfg.Redis.Channel = opts.RedisChannel
	case "kafka":
		cfg.Kafka = events.DefaultKafkaConfig(opts.KafkaBrokers)
		cfg.Kafka.Topic = opts.KafkaTopic
	}
	return events.New(cfg)
}

func newAuditLogger(opts ServeOpts, engine *cipher.Engine, publisher events.Publisher) (*auditlog.Logger, error) {
	if len(opts.LogDelimiter) != 1 {
		return nil, fmt.Errorf("log_delimiter must be a single byte, got %q", opts.LogDelimiter)
	}
	cfg := auditlog.Config{
		Dir:                utils.ResolvePath(opts.LogDir),
		Delimiter:          opts.LogDelimiter[0],
		DescriptorFraction: opts.DescriptorFraction,
		MaxOpenFiles:       opts.MaxOpenLogFiles,
		Publisher:          publisher,
	}
	if opts.EncryptLogs {
		cfg.Cipher = engine
	}
	return auditlog.New(cfg)
}
