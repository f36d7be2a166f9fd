// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes audit events to Redis Pub/Sub on "{channel}:{key}".
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	Channel      string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig(addr string) RedisConfig {
	return RedisConfig{
		Addr:         addr,
		Channel:      "gdprkv:audit",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	defaults := DefaultRedisConfig(cfg.Addr)
	if cfg.Channel == "" {
		cfg.Channel = defaults.Channel
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Str("channel", cfg.Channel).
		Msg("redis audit event publisher connected")

	return &RedisPublisher{client: client, channel: cfg.Channel}, nil
}

func (p *RedisPublisher) Name() string {
	return "redis"
}

// Channel returns the channel events for key are published on.
func (p *RedisPublisher) Channel(key string) string {
	return p.channel + ":" + key
}

func (p *RedisPublisher) Publish(ctx context.Context, ev AuditEvent) (err error) {
	start := time.Now()
	defer func() { observe(p.Name(), start, err) }()

	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	res := p.client.Publish(ctx, p.Channel(ev.Key), data)
	if err := res.Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}

	logger.Debug().
		Str("channel", p.Channel(ev.Key)).
		Int64("subscribers", res.Val()).
		Msg("published audit event to redis")
	return nil
}

func (p *RedisPublisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
