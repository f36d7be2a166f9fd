// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package kv provides the key-value backends gdprkv mediates access to.
// Backends register a factory for their Type and are selected at startup.
package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Type names a backend.
type Type string

const (
	TypeMemory   Type = "memory"
	TypeRedis    Type = "redis"
	TypeLevelDB  Type = "leveldb"
	TypePostgres Type = "postgres"
	TypeRemote   Type = "remote"
)

var ErrClosed = errors.New("kv client closed")

// Client is a plain key-value store. Get reports found=false, not an error,
// for a missing key. Delete of a missing key is not an error.
type Client interface {
	Type() Type
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a backend. Only the fields of the selected
// Type are read.
type Config struct {
	Type Type `mapstructure:"type"`

	// Addr is the server address for redis and remote.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Path is the leveldb directory.
	Path string `mapstructure:"path"`
	// Sync makes leveldb writes durable before they return.
	Sync bool `mapstructure:"sync"`

	// DSN and Table configure postgres.
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`

	// Timeout bounds dialing and single requests.
	Timeout time.Duration `mapstructure:"timeout"`
}

const DefaultTimeout = 5 * time.Second

// Factory creates a Client from config.
type Factory func(cfg Config) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Type]Factory)
)

// Register adds a factory for a backend type.
func Register(t Type, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = f
}

// Types lists the registered backend types.
func Types() []Type {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// New creates a Client from config.
func New(cfg Config) (Client, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown kv backend: %s", cfg.Type)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return f(cfg)
}
