// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"
	"github.com/LeeDigitalWorks/gdprkv/pkg/utils"

	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

func init() {
	Register(TypeLevelDB, func(cfg Config) (Client, error) {
		c, err := NewLevelDB(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// LevelDB is an embedded LSM backend.
type LevelDB struct {
	db        *leveldb.DB
	path      string
	writeOpts *opt.WriteOptions
}

// NewLevelDB opens, or creates, the database at cfg.Path. A corrupted
// database is recovered rather than rejected.
func NewLevelDB(cfg Config) (*LevelDB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("leveldb path is required")
	}
	path := utils.ResolvePath(cfg.Path)

	db, err := leveldb.OpenFile(path, nil)
	if lerrors.IsCorrupted(err) {
		logger.Warn().Err(err).Str("path", path).Msg("leveldb corrupted, recovering")
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}

	logger.Info().Str("path", path).Bool("sync", cfg.Sync).Msg("leveldb kv backend opened")
	return &LevelDB{db: db, path: path, writeOpts: &opt.WriteOptions{Sync: cfg.Sync}}, nil
}

func (l *LevelDB) Type() Type {
	return TypeLevelDB
}

func (l *LevelDB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if errors.Is(err, leveldb.ErrClosed) {
		return nil, false, ErrClosed
	}
	if err != nil {
		return nil, false, fmt.Errorf("leveldb get %s: %w", key, err)
	}
	return v, true, nil
}

func (l *LevelDB) Put(ctx context.Context, key string, value []byte) error {
	if err := l.db.Put([]byte(key), value, l.writeOpts); err != nil {
		if errors.Is(err, leveldb.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("leveldb put %s: %w", key, err)
	}
	return nil
}

func (l *LevelDB) Delete(ctx context.Context, key string) error {
	if err := l.db.Delete([]byte(key), l.writeOpts); err != nil {
		if errors.Is(err, leveldb.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("leveldb delete %s: %w", key, err)
	}
	return nil
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
