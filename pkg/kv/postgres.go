// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver (also works with CockroachDB)
)

func init() {
	Register(TypePostgres, func(cfg Config) (Client, error) {
		c, err := NewPostgres(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

const (
	DefaultPostgresTable = "gdprkv"

	pgMaxOpenConns    = 25
	pgMaxIdleConns    = 5
	pgConnMaxLifetime = 5 * time.Minute
	pgConnMaxIdleTime = time.Minute
)

// Postgres keeps every key in one two-column table.
type Postgres struct {
	db      *sql.DB
	table   string
	timeout time.Duration

	getSQL    string
	putSQL    string
	deleteSQL string
}

// NewPostgres connects to cfg.DSN and creates the table if needed.
func NewPostgres(cfg Config) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultPostgresTable
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(pgMaxOpenConns)
	db.SetMaxIdleConns(pgMaxIdleConns)
	db.SetConnMaxLifetime(pgConnMaxLifetime)
	db.SetConnMaxIdleTime(pgConnMaxIdleTime)

	p := newPostgres(db, cfg.Table, cfg.Timeout)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("table", cfg.Table).Msg("postgres kv backend connected")
	return p, nil
}

func newPostgres(db *sql.DB, table string, timeout time.Duration) *Postgres {
	ident := pgx.Identifier{table}.Sanitize()
	return &Postgres{
		db:        db,
		table:     ident,
		timeout:   timeout,
		getSQL:    "SELECT value FROM " + ident + " WHERE key = $1",
		putSQL:    "INSERT INTO " + ident + " (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		deleteSQL: "DELETE FROM " + ident + " WHERE key = $1",
	}
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+p.table+" (key TEXT PRIMARY KEY, value BYTEA NOT NULL)")
	if err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	return nil
}

func (p *Postgres) Type() Type {
	return TypePostgres
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var v []byte
	err := p.db.QueryRowContext(ctx, p.getSQL, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres get %s: %w", key, err)
	}
	return v, true, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.db.ExecContext(ctx, p.putSQL, key, value); err != nil {
		return fmt.Errorf("postgres put %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.db.ExecContext(ctx, p.deleteSQL, key); err != nil {
		return fmt.Errorf("postgres delete %s: %w", key, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
