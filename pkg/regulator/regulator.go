// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package regulator is the privileged read path over audit logs. Only the
// regulator identity may use it, independent of ownership and sharing.
package regulator

import (
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/auditlog"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/policy"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/query"
)

// Key is the identity allowed to read audit logs.
const Key = "reg"

// IsRegulator reports whether q, issued under p, acts as the regulator.
func IsRegulator(q *query.Query, p *policy.Default) bool {
	return policy.ActingKey(q.Overrides, p) == Key
}

// LogReader is the part of the audit logger a regulator reads through.
type LogReader interface {
	Keys() ([]string, error)
	ReadKey(key string, threshold int64) ([]auditlog.Entry, error)
}

// KeyLog is the rendered log of one key.
type KeyLog struct {
	Key   string
	Lines []string
}

// Regulator reads logs as of the moment it was created. Entries appended
// afterwards are never returned, so one session sees a consistent snapshot.
type Regulator struct {
	logs      LogReader
	threshold int64
}

// New returns a Regulator bounded at now.
func New(logs LogReader, now time.Time) *Regulator {
	return &Regulator{logs: logs, threshold: now.UnixNano()}
}

// Threshold is the newest timestamp this regulator returns.
func (r *Regulator) Threshold() time.Time {
	return time.Unix(0, r.threshold).UTC()
}

// ListLogs returns the log file names, one per key, sorted.
func (r *Regulator) ListLogs() ([]string, error) {
	keys, err := r.logs.Keys()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k + auditlog.Extension
	}
	return names, nil
}

// ReadKeyLog renders the entries of key.
func (r *Regulator) ReadKeyLog(key string) ([]string, error) {
	entries, err := r.logs.ReadKey(key, r.threshold)
	if err != nil {
		return nil, fmt.Errorf("read log of %s: %w", key, err)
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, auditlog.Format(e))
	}
	return lines, nil
}

// ReadAll renders every log, ordered by key.
func (r *Regulator) ReadAll() ([]KeyLog, error) {
	keys, err := r.logs.Keys()
	if err != nil {
		return nil, err
	}
	out := make([]KeyLog, 0, len(keys))
	for _, k := range keys {
		lines, err := r.ReadKeyLog(k)
		if err != nil {
			return nil, err
		}
		out = append(out, KeyLog{Key: k, Lines: lines})
	}
	return out, nil
}
