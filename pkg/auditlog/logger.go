// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package auditlog keeps one append-only binary log per key. Entries are
// length-framed and, when a cipher engine is configured, sealed with its log
// key. Open write handles are capped to a fraction of RLIMIT_NOFILE; the
// least recently opened idle handle is closed to make room.
package auditlog

import (
	"container/list"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/cipher"
	"github.com/LeeDigitalWorks/gdprkv/pkg/events"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/policy"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/query"
	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"
	"github.com/LeeDigitalWorks/gdprkv/pkg/utils"
)

const (
	// Extension is appended to a key to form its log file name.
	Extension = ".log"

	DefaultDelimiter          = ','
	DefaultDescriptorFraction = 0.8

	evictionAttempts = 3
	evictionBackoff  = time.Millisecond
)

var (
	ErrDescriptorBudget = errors.New("no log file handle could be evicted")
	ErrClosed           = errors.New("audit logger closed")
)

// Config configures a Logger.
type Config struct {
	// Dir holds one <key>.log file per key; created if missing.
	Dir string
	// Delimiter separates entry fields. Defaults to ','.
	Delimiter byte
	// DescriptorFraction of RLIMIT_NOFILE usable for log handles. Defaults to 0.8.
	DescriptorFraction float64
	// MaxOpenFiles overrides the computed handle budget when positive.
	MaxOpenFiles int
	// Cipher seals entries with its log key when set.
	Cipher *cipher.Engine
	// Publisher mirrors entry summaries, never values, when set.
	Publisher events.Publisher
	// Now defaults to time.Now.
	Now func() time.Time
}

type keyState struct {
	mu     sync.Mutex
	lastTS int64
}

type handle struct {
	key  string
	file *os.File
}

// Logger is safe for concurrent use. Appends to one key are serialized by
// that key's mutex; handle bookkeeping has its own mutex.
type Logger struct {
	dir       string
	delim     byte
	cipher    *cipher.Engine
	publisher events.Publisher
	now       func() time.Time

	states *utils.ShardedMap[*keyState]

	fdMu    sync.Mutex
	handles map[string]*list.Element
	order   *list.List // front is the least recently opened
	maxOpen int
	closed  bool
}

// New creates a Logger writing under cfg.Dir.
func New(cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		return nil, errors.New("log directory is required")
	}
	if err := utils.EnsureWritableDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = DefaultDelimiter
	}
	if cfg.DescriptorFraction <= 0 || cfg.DescriptorFraction > 1 {
		cfg.DescriptorFraction = DefaultDescriptorFraction
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	maxOpen := cfg.MaxOpenFiles
	if maxOpen <= 0 {
		limit, err := descriptorLimit()
		if err != nil {
			return nil, fmt.Errorf("query descriptor limit: %w", err)
		}
		maxOpen = handleBudget(limit, cfg.DescriptorFraction)
	}
	if maxOpen < 1 {
		maxOpen = 1
	}

	logger.Info().
		Str("dir", cfg.Dir).
		Int("max_open_files", maxOpen).
		Bool("encrypted", cfg.Cipher != nil).
		Msg("audit log ready")

	return &Logger{
		dir:       cfg.Dir,
		delim:     cfg.Delimiter,
		cipher:    cfg.Cipher,
		publisher: cfg.Publisher,
		now:       cfg.Now,
		states:    utils.NewShardedMap[*keyState](),
		handles:   make(map[string]*list.Element),
		order:     list.New(),
		maxOpen:   maxOpen,
	}, nil
}

// handleBudget is fraction of limit, with limit capped so that an unlimited
// RLIMIT_NOFILE (RLIM_INFINITY) does not overflow int.
func handleBudget(limit uint64, fraction float64) int {
	if limit > math.MaxInt32 {
		limit = math.MaxInt32
	}
	return int(float64(limit) * fraction)
}

// Dir returns the log directory.
func (l *Logger) Dir() string {
	return l.dir
}

// Path returns the log file of key.
func (l *Logger) Path(key string) string {
	return filepath.Join(l.dir, key+Extension)
}

func (l *Logger) state(key string) *keyState {
	return l.states.LoadOrCreate(key, func() *keyState { return &keyState{} })
}

// LogEncodedQuery records that q, issued under p, was answered with the
// given validity. newValue is the record written by the query, or empty.
// The value of an encrypted record only reaches a sealed log; an unsealed
// log keeps its metadata prefix.
func (l *Logger) LogEncodedQuery(ctx context.Context, q *query.Query, p *policy.Default, valid bool, newValue string) error {
	e := Entry{
		User:     policy.ActingKey(q.Overrides, p),
		Op:       OperationFor(q.Cmd),
		Valid:    valid,
		NewValue: l.loggedValue(newValue),
	}
	return l.Append(ctx, q.Key, e)
}

func (l *Logger) loggedValue(record string) string {
	if l.cipher != nil || record == "" {
		return record
	}
	m, _, err := metadata.Decode(record)
	if err != nil || !m.Encrypted {
		return record
	}
	prefix, _ := metadata.ExtractMetadataOnly(record)
	return prefix
}

// Append stamps e with a timestamp no earlier than the previous entry of key
// and appends it to the key's log.
func (l *Logger) Append(ctx context.Context, key string, e Entry) error {
	if err := query.ValidateKey(key); err != nil {
		skippedTotal.WithLabelValues("invalid_key").Inc()
		return err
	}

	if err := l.append(ctx, key, &e); err != nil {
		reason := "io"
		if errors.Is(err, ErrDescriptorBudget) {
			reason = "descriptor_budget"
		}
		skippedTotal.WithLabelValues(reason).Inc()
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Str("operation", e.Op.String()).Msg("audit entry skipped")
		return err
	}
	entriesTotal.WithLabelValues(e.Op.String()).Inc()
	return nil
}

// append writes e and publishes it while holding key's mutex, so events of
// one key reach the publisher in file order.
func (l *Logger) append(ctx context.Context, key string, e *Entry) error {
	st := l.state(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	ts := l.now().UnixNano()
	if ts < st.lastTS {
		ts = st.lastTS
	}
	e.Timestamp = ts

	payload, err := EncodeEntry(*e, l.delim)
	if err != nil {
		return err
	}
	if l.cipher != nil {
		if payload, err = l.cipher.Encrypt(payload, cipher.KeyLog); err != nil {
			return err
		}
	}
	frame := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint64(frame, uint64(len(payload)))
	frame = append(frame, payload...)

	f, err := l.fileFor(key)
	if err != nil {
		return err
	}
	if _, err := f.Write(frame); err != nil {
		return fmt.Errorf("append to %s: %w", l.Path(key), err)
	}
	st.lastTS = ts
	l.publish(ctx, key, e)
	return nil
}

func (l *Logger) publish(ctx context.Context, key string, e *Entry) {
	if l.publisher == nil {
		return
	}
	ev := events.AuditEvent{
		Key:       key,
		User:      e.User,
		Operation: e.Op.String(),
		Valid:     e.Valid,
		Time:      time.Unix(0, e.Timestamp).UTC(),
	}
	if err := l.publisher.Publish(ctx, ev); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("failed to publish audit event")
	}
}

// fileFor returns the open handle of key, opening it and evicting another
// handle if the budget is exhausted. The caller holds key's mutex.
func (l *Logger) fileFor(key string) (*os.File, error) {
	l.fdMu.Lock()
	for attempt := 0; ; attempt++ {
		if l.closed {
			l.fdMu.Unlock()
			return nil, ErrClosed
		}
		if el, ok := l.handles[key]; ok {
			l.fdMu.Unlock()
			return el.Value.(*handle).file, nil
		}
		if l.order.Len() < l.maxOpen || l.evictOneLocked(key) {
			break
		}
		if attempt+1 >= evictionAttempts {
			l.fdMu.Unlock()
			return nil, ErrDescriptorBudget
		}
		// Let holders of the contended keys finish before scanning again.
		l.fdMu.Unlock()
		time.Sleep(evictionBackoff)
		l.fdMu.Lock()
	}
	defer l.fdMu.Unlock()

	f, err := os.OpenFile(l.Path(key), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.Path(key), err)
	}
	l.handles[key] = l.order.PushBack(&handle{key: key, file: f})
	openFiles.Set(float64(l.order.Len()))
	return f, nil
}

// evictOneLocked closes the least recently opened handle whose key mutex is
// free, skipping skip. The caller holds fdMu.
func (l *Logger) evictOneLocked(skip string) bool {
	for el := l.order.Front(); el != nil; el = el.Next() {
		h := el.Value.(*handle)
		if h.key == skip {
			continue
		}
		st, ok := l.states.Load(h.key)
		if !ok || !st.mu.TryLock() {
			continue
		}
		if err := h.file.Close(); err != nil {
			logger.Warn().Err(err).Str("key", h.key).Msg("failed to close evicted log handle")
		}
		l.order.Remove(el)
		delete(l.handles, h.key)
		st.mu.Unlock()

		evictionsTotal.Inc()
		openFiles.Set(float64(l.order.Len()))
		return true
	}
	return false
}

// OpenHandles returns the number of log files currently held open.
func (l *Logger) OpenHandles() int {
	l.fdMu.Lock()
	defer l.fdMu.Unlock()
	return l.order.Len()
}

// Close closes every open handle. Appends after Close fail with ErrClosed.
func (l *Logger) Close() error {
	l.fdMu.Lock()
	defer l.fdMu.Unlock()

	var errs []error
	for el := l.order.Front(); el != nil; el = el.Next() {
		if err := el.Value.(*handle).file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	l.order.Init()
	l.handles = make(map[string]*list.Element)
	l.closed = true
	openFiles.Set(0)
	return errors.Join(errs...)
}

// keyFromFile maps a log file name back to its key.
func keyFromFile(name string) (string, bool) {
	key, ok := strings.CutSuffix(name, Extension)
	return key, ok && key != ""
}
