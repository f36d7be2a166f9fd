// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package auditlog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/cipher"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/query"
)

// Keys lists the keys that have a log, sorted. Only regular files with the
// log extension are considered.
func (l *Logger) Keys() ([]string, error) {
	dirents, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", l.dir, err)
	}
	var keys []string
	for _, d := range dirents {
		if !d.Type().IsRegular() {
			continue
		}
		if key, ok := keyFromFile(d.Name()); ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ReadKey returns the entries of key with a timestamp at or before
// threshold (nanoseconds). It holds the key's mutex, so it never observes a
// partially written entry. A key without a log yields no entries.
func (l *Logger) ReadKey(key string, threshold int64) ([]Entry, error) {
	if err := query.ValidateKey(key); err != nil {
		return nil, err
	}
	st, ok := l.states.Load(key)
	if !ok {
		// Never written by this process; no state unless there is a file.
		if _, err := os.Stat(l.Path(key)); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		st = l.state(key)
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	entries, err := l.readFile(l.Path(key), threshold)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return entries, err
}

// Decode reads the log at logPath and renders every entry at or before
// threshold as a human readable line.
func (l *Logger) Decode(logPath string, threshold int64) ([]string, error) {
	key, ok := keyFromFile(filepath.Base(logPath))
	if !ok || filepath.Clean(filepath.Dir(logPath)) != filepath.Clean(l.dir) {
		return nil, fmt.Errorf("%s is not a log of %s", logPath, l.dir)
	}
	entries, err := l.ReadKey(key, threshold)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, Format(e))
	}
	return lines, nil
}

func (l *Logger) readFile(path string, threshold int64) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var (
		entries []Entry
		header  [frameHeaderSize]byte
	)
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return entries, nil
			}
			return entries, fmt.Errorf("%w: truncated frame header in %s", ErrCorruptEntry, path)
		}
		size := binary.LittleEndian.Uint64(header[:])
		if size > maxFrameSize {
			return entries, fmt.Errorf("%w: frame of %d bytes in %s", ErrCorruptEntry, size, path)
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return entries, fmt.Errorf("%w: truncated frame in %s", ErrCorruptEntry, path)
		}
		if l.cipher != nil {
			if payload, err = l.cipher.Decrypt(payload, cipher.KeyLog); err != nil {
				return entries, fmt.Errorf("%s: %w", path, err)
			}
		}
		e, err := DecodeEntry(payload, l.delim)
		if err != nil {
			return entries, fmt.Errorf("%s: %w", path, err)
		}
		if e.Timestamp > threshold {
			continue
		}
		entries = append(entries, e)
	}
}

// Format renders e for regulators. Values written by put and putm are
// broken down into their metadata fields.
func Format(e Entry) string {
	result := "invalid"
	if e.Valid {
		result = "valid"
	}
	line := fmt.Sprintf("Timestamp: %s, User: %s, Operation: %s, Result: %s",
		time.Unix(0, e.Timestamp).UTC().Format(time.RFC3339Nano), e.User, e.Op, result)
	if e.NewValue == "" {
		return line
	}
	if rendered, err := metadata.FormatRecord(e.NewValue); err == nil {
		return line + ", New value: {" + rendered + "}"
	}
	return line + ", New value: " + e.NewValue
}
