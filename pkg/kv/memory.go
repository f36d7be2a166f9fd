// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"strings"
	"sync"

	"github.com/google/btree"
)

func init() {
	Register(TypeMemory, func(cfg Config) (Client, error) {
		return NewMemory(), nil
	})
}

type memItem struct {
	key   string
	value []byte
}

func memLess(a, b memItem) bool {
	return a.key < b.key
}

// Memory is an ordered in-process backend, used for tests and demos.
type Memory struct {
	mu     sync.RWMutex
	tree   *btree.BTreeG[memItem]
	closed bool
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{tree: btree.NewG(32, memLess)}
}

func (m *Memory) Type() Type {
	return TypeMemory
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	it, ok := m.tree.Get(memItem{key: key})
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.tree.ReplaceOrInsert(memItem{key: key, value: append([]byte(nil), value...)})
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.tree.Delete(memItem{key: key})
	return nil
}

// Keys returns the stored keys with the given prefix, in order.
func (m *Memory) Keys(prefix string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	m.tree.AscendGreaterOrEqual(memItem{key: prefix}, func(it memItem) bool {
		if !strings.HasPrefix(it.key, prefix) {
			return false
		}
		keys = append(keys, it.key)
		return true
	})
	return keys
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.tree.Clear(false)
	return nil
}
