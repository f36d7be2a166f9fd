// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"hash/fnv"
	"sync"
)

const numShards = 64

// ShardedMap is a concurrent string-keyed map split across FNV-1a shards.
type ShardedMap[V any] struct {
	shards [numShards]shard[V]
}

type shard[V any] struct {
	sync.RWMutex
	m map[string]V
}

func NewShardedMap[V any]() *ShardedMap[V] {
	sm := &ShardedMap[V]{}
	for i := range sm.shards {
		sm.shards[i].m = make(map[string]V)
	}
	return sm
}

func (sm *ShardedMap[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &sm.shards[h.Sum32()%numShards]
}

func (sm *ShardedMap[V]) Load(key string) (V, bool) {
	s := sm.shardFor(key)
	s.RLock()
	defer s.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// LoadOrCreate returns the value for key, calling create to populate it when absent.
func (sm *ShardedMap[V]) LoadOrCreate(key string, create func() V) V {
	s := sm.shardFor(key)

	s.RLock()
	v, ok := s.m[key]
	s.RUnlock()
	if ok {
		return v
	}

	s.Lock()
	defer s.Unlock()
	if v, ok := s.m[key]; ok {
		return v
	}
	v = create()
	s.m[key] = v
	return v
}

func (sm *ShardedMap[V]) Len() int {
	n := 0
	for i := range sm.shards {
		sm.shards[i].RLock()
		n += len(sm.shards[i].m)
		sm.shards[i].RUnlock()
	}
	return n
}

// KeyedMutex hands out one mutex per key. Mutexes are never freed; the key
// space is bounded by the number of keys that have audit logs.
type KeyedMutex struct {
	m *ShardedMap[*sync.Mutex]
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{m: NewShardedMap[*sync.Mutex]()}
}

func (k *KeyedMutex) Get(key string) *sync.Mutex {
	return k.m.LoadOrCreate(key, func() *sync.Mutex { return &sync.Mutex{} })
}

func (k *KeyedMutex) Lock(key string) func() {
	mu := k.Get(key)
	mu.Lock()
	return mu.Unlock
}
