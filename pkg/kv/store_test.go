// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/LeeDigitalWorks/gdprkv/pkg/cipher"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) *cipher.Engine {
	t.Helper()
	e, err := cipher.New(bytes.Repeat([]byte("d"), 32), bytes.Repeat([]byte("l"), 16))
	require.NoError(t, err)
	return e
}

const (
	plainRecord     = "alice|0|1|0|eu|0||1|secret"
	encryptedRecord = "alice|1|1|0|eu|0||1|secret"
)

func TestStorePlainRecord(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	s := NewStore(mem, testEngine(t))
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, "k", plainRecord))
	raw, _, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, plainRecord, string(raw))

	got, found, err := s.GetRecord(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, plainRecord, got)
}

func TestStoreEncryptedRecord(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	s := NewStore(mem, testEngine(t))
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, "k", encryptedRecord))

	raw, _, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "alice|1|1|0|eu|0||1|"))
	assert.NotContains(t, string(raw), "secret")

	got, found, err := s.GetRecord(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, encryptedRecord, got)

	prefix, found, err := NewStore(mem, nil).GetMetadataOnly(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "alice|1|1|0|eu|0||1|", prefix)
}

func TestStoreEncryptedWithoutKey(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	ctx := context.Background()
	assert.ErrorIs(t, NewStore(mem, nil).PutRecord(ctx, "k", encryptedRecord), ErrNoDataKey)

	require.NoError(t, NewStore(mem, testEngine(t)).PutRecord(ctx, "k", encryptedRecord))
	_, _, err := NewStore(mem, nil).GetRecord(ctx, "k")
	assert.ErrorIs(t, err, ErrNoDataKey)
}

func TestStoreTamperedCiphertext(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	s := NewStore(mem, testEngine(t))
	ctx := context.Background()
	require.NoError(t, s.PutRecord(ctx, "k", encryptedRecord))

	raw, _, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, mem.Put(ctx, "k", raw))

	_, _, err = s.GetRecord(ctx, "k")
	assert.ErrorIs(t, err, cipher.ErrDecrypt)
}

func TestStoreMalformedRecord(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	s := NewStore(mem, nil)
	ctx := context.Background()

	assert.ErrorIs(t, s.PutRecord(ctx, "k", "no-metadata"), metadata.ErrInvalidFormat)

	require.NoError(t, mem.Put(ctx, "k", []byte("a|b|c")))
	_, found, err := s.GetRecord(ctx, "k")
	assert.True(t, found)
	assert.ErrorIs(t, err, metadata.ErrInvalidFormat)
}

func TestStorePutMetadataOnly(t *testing.T) {
	t.Parallel()

	mem := NewMemory()
	s := NewStore(mem, testEngine(t))
	ctx := context.Background()
	require.NoError(t, s.PutRecord(ctx, "k", encryptedRecord))
	before, _, err := mem.Get(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, s.PutMetadataOnly(ctx, "k", "alice|1|3|0|us|0|bob|0|"))

	after, _, err := mem.Get(ctx, "k")
	require.NoError(t, err)
	oldValue := string(before)[len("alice|1|1|0|eu|0||1|"):]
	assert.Equal(t, "alice|1|3|0|us|0|bob|0|"+oldValue, string(after))

	got, _, err := s.GetRecord(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "alice|1|3|0|us|0|bob|0|secret", got)

	err = s.PutMetadataOnly(ctx, "k", "alice|0|3|0|us|0|bob|0|")
	assert.ErrorIs(t, err, ErrEncryptionChange)

	assert.Error(t, s.PutMetadataOnly(ctx, "missing", "alice|0|1|0|eu|0||0|"))
}
