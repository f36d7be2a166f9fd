// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cipher

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New([]byte("0123456789abcdef"), []byte("fedcba9876543210"))
	require.NoError(t, err)
	return e
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	for _, id := range []KeyID{KeyData, KeyLog} {
		for _, pt := range [][]byte{nil, []byte("v"), bytes.Repeat([]byte("x"), 4096)} {
			sealed, err := e.Encrypt(pt, id)
			require.NoError(t, err)
			assert.Len(t, sealed, 12+len(pt)+16)

			opened, err := e.Decrypt(sealed, id)
			require.NoError(t, err)
			assert.Equal(t, len(pt), len(opened))
			assert.True(t, bytes.Equal(pt, opened))
		}
	}
}

func TestNonceIsFresh(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	a, err := e.Encrypt([]byte("same"), KeyData)
	require.NoError(t, err)
	b, err := e.Encrypt([]byte("same"), KeyData)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	sealed, err := e.Encrypt([]byte("secret"), KeyData)
	require.NoError(t, err)

	_, err = e.Decrypt(sealed, KeyLog)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestTamperDetected(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	sealed, err := e.Encrypt([]byte("secret"), KeyLog)
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = e.Decrypt(sealed, KeyLog)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = e.Decrypt([]byte("short"), KeyLog)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestUnknownKey(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	_, err := e.Encrypt([]byte("x"), KeyID(9))
	assert.ErrorIs(t, err, ErrUnknownKey)
	_, err = e.Decrypt(make([]byte, 64), KeyID(9))
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestNewRejectsBadKeys(t *testing.T) {
	t.Parallel()

	_, err := New([]byte("short"), []byte("fedcba9876543210"))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = New([]byte("0123456789abcdef"), nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestParseKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		wantLen int
		wantErr bool
	}{
		{in: "0123456789abcdef", wantLen: 16},
		{in: "0123456789abcdef01234567", wantLen: 24},
		{in: "hex:000102030405060708090a0b0c0d0e0f", wantLen: 16},
		{in: "hex:zz", wantErr: true},
		{in: "tooshort", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			key, err := ParseKey(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Len(t, key, tt.wantLen)
		})
	}
}

func TestDemoKeys(t *testing.T) {
	t.Parallel()

	for _, k := range []string{DemoDataKey, DemoLogKey} {
		_, err := ParseKey(k)
		require.NoError(t, err)
	}
	e, err := NewDemo()
	require.NoError(t, err)
	sealed, err := e.Encrypt([]byte("v"), KeyLog)
	require.NoError(t, err)
	_, err = e.Decrypt(sealed, KeyData)
	assert.ErrorIs(t, err, ErrDecrypt)
}
