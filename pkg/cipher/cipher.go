// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package cipher seals stored values and audit-log entries with AES-GCM.
// Data and logs use independent keys; a sealed blob is nonce || ciphertext || tag.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeyID selects the key a blob is sealed with.
type KeyID int

const (
	KeyData KeyID = iota
	KeyLog
)

func (k KeyID) String() string {
	switch k {
	case KeyData:
		return "data"
	case KeyLog:
		return "log"
	}
	return "unknown"
}

var (
	ErrInvalidKey = errors.New("invalid cipher key")
	ErrUnknownKey = errors.New("unknown cipher key id")
	ErrEncrypt    = errors.New("encryption failed")
	ErrDecrypt    = errors.New("decryption failed")
)

// Engine holds one AEAD per key. It is immutable after New and safe for
// concurrent use.
type Engine struct {
	aeads map[KeyID]stdcipher.AEAD
	rand  io.Reader
}

// New builds an Engine from raw AES keys of 16, 24 or 32 bytes.
func New(dataKey, logKey []byte) (*Engine, error) {
	e := &Engine{aeads: make(map[KeyID]stdcipher.AEAD, 2), rand: rand.Reader}
	for id, key := range map[KeyID][]byte{KeyData: dataKey, KeyLog: logKey} {
		aead, err := newAEAD(key)
		if err != nil {
			return nil, fmt.Errorf("%s key: %w", id, err)
		}
		e.aeads[id] = aead
	}
	return e, nil
}

func newAEAD(key []byte) (stdcipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	gcm, err := stdcipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (e *Engine) aead(id KeyID) (stdcipher.AEAD, error) {
	a, ok := e.aeads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKey, id)
	}
	return a, nil
}

// Encrypt seals plaintext under the key id with a fresh random nonce.
func (e *Engine) Encrypt(plaintext []byte, id KeyID) ([]byte, error) {
	gcm, err := e.aead(id)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize(), gcm.NonceSize()+len(plaintext)+gcm.Overhead())
	if _, err := io.ReadFull(e.rand, nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce: %w", ErrEncrypt, err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt with the same key id.
func (e *Engine) Decrypt(sealed []byte, id KeyID) ([]byte, error) {
	gcm, err := e.aead(id)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("%w: blob too short", ErrDecrypt)
	}
	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return plaintext, nil
}

// ParseKey accepts a raw key of 16, 24 or 32 characters, or the same
// length in bytes written as hex with a "hex:" prefix.
func ParseKey(s string) ([]byte, error) {
	if h, ok := strings.CutPrefix(s, "hex:"); ok {
		key, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		s = string(key)
	}
	switch len(s) {
	case 16, 24, 32:
		return []byte(s), nil
	}
	return nil, fmt.Errorf("%w: length %d, want 16, 24 or 32", ErrInvalidKey, len(s))
}

// Built-in keys for local runs and tests. Production deployments refuse them.
const (
	DemoDataKey = "gdprkv-demo-data-key-0123456789a"
	DemoLogKey  = "gdprkv-demo-log-key-0123456789ab"
)

// NewDemo returns an Engine using the built-in demo keys.
func NewDemo() (*Engine, error) {
	return New([]byte(DemoDataKey), []byte(DemoLogKey))
}
