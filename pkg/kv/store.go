// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/gdprkv/pkg/cipher"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"
)

var (
	ErrNoDataKey        = errors.New("record is encrypted but no data key is configured")
	ErrEncryptionChange = errors.New("encryption flag of a stored record cannot change")
)

// Store stores metadata records on a Client. When a record's encryption
// flag is set its value is sealed with the data key; the metadata prefix is
// always stored in clear so it can be read without the key.
type Store struct {
	client Client
	cipher *cipher.Engine
}

// NewStore wraps client. engine may be nil when no record is encrypted.
func NewStore(client Client, engine *cipher.Engine) *Store {
	return &Store{client: client, cipher: engine}
}

// Client returns the wrapped backend.
func (s *Store) Client() Client {
	return s.client
}

func (s *Store) seal(record string) ([]byte, error) {
	prefix, value, err := metadata.Split(record)
	if err != nil {
		return nil, err
	}
	md, err := metadata.DecodePrefix(prefix)
	if err != nil {
		return nil, err
	}
	if !md.Encrypted {
		return []byte(record), nil
	}
	if s.cipher == nil {
		return nil, ErrNoDataKey
	}
	sealed, err := s.cipher.Encrypt([]byte(value), cipher.KeyData)
	if err != nil {
		return nil, err
	}
	return append([]byte(prefix), sealed...), nil
}

func (s *Store) open(stored []byte) (string, error) {
	prefix, value, err := metadata.Split(string(stored))
	if err != nil {
		return "", err
	}
	md, err := metadata.DecodePrefix(prefix)
	if err != nil {
		return "", err
	}
	if !md.Encrypted {
		return string(stored), nil
	}
	if s.cipher == nil {
		return "", ErrNoDataKey
	}
	plain, err := s.cipher.Decrypt([]byte(value), cipher.KeyData)
	if err != nil {
		return "", err
	}
	return prefix + string(plain), nil
}

// GetRecord returns the plaintext record of key.
func (s *Store) GetRecord(ctx context.Context, key string) (string, bool, error) {
	stored, found, err := s.client.Get(ctx, key)
	if err != nil || !found {
		return "", found, err
	}
	record, err := s.open(stored)
	if err != nil {
		return "", true, fmt.Errorf("open record %s: %w", key, err)
	}
	return record, true, nil
}

// PutRecord stores record under key, sealing its value if required.
func (s *Store) PutRecord(ctx context.Context, key, record string) error {
	stored, err := s.seal(record)
	if err != nil {
		return fmt.Errorf("seal record %s: %w", key, err)
	}
	return s.client.Put(ctx, key, stored)
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Delete(ctx, key)
}

// GetMetadataOnly returns the metadata prefix of key without opening its
// value.
func (s *Store) GetMetadataOnly(ctx context.Context, key string) (string, bool, error) {
	stored, found, err := s.client.Get(ctx, key)
	if err != nil || !found {
		return "", found, err
	}
	prefix, _, err := metadata.Split(string(stored))
	if err != nil {
		return "", true, fmt.Errorf("metadata of %s: %w", key, err)
	}
	return prefix, true, nil
}

// PutMetadataOnly replaces the metadata prefix of an existing key. The
// stored value bytes are kept, so the encryption flag must not change.
func (s *Store) PutMetadataOnly(ctx context.Context, key, prefix string) error {
	next, err := metadata.DecodePrefix(prefix)
	if err != nil {
		return err
	}
	stored, found, err := s.client.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("put metadata of %s: key does not exist", key)
	}
	oldPrefix, value, err := metadata.Split(string(stored))
	if err != nil {
		return fmt.Errorf("metadata of %s: %w", key, err)
	}
	prev, err := metadata.DecodePrefix(oldPrefix)
	if err != nil {
		return fmt.Errorf("metadata of %s: %w", key, err)
	}
	if prev.Encrypted != next.Encrypted {
		return fmt.Errorf("put metadata of %s: %w", key, ErrEncryptionChange)
	}
	return s.client.Put(ctx, key, []byte(prefix+value))
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.client.Close()
}
