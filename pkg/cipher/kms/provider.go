// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package kms unwraps and generates cipher engine keys through an external
// key management service.
//
// Supported providers:
//   - AWS KMS
//   - HashiCorp Vault Transit
package kms

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDecryptFailed = errors.New("decryption failed")
	ErrNotConfigured = errors.New("kms provider not configured")
)

// Key specs understood by GenerateDataKey.
const (
	KeySpecAES128 = "AES_128"
	KeySpecAES256 = "AES_256"
)

// Provider defines the operations gdprkv needs from a KMS.
type Provider interface {
	// Name returns the provider name (aws, vault)
	Name() string

	// Decrypt unwraps a ciphertext produced by the provider
	Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error)

	// GenerateDataKey returns a fresh key and its wrapped form
	GenerateDataKey(ctx context.Context, keyID string, keySpec string) (plaintext, wrapped []byte, err error)

	// Close releases any resources held by the provider
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	// Provider type: aws, vault
	Provider string `mapstructure:"provider"`

	// Master key used to wrap data keys
	KeyID string `mapstructure:"key_id"`

	AWS   *AWSConfig   `mapstructure:"aws"`
	Vault *VaultConfig `mapstructure:"vault"`
}

// AWSConfig holds AWS KMS configuration
type AWSConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"` // LocalStack or tests
	RoleARN         string `mapstructure:"role_arn"`
}

// VaultConfig holds HashiCorp Vault Transit configuration
type VaultConfig struct {
	Address     string `mapstructure:"address"`
	Token       string `mapstructure:"token"` // falls back to VAULT_TOKEN
	MountPath   string `mapstructure:"mount_path"`
	Namespace   string `mapstructure:"namespace"`
	TLSCACert   string `mapstructure:"tls_ca_cert"`
	TLSInsecure bool   `mapstructure:"tls_insecure"`
}

// NewProvider creates a provider from cfg.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "aws":
		if cfg.AWS == nil {
			return nil, errors.New("AWS KMS configuration required")
		}
		p, err := NewAWSProvider(ctx, *cfg.AWS)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "vault":
		if cfg.Vault == nil {
			return nil, errors.New("vault configuration required")
		}
		p, err := NewVaultProvider(ctx, *cfg.Vault)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "", "none":
		return nil, ErrNotConfigured
	default:
		return nil, errors.New("unsupported KMS provider: " + cfg.Provider)
	}
}

// EncodeWrapped renders a wrapped key for configuration files.
func EncodeWrapped(wrapped []byte) string {
	return base64.StdEncoding.EncodeToString(wrapped)
}

// UnwrapKey decodes a wrapped key produced by EncodeWrapped and asks p to
// decrypt it.
func UnwrapKey(ctx context.Context, p Provider, keyID, encoded string) ([]byte, error) {
	wrapped, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode wrapped key: %w", err)
	}
	key, err := p.Decrypt(ctx, keyID, wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecryptFailed, p.Name(), err)
	}
	return key, nil
}
