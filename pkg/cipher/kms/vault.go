// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package kms

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"

	vault "github.com/hashicorp/vault/api"
)

// VaultProvider implements Provider with HashiCorp Vault Transit
type VaultProvider struct {
	client    *vault.Client
	mountPath string
}

// NewVaultProvider creates a Vault Transit provider and checks the server is reachable.
func NewVaultProvider(ctx context.Context, cfg VaultConfig) (*VaultProvider, error) {
	if cfg.MountPath == "" {
		cfg.MountPath = "transit"
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	if cfg.TLSInsecure {
		vaultCfg.HttpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	} else if cfg.TLSCACert != "" {
		if err := vaultCfg.ConfigureTLS(&vault.TLSConfig{CACert: cfg.TLSCACert}); err != nil {
			return nil, fmt.Errorf("failed to configure Vault TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	token := cfg.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token != "" {
		client.SetToken(token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	if _, err := client.Sys().HealthWithContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to Vault: %w", err)
	}

	return &VaultProvider{client: client, mountPath: cfg.MountPath}, nil
}

func (p *VaultProvider) Name() string {
	return "vault"
}

func (p *VaultProvider) transitPath(op, keyName string) string {
	return fmt.Sprintf("%s/%s/%s", p.mountPath, op, keyName)
}

// Decrypt unwraps a "vault:v1:..." ciphertext
func (p *VaultProvider) Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	secret, err := p.client.Logical().WriteWithContext(ctx, p.transitPath("decrypt", keyID), map[string]interface{}{
		"ciphertext": string(ciphertext),
	})
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt failed: %w", err)
	}
	if secret == nil {
		return nil, errors.New("Vault Transit decrypt: empty response")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, errors.New("Vault Transit decrypt: invalid response")
	}
	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt: failed to decode plaintext: %w", err)
	}
	return plaintext, nil
}

// GenerateDataKey asks Transit for a new key and its wrapped form
func (p *VaultProvider) GenerateDataKey(ctx context.Context, keyID string, keySpec string) ([]byte, []byte, error) {
	bits := 256
	if keySpec == KeySpecAES128 {
		bits = 128
	}

	secret, err := p.client.Logical().WriteWithContext(ctx, p.transitPath("datakey/plaintext", keyID), map[string]interface{}{
		"bits": bits,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("Vault Transit generate data key failed: %w", err)
	}
	if secret == nil {
		return nil, nil, errors.New("Vault Transit datakey: empty response")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, nil, errors.New("Vault Transit datakey: invalid plaintext response")
	}
	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, nil, errors.New("Vault Transit datakey: invalid ciphertext response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, nil, fmt.Errorf("Vault Transit datakey: failed to decode plaintext: %w", err)
	}
	return plaintext, []byte(ciphertext), nil
}

func (p *VaultProvider) Close() error {
	return nil
}
