// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package kms

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Provider construction
// =============================================================================

func TestNewProvider(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		cfg         Config
		expectError string
		expectIs    error
	}{
		{
			name:        "aws provider without config",
			cfg:         Config{Provider: "aws"},
			expectError: "AWS KMS configuration required",
		},
		{
			name:        "vault provider without config",
			cfg:         Config{Provider: "vault"},
			expectError: "vault configuration required",
		},
		{
			name:        "unsupported provider",
			cfg:         Config{Provider: "gcp"},
			expectError: "unsupported KMS provider: gcp",
		},
		{
			name:     "no provider",
			cfg:      Config{},
			expectIs: ErrNotConfigured,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := NewProvider(context.Background(), tt.cfg)
			assert.Nil(t, p)
			require.Error(t, err)
			if tt.expectIs != nil {
				assert.ErrorIs(t, err, tt.expectIs)
				return
			}
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

// =============================================================================
// Unwrapping
// =============================================================================

type fakeProvider struct {
	keys map[string][]byte
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Decrypt(_ context.Context, _ string, ciphertext []byte) ([]byte, error) {
	k, ok := f.keys[string(ciphertext)]
	if !ok {
		return nil, errors.New("unknown ciphertext")
	}
	return k, nil
}

func (f *fakeProvider) GenerateDataKey(context.Context, string, string) ([]byte, []byte, error) {
	return []byte("0123456789abcdef"), []byte("wrapped-1"), nil
}

func (f *fakeProvider) Close() error { return nil }

func TestUnwrapKey(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{keys: map[string][]byte{"wrapped-1": []byte("0123456789abcdef")}}
	_, wrapped, err := p.GenerateDataKey(context.Background(), "master", KeySpecAES128)
	require.NoError(t, err)

	key, err := UnwrapKey(context.Background(), p, "master", EncodeWrapped(wrapped))
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), key)

	_, err = UnwrapKey(context.Background(), p, "master", "!!not base64")
	assert.Error(t, err)

	_, err = UnwrapKey(context.Background(), p, "master", EncodeWrapped([]byte("other")))
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

// =============================================================================
// Vault Transit
// =============================================================================

func newFakeVault(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/sys/health":
			_, _ = io.WriteString(w, `{"initialized":true,"sealed":false,"standby":false,"version":"1.15.0"}`)
		case r.URL.Path == "/v1/transit/datakey/plaintext/gdpr":
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
				"plaintext":  base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
				"ciphertext": "vault:v1:wrapped",
			}})
		case r.URL.Path == "/v1/transit/decrypt/gdpr":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["ciphertext"] != "vault:v1:wrapped" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"errors":["invalid ciphertext"]}`)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{
				"plaintext": base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errors":[]}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVaultProviderDataKeyRoundTrip(t *testing.T) {
	srv := newFakeVault(t)
	ctx := context.Background()

	p, err := NewProvider(ctx, Config{Provider: "vault", Vault: &VaultConfig{Address: srv.URL, Token: "root"}})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "vault", p.Name())

	plaintext, wrapped, err := p.GenerateDataKey(ctx, "gdpr", KeySpecAES256)
	require.NoError(t, err)
	assert.Len(t, plaintext, 32)
	assert.True(t, strings.HasPrefix(string(wrapped), "vault:v1:"))

	key, err := UnwrapKey(ctx, p, "gdpr", EncodeWrapped(wrapped))
	require.NoError(t, err)
	assert.Equal(t, plaintext, key)

	_, err = UnwrapKey(ctx, p, "gdpr", EncodeWrapped([]byte("vault:v1:other")))
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

// =============================================================================
// AWS KMS
// =============================================================================

func TestAWSProviderDecrypt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-amz-json-1.1")
		if r.Header.Get("X-Amz-Target") != "TrentService.Decrypt" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"__type":"ValidationException","message":"unexpected target"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"KeyId":     "arn:aws:kms:us-east-1:000000000000:key/test",
			"Plaintext": base64.StdEncoding.EncodeToString([]byte("0123456789abcdef")),
		})
	}))
	defer srv.Close()

	ctx := context.Background()
	p, err := NewProvider(ctx, Config{Provider: "aws", AWS: &AWSConfig{
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Endpoint:        srv.URL,
	}})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "aws", p.Name())

	key, err := UnwrapKey(ctx, p, "alias/gdprkv", EncodeWrapped([]byte("blob")))
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), key)
}
