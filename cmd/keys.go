// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/gdprkv/pkg/cipher"
	"github.com/LeeDigitalWorks/gdprkv/pkg/cipher/kms"
	"github.com/LeeDigitalWorks/gdprkv/pkg/env"
	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// wrappedPrefix marks a key value that must be unwrapped through the KMS.
const wrappedPrefix = "kms:"

// KeyOpts locates the data and log keys.
type KeyOpts struct {
	DataKey string
	LogKey  string
	KMS     kms.Config
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Cipher key management",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a data or log key wrapped by the KMS",
	Long: `Generate a fresh AES-256 key through the configured KMS and print its
wrapped form. Pass the printed value to serve as --data_encryption_key or
--log_encryption_key; it is unwrapped through the same provider at startup.

Example:
  gdprkv keys generate --kms_provider vault --kms_key_id gdprkv --vault_addr https://vault:8200`,
	Run: runKeysGenerate,
}

func init() {
	rootCmd.AddCommand(keysCmd)
	keysCmd.AddCommand(keysGenerateCmd)

	f := keysGenerateCmd.Flags()
	addKMSFlags(f)
	f.Int("count", 1, "Number of keys to generate")
	viper.BindPFlags(f)
}

func addKeyFlags(f *pflag.FlagSet) {
	f.String("data_encryption_key", "", "Data key: 16/24/32 bytes, hex:<hex>, or kms:<wrapped> (or set DATA_ENCRYPTION_KEY)")
	f.String("log_encryption_key", "", "Log key: 16/24/32 bytes, hex:<hex>, or kms:<wrapped> (or set LOG_ENCRYPTION_KEY)")
	addKMSFlags(f)
}

func addKMSFlags(f *pflag.FlagSet) {
	f.String("kms_provider", "none", "KMS for wrapped keys (none, aws, vault)")
	f.String("kms_key_id", "", "KMS master key id (AWS key id/ARN or Vault transit key name)")
	f.String("kms_region", "", "AWS region")
	f.String("kms_endpoint", "", "AWS KMS endpoint override")
	f.String("kms_role_arn", "", "AWS role to assume for KMS calls")
	f.String("vault_addr", "", "Vault address")
	f.String("vault_token", "", "Vault token (or set VAULT_TOKEN)")
	f.String("vault_mount", "transit", "Vault transit mount path")
	f.String("vault_namespace", "", "Vault namespace")
}

func loadKMSConfig(f *FlagLoader) kms.Config {
	cfg := kms.Config{
		Provider: f.String("kms_provider"),
		KeyID:    f.String("kms_key_id"),
	}
	switch cfg.Provider {
	case "aws":
		cfg.AWS = &kms.AWSConfig{
			Region:   f.String("kms_region"),
			Endpoint: f.String("kms_endpoint"),
			RoleARN:  f.String("kms_role_arn"),
		}
	case "vault":
		cfg.Vault = &kms.VaultConfig{
			Address:   f.String("vault_addr"),
			Token:     f.String("vault_token"),
			MountPath: f.String("vault_mount"),
			Namespace: f.String("vault_namespace"),
		}
	}
	return cfg
}

func loadKeyOpts(f *FlagLoader) KeyOpts {
	return KeyOpts{
		DataKey: f.String("data_encryption_key"),
		LogKey:  f.String("log_encryption_key"),
		KMS:     loadKMSConfig(f),
	}
}

// loadCipher builds the cipher engine from opts. Missing keys fall back to
// the demo keys outside production.
func loadCipher(ctx context.Context, opts KeyOpts) (*cipher.Engine, error) {
	if opts.DataKey == "" || opts.LogKey == "" {
		if !env.AllowsDemoKeys() {
			return nil, errors.New("data_encryption_key and log_encryption_key are required in production")
		}
		logger.Warn().Msg("using built-in demo cipher keys")
		if opts.DataKey == "" {
			opts.DataKey = cipher.DemoDataKey
		}
		if opts.LogKey == "" {
			opts.LogKey = cipher.DemoLogKey
		}
	}

	var provider kms.Provider
	if strings.HasPrefix(opts.DataKey, wrappedPrefix) || strings.HasPrefix(opts.LogKey, wrappedPrefix) {
		p, err := kms.NewProvider(ctx, opts.KMS)
		if err != nil {
			return nil, fmt.Errorf("kms: %w", err)
		}
		defer p.Close()
		provider = p
	}

	dataKey, err := resolveKey(ctx, opts.DataKey, provider, opts.KMS.KeyID)
	if err != nil {
		return nil, fmt.Errorf("data key: %w", err)
	}
	logKey, err := resolveKey(ctx, opts.LogKey, provider, opts.KMS.KeyID)
	if err != nil {
		return nil, fmt.Errorf("log key: %w", err)
	}
	return cipher.New(dataKey, logKey)
}

func resolveKey(ctx context.Context, value string, provider kms.Provider, keyID string) ([]byte, error) {
	wrapped, ok := strings.CutPrefix(value, wrappedPrefix)
	if !ok {
		return cipher.ParseKey(value)
	}
	if provider == nil {
		return nil, kms.ErrNotConfigured
	}
	return kms.UnwrapKey(ctx, provider, keyID, wrapped)
}

func runKeysGenerate(cmd *cobra.Command, args []string) {
	f := NewFlagLoader(cmd)
	cfg := loadKMSConfig(f)
	count := f.Int("count")

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	provider, err := kms.NewProvider(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize KMS provider")
	}
	defer provider.Close()

	for range count {
		_, wrapped, err := provider.GenerateDataKey(ctx, cfg.KeyID, kms.KeySpecAES256)
		if err != nil {
			logger.Fatal().Err(err).Str("provider", provider.Name()).Msg("failed to generate key")
		}
		fmt.Println(wrappedPrefix + kms.EncodeWrapped(wrapped))
	}
}
