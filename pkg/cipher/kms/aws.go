// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package kms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// AWSProvider implements Provider with AWS KMS
type AWSProvider struct {
	client *kms.Client
}

// NewAWSProvider creates a new AWS KMS provider
func NewAWSProvider(ctx context.Context, cfg AWSConfig) (*AWSProvider, error) {
	var opts []func(*config.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var kmsOpts []func(*kms.Options)
	if cfg.Endpoint != "" {
		kmsOpts = append(kmsOpts, func(o *kms.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if cfg.RoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		awsCfg.Credentials = aws.NewCredentialsCache(stscreds.NewAssumeRoleProvider(stsClient, cfg.RoleARN))
	}

	return &AWSProvider{client: kms.NewFromConfig(awsCfg, kmsOpts...)}, nil
}

func (p *AWSProvider) Name() string {
	return "aws"
}

// Decrypt decrypts ciphertext using AWS KMS
func (p *AWSProvider) Decrypt(ctx context.Context, keyID string, ciphertext []byte) ([]byte, error) {
	in := &kms.DecryptInput{CiphertextBlob: ciphertext}
	if keyID != "" {
		in.KeyId = aws.String(keyID)
	}
	out, err := p.client.Decrypt(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return out.Plaintext, nil
}

// GenerateDataKey generates a data key wrapped by keyID
func (p *AWSProvider) GenerateDataKey(ctx context.Context, keyID string, keySpec string) ([]byte, []byte, error) {
	spec := types.DataKeySpecAes256
	if keySpec == KeySpecAES128 {
		spec = types.DataKeySpecAes128
	}

	out, err := p.client.GenerateDataKey(ctx, &kms.GenerateDataKeyInput{
		KeyId:   aws.String(keyID),
		KeySpec: spec,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("AWS KMS generate data key failed: %w", err)
	}
	return out.Plaintext, out.CiphertextBlob, nil
}

func (p *AWSProvider) Close() error {
	return nil
}
