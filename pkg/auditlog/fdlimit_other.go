// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package auditlog

// descriptorLimit falls back to a conservative default where RLIMIT_NOFILE
// is not queried.
func descriptorLimit() (uint64, error) {
	return 256, nil
}
