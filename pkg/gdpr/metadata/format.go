// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"fmt"
	"strings"
	"time"
)

const expirationLayout = "2006-01-02 15:04:05 UTC"

// FormatExpiration renders an absolute expiration for humans.
func FormatExpiration(exp int64) string {
	if exp == 0 {
		return "none"
	}
	return time.Unix(exp, 0).UTC().Format(expirationLayout)
}

// Format renders m and value as a single human readable line.
func Format(m Metadata, value string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User/Owner: %s, ", m.Owner)
	fmt.Fprintf(&b, "Encryption enabled: %t, ", m.Encrypted)
	fmt.Fprintf(&b, "Purposes: [%s], ", m.Purpose)
	fmt.Fprintf(&b, "Objections: [%s], ", m.Objection)
	fmt.Fprintf(&b, "Data origin: %s, ", m.Origin)
	fmt.Fprintf(&b, "Expiration time: %s, ", FormatExpiration(m.Expiration))
	fmt.Fprintf(&b, "Shared with: %s, ", m.Share)
	fmt.Fprintf(&b, "Log enabled: %t, ", m.Monitor)
	fmt.Fprintf(&b, "Value: %s", value)
	return b.String()
}

// FormatRecord decodes raw and renders it with Format.
func FormatRecord(raw string) (string, error) {
	m, value, err := Decode(raw)
	if err != nil {
		return "", err
	}
	return Format(m, value), nil
}
