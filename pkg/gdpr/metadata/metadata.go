// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package metadata implements the GDPR metadata prefix stored in front of
// every value:
//
//	owner|enc|purpose|objection|origin|expiration|share|monitor|<value>
//
// Purpose and objection are 64-bit sets rendered as unsigned decimals,
// booleans are "1"/"0" and an expiration of 0 never expires.
package metadata

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// Delimiter separates metadata fields and terminates the prefix.
	Delimiter = "|"
	// FieldCount is the number of metadata fields before the raw value.
	FieldCount = 8
	// ListSeparator separates entries of purpose, objection and share lists.
	ListSeparator = ","
)

var (
	ErrInvalidFormat = errors.New("invalid metadata format")
	ErrInvalidField  = errors.New("invalid metadata field")
)

// Field indexes a metadata field in wire order.
type Field int

const (
	FieldOwner Field = iota
	FieldEncryption
	FieldPurpose
	FieldObjection
	FieldOrigin
	FieldExpiration
	FieldShare
	FieldMonitor
)

var fieldNames = [FieldCount]string{
	"owner", "encryption", "purpose", "objection", "origin", "expiration", "share", "monitor",
}

func (f Field) String() string {
	if f < 0 || int(f) >= FieldCount {
		return "unknown"
	}
	return fieldNames[f]
}

// Metadata is the decoded prefix of a stored record.
type Metadata struct {
	Owner      string
	Encrypted  bool
	Purpose    Bitset
	Objection  Bitset
	Origin     string
	Expiration int64 // unix seconds, 0 means never
	Share      string
	Monitor    bool
}

// Encode renders m as a metadata prefix including the trailing delimiter.
func Encode(m Metadata) string {
	var b strings.Builder
	b.Grow(64 + len(m.Owner) + len(m.Origin) + len(m.Share))
	for _, f := range m.Fields() {
		b.WriteString(f)
		b.WriteString(Delimiter)
	}
	return b.String()
}

// JoinFields renders encoded field tokens as a prefix.
func JoinFields(tokens [FieldCount]string) string {
	return strings.Join(tokens[:], Delimiter) + Delimiter
}

// SplitFields returns the encoded tokens of a prefix without interpreting
// them. Use DecodePrefix to validate.
func SplitFields(prefix string) ([FieldCount]string, error) {
	var out [FieldCount]string
	parts := strings.Split(strings.TrimSuffix(prefix, Delimiter), Delimiter)
	if len(parts) != FieldCount {
		return out, fmt.Errorf("%w: expected %d fields, found %d", ErrInvalidFormat, FieldCount, len(parts))
	}
	copy(out[:], parts)
	return out, nil
}

// Record returns the full stored representation of value under m.
func Record(m Metadata, value string) string {
	return Encode(m) + value
}

// Fields returns the encoded token of every field in wire order.
func (m Metadata) Fields() [FieldCount]string {
	return [FieldCount]string{
		m.Owner,
		formatBool(m.Encrypted),
		strconv.FormatUint(uint64(m.Purpose), 10),
		strconv.FormatUint(uint64(m.Objection), 10),
		m.Origin,
		strconv.FormatInt(m.Expiration, 10),
		m.Share,
		formatBool(m.Monitor),
	}
}

// Split separates raw into its metadata prefix (with trailing delimiter) and
// the value. The value is everything after the eighth delimiter, so values
// may themselves contain the delimiter.
func Split(raw string) (prefix, value string, err error) {
	idx := 0
	for i := 0; i < FieldCount; i++ {
		next := strings.Index(raw[idx:], Delimiter)
		if next < 0 {
			return "", "", fmt.Errorf("%w: expected %d fields, found %d", ErrInvalidFormat, FieldCount, i)
		}
		idx += next + len(Delimiter)
	}
	return raw[:idx], raw[idx:], nil
}

// Decode parses raw into its metadata and value.
func Decode(raw string) (Metadata, string, error) {
	prefix, value, err := Split(raw)
	if err != nil {
		return Metadata{}, "", err
	}
	m, err := DecodePrefix(prefix)
	if err != nil {
		return Metadata{}, "", err
	}
	return m, value, nil
}

// DecodePrefix parses a prefix as returned by Split or ExtractMetadataOnly.
func DecodePrefix(prefix string) (Metadata, error) {
	parts, err := SplitFields(prefix)
	if err != nil {
		return Metadata{}, err
	}

	var m Metadata
	m.Owner = parts[0]
	if m.Encrypted, err = parseBool(parts[1]); err != nil {
		return Metadata{}, fmt.Errorf("%w: encryption: %w", ErrInvalidFormat, err)
	}
	purpose, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: purpose: %w", ErrInvalidFormat, err)
	}
	m.Purpose = Bitset(purpose)
	objection, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return Metadata{}, fmt.Errorf("%w: objection: %w", ErrInvalidFormat, err)
	}
	m.Objection = Bitset(objection)
	m.Origin = parts[4]
	if m.Expiration, err = strconv.ParseInt(parts[5], 10, 64); err != nil || m.Expiration < 0 {
		return Metadata{}, fmt.Errorf("%w: expiration %q", ErrInvalidFormat, parts[5])
	}
	m.Share = parts[6]
	if m.Monitor, err = parseBool(parts[7]); err != nil {
		return Metadata{}, fmt.Errorf("%w: monitor: %w", ErrInvalidFormat, err)
	}
	return m, nil
}

// RemoveMetadata returns the raw value stored after the metadata prefix.
func RemoveMetadata(raw string) (string, error) {
	_, value, err := Split(raw)
	return value, err
}

// ExtractMetadataOnly returns the metadata prefix, trailing delimiter included.
func ExtractMetadataOnly(raw string) (string, error) {
	prefix, _, err := Split(raw)
	return prefix, err
}

// ExpirationAt converts a relative lifetime into an absolute expiration.
// Zero stays zero.
func ExpirationAt(secondsFromNow int64, now time.Time) int64 {
	if secondsFromNow == 0 {
		return 0
	}
	return now.Unix() + secondsFromNow
}

// Expired reports whether m has a finite expiration that lies before now.
func (m Metadata) Expired(now time.Time) bool {
	return m.Expiration != 0 && now.Unix() > m.Expiration
}

// Owns reports whether user is the owner or appears in the share list.
// Share entries are matched as whole comma separated tokens.
func (m Metadata) Owns(user string) bool {
	if user == "" {
		return false
	}
	if m.Owner == user {
		return true
	}
	for _, s := range strings.Split(m.Share, ListSeparator) {
		if strings.TrimSpace(s) == user {
			return true
		}
	}
	return false
}

// ValidateField rejects text that would corrupt the prefix layout.
func ValidateField(name, v string) error {
	if strings.Contains(v, Delimiter) {
		return fmt.Errorf("%w: %s must not contain %q", ErrInvalidField, name, Delimiter)
	}
	return nil
}

// ValidateUserKey rejects user keys that cannot be matched in a share list.
func ValidateUserKey(v string) error {
	if err := ValidateField("user key", v); err != nil {
		return err
	}
	if strings.Contains(v, ListSeparator) {
		return fmt.Errorf("%w: user key must not contain %q", ErrInvalidField, ListSeparator)
	}
	return nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(s string) (bool, error) {
	switch s {
	case "1":
		return true, nil
	case "0":
		return false, nil
	}
	return false, fmt.Errorf("%q is not 0 or 1", s)
}
