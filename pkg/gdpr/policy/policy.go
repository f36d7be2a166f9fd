// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy holds the session-wide default policy and the optional
// per-query overrides.
package policy

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"
)

// Attribute names, shared by the policy line, policy files and the query language.
const (
	AttrSessionKey = "sessionKey"
	AttrEncryption = "encryption"
	AttrPurpose    = "purpose"
	AttrObjection  = "objection"
	AttrOrigin     = "origin"
	AttrExpiration = "expTime"
	AttrShare      = "objShare"
	AttrMonitor    = "monitor"
)

// Attributes lists every attribute a Default must carry, in metadata order.
var Attributes = []string{
	AttrSessionKey, AttrEncryption, AttrPurpose, AttrObjection,
	AttrOrigin, AttrExpiration, AttrShare, AttrMonitor,
}

var (
	ErrMissingAttribute = errors.New("missing policy attribute")
	ErrInvalidAttribute = errors.New("invalid policy attribute")
)

// ConstructionError is returned when a Default cannot be built. It is fatal
// for the session that supplied the policy.
type ConstructionError struct {
	Missing []string
	Err     error
}

func (e *ConstructionError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("policy construction failed: missing %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("policy construction failed: %v", e.Err)
}

func (e *ConstructionError) Unwrap() error {
	if len(e.Missing) > 0 {
		return ErrMissingAttribute
	}
	return e.Err
}

// Default is the fully populated policy applied to new values written in a
// session. Expiration is relative, in seconds from the time of the write.
type Default struct {
	OwnerKey   string
	Encryption bool
	Purpose    metadata.Bitset
	Objection  metadata.Bitset
	Origin     string
	Expiration int64
	Share      string
	Monitor    bool
}

// FromAttributes builds a Default from textual attribute values keyed by the
// Attr* names. Every attribute must be present, though list values may be empty.
func FromAttributes(attrs map[string]string) (*Default, error) {
	var missing []string
	for _, a := range Attributes {
		if _, ok := attrs[a]; !ok {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		return nil, &ConstructionError{Missing: missing}
	}
	for _, a := range sortedKeys(attrs) {
		if !isAttribute(a) {
			return nil, &ConstructionError{Err: fmt.Errorf("%w: unknown attribute %q", ErrInvalidAttribute, a)}
		}
	}

	d := &Default{}
	var err error
	if d.OwnerKey, err = ParseUserKey(attrs[AttrSessionKey]); err != nil {
		return nil, &ConstructionError{Err: err}
	}
	if d.Encryption, err = ParseBool(AttrEncryption, attrs[AttrEncryption]); err != nil {
		return nil, &ConstructionError{Err: err}
	}
	if d.Purpose, err = metadata.ParsePurposes(attrs[AttrPurpose]); err != nil {
		return nil, &ConstructionError{Err: err}
	}
	if d.Objection, err = metadata.ParsePurposes(attrs[AttrObjection]); err != nil {
		return nil, &ConstructionError{Err: err}
	}
	if d.Origin, err = ParseOrigin(attrs[AttrOrigin]); err != nil {
		return nil, &ConstructionError{Err: err}
	}
	if d.Expiration, err = ParseExpiration(attrs[AttrExpiration]); err != nil {
		return nil, &ConstructionError{Err: err}
	}
	if d.Share, err = ParseShare(attrs[AttrShare]); err != nil {
		return nil, &ConstructionError{Err: err}
	}
	if d.Monitor, err = ParseBool(AttrMonitor, attrs[AttrMonitor]); err != nil {
		return nil, &ConstructionError{Err: err}
	}
	return d, nil
}

// Attributes renders d back into textual attribute values.
func (d *Default) Attributes() map[string]string {
	return map[string]string{
		AttrSessionKey: d.OwnerKey,
		AttrEncryption: strconv.FormatBool(d.Encryption),
		AttrPurpose:    d.Purpose.String(),
		AttrObjection:  d.Objection.String(),
		AttrOrigin:     d.Origin,
		AttrExpiration: strconv.FormatInt(d.Expiration, 10),
		AttrShare:      d.Share,
		AttrMonitor:    strconv.FormatBool(d.Monitor),
	}
}

func isAttribute(name string) bool {
	for _, a := range Attributes {
		if a == name {
			return true
		}
	}
	return false
}

// ParseUserKey validates a non-empty user key.
func ParseUserKey(v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s must not be empty", ErrInvalidAttribute, AttrSessionKey)
	}
	if err := metadata.ValidateUserKey(v); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAttribute, err)
	}
	return v, nil
}

func ParseBool(name, v string) (bool, error) {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q", ErrInvalidAttribute, name, v)
	}
	return b, nil
}

func ParseOrigin(v string) (string, error) {
	v = strings.TrimSpace(v)
	if err := metadata.ValidateField(AttrOrigin, v); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAttribute, err)
	}
	return v, nil
}

// ParseExpiration parses a non-negative lifetime in seconds.
func ParseExpiration(v string) (int64, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || secs < 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidAttribute, AttrExpiration, v)
	}
	return secs, nil
}

// ParseShare normalizes a comma separated user list, dropping empty entries.
func ParseShare(v string) (string, error) {
	var users []string
	for _, u := range strings.Split(v, metadata.ListSeparator) {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if err := metadata.ValidateUserKey(u); err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidAttribute, err)
		}
		users = append(users, u)
	}
	return strings.Join(users, metadata.ListSeparator), nil
}

// Line renders d in the user_policy line form accepted by ParseLine.
func (d *Default) Line() string {
	attrs := d.Attributes()
	var b strings.Builder
	b.WriteString(LinePrefix)
	for _, a := range Attributes {
		b.WriteString(" -")
		b.WriteString(a)
		if v := attrs[a]; v != "" {
			b.WriteString(" ")
			b.WriteString(v)
		}
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
