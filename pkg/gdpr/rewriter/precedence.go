// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package rewriter

import "github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"

// Mode selects how a new record is assembled.
type Mode int

const (
	// ModeFirstInsert writes a key that does not exist yet.
	ModeFirstInsert Mode = iota
	// ModeValueUpdate replaces the value of an existing key.
	ModeValueUpdate
	// ModeMetadataUpdate rewrites the metadata of an existing key.
	ModeMetadataUpdate
)

func (m Mode) String() string {
	switch m {
	case ModeFirstInsert:
		return "first_insert"
	case ModeValueUpdate:
		return "value_update"
	case ModeMetadataUpdate:
		return "metadata_update"
	}
	return "unknown"
}

// Source is where a field's new value may come from.
type Source int

const (
	FromQuery Source = iota
	FromExisting
	FromDefault
)

func (s Source) String() string {
	switch s {
	case FromQuery:
		return "query"
	case FromExisting:
		return "existing"
	case FromDefault:
		return "default"
	}
	return "unknown"
}

// Rule lists, in order of preference, the sources a field is taken from.
type Rule []Source

// Precedence maps every mode and field to its rule. The first source that
// supplies the field wins.
var Precedence = map[Mode][metadata.FieldCount]Rule{
	ModeFirstInsert:    uniform(Rule{FromQuery, FromDefault}),
	ModeValueUpdate:    uniform(Rule{FromExisting}),
	ModeMetadataUpdate: withField(uniform(Rule{FromQuery, FromExisting}), metadata.FieldEncryption, Rule{FromExisting}),
}

func uniform(r Rule) [metadata.FieldCount]Rule {
	var out [metadata.FieldCount]Rule
	for i := range out {
		out[i] = r
	}
	return out
}

func withField(rules [metadata.FieldCount]Rule, f metadata.Field, r Rule) [metadata.FieldCount]Rule {
	rules[f] = r
	return rules
}
