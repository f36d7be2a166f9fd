// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import "github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"

// Overrides carries the policy attributes a single query sets explicitly.
// A nil field means "not supplied".
type Overrides struct {
	OwnerKey   *string
	Encryption *bool
	Purpose    *metadata.Bitset
	Objection  *metadata.Bitset
	Origin     *string
	Expiration *int64 // seconds from now
	Share      *string
	Monitor    *bool
}

// IsEmpty reports whether no attribute is overridden.
func (o Overrides) IsEmpty() bool {
	return o.OwnerKey == nil && o.Encryption == nil && o.Purpose == nil &&
		o.Objection == nil && o.Origin == nil && o.Expiration == nil &&
		o.Share == nil && o.Monitor == nil
}

// ActingKey is the identity a query acts under: its explicit session key,
// else the default policy's owner.
func ActingKey(o Overrides, d *Default) string {
	if o.OwnerKey != nil {
		return *o.OwnerKey
	}
	return d.OwnerKey
}
