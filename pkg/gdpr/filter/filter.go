// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package filter decides whether a query may act on a stored value.
package filter

import (
	"fmt"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/policy"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/query"
)

// Reason explains a Verdict.
type Reason string

const (
	ReasonAllowed   Reason = "allowed"
	ReasonNoValue   Reason = "no_value"
	ReasonNotOwner  Reason = "not_owner"
	ReasonPurpose   Reason = "purpose"
	ReasonObjection Reason = "objection"
	ReasonExpired   Reason = "expired"
)

// Verdict is the outcome of evaluating a query against stored metadata.
type Verdict struct {
	Allowed bool
	Reason  Reason
}

// Filter holds the metadata of one stored value, or nothing when the key
// does not exist.
type Filter struct {
	valid bool
	md    metadata.Metadata
	raw   string
}

// New parses the stored record raw. found=false yields an empty filter that
// rejects every query. A malformed record is an error, never a denial.
func New(raw string, found bool) (*Filter, error) {
	if !found {
		return &Filter{}, nil
	}
	// raw may be a full record or only its metadata prefix.
	md, _, err := metadata.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("parse stored metadata: %w", err)
	}
	return &Filter{valid: true, md: md, raw: raw}, nil
}

// Valid reports whether a stored value was found.
func (f *Filter) Valid() bool {
	return f.valid
}

// Metadata returns the parsed metadata; the zero value when !Valid().
func (f *Filter) Metadata() metadata.Metadata {
	return f.md
}

// Raw returns the record the filter was built from.
func (f *Filter) Raw() string {
	return f.raw
}

// CheckMonitoring reports the stored monitor flag.
func (f *Filter) CheckMonitoring() bool {
	return f.valid && f.md.Monitor
}

// Validate reports whether q, issued under p, may act on the stored value.
func (f *Filter) Validate(q *query.Query, p *policy.Default) bool {
	return f.Evaluate(q, p, time.Now()).Allowed
}

// Evaluate applies the access rules in order and stops at the first failure:
// existence, ownership or sharing, purpose, objection, expiration.
// Origin is recorded in metadata but not enforced.
func (f *Filter) Evaluate(q *query.Query, p *policy.Default, now time.Time) Verdict {
	if !f.valid {
		return deny(ReasonNoValue)
	}

	acting := p.OwnerKey
	if q.Conditions.UserKey != nil {
		acting = *q.Conditions.UserKey
	}
	if !f.md.Owns(acting) {
		return deny(ReasonNotOwner)
	}

	purpose := q.Conditions.PurposeOr(p.Purpose)
	if !f.md.Purpose.Contains(purpose) {
		return deny(ReasonPurpose)
	}
	if f.md.Objection.Intersects(purpose) {
		return deny(ReasonObjection)
	}

	if f.md.Expired(now) {
		return deny(ReasonExpired)
	}
	return Verdict{Allowed: true, Reason: ReasonAllowed}
}

func deny(r Reason) Verdict {
	return Verdict{Reason: r}
}
