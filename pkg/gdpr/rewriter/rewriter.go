// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package rewriter builds the record a put or putm stores, merging query
// overrides, the session default policy and existing metadata according to
// Precedence.
package rewriter

import (
	"fmt"
	"strconv"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/policy"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/query"
)

// layer is one candidate source of field tokens; set marks the tokens it supplies.
type layer struct {
	tokens [metadata.FieldCount]string
	set    [metadata.FieldCount]bool
}

func full(tokens [metadata.FieldCount]string) layer {
	l := layer{tokens: tokens}
	for i := range l.set {
		l.set[i] = true
	}
	return l
}

func (l *layer) put(f metadata.Field, token string) {
	l.tokens[f] = token
	l.set[f] = true
}

func overridesLayer(o policy.Overrides, now time.Time) layer {
	var l layer
	if o.OwnerKey != nil {
		l.put(metadata.FieldOwner, *o.OwnerKey)
	}
	if o.Encryption != nil {
		l.put(metadata.FieldEncryption, boolToken(*o.Encryption))
	}
	if o.Purpose != nil {
		l.put(metadata.FieldPurpose, strconv.FormatUint(uint64(*o.Purpose), 10))
	}
	if o.Objection != nil {
		l.put(metadata.FieldObjection, strconv.FormatUint(uint64(*o.Objection), 10))
	}
	if o.Origin != nil {
		l.put(metadata.FieldOrigin, *o.Origin)
	}
	if o.Expiration != nil {
		l.put(metadata.FieldExpiration, strconv.FormatInt(metadata.ExpirationAt(*o.Expiration, now), 10))
	}
	if o.Share != nil {
		l.put(metadata.FieldShare, *o.Share)
	}
	if o.Monitor != nil {
		l.put(metadata.FieldMonitor, boolToken(*o.Monitor))
	}
	return l
}

func defaultLayer(p *policy.Default, now time.Time) layer {
	return full(metadata.Metadata{
		Owner:      p.OwnerKey,
		Encrypted:  p.Encryption,
		Purpose:    p.Purpose,
		Objection:  p.Objection,
		Origin:     p.Origin,
		Expiration: metadata.ExpirationAt(p.Expiration, now),
		Share:      p.Share,
		Monitor:    p.Monitor,
	}.Fields())
}

// existingLayer keeps the stored tokens verbatim after checking they decode.
func existingLayer(prefix string) (layer, error) {
	if _, err := metadata.DecodePrefix(prefix); err != nil {
		return layer{}, err
	}
	tokens, err := metadata.SplitFields(prefix)
	if err != nil {
		return layer{}, err
	}
	return full(tokens), nil
}

func merge(mode Mode, layers map[Source]layer) (string, error) {
	var out [metadata.FieldCount]string
	rules := Precedence[mode]
	for f := range out {
		resolved := false
		for _, src := range rules[f] {
			if l, ok := layers[src]; ok && l.set[f] {
				out[f] = l.tokens[f]
				resolved = true
				break
			}
		}
		if !resolved {
			return "", fmt.Errorf("rewrite %s: no source for %s", mode, metadata.Field(f))
		}
	}
	return metadata.JoinFields(out), nil
}

// FirstInsert returns the record stored when q creates its key.
func FirstInsert(q *query.Query, p *policy.Default, now time.Time) (string, error) {
	prefix, err := merge(ModeFirstInsert, map[Source]layer{
		FromQuery:   overridesLayer(q.Overrides, now),
		FromDefault: defaultLayer(p, now),
	})
	if err != nil {
		return "", err
	}
	return prefix + q.Value, nil
}

// ValueUpdate returns existing with its value replaced; the metadata prefix
// is kept byte for byte.
func ValueUpdate(existing, value string) (string, error) {
	prefix, _, err := metadata.Split(existing)
	if err != nil {
		return "", err
	}
	l, err := existingLayer(prefix)
	if err != nil {
		return "", err
	}
	out, err := merge(ModeValueUpdate, map[Source]layer{FromExisting: l})
	if err != nil {
		return "", err
	}
	return out + value, nil
}

// MetadataUpdate returns existing with its metadata rewritten from the
// overrides of q. The encryption flag and the value never change. existing
// may be a full record or a bare prefix; the result has the same shape.
func MetadataUpdate(existing string, q *query.Query, now time.Time) (string, error) {
	prefix, value, err := metadata.Split(existing)
	if err != nil {
		return "", err
	}
	l, err := existingLayer(prefix)
	if err != nil {
		return "", err
	}
	out, err := merge(ModeMetadataUpdate, map[Source]layer{
		FromQuery:    overridesLayer(q.Overrides, now),
		FromExisting: l,
	})
	if err != nil {
		return "", err
	}
	return out + value, nil
}

func boolToken(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
