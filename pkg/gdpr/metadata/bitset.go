// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

const (
	// MaxPurposes is the number of distinct purposes a Bitset can hold.
	MaxPurposes = 64

	purposePrefix = "purpose"
)

// Bitset is a set of purposes, purposeN being bit N.
type Bitset uint64

// Contains reports whether every purpose of other is in b.
func (b Bitset) Contains(other Bitset) bool {
	return b&other == other
}

// Intersects reports whether b and other share a purpose.
func (b Bitset) Intersects(other Bitset) bool {
	return b&other != 0
}

func (b Bitset) IsEmpty() bool {
	return b == 0
}

// Names lists the purposes in b in ascending bit order.
func (b Bitset) Names() []string {
	names := make([]string, 0, bits.OnesCount64(uint64(b)))
	for v := uint64(b); v != 0; v &= v - 1 {
		names = append(names, PurposeName(uint(bits.TrailingZeros64(v))))
	}
	return names
}

func (b Bitset) String() string {
	return strings.Join(b.Names(), ListSeparator)
}

// PurposeName returns the canonical name of bit i.
func PurposeName(i uint) string {
	return purposePrefix + strconv.FormatUint(uint64(i), 10)
}

// PurposeIndex maps "purposeN" to N.
func PurposeIndex(name string) (uint, error) {
	num, ok := strings.CutPrefix(strings.TrimSpace(name), purposePrefix)
	if !ok || num == "" {
		return 0, fmt.Errorf("%w: unknown purpose %q", ErrInvalidField, name)
	}
	i, err := strconv.ParseUint(num, 10, 8)
	if err != nil || i >= MaxPurposes {
		return 0, fmt.Errorf("%w: purpose %q out of range", ErrInvalidField, name)
	}
	return uint(i), nil
}

// ParsePurposes converts a comma separated purpose list into a Bitset. An
// empty list yields the empty set.
func ParsePurposes(list string) (Bitset, error) {
	var b Bitset
	for _, name := range strings.Split(list, ListSeparator) {
		if strings.TrimSpace(name) == "" {
			continue
		}
		i, err := PurposeIndex(name)
		if err != nil {
			return 0, err
		}
		b |= 1 << i
	}
	return b, nil
}
