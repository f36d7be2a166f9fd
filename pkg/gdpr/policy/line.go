// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"strings"
)

// LinePrefix starts the policy line a client sends when it connects:
//
//	user_policy -sessionKey alice -encryption false -purpose purpose0,purpose1
//	    -objection -origin eu -expTime 0 -objShare bob -monitor true
//
// An option immediately followed by another option has an empty value.
const LinePrefix = "user_policy"

// IsLine reports whether line looks like a policy line.
func IsLine(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && fields[0] == LinePrefix
}

// ParseLine parses a policy line into a Default.
func ParseLine(line string) (*Default, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != LinePrefix {
		return nil, &ConstructionError{Err: fmt.Errorf("%w: line must start with %q", ErrInvalidAttribute, LinePrefix)}
	}

	attrs := make(map[string]string, len(Attributes))
	for i := 1; i < len(fields); i++ {
		name, ok := strings.CutPrefix(fields[i], "-")
		if !ok || name == "" {
			return nil, &ConstructionError{Err: fmt.Errorf("%w: unexpected token %q", ErrInvalidAttribute, fields[i])}
		}
		if _, dup := attrs[name]; dup {
			return nil, &ConstructionError{Err: fmt.Errorf("%w: %s given twice", ErrInvalidAttribute, name)}
		}
		value := ""
		if i+1 < len(fields) && !strings.HasPrefix(fields[i+1], "-") {
			value = fields[i+1]
			i++
		}
		attrs[name] = value
	}
	return FromAttributes(attrs)
}
