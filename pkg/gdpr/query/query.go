// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package query parses client queries. A query is a list of predicates
// joined by '&'; exactly one of them is the query(...) command, the others
// override the session policy or add conditions:
//
//	query(put("k","v"))&objPur("purpose0,purpose1")&monitor("true")
//	query(get("k"))&sessionKeyIs("bob")&objPurIs("purpose0")
//	query(getLogs())&sessionKey("reg")
package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/policy"
)

var (
	ErrSyntax     = errors.New("query syntax error")
	ErrInvalid    = errors.New("invalid query")
	ErrInvalidKey = errors.New("invalid key")
)

// Predicate names.
const (
	predQuery = "query"

	predSessionKey = "sessionKey"
	predEncryption = "encryption"
	predPurpose    = "objPur"
	predObjection  = "objObjections"
	predOrigin     = "objOrig"
	predExpiration = "objExp"
	predShare      = "objShare"
	predMonitor    = "monitor"

	condSuffix = "Is"
)

// Conditions restrict which stored values a query may act on. Only the user
// key and purpose take part in access decisions; the rest are carried for
// clients and diagnostics.
type Conditions struct {
	UserKey    *string
	Purpose    *metadata.Bitset
	Objection  *metadata.Bitset
	Origin     *string
	Expiration *int64
	Share      *string
	Monitor    *bool
}

// PurposeOr returns the conditional purpose set if one was supplied and is
// non-empty, else fallback.
func (c Conditions) PurposeOr(fallback metadata.Bitset) metadata.Bitset {
	if c.Purpose != nil && !c.Purpose.IsEmpty() {
		return *c.Purpose
	}
	return fallback
}

// Query is one parsed client request.
type Query struct {
	Cmd        Command
	Key        string
	Value      string
	Overrides  policy.Overrides
	Conditions Conditions
}

// HasKey reports whether the query names a key. getLogs without a key
// addresses every log.
func (q *Query) HasKey() bool {
	return q.Key != ""
}

// Parse parses src. A malformed query yields an error and a Query whose Cmd
// is CmdInvalid, so callers can still answer it.
func Parse(src string) (*Query, error) {
	q := &Query{}
	if err := q.parse(src); err != nil {
		return &Query{Cmd: CmdInvalid}, err
	}
	return q, nil
}

func (q *Query) parse(src string) error {
	s := &scanner{src: src}
	preds, err := s.predicates()
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(preds))
	haveCmd := false
	for _, p := range preds {
		if seen[p.name] {
			return fmt.Errorf("%w: %s given twice", ErrInvalid, p.name)
		}
		seen[p.name] = true

		if p.name == predQuery {
			if err := q.parseCommand(p); err != nil {
				return err
			}
			haveCmd = true
			continue
		}
		if err := q.applyPredicate(p); err != nil {
			return err
		}
	}
	if !haveCmd {
		return fmt.Errorf("%w: missing %s(...)", ErrInvalid, predQuery)
	}
	return nil
}

func (q *Query) parseCommand(p *predicate) error {
	if len(p.args) != 1 || p.args[0].pred == nil {
		return fmt.Errorf("%w: %s expects a single command", ErrInvalid, predQuery)
	}
	cmd := p.args[0].pred
	q.Cmd = ParseCommand(cmd.name)
	if q.Cmd == CmdInvalid {
		return fmt.Errorf("%w: unknown command %q", ErrInvalid, cmd.name)
	}

	args := make([]string, 0, len(cmd.args))
	for _, a := range cmd.args {
		if !a.quoted {
			return fmt.Errorf("%w: %s arguments must be quoted", ErrInvalid, cmd.name)
		}
		args = append(args, a.str)
	}
	minArgs, maxArgs := q.Cmd.arity()
	if len(args) < minArgs || len(args) > maxArgs {
		return fmt.Errorf("%w: %s takes %d to %d arguments, got %d", ErrInvalid, cmd.name, minArgs, maxArgs, len(args))
	}
	if len(args) > 0 {
		if err := ValidateKey(args[0]); err != nil {
			return err
		}
		q.Key = args[0]
	}
	if len(args) > 1 {
		q.Value = args[1]
	}
	return nil
}

func (q *Query) applyPredicate(p *predicate) error {
	if p.bare || len(p.args) != 1 || !p.args[0].quoted {
		return fmt.Errorf("%w: %s expects one quoted value", ErrInvalid, p.name)
	}
	v := p.args[0].str

	if base, ok := strings.CutSuffix(p.name, condSuffix); ok && base != "" {
		return q.applyCondition(base, v)
	}

	o := &q.Overrides
	switch p.name {
	case predSessionKey:
		return set(&o.OwnerKey, v, policy.ParseUserKey)
	case predEncryption:
		return set(&o.Encryption, v, boolParser(predEncryption))
	case predPurpose:
		return set(&o.Purpose, v, metadata.ParsePurposes)
	case predObjection:
		return set(&o.Objection, v, metadata.ParsePurposes)
	case predOrigin:
		return set(&o.Origin, v, policy.ParseOrigin)
	case predExpiration:
		return set(&o.Expiration, v, policy.ParseExpiration)
	case predShare:
		return set(&o.Share, v, policy.ParseShare)
	case predMonitor:
		return set(&o.Monitor, v, boolParser(predMonitor))
	}
	return fmt.Errorf("%w: unknown predicate %q", ErrInvalid, p.name)
}

func (q *Query) applyCondition(base, v string) error {
	c := &q.Conditions
	switch base {
	case predSessionKey:
		return set(&c.UserKey, v, policy.ParseUserKey)
	case predPurpose:
		return set(&c.Purpose, v, metadata.ParsePurposes)
	case predObjection:
		return set(&c.Objection, v, metadata.ParsePurposes)
	case predOrigin:
		return set(&c.Origin, v, policy.ParseOrigin)
	case predExpiration:
		return set(&c.Expiration, v, policy.ParseExpiration)
	case predShare:
		return set(&c.Share, v, policy.ParseShare)
	case predMonitor:
		return set(&c.Monitor, v, boolParser(predMonitor))
	}
	return fmt.Errorf("%w: unknown predicate %q", ErrInvalid, base+condSuffix)
}

func set[T any](dst **T, v string, parse func(string) (T, error)) error {
	parsed, err := parse(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	*dst = &parsed
	return nil
}

func boolParser(name string) func(string) (bool, error) {
	return func(v string) (bool, error) {
		return policy.ParseBool(name, v)
	}
}

// ValidateKey rejects keys that cannot be stored or used as a log file name.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case key == "." || key == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.ContainsAny(key, "/\\\x00\n"):
		return fmt.Errorf("%w: %q contains a path separator or control byte", ErrInvalidKey, key)
	}
	return nil
}
