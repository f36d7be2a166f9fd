// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"fmt"
	"strings"
)

// predicate is one name(args...) term. Bare names have no args and bare=true.
type predicate struct {
	name string
	args []arg
	bare bool
}

// arg is either a quoted string or a nested predicate.
type arg struct {
	str    string
	quoted bool
	pred   *predicate
}

type scanner struct {
	src string
	pos int
}

func (s *scanner) errorf(format string, a ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, s.pos, fmt.Sprintf(format, a...))
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) && strings.IndexByte(" \t\r\n", s.src[s.pos]) >= 0 {
		s.pos++
	}
}

func (s *scanner) peek() byte {
	s.skipSpace()
	if s.pos >= len(s.src) {
		return 0
	}
	return s.src[s.pos]
}

func (s *scanner) expect(c byte) error {
	if s.peek() != c {
		return s.errorf("expected %q", c)
	}
	s.pos++
	return nil
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func (s *scanner) ident() (string, error) {
	s.skipSpace()
	start := s.pos
	for s.pos < len(s.src) && isIdentByte(s.src[s.pos]) {
		s.pos++
	}
	if start == s.pos {
		return "", s.errorf("expected predicate name")
	}
	return s.src[start:s.pos], nil
}

func (s *scanner) quoted() (string, error) {
	if err := s.expect('"'); err != nil {
		return "", err
	}
	var b strings.Builder
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		s.pos++
		switch c {
		case '"':
			return b.String(), nil
		case '\\':
			if s.pos >= len(s.src) {
				return "", s.errorf("dangling escape")
			}
			b.WriteByte(s.src[s.pos])
			s.pos++
		default:
			b.WriteByte(c)
		}
	}
	return "", s.errorf("unterminated string")
}

func (s *scanner) predicate() (*predicate, error) {
	name, err := s.ident()
	if err != nil {
		return nil, err
	}
	p := &predicate{name: name}
	if s.peek() != '(' {
		p.bare = true
		return p, nil
	}
	s.pos++
	if s.peek() == ')' {
		s.pos++
		return p, nil
	}
	for {
		var a arg
		if s.peek() == '"' {
			if a.str, err = s.quoted(); err != nil {
				return nil, err
			}
			a.quoted = true
		} else {
			if a.pred, err = s.predicate(); err != nil {
				return nil, err
			}
		}
		p.args = append(p.args, a)

		switch s.peek() {
		case ',':
			s.pos++
		case ')':
			s.pos++
			return p, nil
		default:
			return nil, s.errorf("expected ',' or ')'")
		}
	}
}

// predicates splits src into its '&' separated terms.
func (s *scanner) predicates() ([]*predicate, error) {
	var out []*predicate
	for {
		p, err := s.predicate()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
		switch s.peek() {
		case 0:
			return out, nil
		case '&':
			s.pos++
		default:
			return nil, s.errorf("expected '&'")
		}
	}
}
