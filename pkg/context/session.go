// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package context

import (
	"context"

	"github.com/google/uuid"
)

// SessionID is the context key of the session id.
type SessionID struct{}

// WithSessionID returns ctx carrying a session id, generating one if absent.
func WithSessionID(c context.Context) (context.Context, string) {
	if id, ok := c.Value(SessionID{}).(string); ok && id != "" {
		return c, id
	}
	newID := uuid.New().String()
	return context.WithValue(c, SessionID{}, newID), newID
}

// FromSessionID returns c carrying id.
func FromSessionID(c context.Context, id string) context.Context {
	return context.WithValue(c, SessionID{}, id)
}

// SessionIDFrom returns the session id stored in c, or "".
func SessionIDFrom(c context.Context) string {
	id, _ := c.Value(SessionID{}).(string)
	return id
}
