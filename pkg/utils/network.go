// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"net"
	"time"
)

// Listener wraps a net.Listener and hands out connections with an idle deadline.
type Listener struct {
	net.Listener
	IdleTimeout time.Duration
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: c, IdleTimeout: l.IdleTimeout}, nil
}

// Conn pushes its read and write deadlines forward on every call, so a
// connection is only dropped after IdleTimeout without traffic.
type Conn struct {
	net.Conn
	IdleTimeout time.Duration
}

func (c *Conn) Read(b []byte) (int, error) {
	if c.IdleTimeout > 0 {
		if err := c.Conn.SetReadDeadline(time.Now().Add(c.IdleTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Read(b)
}

func (c *Conn) Write(b []byte) (int, error) {
	if c.IdleTimeout > 0 {
		if err := c.Conn.SetWriteDeadline(time.Now().Add(c.IdleTimeout)); err != nil {
			return 0, err
		}
	}
	return c.Conn.Write(b)
}

func NewListener(addr string, idle time.Duration) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{Listener: ln, IdleTimeout: idle}, nil
}
