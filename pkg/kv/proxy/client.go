// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/kv"
	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"
)

func init() {
	kv.Register(kv.TypeRemote, func(cfg kv.Config) (kv.Client, error) {
		c, err := Dial(cfg.Addr, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Client is a kv.Client talking to a proxy Server over one connection.
// Requests are serialized; a broken connection is redialed on the next call.
type Client struct {
	addr    string
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	r      *bufio.Reader
	closed bool
}

// Dial connects to the proxy at addr and checks it answers.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	if addr == "" {
		return nil, fmt.Errorf("remote kv address is required")
	}
	if timeout <= 0 {
		timeout = kv.DefaultTimeout
	}
	c := &Client{addr: addr, timeout: timeout}
	if _, err := c.do(context.Background(), Request{Cmd: CmdPing}); err != nil {
		c.Close()
		return nil, err
	}
	logger.Info().Str("addr", addr).Msg("remote kv backend connected")
	return c, nil
}

func (c *Client) Type() kv.Type {
	return kv.TypeRemote
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr, err)
	}
	c.conn = conn
	c.r = bufio.NewReaderSize(conn, 64<<10)
	return nil
}

func (c *Client) resetLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.r = nil
	}
}

func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Response{}, kv.ErrClosed
	}
	if err := c.connectLocked(ctx); err != nil {
		return Response{}, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.resetLocked()
		return Response{}, err
	}
	if _, err := c.conn.Write([]byte(req.Encode() + "\n")); err != nil {
		c.resetLocked()
		return Response{}, fmt.Errorf("send %s: %w", req.Cmd, err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.resetLocked()
		return Response{}, fmt.Errorf("receive %s: %w", req.Cmd, err)
	}
	resp, err := ParseResponse(strings.TrimRight(line, "\r\n"))
	if err != nil {
		c.resetLocked()
		return Response{}, err
	}
	if resp.Status == RespErr {
		return resp, fmt.Errorf("%w: %s", ErrRemote, resp.Message)
	}
	return resp, nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := c.do(ctx, Request{Cmd: CmdGet, Key: key})
	if err != nil {
		return nil, false, err
	}
	if resp.Status == RespNotFound {
		return nil, false, nil
	}
	if resp.Value == nil {
		resp.Value = []byte{}
	}
	return resp.Value, true, nil
}

func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	_, err := c.do(ctx, Request{Cmd: CmdPut, Key: key, Value: value})
	return err
}

func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.do(ctx, Request{Cmd: CmdDelete, Key: key})
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.resetLocked()
	return nil
}
