// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/policy"
	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"

	"golang.org/x/time/rate"
)

// MaxLineSize bounds one query line.
const MaxLineSize = 1 << 20

// ServerConfig configures a Server.
type ServerConfig struct {
	// DefaultPolicy is used when a client's first line is a query rather
	// than a user_policy line. Nil requires every client to send a policy.
	DefaultPolicy *policy.Default
	// MaxQPS limits queries per connection; zero disables the limit.
	MaxQPS float64
}

// Server accepts clients, one goroutine per connection. The first line of a
// connection sets its policy; each following line is one query answered
// with one response.
type Server struct {
	engine *Engine
	cfg    ServerConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer returns a server answering with engine.
func NewServer(engine *Engine, cfg ServerConfig) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		engine: engine,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections on ln until Shutdown, then returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.ln = ln
	s.mu.Unlock()

	logger.Info().Str("addr", ln.Addr().String()).Float64("max_qps", s.cfg.MaxQPS).Msg("controller listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			done := s.shutdown
			s.mu.Unlock()
			if done {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(conn)
		}()
	}
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

func (s *Server) limiter() *rate.Limiter {
	if s.cfg.MaxQPS <= 0 {
		return nil
	}
	burst := int(s.cfg.MaxQPS)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.cfg.MaxQPS), burst)
}

func (s *Server) serveConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), MaxLineSize)
	w := bufio.NewWriter(conn)

	reply := func(r Response) bool {
		if _, err := w.WriteString(r.String() + "\n"); err != nil {
			return false
		}
		return w.Flush() == nil
	}

	if !sc.Scan() {
		return
	}
	first := strings.TrimSpace(sc.Text())
	var (
		p       *policy.Default
		pending string
		err     error
	)
	switch {
	case policy.IsLine(first):
		p, err = policy.ParseLine(first)
	case s.cfg.DefaultPolicy != nil:
		p, pending = s.cfg.DefaultPolicy, first
	default:
		err = errors.New("connection must start with a user_policy line")
	}
	if err != nil {
		perr := &Error{Code: InvalidPolicy, Err: err}
		logger.Warn().Err(perr).Str("remote", remote).Msg("session rejected")
		reply(perr.Response())
		return
	}

	session, ctx := s.engine.NewSession(s.ctx, p)
	activeSessions.Inc()
	defer activeSessions.Dec()
	logger.Ctx(ctx).Info().Str("remote", remote).Msg("session started")
	defer logger.Ctx(ctx).Info().Str("remote", remote).Msg("session ended")

	lim := s.limiter()
	handle := func(line string) bool {
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return false
			}
		}
		resp, out := session.HandleLine(ctx, line)
		switch out {
		case Exit:
			return false
		case Abort:
			reply(resp)
			return false
		}
		return reply(resp)
	}

	if pending != "" && !handle(pending) {
		return
	}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !handle(line) {
			return
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Ctx(ctx).Debug().Err(err).Msg("connection read failed")
	}
}

// Shutdown stops accepting, closes open connections and waits for their
// handlers, or for ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shutdown = true
	if s.ln != nil {
		s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
