// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"github.com/LeeDigitalWorks/gdprkv/pkg/kv"
	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"
)

// Server serves one kv.Client to any number of connections.
type Server struct {
	client kv.Client

	mu       sync.Mutex
	ln       net.Listener
	conns    map[net.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer returns a server for client. The server does not close client.
func NewServer(client kv.Client) *Server {
	return &Server{client: client, conns: make(map[net.Conn]struct{})}
}

// Serve accepts connections on ln until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.ln = ln
	s.mu.Unlock()

	logger.Info().Str("addr", ln.Addr().String()).Str("backend", string(s.client.Type())).Msg("kv proxy listening")
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
			s.handle(conn)
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

func (s *Server) handle(conn net.Conn) {
	ctx := context.Background()
	remote := conn.RemoteAddr().String()
	logger.Debug().Str("remote", remote).Msg("kv proxy connection opened")

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 4096), MaxLineSize)
	w := bufio.NewWriter(conn)
	for sc.Scan() {
		resp := s.dispatch(ctx, sc.Text())
		if _, err := w.WriteString(resp.Encode() + "\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Debug().Err(err).Str("remote", remote).Msg("kv proxy connection closed")
	}
}

func (s *Server) dispatch(ctx context.Context, line string) Response {
	req, err := ParseRequest(line)
	if err != nil {
		return Response{Status: RespErr, Message: err.Error()}
	}
	switch req.Cmd {
	case CmdPing:
		return Response{Status: RespOK}
	case CmdGet:
		v, found, err := s.client.Get(ctx, req.Key)
		if err != nil {
			return Response{Status: RespErr, Message: err.Error()}
		}
		if !found {
			return Response{Status: RespNotFound}
		}
		if v == nil {
			v = []byte{}
		}
		return Response{Status: RespOK, Value: v}
	case CmdPut:
		if err := s.client.Put(ctx, req.Key, req.Value); err != nil {
			return Response{Status: RespErr, Message: err.Error()}
		}
	case CmdDelete:
		if err := s.client.Delete(ctx, req.Key); err != nil {
			return Response{Status: RespErr, Message: err.Error()}
		}
	}
	return Response{Status: RespOK}
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
