// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package proxy exposes a kv.Client over a line protocol and provides the
// matching remote client. Requests are
//
//	get <key>
//	put <key> <value>
//	del <key>
//	ping
//
// with key and value base64 encoded. Responses are "OK [<value>]",
// "NOT_FOUND" or "ERR <message>".
package proxy

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	CmdGet    = "get"
	CmdPut    = "put"
	CmdDelete = "del"
	CmdPing   = "ping"

	RespOK       = "OK"
	RespNotFound = "NOT_FOUND"
	RespErr      = "ERR"

	// MaxLineSize bounds one request or response line.
	MaxLineSize = 64 << 20
)

var (
	ErrProtocol = errors.New("proxy protocol error")
	// ErrRemote wraps an ERR response.
	ErrRemote = errors.New("remote error")
)

var enc = base64.StdEncoding

// Request is one decoded request line.
type Request struct {
	Cmd   string
	Key   string
	Value []byte
}

// Encode renders r without the trailing newline.
func (r Request) Encode() string {
	switch r.Cmd {
	case CmdPing:
		return CmdPing
	case CmdPut:
		return r.Cmd + " " + enc.EncodeToString([]byte(r.Key)) + " " + enc.EncodeToString(r.Value)
	}
	return r.Cmd + " " + enc.EncodeToString([]byte(r.Key))
}

// ParseRequest decodes a request line.
func ParseRequest(line string) (Request, error) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return Request{}, fmt.Errorf("%w: empty request", ErrProtocol)
	}
	// Split on single spaces so an empty value survives as an empty field.
	fields := strings.Split(line, " ")
	r := Request{Cmd: strings.ToLower(fields[0])}

	want := 2
	switch r.Cmd {
	case CmdPing:
		want = 1
	case CmdPut:
		want = 3
	case CmdGet, CmdDelete:
	default:
		return Request{}, fmt.Errorf("%w: unknown command %q", ErrProtocol, fields[0])
	}
	if len(fields) != want {
		return Request{}, fmt.Errorf("%w: %s takes %d fields, got %d", ErrProtocol, r.Cmd, want, len(fields))
	}
	if want == 1 {
		return r, nil
	}

	key, err := enc.DecodeString(fields[1])
	if err != nil || len(key) == 0 {
		return Request{}, fmt.Errorf("%w: bad key", ErrProtocol)
	}
	r.Key = string(key)
	if r.Cmd == CmdPut {
		if r.Value, err = enc.DecodeString(fields[2]); err != nil {
			return Request{}, fmt.Errorf("%w: bad value", ErrProtocol)
		}
	}
	return r, nil
}

// Response is one decoded response line.
type Response struct {
	Status string
	Value  []byte
	// Message is set for ERR.
	Message string
}

func (r Response) Encode() string {
	switch r.Status {
	case RespOK:
		if r.Value != nil {
			return RespOK + " " + enc.EncodeToString(r.Value)
		}
		return RespOK
	case RespErr:
		return RespErr + " " + strings.ReplaceAll(r.Message, "\n", " ")
	}
	return r.Status
}

// ParseResponse decodes a response line.
func ParseResponse(line string) (Response, error) {
	status, rest, _ := strings.Cut(line, " ")
	switch status {
	case RespNotFound:
		return Response{Status: RespNotFound}, nil
	case RespErr:
		return Response{Status: RespErr, Message: rest}, nil
	case RespOK:
		if rest == "" {
			return Response{Status: RespOK}, nil
		}
		v, err := enc.DecodeString(rest)
		if err != nil {
			return Response{}, fmt.Errorf("%w: bad value", ErrProtocol)
		}
		return Response{Status: RespOK, Value: v}, nil
	}
	return Response{}, fmt.Errorf("%w: unknown status %q", ErrProtocol, status)
}
