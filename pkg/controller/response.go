// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"strconv"
	"strings"

	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/query"
)

// Code is the status line returned for a query.
type Code string

const (
	PutSuccess     Code = "PUT_SUCCESS"
	PutFailed      Code = "PUT_FAILED"
	GetFailed      Code = "GET_FAILED"
	DeleteSuccess  Code = "DELETE_SUCCESS"
	DeleteFailed   Code = "DELETE_FAILED"
	GetMFailed     Code = "GETM_FAILED"
	PutMSuccess    Code = "PUTM_SUCCESS"
	PutMFailed     Code = "PUTM_FAILED"
	GetLogsFailed  Code = "GET_LOGS_FAILED"
	InvalidCommand Code = "INVALID_COMMAND"
	InvalidPolicy  Code = "INVALID_POLICY"

	// Value marks a response that carries data instead of a status code.
	Value Code = ""
	// Logs prefixes a getLogs response: "LOGS <n>" followed by n lines.
	Logs Code = "LOGS"
)

// Response is the answer to one query.
type Response struct {
	Code  Code
	Value string
	Lines []string
}

func codeResponse(c Code) Response {
	return Response{Code: c}
}

func valueResponse(v string) Response {
	return Response{Code: Value, Value: v}
}

func logsResponse(lines []string) Response {
	if lines == nil {
		lines = []string{}
	}
	return Response{Code: Logs, Lines: lines}
}

// OK reports whether the query succeeded.
func (r Response) OK() bool {
	switch r.Code {
	case PutSuccess, DeleteSuccess, PutMSuccess, Value, Logs:
		return true
	}
	return false
}

// String renders r for the wire, without the final newline.
func (r Response) String() string {
	switch r.Code {
	case Value:
		return r.Value
	case Logs:
		var b strings.Builder
		b.WriteString(string(Logs) + " " + strconv.Itoa(len(r.Lines)))
		for _, l := range r.Lines {
			b.WriteByte('\n')
			b.WriteString(l)
		}
		return b.String()
	}
	return string(r.Code)
}

// Error is a query failure together with the code reported to the client.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Response returns the status response for e.
func (e *Error) Response() Response {
	return codeResponse(e.Code)
}

// failedCode is the failure code of each command.
func failedCode(c query.Command) Code {
	switch c {
	case query.CmdGet:
		return GetFailed
	case query.CmdPut:
		return PutFailed
	case query.CmdDelete:
		return DeleteFailed
	case query.CmdGetM:
		return GetMFailed
	case query.CmdPutM:
		return PutMFailed
	case query.CmdGetLogs:
		return GetLogsFailed
	}
	return InvalidCommand
}
