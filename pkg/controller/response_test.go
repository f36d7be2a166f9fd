// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"errors"
	"testing"

	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/query"

	"github.com/stretchr/testify/assert"
)

func TestResponseString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		resp Response
		want string
		ok   bool
	}{
		{"code", codeResponse(PutSuccess), "PUT_SUCCESS", true},
		{"failure", codeResponse(GetFailed), "GET_FAILED", false},
		{"value", valueResponse("v"), "v", true},
		{"empty value", valueResponse(""), "", true},
		{"no logs", logsResponse(nil), "LOGS 0", true},
		{"logs", logsResponse([]string{"a", "b"}), "LOGS 2\na\nb", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.resp.String())
			assert.Equal(t, tt.ok, tt.resp.OK())
		})
	}
}

func TestFailedCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, GetFailed, failedCode(query.CmdGet))
	assert.Equal(t, PutFailed, failedCode(query.CmdPut))
	assert.Equal(t, DeleteFailed, failedCode(query.CmdDelete))
	assert.Equal(t, GetMFailed, failedCode(query.CmdGetM))
	assert.Equal(t, PutMFailed, failedCode(query.CmdPutM))
	assert.Equal(t, GetLogsFailed, failedCode(query.CmdGetLogs))
	assert.Equal(t, InvalidCommand, failedCode(query.CmdInvalid))
}

func TestError(t *testing.T) {
	t.Parallel()

	cause := errors.New("backend down")
	err := error(&Error{Code: PutFailed, Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.EqualError(t, err, "PUT_FAILED: backend down")

	var qerr *Error
	assert.True(t, errors.As(err, &qerr))
	assert.Equal(t, "PUT_FAILED", qerr.Response().String())
}
