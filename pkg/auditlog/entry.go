// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package auditlog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/query"
)

// Operation is the 3-bit operation code stored in every entry.
type Operation uint8

const (
	OpInvalid Operation = iota
	OpGet
	OpPut
	OpDelete
	OpGetM
	OpPutM
	OpGetLogs
)

var operationNames = [...]string{"invalid", "get", "put", "delete", "getm", "putm", "getLogs"}

func (o Operation) String() string {
	if int(o) < len(operationNames) {
		return operationNames[o]
	}
	return operationNames[OpInvalid]
}

// OperationFor maps a query command to its logged operation.
func OperationFor(cmd query.Command) Operation {
	switch cmd {
	case query.CmdGet:
		return OpGet
	case query.CmdPut:
		return OpPut
	case query.CmdDelete:
		return OpDelete
	case query.CmdGetM:
		return OpGetM
	case query.CmdPutM:
		return OpPutM
	case query.CmdGetLogs:
		return OpGetLogs
	}
	return OpInvalid
}

const (
	timestampSize = 8
	// frameHeaderSize is the little-endian uint64 length in front of each entry.
	frameHeaderSize = 8
	// maxFrameSize bounds a single entry so a corrupt header cannot trigger a huge allocation.
	maxFrameSize = 64 << 20

	opShift   = 5
	validBit  = 0x01
	reserved  = 0x1e
	opMaxBits = 0x07
)

var (
	ErrCorruptEntry = errors.New("corrupt audit log entry")
	ErrInvalidUser  = errors.New("user key contains the log delimiter")
)

// Entry is one audit record. On disk it is laid out as
//
//	[8-byte LE timestamp][delim][user][delim][op byte][delim][new value]
//
// where the op byte holds the operation in bits 7..5 and the validity flag
// in bit 0.
type Entry struct {
	Timestamp int64 // nanoseconds since the epoch
	User      string
	Op        Operation
	Valid     bool
	NewValue  string
}

func opByte(op Operation, valid bool) byte {
	b := byte(op&opMaxBits) << opShift
	if valid {
		b |= validBit
	}
	return b
}

// EncodeEntry serializes e with the given delimiter.
func EncodeEntry(e Entry, delim byte) ([]byte, error) {
	if bytes.IndexByte([]byte(e.User), delim) >= 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUser, e.User)
	}
	buf := make([]byte, 0, timestampSize+len(e.User)+len(e.NewValue)+4)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timestamp))
	buf = append(buf, delim)
	buf = append(buf, e.User...)
	buf = append(buf, delim, opByte(e.Op, e.Valid), delim)
	buf = append(buf, e.NewValue...)
	return buf, nil
}

// DecodeEntry parses a buffer produced by EncodeEntry.
func DecodeEntry(buf []byte, delim byte) (Entry, error) {
	if len(buf) < timestampSize+4 || buf[timestampSize] != delim {
		return Entry{}, fmt.Errorf("%w: short or misaligned header", ErrCorruptEntry)
	}
	e := Entry{Timestamp: int64(binary.LittleEndian.Uint64(buf[:timestampSize]))}

	rest := buf[timestampSize+1:]
	end := bytes.IndexByte(rest, delim)
	if end < 0 || len(rest) < end+3 || rest[end+2] != delim {
		return Entry{}, fmt.Errorf("%w: missing operation field", ErrCorruptEntry)
	}
	e.User = string(rest[:end])

	op := rest[end+1]
	if op&reserved != 0 {
		return Entry{}, fmt.Errorf("%w: reserved bits set in 0x%02x", ErrCorruptEntry, op)
	}
	e.Op = Operation(op >> opShift)
	e.Valid = op&validBit != 0
	e.NewValue = string(rest[end+3:])
	return e, nil
}
