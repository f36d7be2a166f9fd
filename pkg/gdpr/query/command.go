// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package query

import "strings"

// Command is the operation a query requests.
type Command uint8

const (
	CmdInvalid Command = iota
	CmdGet
	CmdPut
	CmdDelete
	CmdGetM
	CmdPutM
	CmdGetLogs
	CmdExit
)

var commandNames = map[Command]string{
	CmdInvalid: "invalid",
	CmdGet:     "get",
	CmdPut:     "put",
	CmdDelete:  "delete",
	CmdGetM:    "getm",
	CmdPutM:    "putm",
	CmdGetLogs: "getLogs",
	CmdExit:    "exit",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return commandNames[CmdInvalid]
}

// ParseCommand maps a case-insensitive command name to a Command.
func ParseCommand(name string) Command {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "get":
		return CmdGet
	case "put":
		return CmdPut
	case "del", "delete":
		return CmdDelete
	case "getm":
		return CmdGetM
	case "putm":
		return CmdPutM
	case "getlogs":
		return CmdGetLogs
	case "exit":
		return CmdExit
	}
	return CmdInvalid
}

// arity returns the accepted argument counts for c.
func (c Command) arity() (minArgs, maxArgs int) {
	switch c {
	case CmdGet, CmdDelete, CmdGetM, CmdPutM:
		return 1, 1
	case CmdPut:
		return 2, 2
	case CmdGetLogs:
		return 0, 1
	}
	return 0, 0
}

// IsWrite reports whether c mutates the store.
func (c Command) IsWrite() bool {
	return c == CmdPut || c == CmdPutM || c == CmdDelete
}
