// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"
)

// =============================================================================
// Commands
// =============================================================================

func TestParseCommands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src   string
		cmd   Command
		key   string
		value string
	}{
		{src: `query(get("k1"))`, cmd: CmdGet, key: "k1"},
		{src: `query(put("k1","v1"))`, cmd: CmdPut, key: "k1", value: "v1"},
		{src: `query(put("k1", "a,b&c)"))`, cmd: CmdPut, key: "k1", value: "a,b&c)"},
		{src: `query(put("k1","say \"hi\""))`, cmd: CmdPut, key: "k1", value: `say "hi"`},
		{src: `query(put("k1",""))`, cmd: CmdPut, key: "k1"},
		{src: `query(del("k1"))`, cmd: CmdDelete, key: "k1"},
		{src: `query(delete("k1"))`, cmd: CmdDelete, key: "k1"},
		{src: `query(getm("k1"))`, cmd: CmdGetM, key: "k1"},
		{src: `query(putm("k1"))`, cmd: CmdPutM, key: "k1"},
		{src: `query(getLogs("k1"))`, cmd: CmdGetLogs, key: "k1"},
		{src: `query(getLogs())`, cmd: CmdGetLogs},
		{src: `query(GETLOGS())`, cmd: CmdGetLogs},
		{src: `query(exit)`, cmd: CmdExit},
		{src: `  query( exit() )  `, cmd: CmdExit},
	}

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			t.Parallel()

			q, err := Parse(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.cmd, q.Cmd)
			assert.Equal(t, tt.key, q.Key)
			assert.Equal(t, tt.value, q.Value)
			assert.True(t, q.Overrides.IsEmpty())
		})
	}
}

func TestParseInvalid(t *testing.T) {
	t.Parallel()

	tests := []string{
		``,
		`get("k")`,
		`query(fetch("k"))`,
		`query(get())`,
		`query(get("a","b"))`,
		`query(put("k"))`,
		`query(get(k))`,
		`query(get("k")`,
		`query(get("k))`,
		`query(get("k"))&query(get("j"))`,
		`query(get("k"))&colour("blue")`,
		`query(get("k"))&objPur("ads")`,
		`query(get("k"))&monitor("perhaps")`,
		`query(get("k"))&objPur("purpose0")&objPur("purpose1")`,
		`query(get("k"))&objPurIs`,
		`query(get("k"))&Is("x")`,
		`query(get("k")) objPur("purpose0")`,
		`query(get("../etc/passwd"))`,
		`query(get(".."))`,
	}

	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			t.Parallel()

			q, err := Parse(src)
			require.Error(t, err)
			require.NotNil(t, q)
			assert.Equal(t, CmdInvalid, q.Cmd)
		})
	}
}

// =============================================================================
// Overrides and conditions
// =============================================================================

func TestParseOverrides(t *testing.T) {
	t.Parallel()

	q, err := Parse(`query(put("k1","v1"))&sessionKey("bob")&encryption("true")&objPur("purpose0,purpose1")` +
		`&objObjections("purpose2")&objOrig("us")&objExp("60")&objShare("carol, dave")&monitor("false")`)
	require.NoError(t, err)

	o := q.Overrides
	require.NotNil(t, o.OwnerKey)
	assert.Equal(t, "bob", *o.OwnerKey)
	assert.True(t, *o.Encryption)
	assert.Equal(t, metadata.Bitset(3), *o.Purpose)
	assert.Equal(t, metadata.Bitset(4), *o.Objection)
	assert.Equal(t, "us", *o.Origin)
	assert.Equal(t, int64(60), *o.Expiration)
	assert.Equal(t, "carol,dave", *o.Share)
	assert.False(t, *o.Monitor)
}

func TestParseConditions(t *testing.T) {
	t.Parallel()

	q, err := Parse(`query(get("k1"))&sessionKeyIs("bob")&objPurIs("purpose1")&objObjectionsIs("purpose3")` +
		`&objOrigIs("eu")&objExpIs("0")&objShareIs("alice")&monitorIs("true")`)
	require.NoError(t, err)
	assert.True(t, q.Overrides.IsEmpty())

	c := q.Conditions
	assert.Equal(t, "bob", *c.UserKey)
	assert.Equal(t, metadata.Bitset(2), *c.Purpose)
	assert.Equal(t, metadata.Bitset(8), *c.Objection)
	assert.Equal(t, "eu", *c.Origin)
	assert.Equal(t, int64(0), *c.Expiration)
	assert.Equal(t, "alice", *c.Share)
	assert.True(t, *c.Monitor)
}

func TestPurposeOr(t *testing.T) {
	t.Parallel()

	var c Conditions
	assert.Equal(t, metadata.Bitset(1), c.PurposeOr(1))

	empty := metadata.Bitset(0)
	c.Purpose = &empty
	assert.Equal(t, metadata.Bitset(1), c.PurposeOr(1))

	two := metadata.Bitset(2)
	c.Purpose = &two
	assert.Equal(t, metadata.Bitset(2), c.PurposeOr(1))
}

func TestCommandNames(t *testing.T) {
	t.Parallel()

	for _, c := range []Command{CmdGet, CmdPut, CmdDelete, CmdGetM, CmdPutM, CmdGetLogs, CmdExit} {
		assert.Equal(t, c, ParseCommand(c.String()))
	}
	assert.Equal(t, "invalid", Command(42).String())
	assert.True(t, CmdPutM.IsWrite())
	assert.False(t, CmdGetM.IsWrite())
}
