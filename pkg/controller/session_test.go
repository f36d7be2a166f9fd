// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LeeDigitalWorks/gdprkv/pkg/auditlog"
	"github.com/LeeDigitalWorks/gdprkv/pkg/cipher"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/policy"
	"github.com/LeeDigitalWorks/gdprkv/pkg/kv"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine  *Engine
	backend *kv.Memory
	audit   *auditlog.Logger
}

func newTestEnv(t *testing.T, engine *cipher.Engine) *testEnv {
	t.Helper()
	return newTestEnvWithLogCipher(t, engine, engine)
}

// newTestEnvWithLogCipher seals stored values with engine and audit entries
// with logCipher; either may be nil.
func newTestEnvWithLogCipher(t *testing.T, engine, logCipher *cipher.Engine) *testEnv {
	t.Helper()
	backend := kv.NewMemory()
	audit, err := auditlog.New(auditlog.Config{Dir: t.TempDir(), MaxOpenFiles: 16, Cipher: logCipher})
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })
	return &testEnv{
		engine:  NewEngine(kv.NewStore(backend, engine), audit),
		backend: backend,
		audit:   audit,
	}
}

func (e *testEnv) session(t *testing.T, line string) (*Session, context.Context) {
	t.Helper()
	p, err := policy.ParseLine(line)
	require.NoError(t, err)
	return e.engine.NewSession(context.Background(), p)
}

func (e *testEnv) raw(t *testing.T, key string) string {
	t.Helper()
	v, found, err := e.backend.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found, key)
	return string(v)
}

func (e *testEnv) entries(t *testing.T, key string) []auditlog.Entry {
	t.Helper()
	entries, err := e.audit.ReadKey(key, time.Now().Add(time.Hour).UnixNano())
	require.NoError(t, err)
	return entries
}

func do(t *testing.T, s *Session, ctx context.Context, line string) Response {
	t.Helper()
	resp, out := s.HandleLine(ctx, line)
	require.Equal(t, Continue, out, line)
	return resp
}

const (
	alicePolicy = "user_policy -sessionKey alice -encryption false -purpose purpose0 -objection -origin eu -expTime 0 -objShare -monitor true"
	bobPolicy   = "user_policy -sessionKey bob -encryption false -purpose purpose0 -objection -origin eu -expTime 0 -objShare -monitor false"
	regPolicy   = "user_policy -sessionKey reg -encryption false -purpose -objection -origin eu -expTime 0 -objShare -monitor false"
)

type auditSummary struct {
	User     string
	Op       auditlog.Operation
	Valid    bool
	NewValue string
}

func summarize(entries []auditlog.Entry) []auditSummary {
	out := make([]auditSummary, len(entries))
	for i, e := range entries {
		out[i] = auditSummary{User: e.User, Op: e.Op, Valid: e.Valid, NewValue: e.NewValue}
	}
	return out
}

func TestEndToEndScenario(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	alice, actx := env.session(t, alicePolicy)
	bob, bctx := env.session(t, bobPolicy)

	assert.Equal(t, PutSuccess, do(t, alice, actx, `query(put("k1","secret"))`).Code)
	assert.Equal(t, "alice|0|1|0|eu|0||1|secret", env.raw(t, "k1"))

	assert.Equal(t, "GET_FAILED", do(t, bob, bctx, `query(get("k1"))`).String())

	resp := do(t, alice, actx, `query(get("k1"))`)
	assert.Equal(t, Value, resp.Code)
	assert.Equal(t, "secret", resp.String())

	want := []auditSummary{
		{User: "alice", Op: auditlog.OpPut, Valid: true, NewValue: "alice|0|1|0|eu|0||1|secret"},
		{User: "bob", Op: auditlog.OpGet, Valid: false},
		{User: "alice", Op: auditlog.OpGet, Valid: true},
	}
	if diff := cmp.Diff(want, summarize(env.entries(t, "k1"))); diff != "" {
		t.Errorf("audit log mismatch (-want +got):\n%s", diff)
	}
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	alice, ctx := env.session(t, alicePolicy)

	assert.Equal(t, GetFailed, do(t, alice, ctx, `query(get("nope"))`).Code)
	assert.Empty(t, env.entries(t, "nope"), "nothing to monitor without a stored value")
}

func TestUnmonitoredKeyIsNotAudited(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	bob, ctx := env.session(t, bobPolicy)

	assert.Equal(t, PutSuccess, do(t, bob, ctx, `query(put("k","v"))`).Code)
	assert.Equal(t, "v", do(t, bob, ctx, `query(get("k"))`).String())
	assert.Empty(t, env.entries(t, "k"))
}

func TestPutOnExistingKeepsMetadata(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	alice, ctx := env.session(t, alicePolicy)

	require.Equal(t, PutSuccess, do(t, alice, ctx, `query(put("k","v1"))&objPur("purpose0,purpose1")&objShare("bob")`).Code)
	before := env.raw(t, "k")
	assert.Equal(t, "alice|0|3|0|eu|0|bob|1|v1", before)

	// Overrides on a put of an existing key never touch metadata.
	require.Equal(t, PutSuccess, do(t, alice, ctx, `query(put("k","v2"))&objShare("carol")&monitor("false")`).Code)
	assert.Equal(t, "alice|0|3|0|eu|0|bob|1|v2", env.raw(t, "k"))
}

func TestSharedUserCanWrite(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	alice, actx := env.session(t, alicePolicy)
	bob, bctx := env.session(t, bobPolicy)

	require.Equal(t, PutSuccess, do(t, alice, actx, `query(put("k","v1"))&objShare("bobby")`).Code)
	assert.Equal(t, PutFailed, do(t, bob, bctx, `query(put("k","hijack"))`).Code)
	assert.Equal(t, "alice|0|1|0|eu|0|bobby|1|v1", env.raw(t, "k"))

	require.Equal(t, PutMSuccess, do(t, alice, actx, `query(putm("k"))&objShare("bob,bobby")`).Code)
	assert.Equal(t, PutSuccess, do(t, bob, bctx, `query(put("k","v2"))`).Code)
	assert.Equal(t, "alice|0|1|0|eu|0|bob,bobby|1|v2", env.raw(t, "k"))
}

func TestConditions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	alice, ctx := env.session(t, alicePolicy)
	require.Equal(t, PutSuccess, do(t, alice, ctx, `query(put("k","v"))&objPur("purpose0,purpose1")&objObjections("purpose2")&objShare("bob")`).Code)

	tests := []struct {
		query string
		want  string
	}{
		{`query(get("k"))&objPurIs("purpose1")`, "v"},
		{`query(get("k"))&objPurIs("purpose0,purpose1")`, "v"},
		{`query(get("k"))&objPurIs("purpose0,purpose3")`, "GET_FAILED"},
		{`query(get("k"))&objPurIs("purpose2")`, "GET_FAILED"},
		{`query(get("k"))&sessionKeyIs("bob")`, "v"},
		{`query(get("k"))&sessionKeyIs("carol")`, "GET_FAILED"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, do(t, alice, ctx, tt.query).String(), tt.query)
	}
}

func TestExpiration(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	var (
		mu  sync.Mutex
		now = time.Unix(1_700_000_000, 0)
	)
	env.engine.Now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	alice, ctx := env.session(t, alicePolicy)

	require.Equal(t, PutSuccess, do(t, alice, ctx, `query(put("k","v"))&objExp("10")`).Code)
	assert.Equal(t, "alice|0|1|0|eu|1700000010||1|v", env.raw(t, "k"))
	assert.Equal(t, "v", do(t, alice, ctx, `query(get("k"))`).String())

	mu.Lock()
	now = now.Add(10 * time.Second)
	mu.Unlock()
	assert.Equal(t, "v", do(t, alice, ctx, `query(get("k"))`).String())

	mu.Lock()
	now = now.Add(time.Second)
	mu.Unlock()
	assert.Equal(t, GetFailed, do(t, alice, ctx, `query(get("k"))`).Code)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	alice, actx := env.session(t, alicePolicy)
	bob, bctx := env.session(t, bobPolicy)
	require.Equal(t, PutSuccess, do(t, alice, actx, `query(put("k","v"))`).Code)

	assert.Equal(t, DeleteFailed, do(t, bob, bctx, `query(del("k"))`).Code)
	assert.Equal(t, DeleteSuccess, do(t, alice, actx, `query(delete("k"))`).Code)
	assert.Equal(t, GetFailed, do(t, alice, actx, `query(get("k"))`).Code)
	assert.Equal(t, DeleteFailed, do(t, alice, actx, `query(del("k"))`).Code)

	entries := env.entries(t, "k")
	require.Len(t, entries, 3)
	assert.Equal(t, auditlog.OpDelete, entries[1].Op)
	assert.False(t, entries[1].Valid)
	assert.Equal(t, auditlog.OpDelete, entries[2].Op)
	assert.True(t, entries[2].Valid)
}

func TestGetMAndPutM(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	alice, actx := env.session(t, alicePolicy)
	bob, bctx := env.session(t, bobPolicy)
	require.Equal(t, PutSuccess, do(t, alice, actx, `query(put("k","v|with|pipes"))`).Code)

	assert.Equal(t, "alice|0|1|0|eu|0||1|", do(t, alice, actx, `query(getm("k"))`).String())
	assert.Equal(t, GetMFailed, do(t, bob, bctx, `query(getm("k"))`).Code)
	assert.Equal(t, PutMFailed, do(t, bob, bctx, `query(putm("k"))&objShare("bob")`).Code)

	// putm without overrides is the identity.
	require.Equal(t, PutMSuccess, do(t, alice, actx, `query(putm("k"))`).Code)
	assert.Equal(t, "alice|0|1|0|eu|0||1|v|with|pipes", env.raw(t, "k"))

	// The encryption flag is fixed at first insert.
	require.Equal(t, PutMSuccess, do(t, alice, actx, `query(putm("k"))&encryption("true")&objShare("bob")&objOrig("us")`).Code)
	assert.Equal(t, "alice|0|1|0|us|0|bob|1|v|with|pipes", env.raw(t, "k"))
	assert.Equal(t, "v|with|pipes", do(t, bob, bctx, `query(get("k"))`).String())

	assert.Equal(t, PutMFailed, do(t, alice, actx, `query(putm("missing"))`).Code)

	entries := env.entries(t, "k")
	last := entries[len(entries)-1]
	assert.Equal(t, "bob", last.User)
	assert.Equal(t, auditlog.OpGet, last.Op)
	putm := entries[len(entries)-2]
	assert.Equal(t, auditlog.OpPutM, putm.Op)
	assert.Equal(t, "alice|0|1|0|us|0|bob|1|v|with|pipes", putm.NewValue)
}

func TestPutMActivatesMonitoring(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	bob, ctx := env.session(t, bobPolicy)
	require.Equal(t, PutSuccess, do(t, bob, ctx, `query(put("k","v"))`).Code)
	require.Empty(t, env.entries(t, "k"))

	require.Equal(t, PutMSuccess, do(t, bob, ctx, `query(putm("k"))&monitor("true")`).Code)
	assert.Equal(t, "bob|0|1|0|eu|0||1|v", env.raw(t, "k"))
	require.Len(t, env.entries(t, "k"), 1)

	// Switching monitoring off is itself audited.
	require.Equal(t, PutMSuccess, do(t, bob, ctx, `query(putm("k"))&monitor("false")`).Code)
	assert.Equal(t, "bob|0|1|0|eu|0||0|v", env.raw(t, "k"))
	assert.Len(t, env.entries(t, "k"), 2)
}

func TestEncryptedRecords(t *testing.T) {
	t.Parallel()

	engine, err := cipher.New(bytes.Repeat([]byte("d"), 32), bytes.Repeat([]byte("l"), 32))
	require.NoError(t, err)
	env := newTestEnv(t, engine)
	alice, ctx := env.session(t, alicePolicy)

	require.Equal(t, PutSuccess, do(t, alice, ctx, `query(put("k","secret"))&encryption("true")`).Code)
	raw := env.raw(t, "k")
	assert.Contains(t, raw, "alice|1|1|0|eu|0||1|")
	assert.NotContains(t, raw, "secret")

	assert.Equal(t, "secret", do(t, alice, ctx, `query(get("k"))`).String())
	assert.Equal(t, "alice|1|1|0|eu|0||1|", do(t, alice, ctx, `query(getm("k"))`).String())

	require.Equal(t, PutMSuccess, do(t, alice, ctx, `query(putm("k"))&encryption("false")&objOrig("ch")`).Code)
	assert.Equal(t, "secret", do(t, alice, ctx, `query(get("k"))`).String())
	assert.Equal(t, "alice|1|1|0|ch|0||1|", do(t, alice, ctx, `query(getm("k"))`).String())
}

func TestEncryptedValueStaysOutOfUnsealedLog(t *testing.T) {
	t.Parallel()

	engine, err := cipher.NewDemo()
	require.NoError(t, err)
	env := newTestEnvWithLogCipher(t, engine, nil)
	alice, ctx := env.session(t, strings.Replace(alicePolicy, "-encryption false", "-encryption true", 1))

	require.Equal(t, PutSuccess, do(t, alice, ctx, `query(put("k","TOPSECRET"))`).Code)
	require.Equal(t, PutMSuccess, do(t, alice, ctx, `query(putm("k"))&objOrig("ch")`).Code)
	assert.Equal(t, "TOPSECRET", do(t, alice, ctx, `query(get("k"))`).String())
	assert.NotContains(t, env.raw(t, "k"), "TOPSECRET")

	raw, err := os.ReadFile(env.audit.Path("k"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "TOPSECRET")

	got := summarize(env.entries(t, "k"))
	require.Len(t, got, 3)
	assert.Equal(t, "alice|1|1|0|eu|0||1|", got[0].NewValue)
	assert.Equal(t, "alice|1|1|0|ch|0||1|", got[1].NewValue)
}

func TestCorruptMetadataAbortsSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	require.NoError(t, env.backend.Put(context.Background(), "k", []byte("alice|x|1|0|eu|0||1|v")))
	alice, ctx := env.session(t, alicePolicy)

	tests := []struct {
		line string
		code Code
	}{
		{`query(get("k"))`, GetFailed},
		{`query(put("k","v2"))`, PutFailed},
		{`query(del("k"))`, DeleteFailed},
		{`query(getm("k"))`, GetMFailed},
		{`query(putm("k"))`, PutMFailed},
	}
	for _, tt := range tests {
		resp, out := alice.HandleLine(ctx, tt.line)
		assert.Equal(t, tt.code, resp.Code, tt.line)
		assert.Equal(t, Abort, out, tt.line)
	}
	assert.Equal(t, "alice|x|1|0|eu|0||1|v", env.raw(t, "k"))

	// Denials and missing keys keep the session open.
	assert.Equal(t, GetFailed, do(t, alice, ctx, `query(get("missing"))`).Code)
}

func TestInvalidAndExit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	alice, ctx := env.session(t, alicePolicy)

	for _, line := range []string{
		`query(frobnicate("k"))`,
		`get k`,
		`query(get("../etc/passwd"))`,
		`query(get("k"))&bogus("x")`,
	} {
		assert.Equal(t, InvalidCommand, do(t, alice, ctx, line).Code, line)
	}

	_, out := alice.HandleLine(ctx, "query(exit)")
	assert.Equal(t, Exit, out)
	_, out = alice.HandleLine(ctx, "query(EXIT())")
	assert.Equal(t, Exit, out)
}

func TestGetLogs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	alice, actx := env.session(t, alicePolicy)
	reg, rctx := env.session(t, regPolicy)

	require.Equal(t, PutSuccess, do(t, alice, actx, `query(put("k1","v"))`).Code)
	require.Equal(t, "v", do(t, alice, actx, `query(get("k1"))`).String())
	require.Equal(t, PutSuccess, do(t, alice, actx, `query(put("k2","w"))`).Code)

	assert.Equal(t, GetLogsFailed, do(t, alice, actx, `query(getLogs("k1"))`).Code)
	assert.Equal(t, GetLogsFailed, do(t, alice, actx, `query(getLogs())&sessionKeyIs("reg")`).Code)

	resp := do(t, reg, rctx, `query(getLogs("k1"))`)
	require.Equal(t, Logs, resp.Code)
	require.Len(t, resp.Lines, 2)
	assert.Contains(t, resp.Lines[0], "User: alice, Operation: put, Result: valid, New value: {User/Owner: alice")
	assert.Contains(t, resp.Lines[1], "Operation: get, Result: valid")
	assert.Regexp(t, `^LOGS 2\nTimestamp: `, resp.String())

	// alice may act as the regulator only by claiming its identity.
	resp = do(t, alice, actx, `query(getLogs())&sessionKey("reg")`)
	require.Equal(t, Logs, resp.Code)
	require.Len(t, resp.Lines, 3)
	assert.Regexp(t, `^k1: Timestamp: `, resp.Lines[0])
	assert.Regexp(t, `^k2: Timestamp: `, resp.Lines[2])

	resp = do(t, reg, rctx, `query(getLogs("never"))`)
	assert.Equal(t, "LOGS 0", resp.String())

	// getLogs itself leaves no trace in the logs it reads.
	assert.Len(t, env.entries(t, "k1"), 2)
}
