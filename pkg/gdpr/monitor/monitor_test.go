// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/filter"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/policy"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/query"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	user     string
	cmd      query.Command
	valid    bool
	newValue string
}

type fakeLog struct {
	calls []call
	err   error
}

func (f *fakeLog) LogEncodedQuery(_ context.Context, q *query.Query, p *policy.Default, valid bool, newValue string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, call{user: policy.ActingKey(q.Overrides, p), cmd: q.Cmd, valid: valid, newValue: newValue})
	return nil
}

func mustFilter(t *testing.T, raw string) *filter.Filter {
	t.Helper()
	f, err := filter.New(raw, true)
	require.NoError(t, err)
	return f
}

func mustParse(t *testing.T, src string) *query.Query {
	t.Helper()
	q, err := query.Parse(src)
	require.NoError(t, err)
	return q
}

const (
	monitored   = "alice|0|1|0|eu|0||1|v"
	unmonitored = "alice|0|1|0|eu|0||0|v"
)

func TestExistingValue(t *testing.T) {
	t.Parallel()

	missing, err := filter.New("", false)
	require.NoError(t, err)

	assert.True(t, ExistingValue{Filter: mustFilter(t, monitored)}.Required())
	assert.False(t, ExistingValue{Filter: mustFilter(t, unmonitored)}.Required())
	assert.False(t, ExistingValue{Filter: missing}.Required())
}

func TestFirstInsert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		policy  bool
		require bool
	}{
		{"policy on", `query(put("k","v"))`, true, true},
		{"policy off", `query(put("k","v"))`, false, false},
		{"query turns on", `query(put("k","v"))&monitor("true")`, false, true},
		{"query turns off", `query(put("k","v"))&monitor("false")`, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := FirstInsert{Query: mustParse(t, tt.query), Policy: &policy.Default{Monitor: tt.policy}}
			assert.Equal(t, tt.require, r.Required())
		})
	}
}

// Monitoring on putm is one-way: a query may switch it on, never off.
func TestMetadataUpdateOneWayActivation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stored  string
		query   string
		require bool
	}{
		{"stored on, no override", monitored, `query(putm("k"))`, true},
		{"stored on, query off", monitored, `query(putm("k"))&monitor("false")`, true},
		{"stored off, query on", unmonitored, `query(putm("k"))&monitor("true")`, true},
		{"stored off, query off", unmonitored, `query(putm("k"))&monitor("false")`, false},
		{"stored off, no override", unmonitored, `query(putm("k"))`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := MetadataUpdate{Filter: mustFilter(t, tt.stored), Query: mustParse(t, tt.query)}
			assert.Equal(t, tt.require, r.Required())
		})
	}
}

func TestMonitorQuery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &policy.Default{OwnerKey: "alice"}
	q := mustParse(t, `query(get("k"))`)

	log := &fakeLog{}
	logged, err := New(ExistingValue{Filter: mustFilter(t, monitored)}, log, q, p).MonitorQuery(ctx, false, "")
	require.NoError(t, err)
	assert.True(t, logged)
	assert.Equal(t, []call{{user: "alice", cmd: query.CmdGet}}, log.calls)

	log = &fakeLog{}
	logged, err = New(ExistingValue{Filter: mustFilter(t, unmonitored)}, log, q, p).MonitorQuery(ctx, true, "")
	require.NoError(t, err)
	assert.False(t, logged)
	assert.Empty(t, log.calls)
}

func TestMonitorQueryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk full")
	log := &fakeLog{err: boom}
	q := mustParse(t, `query(put("k","v"))`)
	m := New(FirstInsert{Query: q, Policy: &policy.Default{Monitor: true}}, log, q, &policy.Default{})

	logged, err := m.MonitorQuery(context.Background(), true, "x")
	assert.ErrorIs(t, err, boom)
	assert.False(t, logged)
}
