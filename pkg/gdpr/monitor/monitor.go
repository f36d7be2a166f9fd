// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor decides whether an operation must be written to the audit
// log and forwards it when it must.
package monitor

import (
	"context"

	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/filter"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/policy"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/query"
	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"
)

// AuditLogger receives operations that must be recorded.
type AuditLogger interface {
	LogEncodedQuery(ctx context.Context, q *query.Query, p *policy.Default, valid bool, newValue string) error
}

// Rule decides whether monitoring is required for one operation shape.
type Rule interface {
	Required() bool
	Name() string
}

// ExistingValue covers get, delete, getm and put on an existing key: the
// stored monitor flag decides.
type ExistingValue struct {
	Filter *filter.Filter
}

func (r ExistingValue) Required() bool {
	return r.Filter != nil && r.Filter.CheckMonitoring()
}

func (ExistingValue) Name() string { return "existing_value" }

// FirstInsert covers put on a new key: the query's monitor override, else
// the session default.
type FirstInsert struct {
	Query  *query.Query
	Policy *policy.Default
}

func (r FirstInsert) Required() bool {
	if m := r.Query.Overrides.Monitor; m != nil {
		return *m
	}
	return r.Policy.Monitor
}

func (FirstInsert) Name() string { return "first_insert" }

// MetadataUpdate covers putm. Monitoring can be switched on by the query but
// a stored flag that is already set always wins.
type MetadataUpdate struct {
	Filter *filter.Filter
	Query  *query.Query
}

func (r MetadataUpdate) Required() bool {
	if r.Filter != nil && r.Filter.CheckMonitoring() {
		return true
	}
	m := r.Query.Overrides.Monitor
	return m != nil && *m
}

func (MetadataUpdate) Name() string { return "metadata_update" }

// Monitor binds a rule to the query it judges and the log it writes to.
type Monitor struct {
	rule  Rule
	log   AuditLogger
	query *query.Query
	pol   *policy.Default
}

// New returns a Monitor for q issued under p.
func New(rule Rule, log AuditLogger, q *query.Query, p *policy.Default) *Monitor {
	return &Monitor{rule: rule, log: log, query: q, pol: p}
}

// Required reports whether the operation must be logged.
func (m *Monitor) Required() bool {
	return m.rule.Required()
}

// MonitorQuery logs the outcome of the operation if the rule requires it and
// reports whether it did.
func (m *Monitor) MonitorQuery(ctx context.Context, valid bool, newValue string) (bool, error) {
	if !m.rule.Required() {
		return false, nil
	}
	if err := m.log.LogEncodedQuery(ctx, m.query, m.pol, valid, newValue); err != nil {
		return false, err
	}
	logger.Ctx(ctx).Debug().
		Str("rule", m.rule.Name()).
		Str("key", m.query.Key).
		Str("command", m.query.Cmd.String()).
		Bool("valid", valid).
		Msg("operation audited")
	return true, nil
}
