// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	gctx "github.com/LeeDigitalWorks/gdprkv/pkg/context"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/filter"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/metadata"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/monitor"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/policy"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/query"
	"github.com/LeeDigitalWorks/gdprkv/pkg/gdpr/rewriter"
	"github.com/LeeDigitalWorks/gdprkv/pkg/kv"
	"github.com/LeeDigitalWorks/gdprkv/pkg/logger"
	"github.com/LeeDigitalWorks/gdprkv/pkg/regulator"
	"github.com/LeeDigitalWorks/gdprkv/pkg/utils"
)

// AuditLog is the audit logger as seen by the controller: monitors write to
// it and regulators read from it.
type AuditLog interface {
	monitor.AuditLogger
	regulator.LogReader
}

// Store is the record store the controller mediates.
type Store interface {
	GetRecord(ctx context.Context, key string) (string, bool, error)
	PutRecord(ctx context.Context, key, record string) error
	Delete(ctx context.Context, key string) error
	GetMetadataOnly(ctx context.Context, key string) (string, bool, error)
	PutMetadataOnly(ctx context.Context, key, prefix string) error
}

var _ Store = (*kv.Store)(nil)

// Engine holds what every session shares.
type Engine struct {
	Store Store
	Audit AuditLog
	// Locks serializes the read-validate-write cycle of a key within this
	// process. Other writers of the same backend are not covered.
	Locks *utils.KeyedMutex
	Now   func() time.Time
}

// NewEngine returns an Engine with a fresh lock table.
func NewEngine(store Store, audit AuditLog) *Engine {
	return &Engine{Store: store, Audit: audit, Locks: utils.NewKeyedMutex(), Now: time.Now}
}

// Session answers the queries of one client under one default policy.
type Session struct {
	id     string
	engine *Engine
	policy *policy.Default
}

// NewSession starts a session for p. The session id is taken from ctx when
// present.
func (e *Engine) NewSession(ctx context.Context, p *policy.Default) (*Session, context.Context) {
	ctx, id := gctx.WithSessionID(ctx)
	l := logger.With("session_id", id, "user", p.OwnerKey)
	ctx = logger.WithLogger(ctx, &l)
	return &Session{id: id, engine: e, policy: p}, ctx
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Policy returns the session's default policy.
func (s *Session) Policy() *policy.Default {
	return s.policy
}

// Outcome tells the connection what follows a query.
type Outcome int

const (
	// Continue sends the response and keeps the session open.
	Continue Outcome = iota
	// Exit ends the session without a response; the client asked for it.
	Exit
	// Abort sends the response and then ends the session.
	Abort
)

// HandleLine parses and answers one query line.
func (s *Session) HandleLine(ctx context.Context, line string) (Response, Outcome) {
	q, err := query.Parse(line)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("query", line).Msg("invalid query")
	}
	if q.Cmd == query.CmdExit {
		return Response{}, Exit
	}
	return s.Handle(ctx, q)
}

// Handle answers q. Errors are logged and reported through the failure code
// of the command. Malformed stored metadata also aborts the session.
func (s *Session) Handle(ctx context.Context, q *query.Query) (Response, Outcome) {
	start := time.Now()
	resp, out := s.handle(ctx, q)
	queriesTotal.WithLabelValues(q.Cmd.String(), resultLabel(resp)).Inc()
	queryDuration.WithLabelValues(q.Cmd.String()).Observe(time.Since(start).Seconds())
	return resp, out
}

func (s *Session) handle(ctx context.Context, q *query.Query) (Response, Outcome) {
	switch q.Cmd {
	case query.CmdGetLogs:
		return s.getLogs(ctx, q), Continue
	case query.CmdGet, query.CmdPut, query.CmdDelete, query.CmdGetM, query.CmdPutM:
	default:
		return codeResponse(InvalidCommand), Continue
	}

	unlock := s.engine.Locks.Lock(q.Key)
	defer unlock()

	var (
		resp Response
		err  error
	)
	switch q.Cmd {
	case query.CmdGet:
		resp, err = s.get(ctx, q)
	case query.CmdPut:
		resp, err = s.put(ctx, q)
	case query.CmdDelete:
		resp, err = s.delete(ctx, q)
	case query.CmdGetM:
		resp, err = s.getM(ctx, q)
	case query.CmdPutM:
		resp, err = s.putM(ctx, q)
	}
	if err != nil {
		qerr := &Error{Code: failedCode(q.Cmd), Err: err}
		if errors.Is(err, metadata.ErrInvalidFormat) {
			logger.Ctx(ctx).Error().Err(qerr).Str("key", q.Key).Str("command", q.Cmd.String()).
				Msg("corrupt metadata, ending session")
			return qerr.Response(), Abort
		}
		logger.Ctx(ctx).Error().Err(qerr).Str("key", q.Key).Str("command", q.Cmd.String()).Msg("query failed")
		return qerr.Response(), Continue
	}
	return resp, Continue
}

// evaluate runs the access filter and records a denial.
func (s *Session) evaluate(ctx context.Context, f *filter.Filter, q *query.Query) bool {
	v := f.Evaluate(q, s.policy, s.engine.Now())
	if !v.Allowed {
		denialsTotal.WithLabelValues(string(v.Reason)).Inc()
		logger.Ctx(ctx).Debug().
			Str("key", q.Key).
			Str("command", q.Cmd.String()).
			Str("reason", string(v.Reason)).
			Msg("query denied")
	}
	return v.Allowed
}

// audit logs the outcome through m. An audit failure does not change the
// outcome of the query.
func (s *Session) audit(ctx context.Context, m *monitor.Monitor, valid bool, newValue string) {
	if _, err := m.MonitorQuery(ctx, valid, newValue); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("audit entry not written")
	}
}

func (s *Session) monitor(rule monitor.Rule, q *query.Query) *monitor.Monitor {
	return monitor.New(rule, s.engine.Audit, q, s.policy)
}

func (s *Session) get(ctx context.Context, q *query.Query) (Response, error) {
	record, found, err := s.engine.Store.GetRecord(ctx, q.Key)
	if err != nil {
		return Response{}, err
	}
	f, err := filter.New(record, found)
	if err != nil {
		return Response{}, err
	}
	m := s.monitor(monitor.ExistingValue{Filter: f}, q)

	if !s.evaluate(ctx, f, q) {
		s.audit(ctx, m, false, "")
		return codeResponse(GetFailed), nil
	}
	value, err := metadata.RemoveMetadata(record)
	if err != nil {
		return Response{}, err
	}
	s.audit(ctx, m, true, "")
	return valueResponse(value), nil
}

func (s *Session) put(ctx context.Context, q *query.Query) (Response, error) {
	existing, found, err := s.engine.Store.GetRecord(ctx, q.Key)
	if err != nil {
		return Response{}, err
	}
	f, err := filter.New(existing, found)
	if err != nil {
		return Response{}, err
	}

	var (
		m      *monitor.Monitor
		record string
	)
	if !found {
		m = s.monitor(monitor.FirstInsert{Query: q, Policy: s.policy}, q)
		if record, err = rewriter.FirstInsert(q, s.policy, s.engine.Now()); err != nil {
			return Response{}, err
		}
	} else {
		m = s.monitor(monitor.ExistingValue{Filter: f}, q)
		if !s.evaluate(ctx, f, q) {
			s.audit(ctx, m, false, "")
			return codeResponse(PutFailed), nil
		}
		if record, err = rewriter.ValueUpdate(existing, q.Value); err != nil {
			return Response{}, err
		}
	}

	if err := s.engine.Store.PutRecord(ctx, q.Key, record); err != nil {
		s.audit(ctx, m, false, "")
		return Response{}, err
	}
	s.audit(ctx, m, true, record)
	return codeResponse(PutSuccess), nil
}

func (s *Session) delete(ctx context.Context, q *query.Query) (Response, error) {
	prefix, found, err := s.engine.Store.GetMetadataOnly(ctx, q.Key)
	if err != nil {
		return Response{}, err
	}
	f, err := filter.New(prefix, found)
	if err != nil {
		return Response{}, err
	}
	m := s.monitor(monitor.ExistingValue{Filter: f}, q)

	if !s.evaluate(ctx, f, q) {
		s.audit(ctx, m, false, "")
		return codeResponse(DeleteFailed), nil
	}
	if err := s.engine.Store.Delete(ctx, q.Key); err != nil {
		s.audit(ctx, m, false, "")
		return Response{}, err
	}
	s.audit(ctx, m, true, "")
	return codeResponse(DeleteSuccess), nil
}

func (s *Session) getM(ctx context.Context, q *query.Query) (Response, error) {
	prefix, found, err := s.engine.Store.GetMetadataOnly(ctx, q.Key)
	if err != nil {
		return Response{}, err
	}
	f, err := filter.New(prefix, found)
	if err != nil {
		return Response{}, err
	}
	m := s.monitor(monitor.ExistingValue{Filter: f}, q)

	if !s.evaluate(ctx, f, q) {
		s.audit(ctx, m, false, "")
		return codeResponse(GetMFailed), nil
	}
	s.audit(ctx, m, true, "")
	return valueResponse(prefix), nil
}

func (s *Session) putM(ctx context.Context, q *query.Query) (Response, error) {
	existing, found, err := s.engine.Store.GetRecord(ctx, q.Key)
	if err != nil {
		return Response{}, err
	}
	f, err := filter.New(existing, found)
	if err != nil {
		return Response{}, err
	}
	m := s.monitor(monitor.MetadataUpdate{Filter: f, Query: q}, q)

	if !s.evaluate(ctx, f, q) {
		s.audit(ctx, m, false, "")
		return codeResponse(PutMFailed), nil
	}
	record, err := rewriter.MetadataUpdate(existing, q, s.engine.Now())
	if err != nil {
		return Response{}, err
	}
	prefix, err := metadata.ExtractMetadataOnly(record)
	if err != nil {
		return Response{}, err
	}
	if err := s.engine.Store.PutMetadataOnly(ctx, q.Key, prefix); err != nil {
		s.audit(ctx, m, false, "")
		return Response{}, err
	}
	s.audit(ctx, m, true, record)
	return codeResponse(PutMSuccess), nil
}

// getLogs serves the regulator. Reads of a key take that key's audit lock,
// so they are not serialized with data operations here.
func (s *Session) getLogs(ctx context.Context, q *query.Query) Response {
	if !regulator.IsRegulator(q, s.policy) {
		denialsTotal.WithLabelValues("not_regulator").Inc()
		logger.Ctx(ctx).Warn().
			Str("acting_key", policy.ActingKey(q.Overrides, s.policy)).
			Msg("log access refused")
		return codeResponse(GetLogsFailed)
	}
	reg := regulator.New(s.engine.Audit, s.engine.Now())

	if q.HasKey() {
		lines, err := reg.ReadKeyLog(q.Key)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("key", q.Key).Msg("read log failed")
			return codeResponse(GetLogsFailed)
		}
		return logsResponse(lines)
	}

	all, err := reg.ReadAll()
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msg("read logs failed")
		return codeResponse(GetLogsFailed)
	}
	var lines []string
	for _, kl := range all {
		for _, l := range kl.Lines {
			lines = append(lines, fmt.Sprintf("%s: %s", kl.Key, l))
		}
	}
	return logsResponse(lines)
}
