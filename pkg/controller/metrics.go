// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"github.com/LeeDigitalWorks/gdprkv/pkg/debug"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gdprkv",
			Subsystem: "controller",
			Name:      "queries_total",
			Help:      "Queries answered, by command and result",
		},
		[]string{"command", "result"},
	)

	denialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gdprkv",
			Subsystem: "controller",
			Name:      "denials_total",
			Help:      "Queries denied by the access filter, by reason",
		},
		[]string{"reason"},
	)

	queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gdprkv",
			Subsystem: "controller",
			Name:      "query_duration_seconds",
			Help:      "Time to answer a query",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		},
		[]string{"command"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gdprkv",
			Subsystem: "controller",
			Name:      "active_sessions",
			Help:      "Client connections with an established policy",
		},
	)
)

func init() {
	debug.Registry().MustRegister(queriesTotal, denialsTotal, queryDuration, activeSessions)
}

func resultLabel(r Response) string {
	switch {
	case r.OK():
		return "success"
	case r.Code == InvalidCommand:
		return "invalid"
	}
	return "failed"
}
