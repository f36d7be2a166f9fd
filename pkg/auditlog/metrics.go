// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package auditlog

import (
	"github.com/LeeDigitalWorks/gdprkv/pkg/debug"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	entriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gdprkv",
			Subsystem: "auditlog",
			Name:      "entries_total",
			Help:      "Audit log entries written, by operation",
		},
		[]string{"operation"},
	)

	skippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gdprkv",
			Subsystem: "auditlog",
			Name:      "skipped_total",
			Help:      "Audit log entries that could not be written, by reason",
		},
		[]string{"reason"},
	)

	evictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "gdprkv",
			Subsystem: "auditlog",
			Name:      "evictions_total",
			Help:      "Log file handles closed to stay within the descriptor budget",
		},
	)

	openFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "gdprkv",
			Subsystem: "auditlog",
			Name:      "open_files",
			Help:      "Log file handles currently open for writing",
		},
	)
)

func init() {
	debug.Registry().MustRegister(entriesTotal, skippedTotal, evictionsTotal, openFiles)
}
