// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"github.com/LeeDigitalWorks/gdprkv/pkg/debug"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gdprkv",
		Subsystem: "events",
		Name:      "delivered_total",
		Help:      "Audit events delivered, by publisher",
	}, []string{"publisher"})

	DeliveryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gdprkv",
		Subsystem: "events",
		Name:      "delivery_errors_total",
		Help:      "Audit events that failed to deliver, by publisher",
	}, []string{"publisher"})

	DeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gdprkv",
		Subsystem: "events",
		Name:      "delivery_duration_seconds",
		Help:      "Time spent delivering audit events",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"publisher"})
)

func init() {
	debug.Registry().MustRegister(DeliveredTotal, DeliveryErrorsTotal, DeliveryDuration)
}
