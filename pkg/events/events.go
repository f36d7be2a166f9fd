// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package events mirrors audit log activity to an external bus. Events carry
// who did what to which key and whether it was allowed, never the value.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEvent summarizes one audit log entry.
type AuditEvent struct {
	Key       string    `json:"key"`
	User      string    `json:"user"`
	Operation string    `json:"operation"`
	Valid     bool      `json:"valid"`
	Time      time.Time `json:"time"`
}

// Marshal renders ev as JSON.
func (ev AuditEvent) Marshal() ([]byte, error) {
	return json.Marshal(ev)
}

// Publisher delivers audit events.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev AuditEvent) error
	Close() error
}

// Config selects a publisher.
type Config struct {
	// Publisher is "none", "redis" or "kafka".
	Publisher string
	Redis     RedisConfig
	Kafka     KafkaConfig
}

// New builds the configured publisher. "none" and "" return nil.
func New(cfg Config) (Publisher, error) {
	switch cfg.Publisher {
	case "", "none":
		return nil, nil
	case "redis":
		p, err := NewRedisPublisher(cfg.Redis)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "kafka":
		p, err := NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown events publisher: %s", cfg.Publisher)
}

func observe(publisher string, start time.Time, err error) {
	if err != nil {
		DeliveryErrorsTotal.WithLabelValues(publisher).Inc()
		return
	}
	DeliveredTotal.WithLabelValues(publisher).Inc()
	DeliveryDuration.WithLabelValues(publisher).Observe(time.Since(start).Seconds())
}
