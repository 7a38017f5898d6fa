//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package prometheus exposes turn telemetry as Prometheus metrics.
package prometheus

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jovemexausto/zupa/telemetry"
)

// Sink records node executions, inbound outcomes and gate occupancy on its
// own registry.
type Sink struct {
	registry *prometheus.Registry

	nodeResults  *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	inbound      *prometheus.CounterVec
	inFlight     prometheus.Gauge
}

// New creates a Sink with metrics registered under namespace.
func New(namespace string) *Sink {
	if namespace == "" {
		namespace = "zupa"
	}
	s := &Sink{
		registry: prometheus.NewRegistry(),
		nodeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_total",
				Help:      "Total number of node executions",
			},
			[]string{"node", "result"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Node execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node"},
		),
		inbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_messages_total",
				Help:      "Total number of inbound messages by outcome",
			},
			[]string{"outcome"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inbound_in_flight",
				Help:      "Number of inbound messages being processed",
			},
		),
	}
	s.registry.MustRegister(s.nodeResults, s.nodeDuration, s.inbound, s.inFlight)
	return s
}

// Emit implements telemetry.Sink.
func (s *Sink) Emit(_ context.Context, ev telemetry.Event) {
	s.nodeResults.WithLabelValues(ev.Node, ev.Result).Inc()
	s.nodeDuration.WithLabelValues(ev.Node).Observe(float64(ev.DurationMs) / 1000)
}

// RecordInbound counts one inbound message outcome (completed, failed, overloaded).
func (s *Sink) RecordInbound(outcome string) {
	s.inbound.WithLabelValues(outcome).Inc()
}

// SetInFlight sets the in-flight gauge.
func (s *Sink) SetInFlight(n int64) {
	s.inFlight.Set(float64(n))
}

// Registry returns the registry the metrics live on.
func (s *Sink) Registry() *prometheus.Registry { return s.registry }

// Handler returns an HTTP handler serving the metrics.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}
