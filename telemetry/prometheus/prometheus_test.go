//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package prometheus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/telemetry"
)

func TestSink_Emit(t *testing.T) {
	s := New("")
	ctx := context.Background()
	s.Emit(ctx, telemetry.Event{Node: "llm_node", DurationMs: 250, Result: telemetry.ResultOK})
	s.Emit(ctx, telemetry.Event{Node: "llm_node", DurationMs: 50, Result: telemetry.ResultError})
	s.Emit(ctx, telemetry.Event{Node: "llm_node", DurationMs: 10, Result: telemetry.ResultOK})

	assert.Equal(t, float64(2), testutil.ToFloat64(s.nodeResults.WithLabelValues("llm_node", telemetry.ResultOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.nodeResults.WithLabelValues("llm_node", telemetry.ResultError)))
	assert.Equal(t, 1, testutil.CollectAndCount(s.nodeDuration))
}

func TestSink_InboundAndGauge(t *testing.T) {
	s := New("test")
	s.RecordInbound("overloaded")
	s.RecordInbound("overloaded")
	s.SetInFlight(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(s.inbound.WithLabelValues("overloaded")))
	assert.Equal(t, float64(3), testutil.ToFloat64(s.inFlight))
}

func TestSink_Handler(t *testing.T) {
	s := New("zupa")
	s.RecordInbound("completed")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `zupa_inbound_messages_total{outcome="completed"} 1`)
}
