//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package metric

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	itelemetry "github.com/jovemexausto/zupa/internal/telemetry"
	"github.com/jovemexausto/zupa/telemetry"
)

func TestMetricsEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "custom-metric:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "generic-endpoint:4317")
	assert.Equal(t, "custom-metric:4317", metricsEndpoint(itelemetry.ProtocolGRPC))

	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "")
	assert.Equal(t, "generic-endpoint:4317", metricsEndpoint(itelemetry.ProtocolGRPC))

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	assert.Equal(t, "localhost:4317", metricsEndpoint(itelemetry.ProtocolGRPC))
	assert.Equal(t, "localhost:4318", metricsEndpoint(itelemetry.ProtocolHTTP))
}

func TestStartAndClean(t *testing.T) {
	clean, err := Start(context.Background(), WithEndpoint("localhost:4317"), WithServiceName("zupa-test"))
	require.NoError(t, err)
	require.NotNil(t, clean)
	_ = clean()
}

func TestStart_HTTPProtocol(t *testing.T) {
	// Bounds the final export to the absent collector on clean.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	clean, err := Start(ctx,
		WithProtocol(itelemetry.ProtocolHTTP),
		WithEndpoint("localhost:4318"),
		WithServiceName("zupa-test"),
	)
	require.NoError(t, err)
	require.NotNil(t, clean)
	_ = clean()
}

func TestStart_UnknownProtocol(t *testing.T) {
	_, err := Start(context.Background(), WithProtocol("carrier-pigeon"))
	assert.ErrorContains(t, err, "unsupported metrics protocol")
}

func TestNewExporter_SelectsProtocol(t *testing.T) {
	ctx := context.Background()
	httpExp, err := newExporter(ctx, &options{protocol: itelemetry.ProtocolHTTP, metricsEndpoint: "localhost:4318"})
	require.NoError(t, err)
	assert.IsType(t, &otlpmetrichttp.Exporter{}, httpExp)
	_ = httpExp.Shutdown(ctx)

	grpcExp, err := newExporter(ctx, &options{protocol: itelemetry.ProtocolGRPC, metricsEndpoint: "localhost:4317"})
	require.NoError(t, err)
	assert.IsType(t, &otlpmetricgrpc.Exporter{}, grpcExp)
	_ = grpcExp.Shutdown(ctx)
}

func TestSink_RecordsDurationAndResult(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	sink, err := NewSink(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	sink.Emit(ctx, telemetry.Event{Node: "llm_node", DurationMs: 120, Result: telemetry.ResultOK})
	sink.Emit(ctx, telemetry.Event{Node: "llm_node", DurationMs: 80, Result: telemetry.ResultOK})

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]metricdata.Aggregation{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = m.Data
	}
	hist, ok := names[NodeDurationName].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
	assert.Equal(t, int64(200), hist.DataPoints[0].Sum)

	sum, ok := names[NodeResultsName].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}
