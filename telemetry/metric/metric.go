//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package metric holds the global OpenTelemetry meter and a telemetry sink
// that records node durations as otel instruments.
package metric

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"

	itelemetry "github.com/jovemexausto/zupa/internal/telemetry"
	"github.com/jovemexausto/zupa/telemetry"
)

var (
	// Meter is the global OpenTelemetry meter.
	Meter metric.Meter = noopm.Meter{}
)

// Start collects metrics with optional configuration.
// The environment variables described below can be used for Endpoint configuration.
// OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_EXPORTER_OTLP_METRICS_ENDPOINT
// (default: "localhost:4317" for grpc, "localhost:4318" for http)
// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc
// https://pkg.go.dev/go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp
func Start(ctx context.Context, opts ...Option) (clean func() error, err error) {
	options := &options{
		protocol:         itelemetry.ProtocolGRPC,
		serviceName:      itelemetry.ServiceName,
		serviceVersion:   itelemetry.ServiceVersion,
		serviceNamespace: itelemetry.ServiceNamespace,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.metricsEndpoint == "" {
		options.metricsEndpoint = metricsEndpoint(options.protocol)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(options.serviceNamespace),
			semconv.ServiceName(options.serviceName),
			semconv.ServiceVersion(options.serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := newExporter(ctx, options)
	if err != nil {
		return nil, err
	}
	shutdownMeterProvider := initMeterProvider(res, exporter)

	Meter = otel.Meter(itelemetry.InstrumentName)
	return func() error {
		Meter = noopm.Meter{}
		if err := shutdownMeterProvider(ctx); err != nil {
			return fmt.Errorf("failed to shutdown MeterProvider: %w", err)
		}
		return nil
	}, nil
}

func metricsEndpoint(protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if protocol == itelemetry.ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}

func newExporter(ctx context.Context, o *options) (sdkmetric.Exporter, error) {
	switch o.protocol {
	case itelemetry.ProtocolHTTP:
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(o.metricsEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics exporter: %w", err)
		}
		return exporter, nil
	case itelemetry.ProtocolGRPC:
		conn, err := itelemetry.NewGRPCConn(o.metricsEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize metrics connection: %w", err)
		}
		exporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unsupported metrics protocol %q", o.protocol)
	}
}

// Configures the meter provider around exporter.
func initMeterProvider(res *resource.Resource, exporter sdkmetric.Exporter) func(context.Context) error {
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)
	return meterProvider.Shutdown
}

// Option is a function that configures meter options.
type Option func(*options)

// options holds the configuration options for meter.
type options struct {
	protocol         string
	metricsEndpoint  string
	serviceName      string
	serviceVersion   string
	serviceNamespace string
}

// WithEndpoint sets the metrics endpoint(host and port) the Exporter will connect to.
// The provided endpoint should resemble "example.com:4317" (no scheme or path).
// If an environment variable is set, and this option is passed, this option will take precedence.
func WithEndpoint(endpoint string) Option {
	return func(opts *options) {
		opts.metricsEndpoint = endpoint
	}
}

// WithProtocol selects "grpc" (default) or "http".
func WithProtocol(protocol string) Option {
	return func(opts *options) {
		opts.protocol = protocol
	}
}

// WithServiceName sets the service.name resource attribute.
func WithServiceName(name string) Option {
	return func(opts *options) {
		opts.serviceName = name
	}
}

// Instrument names recorded by Sink.
const (
	NodeDurationName = "zupa.node.duration"
	NodeResultsName  = "zupa.node.results"
)

// Sink records telemetry events as a duration histogram and a result counter.
type Sink struct {
	duration metric.Int64Histogram
	results  metric.Int64Counter
}

// NewSink creates the instruments on meter. A nil meter uses the global Meter
// as it is at call time, so call it after Start.
func NewSink(meter metric.Meter) (*Sink, error) {
	if meter == nil {
		meter = Meter
	}
	duration, err := meter.Int64Histogram(NodeDurationName,
		metric.WithDescription("Duration of one node execution."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", NodeDurationName, err)
	}
	results, err := meter.Int64Counter(NodeResultsName,
		metric.WithDescription("Node executions by result."),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", NodeResultsName, err)
	}
	return &Sink{duration: duration, results: results}, nil
}

// Emit implements telemetry.Sink.
func (s *Sink) Emit(ctx context.Context, ev telemetry.Event) {
	attrs := metric.WithAttributes(
		attribute.String("node", ev.Node),
		attribute.String("result", ev.Result),
	)
	s.duration.Record(ctx, ev.DurationMs, attrs)
	s.results.Add(ctx, 1, attrs)
}
