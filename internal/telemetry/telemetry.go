//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the names and helpers shared by the tracing and
// metrics packages.
package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// telemetry service constants.
const (
	ServiceName      = "zupa"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "zupa-agent"
	InstrumentName   = "github.com/jovemexausto/zupa"

	SpanNameChat              = "chat"
	SpanNamePrefixExecuteTool = "execute_tool"
	SpanNamePrefixNode        = "graph.node"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// telemetry attributes constants.
var (
	KeyThreadID   = "zupa.thread_id"
	KeyNodeID     = "zupa.node_id"
	KeyStep       = "zupa.step"
	KeyRequestID  = "zupa.request_id"
	KeyToolCallID = "zupa.tool_call_id"
	KeyToolStatus = "zupa.tool_status"
)

// NewChatSpanName returns the span name for a model completion.
func NewChatSpanName(model string) string {
	if model == "" {
		return SpanNameChat
	}
	return SpanNameChat + " " + model
}

// NewExecuteToolSpanName returns the span name for a tool dispatch.
func NewExecuteToolSpanName(tool string) string {
	return SpanNamePrefixExecuteTool + " " + tool
}

// NewNodeSpanName returns the span name for one node execution.
func NewNodeSpanName(node string) string {
	return SpanNamePrefixNode + " " + node
}

// TraceToolCall records the attributes of one tool dispatch.
func TraceToolCall(span trace.Span, name, callID string, args []byte, status string) {
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "tool.execute"),
		attribute.String("gen_ai.tool.name", name),
		attribute.String(KeyToolCallID, callID),
		attribute.String(KeyToolStatus, status),
		attribute.String("zupa.tool_call_args", string(args)),
	)
}

// TraceChat records the attributes of one model completion.
func TraceChat(span trace.Span, model string, messages, tools, tokens int) {
	span.SetAttributes(
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.String("gen_ai.request.model", model),
		attribute.Int("zupa.request.messages", messages),
		attribute.Int("zupa.request.tools", tools),
		attribute.Int("gen_ai.usage.total_tokens", tokens),
	)
}

// NewGRPCConn creates a new gRPC connection to the OpenTelemetry Collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(endpoint,
		// Note the use of insecure transport here. TLS is recommended in production.
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
