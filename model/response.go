//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import "encoding/json"

// Finish reasons reported by providers.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonLength    = "length"
)

// Usage represents token usage information.
type Usage struct {
	// PromptTokens is the number of tokens in the prompt.
	PromptTokens int `json:"prompt_tokens"`

	// CompletionTokens is the number of tokens in the completion.
	CompletionTokens int `json:"completion_tokens"`

	// TotalTokens is the total number of tokens in the response.
	TotalTokens int `json:"total_tokens"`
}

// Response is the completed reply of a model.
type Response struct {
	// Content is the assistant text.
	Content string `json:"content"`

	// Structured is the decoded JSON reply when an output schema was requested.
	Structured map[string]any `json:"structured,omitempty"`

	// ToolCalls requested by the model.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Usage contains token usage information, when reported.
	Usage *Usage `json:"usage,omitempty"`

	// Model is the model that produced the response.
	Model string `json:"model"`

	// FinishReason is why generation stopped.
	FinishReason string `json:"finish_reason,omitempty"`

	// LatencyMs is the wall time of the call.
	LatencyMs int64 `json:"latency_ms"`
}

// TokensUsed returns the total token count, or 0 when unknown.
func (r *Response) TokensUsed() int {
	if r == nil || r.Usage == nil {
		return 0
	}
	if r.Usage.TotalTokens > 0 {
		return r.Usage.TotalTokens
	}
	return r.Usage.PromptTokens + r.Usage.CompletionTokens
}

// HasToolCalls reports whether the model asked for tools.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// DecodeStructured parses Content as a JSON object into Structured. It
// leaves Structured nil when Content is not an object.
func (r *Response) DecodeStructured() {
	if r == nil || r.Content == "" {
		return
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(r.Content), &m); err == nil {
		r.Structured = m
	}
}
