//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package model

import "github.com/jovemexausto/zupa/tool"

// Role represents the role of a message author.
type Role string

// Role constants for message authors.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is one of the defined constants.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// Message represents a single message in a conversation.
type Message struct {
	Role      Role       `json:"role"`                 // The role of the message author
	Content   string     `json:"content"`              // The message content
	ToolID    string     `json:"tool_id,omitempty"`    // Used by tool response
	ToolName  string     `json:"tool_name,omitempty"`  // Used by tool response
	ToolCalls []ToolCall `json:"tool_calls,omitempty"` // Optional tool calls for the message
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates the message answering tool call id.
func NewToolMessage(id, name, content string) Message {
	return Message{Role: RoleTool, ToolID: id, ToolName: name, Content: content}
}

// ToolCall represents a call to a tool (function) in the model response.
type ToolCall struct {
	// The ID of the tool call returned by the model.
	ID string `json:"id,omitempty"`
	// Name of the function to call.
	Name string `json:"name"`
	// Arguments are the JSON-encoded arguments.
	Arguments []byte `json:"arguments,omitempty"`
}

// GenerationConfig contains configuration for text generation.
type GenerationConfig struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0).
	Temperature *float64 `json:"temperature,omitempty"`

	// TopP controls nucleus sampling (0.0 to 1.0).
	TopP *float64 `json:"top_p,omitempty"`

	// Stop sequences where the API will stop generating further tokens.
	Stop []string `json:"stop,omitempty"`
}

// OutputSchema asks the model for a structured JSON reply.
type OutputSchema struct {
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Schema      *tool.Schema `json:"schema"`
	Strict      bool         `json:"strict,omitempty"`
}

// Request is the request to the model.
type Request struct {
	// SystemPrompt is sent ahead of Messages.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// Messages is the conversation history.
	Messages []Message `json:"messages"`

	// Tools the model may call.
	Tools []*tool.Declaration `json:"tools,omitempty"`

	// OutputSchema, when set, requests structured output.
	OutputSchema *OutputSchema `json:"output_schema,omitempty"`

	// GenerationConfig contains the generation parameters.
	GenerationConfig `json:",inline"`
}
