//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package turn

import (
	"errors"
	"time"

	"github.com/jovemexausto/zupa/command"
	"github.com/jovemexausto/zupa/model"
	"github.com/jovemexausto/zupa/prompt"
	"github.com/jovemexausto/zupa/retry"
	"github.com/jovemexausto/zupa/speech"
	"github.com/jovemexausto/zupa/store"
	"github.com/jovemexausto/zupa/telemetry"
	"github.com/jovemexausto/zupa/tool"
	"github.com/jovemexausto/zupa/transport"
)

// Default replies and bounds.
const (
	DefaultFallbackReply     = "Sorry, I could not process that right now. Please try again in a moment."
	DefaultRejectionReply    = "Sorry, this assistant is private."
	DefaultRateLimitedReply  = "You are sending messages too fast. Please wait a moment."
	DefaultMaxToolIterations = 5
	DefaultHistoryWindow     = 20
	DefaultSummaryWindow     = 3
	DefaultIdleTimeout       = 30 * time.Minute
)

// Timeouts bound each external call attempt. Zero disables a timeout.
type Timeouts struct {
	LLM       time.Duration
	STT       time.Duration
	TTS       time.Duration
	Transport time.Duration
	Tool      time.Duration
}

// Config holds the behavior knobs of the pipeline.
type Config struct {
	AgentName      string
	SystemPrompt   string
	WelcomeMessage string
	// SingleUserID, when set, is the only sender allowed to talk to the agent.
	SingleUserID     string
	RejectionReply   string
	RateLimitedReply string
	FallbackReply    string

	// MaxToolIterations cuts the model/tool loop short; tools are withheld
	// from the model once reached.
	MaxToolIterations int
	// SessionIdleTimeout ends sessions inactive for longer; negative disables.
	SessionIdleTimeout time.Duration
	HistoryWindow      int
	SummaryWindow      int

	Language string
	Voice    string
	// AudioDir receives synthesized replies; empty uses the provider default.
	AudioDir string

	// Retry is the policy of every provider call.
	Retry    retry.Policy
	Timeouts Timeouts

	// PromptVars are handed to the prompt template as Vars.
	PromptVars map[string]any
}

func (c Config) withDefaults() Config {
	if c.FallbackReply == "" {
		c.FallbackReply = DefaultFallbackReply
	}
	if c.RejectionReply == "" {
		c.RejectionReply = DefaultRejectionReply
	}
	if c.RateLimitedReply == "" {
		c.RateLimitedReply = DefaultRateLimitedReply
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = DefaultMaxToolIterations
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = DefaultHistoryWindow
	}
	if c.SessionIdleTimeout == 0 {
		c.SessionIdleTimeout = DefaultIdleTimeout
	}
	if c.SummaryWindow < 0 {
		c.SummaryWindow = 0
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.Simple(3)
	}
	return c
}

// Deps are the collaborators of the pipeline. Store, Model and Transport
// are required.
type Deps struct {
	Store       store.Store
	Model       model.Model
	Transport   transport.Transport
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	// Prompt defaults to Config.SystemPrompt.
	Prompt        prompt.Template
	Tools         *tool.Catalog
	ToolCallbacks *tool.Callbacks
	// OutputSchema asks the model for structured replies. A reply_modality
	// field in the reply then picks the output modality for dynamic users.
	OutputSchema *model.OutputSchema
	// Commands defaults to command.Default().
	Commands   *command.Registry
	Summarizer Summarizer
	Telemetry  telemetry.Sink
	Limiter    *RateLimiter
	Clock      func() time.Time
}

func (d Deps) validate() error {
	var errs []error
	if d.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if d.Model == nil {
		errs = append(errs, errors.New("model is required"))
	}
	if d.Transport == nil {
		errs = append(errs, errors.New("transport is required"))
	}
	return errors.Join(errs...)
}
