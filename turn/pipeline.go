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
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jovemexausto/zupa/command"
	"github.com/jovemexausto/zupa/graph"
	"github.com/jovemexausto/zupa/log"
	"github.com/jovemexausto/zupa/prompt"
	"github.com/jovemexausto/zupa/retry"
	"github.com/jovemexausto/zupa/store"
	"github.com/jovemexausto/zupa/telemetry"
	"github.com/jovemexausto/zupa/transport"
)

var requestNamespace = uuid.MustParse("8f6b2c1e-4a7d-4e0b-9c3f-2d5a7e1b9c40")

// Pipeline owns the compiled turn graph and its collaborators.
type Pipeline struct {
	cfg           Config
	deps          Deps
	defaultPrompt bool
	executor      *graph.Executor
}

// New builds the pipeline. Executor options such as graph.WithMaxSteps are
// passed through.
func New(cfg Config, deps Deps, opts ...graph.ExecutorOption) (*Pipeline, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	p := &Pipeline{cfg: cfg.withDefaults(), deps: deps}
	if p.deps.Prompt == nil {
		p.deps.Prompt = prompt.Static(p.cfg.SystemPrompt)
		p.defaultPrompt = true
	}
	if p.deps.Commands == nil {
		p.deps.Commands = command.Default()
	}
	if p.deps.Summarizer == nil {
		p.deps.Summarizer = NewModelSummarizer(p.deps.Model)
	}
	if p.deps.Telemetry == nil {
		p.deps.Telemetry = telemetry.Nop
	}
	if p.deps.Clock == nil {
		p.deps.Clock = func() time.Time { return time.Now().UTC() }
	}
	g, err := p.buildGraph()
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	p.executor, err = graph.NewExecutor(g, opts...)
	if err != nil {
		return nil, fmt.Errorf("turn: %w", err)
	}
	return p, nil
}

// Executor returns the executor running turn threads.
func (p *Pipeline) Executor() *graph.Executor { return p.executor }

// Config returns the effective configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Transport returns the transport replies go out on.
func (p *Pipeline) Transport() transport.Transport { return p.deps.Transport }

// Store returns the repository the pipeline persists through.
func (p *Pipeline) Store() store.Store { return p.deps.Store }

func (p *Pipeline) now() time.Time { return p.deps.Clock() }

func (p *Pipeline) policy(timeout time.Duration) retry.Policy {
	return p.cfg.Retry.WithTimeout(timeout)
}

func (p *Pipeline) sendText(ctx context.Context, to, text string) error {
	return retry.Do(ctx, p.policy(p.cfg.Timeouts.Transport), func(ctx context.Context) error {
		return p.deps.Transport.SendText(ctx, to, text)
	})
}

func (p *Pipeline) sendVoice(ctx context.Context, to, path string) error {
	return retry.Do(ctx, p.policy(p.cfg.Timeouts.Transport), func(ctx context.Context) error {
		return p.deps.Transport.SendVoice(ctx, to, path)
	})
}

func (p *Pipeline) audioPath(requestID string) string {
	if p.cfg.AudioDir == "" {
		return ""
	}
	return filepath.Join(p.cfg.AudioDir, requestID+".mp3")
}

// SummarizeSession summarizes the recent messages of sess. Summarizer
// failures yield an empty summary; repository failures are returned.
func (p *Pipeline) SummarizeSession(ctx context.Context, sess *store.Session) (string, error) {
	msgs, err := p.deps.Store.RecentMessages(ctx, sess.ID, p.cfg.HistoryWindow)
	if err != nil {
		return "", fmt.Errorf("load messages to summarize: %w", err)
	}
	summary, err := p.deps.Summarizer.Summarize(ctx, sess, msgs)
	if err != nil {
		log.Warnf("summarize session %s: %v", sess.ID, err)
		return "", nil
	}
	return summary, nil
}

func requestIDFor(messageID string) string {
	return uuid.NewSHA1(requestNamespace, []byte(messageID)).String()
}

func dedupKey(messageID string) string {
	return "inbound:" + messageID
}
