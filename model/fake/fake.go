//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package fake provides a scripted model for tests and offline runs.
package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/jovemexausto/zupa/model"
)

// ErrExhausted is returned when the script has no more replies.
var ErrExhausted = errors.New("fake model: no scripted reply left")

// Reply is one scripted answer. Fn, when set, computes the answer from the
// request instead.
type Reply struct {
	Response *model.Response
	Err      error
	Fn       func(ctx context.Context, req *model.Request) (*model.Response, error)
}

// Model replays scripted replies in order. The last reply repeats when
// Repeat is set.
type Model struct {
	Name   string
	Repeat bool

	mu       sync.Mutex
	replies  []Reply
	requests []*model.Request
}

// New returns a model replaying replies.
func New(replies ...Reply) *Model {
	return &Model{Name: "fake", replies: replies}
}

// Text returns a reply with content only.
func Text(content string) Reply {
	return Reply{Response: &model.Response{Content: content, FinishReason: model.FinishReasonStop}}
}

// ToolCalls returns a reply requesting calls.
func ToolCalls(calls ...model.ToolCall) Reply {
	return Reply{Response: &model.Response{ToolCalls: calls, FinishReason: model.FinishReasonToolCalls}}
}

// Fail returns a reply failing with err.
func Fail(err error) Reply { return Reply{Err: err} }

// Push appends replies to the script.
func (m *Model) Push(replies ...Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
}

// Complete implements model.Model.
func (m *Model) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if len(m.replies) == 0 {
		m.mu.Unlock()
		return nil, ErrExhausted
	}
	r := m.replies[0]
	if len(m.replies) > 1 || !m.Repeat {
		m.replies = m.replies[1:]
	}
	m.mu.Unlock()

	if r.Fn != nil {
		return r.Fn(ctx, req)
	}
	if r.Err != nil {
		return nil, r.Err
	}
	rsp := *r.Response
	if rsp.Model == "" {
		rsp.Model = m.Info().Name
	}
	return &rsp, nil
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	if m.Name == "" {
		return model.Info{Name: "fake"}
	}
	return model.Info{Name: m.Name}
}

// Requests returns every request seen so far.
func (m *Model) Requests() []*model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Request(nil), m.requests...)
}

// Calls returns how many times Complete ran.
func (m *Model) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
