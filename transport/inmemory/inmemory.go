//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory is a recording transport for tests and embedding.
package inmemory

import (
	"context"
	"errors"
	"sync"

	"github.com/jovemexausto/zupa/transport"
)

// Outbound kinds recorded by the transport.
const (
	SentText   = "text"
	SentVoice  = "voice"
	SentMedia  = "media"
	SentTyping = "typing"
)

// Sent is one recorded outbound call.
type Sent struct {
	Kind      string
	To        string
	Text      string
	AudioPath string
	Media     transport.Media
}

// Transport records every send and delivers injected inbound messages.
type Transport struct {
	mu        sync.Mutex
	sent      []Sent
	handlers  map[int]transport.Handler
	nextID    int
	failSends error
	started   bool

	qr      map[int]func(string)
	ready   map[int]func()
	failure map[int]func(error)
}

var (
	_ transport.Transport    = (*Transport)(nil)
	_ transport.AuthNotifier = (*Transport)(nil)
)

// New creates an empty transport.
func New() *Transport {
	return &Transport{
		handlers: map[int]transport.Handler{},
		qr:       map[int]func(string){},
		ready:    map[int]func(){},
		failure:  map[int]func(error){},
	}
}

// FailSends makes every later send fail with err; nil restores it.
func (t *Transport) FailSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failSends = err
}

// Start implements transport.Transport.
func (t *Transport) Start(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	return nil
}

// Started reports whether Start ran and Close did not.
func (t *Transport) Started() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	return nil
}

func (t *Transport) record(s Sent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSends != nil {
		return t.failSends
	}
	t.sent = append(t.sent, s)
	return nil
}

// SendText implements transport.Transport.
func (t *Transport) SendText(_ context.Context, to, text string) error {
	return t.record(Sent{Kind: SentText, To: to, Text: text})
}

// SendVoice implements transport.Transport.
func (t *Transport) SendVoice(_ context.Context, to, audioPath string) error {
	return t.record(Sent{Kind: SentVoice, To: to, AudioPath: audioPath})
}

// SendMedia implements transport.Transport.
func (t *Transport) SendMedia(_ context.Context, to string, media transport.Media) error {
	return t.record(Sent{Kind: SentMedia, To: to, Media: media})
}

// SendTyping implements transport.Transport.
func (t *Transport) SendTyping(_ context.Context, to string) error {
	return t.record(Sent{Kind: SentTyping, To: to})
}

// Sent returns every recorded send.
func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}

// SentOf returns the recorded sends of kind.
func (t *Transport) SentOf(kind string) []Sent {
	var out []Sent
	for _, s := range t.Sent() {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Reset forgets recorded sends.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// OnInbound implements transport.Transport.
func (t *Transport) OnInbound(h transport.Handler) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	t.handlers[id] = h
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers, id)
	}
}

// Deliver hands msg to every registered handler in the calling goroutine.
func (t *Transport) Deliver(ctx context.Context, msg transport.InboundMessage) error {
	t.mu.Lock()
	handlers := make([]transport.Handler, 0, len(t.handlers))
	for id := 0; id < t.nextID; id++ {
		if h, ok := t.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	t.mu.Unlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnAuthQR implements transport.AuthNotifier.
func (t *Transport) OnAuthQR(fn func(string)) func() {
	return register(t, t.qr, fn)
}

// OnAuthReady implements transport.AuthNotifier.
func (t *Transport) OnAuthReady(fn func()) func() {
	return register(t, t.ready, fn)
}

// OnAuthFailure implements transport.AuthNotifier.
func (t *Transport) OnAuthFailure(fn func(error)) func() {
	return register(t, t.failure, fn)
}

// EmitAuthQR notifies QR listeners.
func (t *Transport) EmitAuthQR(code string) {
	for _, fn := range snapshot(t, t.qr) {
		fn(code)
	}
}

// EmitAuthReady notifies ready listeners.
func (t *Transport) EmitAuthReady() {
	for _, fn := range snapshot(t, t.ready) {
		fn()
	}
}

// EmitAuthFailure notifies failure listeners.
func (t *Transport) EmitAuthFailure(err error) {
	for _, fn := range snapshot(t, t.failure) {
		fn(err)
	}
}

func register[F any](t *Transport, m map[int]F, fn F) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	m[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(m, id)
	}
}

func snapshot[F any](t *Transport, m map[int]F) []F {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]F, 0, len(m))
	for id := 0; id < t.nextID; id++ {
		if fn, ok := m[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
