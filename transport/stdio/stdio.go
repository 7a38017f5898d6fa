//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package stdio is a line-oriented console transport. Each input line is an
// inbound text message from a single user.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jovemexausto/zupa/log"
	"github.com/jovemexausto/zupa/transport"
)

// DefaultUser is the sender address used when none is configured.
const DefaultUser = "console"

// Option configures the transport.
type Option func(*Transport)

// WithUser sets the sender address of every inbound line.
func WithUser(user string) Option {
	return func(t *Transport) { t.user = user }
}

// WithPrompt sets the prefix printed before replies.
func WithPrompt(prompt string) Option {
	return func(t *Transport) { t.prompt = prompt }
}

// Transport reads messages from in and writes replies to out.
type Transport struct {
	in     io.Reader
	out    io.Writer
	user   string
	prompt string

	mu       sync.Mutex
	writeMu  sync.Mutex
	handlers map[int]transport.Handler
	nextID   int
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ transport.Transport = (*Transport)(nil)

// New creates a console transport.
func New(in io.Reader, out io.Writer, opts ...Option) *Transport {
	t := &Transport{
		in:       in,
		out:      out,
		user:     DefaultUser,
		prompt:   "zupa> ",
		handlers: map[int]transport.Handler{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins reading input lines until EOF, ctx is done or Close is called.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return fmt.Errorf("stdio: already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.readLoop(ctx)
	return nil
}

// Done is closed once the input is exhausted or the transport closed.
func (t *Transport) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Transport) readLoop(ctx context.Context) {
	defer close(t.done)
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			log.Warnf("stdio: read input: %v", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			t.dispatch(ctx, transport.InboundMessage{
				MessageID: uuid.NewString(),
				From:      t.user,
				Body:      line,
				Kind:      transport.KindText,
				Timestamp: time.Now(),
			})
		}
	}
}

func (t *Transport) dispatch(ctx context.Context, msg transport.InboundMessage) {
	t.mu.Lock()
	handlers := make([]transport.Handler, 0, len(t.handlers))
	for id := 0; id < t.nextID; id++ {
		if h, ok := t.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	t.mu.Unlock()
	for _, h := range handlers {
		if err := h(ctx, msg); err != nil {
			log.Warnf("stdio: inbound handler: %v", err)
		}
	}
}

// Close stops reading. It is safe to call more than once.
func (t *Transport) Close() error {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (t *Transport) writef(format string, args ...any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := fmt.Fprintf(t.out, format, args...)
	return err
}

// SendText implements transport.Transport.
func (t *Transport) SendText(_ context.Context, _ string, text string) error {
	return t.writef("%s%s\n", t.prompt, text)
}

// SendVoice implements transport.Transport.
func (t *Transport) SendVoice(_ context.Context, _ string, audioPath string) error {
	return t.writef("%s[voice] %s\n", t.prompt, audioPath)
}

// SendMedia implements transport.Transport.
func (t *Transport) SendMedia(_ context.Context, _ string, media transport.Media) error {
	if media.Caption != "" {
		return t.writef("%s[media] %s (%s)\n", t.prompt, media.Path, media.Caption)
	}
	return t.writef("%s[media] %s\n", t.prompt, media.Path)
}

// SendTyping is a no-op on the console.
func (t *Transport) SendTyping(context.Context, string) error { return nil }

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
