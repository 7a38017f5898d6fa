//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package event is the runtime's in-process event bus, built on a watermill
// gochannel pub/sub. Payloads travel as JSON.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/jovemexausto/zupa/log"
)

// Runtime event names.
const (
	RuntimeStarted    = "runtime.started"
	RuntimeClosed     = "runtime.closed"
	AuthQR            = "auth.qr"
	AuthReady         = "auth.ready"
	AuthFailure       = "auth.failure"
	InboundOverloaded = "inbound.overloaded"
	InboundFailed     = "inbound.failed"
	TurnCompleted     = "turn.completed"
)

// Event is one delivered event.
type Event struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// Handler receives events. Handlers of one subscription run one at a time.
type Handler func(ctx context.Context, e Event)

// Bus fans events out to subscribers. Unless built with WithBlockingEmit,
// Emit never waits for handlers.
type Bus struct {
	pubsub *gochannel.GoChannel
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// Option configures a Bus.
type Option func(*options)

type options struct {
	buffer   int64
	blocking bool
	now      func() time.Time
}

// WithBuffer sets the per-subscriber channel buffer.
func WithBuffer(n int64) Option {
	return func(o *options) { o.buffer = n }
}

// WithBlockingEmit makes Emit return only after every subscriber of the
// event handled it. A handler must not emit the event it is handling or
// subscribe while handling.
func WithBlockingEmit() Option {
	return func(o *options) { o.blocking = true }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// NewBus creates a bus.
func NewBus(opts ...Option) *Bus {
	o := options{buffer: 64, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            o.buffer,
			BlockPublishUntilSubscriberAck: o.blocking,
		}, loggerAdapter{}),
		ctx:    ctx,
		cancel: cancel,
		now:    o.now,
	}
}

// On subscribes h to name and returns a func ending the subscription.
func (b *Bus) On(name string, h Handler) (unsubscribe func()) {
	ctx, cancel := context.WithCancel(b.ctx)
	msgs, err := b.pubsub.Subscribe(ctx, name)
	if err != nil {
		cancel()
		log.Warnf("event: subscribe %s: %v", name, err)
		return func() {}
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range msgs {
			b.deliver(ctx, name, msg, h)
		}
	}()
	return cancel
}

func (b *Bus) deliver(ctx context.Context, name string, msg *message.Message, h Handler) {
	defer msg.Ack()
	var e Event
	if err := json.Unmarshal(msg.Payload, &e); err != nil {
		log.Warnf("event: decode %s: %v", name, err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("event: handler for %s panicked: %v", name, r)
		}
	}()
	h(ctx, e)
}

// Emit publishes payload under name. A nil payload is allowed.
func (b *Bus) Emit(name string, payload any) error {
	e := Event{ID: watermill.NewUUID(), Name: name, Timestamp: b.now()}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("event: encode %s payload: %w", name, err)
		}
		e.Payload = raw
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("event: encode %s: %w", name, err)
	}
	return b.pubsub.Publish(name, message.NewMessage(e.ID, body))
}

// Close ends every subscription and waits for running handlers.
func (b *Bus) Close() error {
	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
