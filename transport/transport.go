//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package transport defines the messaging channel the agent talks through.
package transport

import (
	"context"
	"time"
)

// Kind is the kind of an inbound message.
type Kind string

// Inbound kinds.
const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
	KindMedia Kind = "media"
)

// InboundMessage is a message received from a user.
type InboundMessage struct {
	// MessageID is unique per message and stable across redeliveries.
	MessageID string `json:"messageId"`
	// From is the sender address, also the reply target.
	From string `json:"from"`
	Body string `json:"body"`
	Kind Kind   `json:"kind"`
	// MediaPath is a local file holding the attachment, for voice and media.
	MediaPath string         `json:"mediaPath,omitempty"`
	MediaMime string         `json:"mediaMime,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// IsVoice reports whether the message carries audio to transcribe.
func (m InboundMessage) IsVoice() bool {
	return m.Kind == KindVoice && m.MediaPath != ""
}

// Media is an outbound attachment.
type Media struct {
	Path     string
	Mime     string
	Caption  string
	Filename string
}

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg InboundMessage) error

// Transport sends and receives messages.
type Transport interface {
	Start(ctx context.Context) error
	Close() error

	SendText(ctx context.Context, to, text string) error
	SendVoice(ctx context.Context, to, audioPath string) error
	SendMedia(ctx context.Context, to string, media Media) error
	SendTyping(ctx context.Context, to string) error

	// OnInbound registers h and returns a func removing it.
	OnInbound(h Handler) (unsubscribe func())
}

// AuthNotifier is implemented by transports with an interactive login.
type AuthNotifier interface {
	OnAuthQR(fn func(code string)) (unsubscribe func())
	OnAuthReady(fn func()) (unsubscribe func())
	OnAuthFailure(fn func(err error)) (unsubscribe func())
}
