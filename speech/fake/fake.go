//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package fake provides in-memory speech providers for tests.
package fake

import (
	"context"
	"sync"

	"github.com/jovemexausto/zupa/speech"
)

// Transcriber returns Text, or fails with Err.
type Transcriber struct {
	Text string
	Err  error

	mu    sync.Mutex
	calls []speech.TranscribeRequest
}

// Transcribe implements speech.Transcriber.
func (t *Transcriber) Transcribe(_ context.Context, req speech.TranscribeRequest) (*speech.Transcript, error) {
	t.mu.Lock()
	t.calls = append(t.calls, req)
	t.mu.Unlock()
	if t.Err != nil {
		return nil, t.Err
	}
	return &speech.Transcript{Text: t.Text, Confidence: 1}, nil
}

// Calls returns the requests seen so far.
func (t *Transcriber) Calls() []speech.TranscribeRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]speech.TranscribeRequest(nil), t.calls...)
}

// Synthesizer records requests and returns a fixed path, or fails with Err.
type Synthesizer struct {
	Path string
	Err  error

	mu    sync.Mutex
	calls []speech.SynthesizeRequest
}

// Synthesize implements speech.Synthesizer.
func (s *Synthesizer) Synthesize(_ context.Context, req speech.SynthesizeRequest) (*speech.Audio, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	path := req.OutputPath
	if path == "" {
		path = s.Path
	}
	if path == "" {
		path = "reply.mp3"
	}
	return &speech.Audio{Path: path, DurationSeconds: 1}, nil
}

// Calls returns the requests seen so far.
func (s *Synthesizer) Calls() []speech.SynthesizeRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]speech.SynthesizeRequest(nil), s.calls...)
}
