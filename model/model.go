//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package model provides interfaces for working with LLMs.
package model

import (
	"context"
	"errors"
	"strings"
)

// Model is the interface for all language models.
//
// Complete returns an error for failures that prevent a response, such as
// network or API errors. Providers should classify them with the retry
// package (retry.StatusError, retry.Transient) so callers can tell
// transient failures from permanent ones.
type Model interface {
	// Complete sends the request and waits for the whole response.
	Complete(ctx context.Context, request *Request) (*Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// StreamingModel is implemented by models that can stream partial output.
type StreamingModel interface {
	Model

	// Stream starts a streaming completion. The channel yields deltas and
	// ends with exactly one chunk carrying either Final or Err.
	Stream(ctx context.Context, request *Request) (<-chan *Chunk, error)
}

// Info contains basic information about a Model.
type Info struct {
	Name string
}

// Chunk is one streamed piece of a response.
type Chunk struct {
	// Delta is the incremental text.
	Delta string
	// Final is set on the last chunk of a successful stream.
	Final *Response
	// Err is set on the last chunk of a failed stream.
	Err error
}

// ErrStreamIncomplete is returned by Collect when the stream closed without
// a final chunk.
var ErrStreamIncomplete = errors.New("stream closed without a final response")

// Collect drains a stream into one response. Deltas are concatenated when the
// final response carries no content of its own.
func Collect(ctx context.Context, chunks <-chan *Chunk) (*Response, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				return nil, ErrStreamIncomplete
			}
			if c == nil {
				continue
			}
			if c.Err != nil {
				return nil, c.Err
			}
			sb.WriteString(c.Delta)
			if c.Final != nil {
				final := *c.Final
				if final.Content == "" {
					final.Content = sb.String()
				}
				return &final, nil
			}
		}
	}
}

// CompleteStreaming calls Stream and Collect when m supports streaming, and
// Complete otherwise. onDelta, if set, sees every delta as it arrives.
func CompleteStreaming(ctx context.Context, m Model, request *Request, onDelta func(string)) (*Response, error) {
	sm, ok := m.(StreamingModel)
	if !ok {
		return m.Complete(ctx, request)
	}
	chunks, err := sm.Stream(ctx, request)
	if err != nil {
		return nil, err
	}
	if onDelta == nil {
		return Collect(ctx, chunks)
	}
	tee := make(chan *Chunk)
	go func() {
		defer close(tee)
		for c := range chunks {
			if c != nil && c.Delta != "" {
				onDelta(c.Delta)
			}
			select {
			case tee <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return Collect(ctx, tee)
}
