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
	"errors"
	"fmt"
	"strings"

	"github.com/jovemexausto/zupa/log"
	"github.com/jovemexausto/zupa/model"
	"github.com/jovemexausto/zupa/store"
)

const (
	conversationTextPlaceholder = "{conversation_text}"
	maxSummaryWordsPlaceholder  = "{max_summary_words}"

	defaultMaxSummaryWords = 60
	// fallbackSummaryChars caps the transcript used when the model fails.
	fallbackSummaryChars = 280
)

// Summarizer produces the summary stored when a session ends.
type Summarizer interface {
	Summarize(ctx context.Context, sess *store.Session, msgs []*store.Message) (string, error)
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(ctx context.Context, sess *store.Session, msgs []*store.Message) (string, error)

// Summarize implements Summarizer.
func (f SummarizerFunc) Summarize(ctx context.Context, sess *store.Session, msgs []*store.Message) (string, error) {
	return f(ctx, sess, msgs)
}

func defaultSummarizerPrompt() string {
	return "Summarize the following conversation between a user and an assistant " +
		"in at most two sentences, keeping what would help a future conversation. " +
		"Do not make anything up. Keep it within " + maxSummaryWordsPlaceholder + " words." +
		"\n\n<conversation>\n" + conversationTextPlaceholder + "\n</conversation>\n\nSummary:"
}

// SummarizerOption configures a ModelSummarizer.
type SummarizerOption func(*ModelSummarizer)

// WithSummaryPrompt sets the prompt. It may use {conversation_text} and
// {max_summary_words}.
func WithSummaryPrompt(prompt string) SummarizerOption {
	return func(s *ModelSummarizer) { s.prompt = prompt }
}

// WithMaxSummaryWords caps the summary length asked of the model.
func WithMaxSummaryWords(n int) SummarizerOption {
	return func(s *ModelSummarizer) { s.maxWords = n }
}

// ModelSummarizer asks a model for the summary and falls back to a
// truncated transcript when the model fails.
type ModelSummarizer struct {
	model    model.Model
	prompt   string
	maxWords int
}

// NewModelSummarizer creates a summarizer backed by m.
func NewModelSummarizer(m model.Model, opts ...SummarizerOption) *ModelSummarizer {
	s := &ModelSummarizer{model: m, maxWords: defaultMaxSummaryWords}
	for _, opt := range opts {
		opt(s)
	}
	if s.prompt == "" {
		s.prompt = defaultSummarizerPrompt()
	}
	return s
}

// Summarize implements Summarizer. An empty conversation has an empty summary.
func (s *ModelSummarizer) Summarize(ctx context.Context, sess *store.Session, msgs []*store.Message) (string, error) {
	text := conversationText(msgs)
	if text == "" {
		return "", nil
	}
	summary, err := s.generate(ctx, text)
	if err != nil {
		log.Warnf("summarize session %s: %v, using transcript", sess.ID, err)
		return truncate(text, fallbackSummaryChars), nil
	}
	return summary, nil
}

func (s *ModelSummarizer) generate(ctx context.Context, text string) (string, error) {
	if s.model == nil {
		return "", errors.New("no model configured for summarization")
	}
	prompt := strings.ReplaceAll(s.prompt, conversationTextPlaceholder, text)
	prompt = strings.ReplaceAll(prompt, maxSummaryWordsPlaceholder, fmt.Sprint(s.maxWords))
	rsp, err := s.model.Complete(ctx, &model.Request{
		Messages: []model.Message{model.NewUserMessage(prompt)},
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(rsp.Content)
	if summary == "" {
		return "", errors.New("model returned an empty summary")
	}
	return summary, nil
}

func conversationText(msgs []*store.Message) string {
	var parts []string
	for _, m := range msgs {
		content := strings.TrimSpace(m.ContentText)
		if content == "" {
			continue
		}
		author := string(m.Role)
		if author == "" {
			author = "unknown"
		}
		parts = append(parts, author+": "+content)
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
