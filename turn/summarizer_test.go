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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/model/fake"
	"github.com/jovemexausto/zupa/store"
)

func transcript(pairs ...string) []*store.Message {
	var msgs []*store.Message
	for i, content := range pairs {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		msgs = append(msgs, &store.Message{Role: role, ContentText: content})
	}
	return msgs
}

func TestModelSummarizer_UsesModel(t *testing.T) {
	m := fake.New(fake.Text("  The user said hello.  "))
	s := NewModelSummarizer(m, WithMaxSummaryWords(20))

	got, err := s.Summarize(context.Background(), &store.Session{ID: "s1"}, transcript("hello", "hi there"))
	require.NoError(t, err)
	assert.Equal(t, "The user said hello.", got)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	body := reqs[0].Messages[0].Content
	assert.Contains(t, body, "user: hello\nassistant: hi there")
	assert.Contains(t, body, "within 20 words")
}

func TestModelSummarizer_CustomPrompt(t *testing.T) {
	m := fake.New(fake.Text("ok"))
	s := NewModelSummarizer(m, WithSummaryPrompt("Summarize: {conversation_text} ({max_summary_words})"))
	_, err := s.Summarize(context.Background(), &store.Session{ID: "s1"}, transcript("a"))
	require.NoError(t, err)
	assert.Equal(t, "Summarize: user: a (60)", m.Requests()[0].Messages[0].Content)
}

func TestModelSummarizer_FallsBackToTranscript(t *testing.T) {
	long := strings.Repeat("x", 400)
	m := fake.New(fake.Fail(errors.New("boom")), fake.Text("   "))
	s := NewModelSummarizer(m)

	got, err := s.Summarize(context.Background(), &store.Session{ID: "s1"}, transcript(long))
	require.NoError(t, err)
	assert.Equal(t, []rune("user: " + long)[:280], []rune(strings.TrimSuffix(got, "...")))
	assert.True(t, strings.HasSuffix(got, "..."))

	got, err = s.Summarize(context.Background(), &store.Session{ID: "s1"}, transcript("short"))
	require.NoError(t, err)
	assert.Equal(t, "user: short", got, "an empty model summary falls back too")
}

func TestModelSummarizer_EmptyConversation(t *testing.T) {
	m := fake.New()
	got, err := NewModelSummarizer(m).Summarize(context.Background(), &store.Session{ID: "s1"}, transcript("  "))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, m.Calls())
}
