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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jovemexausto/zupa/store"
)

func TestDecideOutputModality(t *testing.T) {
	tests := []struct {
		name       string
		pref       string
		structured map[string]any
		text       string
		input      store.Modality
		want       store.Modality
	}{
		{name: "text preference beats voice input", pref: "text", input: store.ModalityVoice, want: store.ModalityText},
		{name: "voice preference beats text input", pref: "voice", input: store.ModalityText, want: store.ModalityVoice},
		{name: "voice preference beats text hint", pref: "voice", structured: map[string]any{"reply_modality": "text"}, want: store.ModalityVoice},
		{name: "hint voice", pref: "dynamic", structured: map[string]any{"reply_modality": "voice"}, want: store.ModalityVoice},
		{name: "hint audio", structured: map[string]any{"reply_modality": " Audio "}, want: store.ModalityVoice},
		{name: "hint text beats voice input", structured: map[string]any{"reply_modality": "text"}, input: store.ModalityVoice, want: store.ModalityText},
		{name: "unknown hint ignored", structured: map[string]any{"reply_modality": "video"}, input: store.ModalityVoice, want: store.ModalityVoice},
		{name: "keyword asks for voice", text: "can you send me a voice note?", input: store.ModalityText, want: store.ModalityVoice},
		{name: "portuguese keyword", text: "manda um áudio", want: store.ModalityVoice},
		{name: "mirror voice", input: store.ModalityVoice, want: store.ModalityVoice},
		{name: "mirror text", input: store.ModalityText, want: store.ModalityText},
		{name: "empty input defaults to text", want: store.ModalityText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DecideOutputModality(tt.pref, tt.structured, tt.text, tt.input))
		})
	}
}

func TestMentionsVoice(t *testing.T) {
	assert.True(t, MentionsVoice("Voice please"))
	assert.True(t, MentionsVoice("responde por voz!"))
	assert.True(t, MentionsVoice("(audio)"))
	assert.False(t, MentionsVoice("audiobook recommendations"))
	assert.False(t, MentionsVoice("invoice total"))
	assert.False(t, MentionsVoice(""))
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var nilLimiter *RateLimiter
	assert.True(t, nilLimiter.Allow("u", now))
	assert.Nil(t, NewRateLimiter(0, 5))

	rl := NewRateLimiter(60, 2)
	assert.True(t, rl.Allow("u", now))
	assert.True(t, rl.Allow("u", now))
	assert.False(t, rl.Allow("u", now))
	assert.True(t, rl.Allow("other", now), "limits are per user")
	assert.True(t, rl.Allow("u", now.Add(time.Second)))
}
