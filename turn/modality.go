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
	"strings"
	"unicode"

	"github.com/jovemexausto/zupa/store"
)

// ReplyModalityField is the structured reply field a model may use to ask
// for a voice or text answer.
const ReplyModalityField = "reply_modality"

var voiceKeywords = map[string]struct{}{
	"audio": {},
	"voice": {},
	"áudio": {},
	"voz":   {},
	"fala":  {},
}

// DecideOutputModality picks the reply modality. An explicit text or voice
// preference wins. Otherwise a structured hint from the model decides, then
// a voice keyword in the inbound text, then the input modality is mirrored.
func DecideOutputModality(pref string, structured map[string]any, inboundText string, input store.Modality) store.Modality {
	switch pref {
	case store.ReplyFormatText:
		return store.ModalityText
	case store.ReplyFormatVoice:
		return store.ModalityVoice
	}
	if hint, ok := structured[ReplyModalityField].(string); ok {
		switch strings.ToLower(strings.TrimSpace(hint)) {
		case "voice", "audio":
			return store.ModalityVoice
		case "text":
			return store.ModalityText
		}
	}
	if MentionsVoice(inboundText) {
		return store.ModalityVoice
	}
	if input == store.ModalityVoice {
		return store.ModalityVoice
	}
	return store.ModalityText
}

// MentionsVoice reports whether text contains a voice keyword as a word.
func MentionsVoice(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, ok := voiceKeywords[w]; ok {
			return true
		}
	}
	return false
}
