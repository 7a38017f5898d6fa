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
	"github.com/jovemexausto/zupa/graph"
	"github.com/jovemexausto/zupa/model"
	"github.com/jovemexausto/zupa/store"
	"github.com/jovemexausto/zupa/tool"
	"github.com/jovemexausto/zupa/transport"
)

// Turn state channels.
const (
	KeyInbound          = "inbound"
	KeyRequestID        = "requestId"
	KeyRunStartStep     = "runStartStep"
	KeyInboundDuplicate = "inboundDuplicate"
	KeyUser             = "user"
	KeyNewUser          = "isNewUser"
	KeySession          = "session"
	KeyReplyTarget      = "replyTarget"
	KeyHandled          = "handled"
	KeyCommandHandled   = "commandHandled"
	KeyRejected         = "rejected"
	KeyRateLimited      = "rateLimited"
	KeyResolvedContent  = "resolvedContent"
	KeyInputModality    = "inputModality"
	KeyInboundRecordID  = "inboundRecordId"
	KeyAssembledContext = "assembledContext"
	KeyBuiltPrompt      = "builtPrompt"
	KeyConversation     = "conversation"
	KeyLLMResponse      = "llmResponse"
	KeyToolResults      = "toolResults"
	KeyToolIterations   = "toolIterations"
	KeyFinalText        = "finalText"
	KeyOutputModality   = "outputModality"
	KeyReplySent        = "replySent"
	KeyOutboundAudio    = "outboundAudioPath"
	KeyOutboundRecordID = "outboundRecordId"
	KeyTokensUsed       = "tokensUsed"
	KeyDegraded         = "degraded"
)

// Degradation markers recorded under KeyDegraded.
const (
	DegradedSTT       = "stt"
	DegradedLLM       = "llm"
	DegradedTTS       = "tts"
	DegradedTransport = "transport"
)

// AssembledContext is the working and episodic memory of a turn.
type AssembledContext struct {
	History   []*store.Message `json:"history"`
	Summaries []string         `json:"summaries"`
}

// Sum adds integer writes to the previous value.
func Sum(existing, update any) any {
	a, _ := existing.(int)
	b, _ := update.(int)
	return a + b
}

// NewSchema returns the turn state schema.
func NewSchema() *graph.Schema {
	return graph.NewSchema().
		AddChannel(KeyInbound, graph.Field[transport.InboundMessage](nil)).
		AddChannel(KeyRequestID, graph.Field[string](nil)).
		AddChannel(KeyRunStartStep, graph.Field[int](nil)).
		AddChannel(KeyInboundDuplicate, graph.Field[bool](nil)).
		AddChannel(KeyUser, graph.Field[*store.User](nil)).
		AddChannel(KeyNewUser, graph.Field[bool](nil)).
		AddChannel(KeySession, graph.Field[*store.Session](nil)).
		AddChannel(KeyReplyTarget, graph.Field[string](nil)).
		AddChannel(KeyHandled, graph.Field[bool](nil)).
		AddChannel(KeyCommandHandled, graph.Field[bool](nil)).
		AddChannel(KeyRejected, graph.Field[bool](nil)).
		AddChannel(KeyRateLimited, graph.Field[bool](nil)).
		AddChannel(KeyResolvedContent, graph.Field[string](nil)).
		AddChannel(KeyInputModality, graph.Field[store.Modality](nil)).
		AddChannel(KeyInboundRecordID, graph.Field[string](nil)).
		AddChannel(KeyAssembledContext, graph.Field[*AssembledContext](nil)).
		AddChannel(KeyBuiltPrompt, graph.Field[string](nil)).
		AddChannel(KeyConversation, graph.Field[[]model.Message](graph.Append)).
		AddChannel(KeyLLMResponse, graph.Field[*model.Response](nil)).
		AddChannel(KeyToolResults, graph.Field[[]tool.Result](graph.Append)).
		AddChannel(KeyToolIterations, graph.Field[int](Sum)).
		AddChannel(KeyFinalText, graph.Field[string](nil)).
		AddChannel(KeyOutputModality, graph.Field[store.Modality](nil)).
		AddChannel(KeyReplySent, graph.Field[bool](nil)).
		AddChannel(KeyOutboundAudio, graph.Field[string](nil)).
		AddChannel(KeyOutboundRecordID, graph.Field[string](nil)).
		AddChannel(KeyTokensUsed, graph.Field[int](Sum)).
		AddChannel(KeyDegraded, graph.Field[[]string](graph.Append))
}

// Input is the initial state of the thread processing msg.
func Input(msg transport.InboundMessage) graph.State {
	return graph.State{KeyInbound: msg}
}

// ThreadID is the checkpoint thread of the turn processing msg.
func ThreadID(msg transport.InboundMessage) string {
	return "turn:" + msg.MessageID
}

// Outcome is the typed view of a finished turn.
type Outcome struct {
	RequestID      string
	Duplicate      bool
	Handled        bool
	Rejected       bool
	RateLimited    bool
	User           *store.User
	Session        *store.Session
	Content        string
	Reply          string
	OutputModality store.Modality
	ReplySent      bool
	TokensUsed     int
	ToolResults    []tool.Result
	Degraded       []string
}

// OutcomeOf reads the outcome from the values of a turn checkpoint.
func OutcomeOf(values graph.State) Outcome {
	v := graph.NewView(values)
	return Outcome{
		RequestID:      graph.ValueOr(v, KeyRequestID, ""),
		Duplicate:      graph.ValueOr(v, KeyInboundDuplicate, false),
		Handled:        graph.ValueOr(v, KeyHandled, false),
		Rejected:       graph.ValueOr(v, KeyRejected, false),
		RateLimited:    graph.ValueOr(v, KeyRateLimited, false),
		User:           graph.ValueOr[*store.User](v, KeyUser, nil),
		Session:        graph.ValueOr[*store.Session](v, KeySession, nil),
		Content:        graph.ValueOr(v, KeyResolvedContent, ""),
		Reply:          graph.ValueOr(v, KeyFinalText, ""),
		OutputModality: graph.ValueOr(v, KeyOutputModality, store.Modality("")),
		ReplySent:      graph.ValueOr(v, KeyReplySent, false),
		TokensUsed:     graph.ValueOr(v, KeyTokensUsed, 0),
		ToolResults:    graph.ValueOr[[]tool.Result](v, KeyToolResults, nil),
		Degraded:       graph.ValueOr[[]string](v, KeyDegraded, nil),
	}
}
