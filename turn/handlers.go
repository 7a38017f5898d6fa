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

	"github.com/google/uuid"

	"github.com/jovemexausto/zupa/command"
	"github.com/jovemexausto/zupa/graph"
	"github.com/jovemexausto/zupa/log"
	"github.com/jovemexausto/zupa/model"
	"github.com/jovemexausto/zupa/prompt"
	"github.com/jovemexausto/zupa/retry"
	"github.com/jovemexausto/zupa/speech"
	"github.com/jovemexausto/zupa/store"
	"github.com/jovemexausto/zupa/telemetry"
	"github.com/jovemexausto/zupa/tool"
	"github.com/jovemexausto/zupa/transport"
)

// ErrMissingState is returned when a node runs without a field an earlier
// node must have written.
var ErrMissingState = errors.New("turn: missing required state")

// Ledger topics.
const (
	TopicInboundClaimed   = "inbound.claimed"
	TopicInboundDuplicate = "inbound.duplicate"
	TopicAccessRejected   = "access.rejected"
	TopicSessionStarted   = "session.started"
	TopicSessionExpired   = "session.expired"
	TopicRateLimited      = "inbound.rate_limited"
	TopicCommandHandled   = "command.handled"
	TopicToolCall         = "tool.call"
	TopicReplySent        = "reply.sent"
	TopicMessagePersisted = "message.persisted"
	TopicTurnCompleted    = "turn.completed"
)

func required[T any](s graph.View, key string) (T, error) {
	v, ok := graph.Value[T](s, key)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrMissingState, key)
	}
	return v, nil
}

func next(ids ...graph.NodeID) []graph.NodeID { return ids }

func (p *Pipeline) eventDedupGate(ctx context.Context, s graph.View) (*graph.Result, error) {
	msg, err := required[transport.InboundMessage](s, KeyInbound)
	if err != nil {
		return nil, err
	}
	if msg.MessageID == "" {
		return nil, fmt.Errorf("%w: inbound message id", ErrMissingState)
	}
	info, _ := graph.ExecInfoFromContext(ctx)
	key := dedupKey(msg.MessageID)
	update := graph.State{
		KeyRequestID:    requestIDFor(msg.MessageID),
		KeyRunStartStep: info.Step,
		KeyReplyTarget:  msg.From,
	}
	claim, err := p.deps.Store.ClaimInboundEvent(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("claim inbound event: %w", err)
	}
	if claim == store.Duplicate {
		log.Infof("turn: duplicate inbound %s from %s", msg.MessageID, msg.From)
		update[KeyInboundDuplicate] = true
		update[KeyHandled] = true
		return &graph.Result{
			Update: update,
			Ledger: []graph.LedgerEvent{{Topic: TopicInboundDuplicate, Key: key}},
			Next:   next(NodeTelemetryEmit),
		}, nil
	}
	update[KeyInboundDuplicate] = false
	return &graph.Result{
		Update: update,
		Ledger: []graph.LedgerEvent{{Topic: TopicInboundClaimed, Key: key, Data: map[string]any{"from": msg.From}}},
		Next:   next(NodeAccessPolicy),
	}, nil
}

func (p *Pipeline) accessPolicy(ctx context.Context, s graph.View) (*graph.Result, error) {
	msg, err := required[transport.InboundMessage](s, KeyInbound)
	if err != nil {
		return nil, err
	}
	if p.cfg.SingleUserID != "" && !sameAddress(msg.From, p.cfg.SingleUserID) {
		log.Warnf("turn: rejecting %s, not the configured user", msg.From)
		update := graph.State{
			KeyRejected:       true,
			KeyHandled:        true,
			KeyFinalText:      p.cfg.RejectionReply,
			KeyOutputModality: store.ModalityText,
		}
		if err := p.sendText(ctx, msg.From, p.cfg.RejectionReply); err != nil {
			log.Warnf("turn: send rejection to %s: %v", msg.From, err)
			update[KeyDegraded] = []string{DegradedTransport}
		} else {
			update[KeyReplySent] = true
		}
		return &graph.Result{
			Update: update,
			Ledger: []graph.LedgerEvent{{Topic: TopicAccessRejected, Data: map[string]any{"from": msg.From}}},
			Next:   next(NodeTelemetryEmit),
		}, nil
	}

	now := p.now()
	u, err := p.deps.Store.FindUserByExternalID(ctx, msg.From)
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	isNew := false
	if u == nil {
		u = &store.User{
			ExternalUserID: msg.From,
			DisplayName:    displayName(msg),
			CreatedAt:      now,
			LastActiveAt:   now,
		}
		err := p.deps.Store.CreateUser(ctx, u)
		switch {
		case errors.Is(err, store.ErrConflict):
			// A concurrent turn of the same sender created it first.
			if u, err = p.deps.Store.FindUserByExternalID(ctx, msg.From); err != nil {
				return nil, fmt.Errorf("find user after conflict: %w", err)
			}
			if u == nil {
				return nil, fmt.Errorf("create user %s: %w", msg.From, store.ErrConflict)
			}
		case err != nil:
			return nil, fmt.Errorf("create user: %w", err)
		default:
			isNew = true
		}
	}
	if !isNew {
		if err := p.deps.Store.TouchUserLastActive(ctx, u.ID, now); err != nil {
			return nil, fmt.Errorf("touch user: %w", err)
		}
		u.LastActiveAt = now
	}
	return &graph.Result{
		Update: graph.State{KeyUser: u, KeyNewUser: isNew},
		Next:   next(NodeSessionAttach),
	}, nil
}

func (p *Pipeline) sessionAttach(ctx context.Context, s graph.View) (*graph.Result, error) {
	u, err := required[*store.User](s, KeyUser)
	if err != nil {
		return nil, err
	}
	now := p.now()
	sess, err := p.deps.Store.ActiveSession(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("load active session: %w", err)
	}
	var ledger []graph.LedgerEvent
	if sess != nil && sess.IdleFor(p.cfg.SessionIdleTimeout, now) {
		summary, err := p.SummarizeSession(ctx, sess)
		if err != nil {
			return nil, err
		}
		if err := p.deps.Store.EndSession(ctx, sess.ID, summary, now); err != nil && !errors.Is(err, store.ErrSessionEnded) {
			return nil, fmt.Errorf("end idle session: %w", err)
		}
		log.Infof("turn: session %s of user %s expired after inactivity", sess.ID, u.ID)
		ledger = append(ledger, graph.LedgerEvent{Topic: TopicSessionExpired, Key: sess.ID})
		sess = nil
	}
	started := false
	if sess == nil {
		sess = &store.Session{UserID: u.ID, StartedAt: now, LastActiveAt: now}
		err := p.deps.Store.CreateSession(ctx, sess)
		switch {
		case errors.Is(err, store.ErrConflict):
			// A concurrent turn of the same user opened one first; join it.
			if sess, err = p.deps.Store.ActiveSession(ctx, u.ID); err != nil {
				return nil, fmt.Errorf("load active session after conflict: %w", err)
			}
			if sess == nil {
				return nil, fmt.Errorf("create session for %s: %w", u.ID, store.ErrConflict)
			}
		case err != nil:
			return nil, fmt.Errorf("create session: %w", err)
		default:
			started = true
			ledger = append(ledger, graph.LedgerEvent{Topic: TopicSessionStarted, Key: sess.ID})
		}
	}
	if !started {
		if err := p.deps.Store.TouchSession(ctx, sess.ID, now); err != nil {
			return nil, fmt.Errorf("touch session: %w", err)
		}
		sess.LastActiveAt = now
	}
	return &graph.Result{
		Update: graph.State{KeySession: sess},
		Ledger: ledger,
		Next:   next(NodeCommandDispatchGate),
	}, nil
}

func (p *Pipeline) commandDispatchGate(ctx context.Context, s graph.View) (*graph.Result, error) {
	msg, err := required[transport.InboundMessage](s, KeyInbound)
	if err != nil {
		return nil, err
	}
	u, err := required[*store.User](s, KeyUser)
	if err != nil {
		return nil, err
	}
	sess, err := required[*store.Session](s, KeySession)
	if err != nil {
		return nil, err
	}
	now := p.now()
	if !p.deps.Limiter.Allow(u.ID, now) {
		update := graph.State{
			KeyRateLimited:    true,
			KeyHandled:        true,
			KeyFinalText:      p.cfg.RateLimitedReply,
			KeyOutputModality: store.ModalityText,
		}
		if err := p.sendText(ctx, msg.From, p.cfg.RateLimitedReply); err != nil {
			log.Warnf("turn: send rate limit reply to %s: %v", msg.From, err)
			update[KeyDegraded] = []string{DegradedTransport}
		} else {
			update[KeyReplySent] = true
		}
		return &graph.Result{
			Update: update,
			Ledger: []graph.LedgerEvent{{Topic: TopicRateLimited, Key: u.ID}},
			Next:   next(NodeTelemetryEmit),
		}, nil
	}

	update := graph.State{}
	if graph.ValueOr(s, KeyNewUser, false) && p.cfg.WelcomeMessage != "" {
		if err := p.sendText(ctx, msg.From, p.cfg.WelcomeMessage); err != nil {
			log.Warnf("turn: send welcome to %s: %v", msg.From, err)
			update[KeyDegraded] = []string{DegradedTransport}
		}
	}
	if msg.Kind == transport.KindVoice {
		return &graph.Result{Update: update, Next: next(NodeContentResolution)}, nil
	}

	res, handled, err := p.deps.Commands.Dispatch(ctx, command.Env{
		User:      u,
		Session:   sess,
		Store:     p.deps.Store,
		Summarize: p.SummarizeSession,
		Now:       now,
	}, msg.Body)
	if err != nil {
		return nil, err
	}
	if !handled {
		return &graph.Result{Update: update, Next: next(NodeContentResolution)}, nil
	}
	update[KeyHandled] = true
	update[KeyCommandHandled] = true
	update[KeyResolvedContent] = msg.Body
	update[KeyFinalText] = res.Reply
	if res.User != nil {
		update[KeyUser] = res.User
	}
	name := ""
	if inv, ok := command.Parse(msg.Body); ok {
		name = inv.Name
	}
	return &graph.Result{
		Update: update,
		Ledger: []graph.LedgerEvent{{Topic: TopicCommandHandled, Key: name, Data: map[string]any{"sessionEnded": res.SessionEnded}}},
		Next:   next(NodeResponseFinalize),
	}, nil
}

func (p *Pipeline) contentResolution(ctx context.Context, s graph.View) (*graph.Result, error) {
	msg, err := required[transport.InboundMessage](s, KeyInbound)
	if err != nil {
		return nil, err
	}
	u, err := required[*store.User](s, KeyUser)
	if err != nil {
		return nil, err
	}
	sess, err := required[*store.Session](s, KeySession)
	if err != nil {
		return nil, err
	}
	update := graph.State{}
	content, modality := msg.Body, store.ModalityText
	if msg.IsVoice() {
		modality = store.ModalityVoice
		text, err := p.transcribe(ctx, msg.MediaPath)
		switch {
		case err != nil:
			log.Warnf("turn: transcribe %s: %v, using message body", msg.MessageID, err)
			update[KeyDegraded] = []string{DegradedSTT}
		case strings.TrimSpace(text) != "":
			content = text
		}
	}
	rec := &store.Message{
		ID:            uuid.NewString(),
		SessionID:     sess.ID,
		UserID:        u.ID,
		Role:          store.RoleUser,
		ContentText:   content,
		InputModality: modality,
		CreatedAt:     p.now(),
		Metadata:      map[string]any{"messageId": msg.MessageID},
	}
	if err := p.deps.Store.AppendMessage(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist inbound message: %w", err)
	}
	update[KeyResolvedContent] = content
	update[KeyInputModality] = modality
	update[KeyInboundRecordID] = rec.ID
	return &graph.Result{Update: update, Next: next(NodeContextAssembly)}, nil
}

func (p *Pipeline) transcribe(ctx context.Context, path string) (string, error) {
	if p.deps.Transcriber == nil {
		return "", errors.New("no transcriber configured")
	}
	tr, err := retry.DoValue(ctx, p.policy(p.cfg.Timeouts.STT), func(ctx context.Context) (*speech.Transcript, error) {
		return p.deps.Transcriber.Transcribe(ctx, speech.TranscribeRequest{AudioPath: path, Language: p.cfg.Language})
	})
	if err != nil {
		return "", err
	}
	return tr.Text, nil
}

func (p *Pipeline) contextAssembly(ctx context.Context, s graph.View) (*graph.Result, error) {
	u, err := required[*store.User](s, KeyUser)
	if err != nil {
		return nil, err
	}
	sess, err := required[*store.Session](s, KeySession)
	if err != nil {
		return nil, err
	}
	history, err := p.deps.Store.RecentMessages(ctx, sess.ID, p.cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	ac := &AssembledContext{History: history}
	if p.cfg.SummaryWindow > 0 {
		ended, err := p.deps.Store.RecentSummaries(ctx, u.ID, p.cfg.SummaryWindow)
		if err != nil {
			return nil, fmt.Errorf("load summaries: %w", err)
		}
		for _, e := range ended {
			if e.Summary != "" {
				ac.Summaries = append(ac.Summaries, e.Summary)
			}
		}
	}
	return &graph.Result{Update: graph.State{KeyAssembledContext: ac}, Next: next(NodePromptBuild)}, nil
}

func (p *Pipeline) promptBuild(ctx context.Context, s graph.View) (*graph.Result, error) {
	u, err := required[*store.User](s, KeyUser)
	if err != nil {
		return nil, err
	}
	sess, err := required[*store.Session](s, KeySession)
	if err != nil {
		return nil, err
	}
	ac := graph.ValueOr(s, KeyAssembledContext, &AssembledContext{})
	text, err := p.deps.Prompt.Render(ctx, prompt.Context{
		User:      u,
		Session:   sess,
		History:   ac.History,
		Summaries: ac.Summaries,
		Vars:      p.cfg.PromptVars,
		Now:       p.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	if p.defaultPrompt && len(ac.Summaries) > 0 {
		text = strings.TrimRight(text, "\n") + "\n\nEarlier conversations with this user:\n- " + strings.Join(ac.Summaries, "\n- ")
	}
	text = prompt.ApplyVerbosity(text, u.Preference(store.PrefVerbosity))
	return &graph.Result{Update: graph.State{KeyBuiltPrompt: strings.TrimSpace(text)}, Next: next(NodeLLM)}, nil
}

func (p *Pipeline) llmNode(ctx context.Context, s graph.View) (*graph.Result, error) {
	iterations := graph.ValueOr(s, KeyToolIterations, 0)
	if iterations == 0 {
		if target := graph.ValueOr(s, KeyReplyTarget, ""); target != "" {
			if err := p.deps.Transport.SendTyping(ctx, target); err != nil {
				log.Debugf("turn: send typing to %s: %v", target, err)
			}
		}
	}
	req := &model.Request{
		SystemPrompt: graph.ValueOr(s, KeyBuiltPrompt, ""),
		Messages:     conversationMessages(s),
		OutputSchema: p.deps.OutputSchema,
	}
	toolsOffered := p.deps.Tools.Len() > 0 && iterations < p.cfg.MaxToolIterations
	if toolsOffered {
		req.Tools = p.deps.Tools.Declarations()
	}
	rsp, err := retry.DoValue(ctx, p.policy(p.cfg.Timeouts.LLM), func(ctx context.Context) (*model.Response, error) {
		return p.deps.Model.Complete(ctx, req)
	})
	if err != nil {
		log.Warnf("turn: model call failed: %v, sending fallback reply", err)
		return &graph.Result{
			Update: graph.State{KeyFinalText: p.cfg.FallbackReply, KeyDegraded: []string{DegradedLLM}},
			Next:   next(NodeResponseFinalize),
		}, nil
	}
	if p.deps.OutputSchema != nil && rsp.Structured == nil {
		rsp.DecodeStructured()
	}
	update := graph.State{KeyLLMResponse: rsp, KeyTokensUsed: rsp.TokensUsed()}
	if toolsOffered && rsp.HasToolCalls() {
		update[KeyConversation] = []model.Message{{
			Role:      model.RoleAssistant,
			Content:   rsp.Content,
			ToolCalls: rsp.ToolCalls,
		}}
		return &graph.Result{Update: update, Next: next(NodeToolExecution)}, nil
	}
	text := replyText(rsp)
	if text == "" {
		text = p.cfg.FallbackReply
	}
	update[KeyFinalText] = text
	return &graph.Result{Update: update, Next: next(NodeResponseFinalize)}, nil
}

// replyText is the user-facing text of rsp. Structured replies may carry it
// under "reply" or "text".
func replyText(rsp *model.Response) string {
	for _, key := range []string{"reply", "text"} {
		if v, ok := rsp.Structured[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(rsp.Content)
}

func conversationMessages(s graph.View) []model.Message {
	var msgs []model.Message
	if ac, ok := graph.Value[*AssembledContext](s, KeyAssembledContext); ok {
		for _, m := range ac.History {
			switch m.Role {
			case store.RoleUser:
				msgs = append(msgs, model.NewUserMessage(m.ContentText))
			case store.RoleAssistant:
				msgs = append(msgs, model.NewAssistantMessage(m.ContentText))
			}
		}
	}
	return append(msgs, graph.ValueOr[[]model.Message](s, KeyConversation, nil)...)
}

func (p *Pipeline) toolExecution(ctx context.Context, s graph.View) (*graph.Result, error) {
	rsp, err := required[*model.Response](s, KeyLLMResponse)
	if err != nil {
		return nil, err
	}
	u, err := required[*store.User](s, KeyUser)
	if err != nil {
		return nil, err
	}
	sess, err := required[*store.Session](s, KeySession)
	if err != nil {
		return nil, err
	}
	calls := make([]tool.Call, len(rsp.ToolCalls))
	for i, tc := range rsp.ToolCalls {
		calls[i] = tool.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}
	ctx = tool.NewContext(ctx, tool.Env{
		UserID:    u.ID,
		SessionID: sess.ID,
		KV:        store.NewSessionKV(p.deps.Store, sess.ID),
	})
	results := tool.DispatchAll(ctx, p.deps.Tools, calls,
		tool.WithRetryPolicy(p.cfg.Retry),
		tool.WithTimeout(p.cfg.Timeouts.Tool),
		tool.WithCallbacks(p.deps.ToolCallbacks),
	)
	msgs := make([]model.Message, len(results))
	ledger := make([]graph.LedgerEvent, len(results))
	for i, r := range results {
		msgs[i] = model.NewToolMessage(r.CallID, r.Name, r.Formatted)
		ledger[i] = graph.LedgerEvent{Topic: TopicToolCall, Key: r.CallID, Data: map[string]any{
			"name":       r.Name,
			"status":     string(r.Status),
			"durationMs": r.DurationMs,
		}}
		if !r.OK() {
			log.Warnf("turn: tool %s failed: %s", r.Name, r.Error)
		}
	}
	return &graph.Result{
		Update: graph.State{
			KeyToolResults:    results,
			KeyConversation:   msgs,
			KeyToolIterations: 1,
		},
		Ledger: ledger,
		Next:   next(NodeLLM),
	}, nil
}

func (p *Pipeline) responseFinalize(ctx context.Context, s graph.View) (*graph.Result, error) {
	target, err := required[string](s, KeyReplyTarget)
	if err != nil {
		return nil, err
	}
	text := graph.ValueOr(s, KeyFinalText, "")
	modality := store.ModalityText
	if !graph.ValueOr(s, KeyCommandHandled, false) {
		var structured map[string]any
		if rsp, ok := graph.Value[*model.Response](s, KeyLLMResponse); ok {
			structured = rsp.Structured
		}
		u := graph.ValueOr[*store.User](s, KeyUser, nil)
		modality = DecideOutputModality(
			u.Preference(store.PrefReplyFormat),
			structured,
			graph.ValueOr(s, KeyResolvedContent, ""),
			graph.ValueOr(s, KeyInputModality, store.ModalityText),
		)
	}

	update := graph.State{}
	var degraded []string
	sent := false
	if modality == store.ModalityVoice {
		path, err := p.speak(ctx, graph.ValueOr(s, KeyRequestID, ""), text)
		switch {
		case err != nil:
			log.Warnf("turn: synthesize reply: %v, sending text", err)
			degraded = append(degraded, DegradedTTS)
		default:
			if err := p.sendVoice(ctx, target, path); err != nil {
				log.Warnf("turn: send voice to %s: %v, sending text", target, err)
				degraded = append(degraded, DegradedTransport)
			} else {
				sent = true
				update[KeyOutboundAudio] = path
			}
		}
		if !sent {
			modality = store.ModalityText
		}
	}
	if !sent && text != "" {
		if err := p.sendText(ctx, target, text); err != nil {
			log.Warnf("turn: send reply to %s: %v", target, err)
			degraded = append(degraded, DegradedTransport)
		} else {
			sent = true
		}
	}
	update[KeyOutputModality] = modality
	update[KeyReplySent] = sent
	if len(degraded) > 0 {
		update[KeyDegraded] = degraded
	}
	return &graph.Result{
		Update: update,
		Ledger: []graph.LedgerEvent{{Topic: TopicReplySent, Key: target, Data: map[string]any{
			"modality": string(modality),
			"sent":     sent,
		}}},
		Next: next(NodePersistenceHooks),
	}, nil
}

func (p *Pipeline) speak(ctx context.Context, requestID, text string) (string, error) {
	if p.deps.Synthesizer == nil {
		return "", errors.New("no synthesizer configured")
	}
	audio, err := retry.DoValue(ctx, p.policy(p.cfg.Timeouts.TTS), func(ctx context.Context) (*speech.Audio, error) {
		return p.deps.Synthesizer.Synthesize(ctx, speech.SynthesizeRequest{
			Text:       text,
			Voice:      p.cfg.Voice,
			OutputPath: p.audioPath(requestID),
			Language:   p.cfg.Language,
		})
	})
	if err != nil {
		return "", err
	}
	return audio.Path, nil
}

func (p *Pipeline) persistenceHooks(ctx context.Context, s graph.View) (*graph.Result, error) {
	if graph.ValueOr(s, KeyCommandHandled, false) {
		return graph.Goto(NodeTelemetryEmit), nil
	}
	u, err := required[*store.User](s, KeyUser)
	if err != nil {
		return nil, err
	}
	sess, err := required[*store.Session](s, KeySession)
	if err != nil {
		return nil, err
	}
	rec := &store.Message{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		UserID:         u.ID,
		Role:           store.RoleAssistant,
		ContentText:    graph.ValueOr(s, KeyFinalText, ""),
		InputModality:  graph.ValueOr(s, KeyInputModality, store.ModalityText),
		OutputModality: graph.ValueOr(s, KeyOutputModality, store.ModalityText),
		TokensUsed:     graph.ValueOr(s, KeyTokensUsed, 0),
		CreatedAt:      p.now(),
		Metadata:       map[string]any{"requestId": graph.ValueOr(s, KeyRequestID, "")},
	}
	if rsp, ok := graph.Value[*model.Response](s, KeyLLMResponse); ok {
		rec.LatencyMs = rsp.LatencyMs
		rec.Metadata["model"] = rsp.Model
	}
	if deg := graph.ValueOr[[]string](s, KeyDegraded, nil); len(deg) > 0 {
		rec.Metadata["degraded"] = deg
	}
	if err := p.deps.Store.AppendMessage(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist reply: %w", err)
	}
	count, err := p.deps.Store.IncrementMessageCount(ctx, sess.ID, 2)
	if err != nil {
		return nil, fmt.Errorf("increment message count: %w", err)
	}
	return &graph.Result{
		Update: graph.State{KeyOutboundRecordID: rec.ID},
		Ledger: []graph.LedgerEvent{{Topic: TopicMessagePersisted, Key: rec.ID, Data: map[string]any{"messageCount": count}}},
		Next:   next(NodeTelemetryEmit),
	}, nil
}

var degradedNodes = map[string]graph.NodeID{
	DegradedSTT:       NodeContentResolution,
	DegradedLLM:       NodeLLM,
	DegradedTTS:       NodeResponseFinalize,
	DegradedTransport: NodeResponseFinalize,
}

func (p *Pipeline) telemetryEmit(ctx context.Context, s graph.View) (*graph.Result, error) {
	requestID := graph.ValueOr(s, KeyRequestID, "")
	start := graph.ValueOr(s, KeyRunStartStep, 0)
	codes := make(map[graph.NodeID]string)
	for _, d := range graph.ValueOr[[]string](s, KeyDegraded, nil) {
		if id, ok := degradedNodes[d]; ok {
			codes[id] = "degraded_" + d
		}
	}
	info, _ := graph.ExecInfoFromContext(ctx)
	now := p.now()
	for _, t := range graph.ValueOr[[]graph.NodeTiming](s, graph.ChannelNodeTimings, nil) {
		if t.Step < start {
			continue
		}
		result := telemetry.ResultOK
		if t.Result == graph.NodeResultInterrupted {
			result = telemetry.ResultInterrupted
		}
		p.deps.Telemetry.Emit(ctx, telemetry.Event{
			RequestID:  requestID,
			Node:       t.Node.String(),
			DurationMs: t.DurationMs,
			Result:     result,
			ErrorCode:  codes[t.Node],
			Timestamp:  now,
			Metadata:   map[string]any{"step": t.Step, "threadId": info.ThreadID},
		})
	}
	return &graph.Result{
		Ledger: []graph.LedgerEvent{{Topic: TopicTurnCompleted, Key: requestID, Data: map[string]any{
			"duplicate": graph.ValueOr(s, KeyInboundDuplicate, false),
			"handled":   graph.ValueOr(s, KeyHandled, false),
			"replySent": graph.ValueOr(s, KeyReplySent, false),
		}}},
	}, nil
}

func sameAddress(a, b string) bool {
	return normalizeAddress(a) == normalizeAddress(b)
}

// normalizeAddress drops a transport suffix such as "@c.us". Phone-like
// addresses reduce to their digits.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if i := strings.IndexByte(addr, '@'); i >= 0 {
		addr = addr[:i]
	}
	var digits strings.Builder
	for _, r := range addr {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case strings.ContainsRune("+-(). ", r):
		default:
			return addr
		}
	}
	if digits.Len() == 0 {
		return addr
	}
	return digits.String()
}

func displayName(msg transport.InboundMessage) string {
	if name, ok := msg.Metadata["displayName"].(string); ok {
		return name
	}
	return ""
}
