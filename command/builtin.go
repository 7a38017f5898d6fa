//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/jovemexausto/zupa/prompt"
	"github.com/jovemexausto/zupa/store"
)

// Builtins returns the built-in commands.
func Builtins() []*Command {
	return []*Command{
		{Name: "help", Usage: "/help", Description: "List the commands.", Handler: help},
		{Name: "reset", Usage: "/reset", Description: "Start a new conversation.", Handler: reset},
		{
			Name:        "prefs",
			Usage:       "/prefs reply text|voice|dynamic, /prefs verbosity short|normal|detailed",
			Description: "Show or change your preferences.",
			Handler:     prefs,
		},
		{Name: "usage", Usage: "/usage", Description: "Show how many messages this conversation has.", Handler: usage},
	}
}

func help(_ context.Context, env Env, _ Invocation) (Result, error) {
	var b strings.Builder
	b.WriteString("Commands:")
	for _, c := range env.Registry.Commands() {
		fmt.Fprintf(&b, "\n/%s - %s", c.Name, c.Description)
	}
	return Result{Reply: b.String()}, nil
}

func reset(ctx context.Context, env Env, _ Invocation) (Result, error) {
	if !env.Session.Active() {
		return Result{Reply: "There is no conversation to reset."}, nil
	}
	var summary string
	if env.Summarize != nil {
		s, err := env.Summarize(ctx, env.Session)
		if err != nil {
			return Result{}, fmt.Errorf("summarize session: %w", err)
		}
		summary = s
	}
	if err := env.Store.EndSession(ctx, env.Session.ID, summary, env.Now); err != nil {
		return Result{}, err
	}
	return Result{Reply: "Conversation reset. Let's start fresh.", SessionEnded: true}, nil
}

var replyFormats = map[string]bool{
	store.ReplyFormatText:    true,
	store.ReplyFormatVoice:   true,
	store.ReplyFormatDynamic: true,
}

func prefs(ctx context.Context, env Env, inv Invocation) (Result, error) {
	if len(inv.Args) == 0 {
		return Result{Reply: fmt.Sprintf("reply: %s\nverbosity: %s",
			orDefault(env.User.Preference(store.PrefReplyFormat), store.ReplyFormatDynamic),
			orDefault(env.User.Preference(store.PrefVerbosity), prompt.VerbosityNormal))}, nil
	}
	var key, value string
	switch what := strings.ToLower(inv.Arg(0)); what {
	case "reply":
		key, value = store.PrefReplyFormat, strings.ToLower(inv.Arg(1))
		if !replyFormats[value] {
			return Result{Reply: "Usage: /prefs reply text|voice|dynamic"}, nil
		}
	case "verbosity":
		key, value = store.PrefVerbosity, strings.ToLower(inv.Arg(1))
		if !prompt.ValidVerbosity(value) {
			return Result{Reply: "Usage: /prefs verbosity short|normal|detailed"}, nil
		}
	default:
		return Result{Reply: "Unknown preference " + what + ". Try reply or verbosity."}, nil
	}
	u, err := env.Store.UpdateUserPreferences(ctx, env.User.ID, map[string]any{key: value})
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: fmt.Sprintf("Saved: %s = %s", inv.Arg(0), value), User: u}, nil
}

func usage(ctx context.Context, env Env, _ Invocation) (Result, error) {
	if env.Session == nil {
		return Result{Reply: "No active conversation."}, nil
	}
	s, err := env.Store.GetSession(ctx, env.Session.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Reply: fmt.Sprintf("This conversation has %d messages since %s.",
		s.MessageCount, s.StartedAt.UTC().Format("2006-01-02 15:04 MST"))}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
