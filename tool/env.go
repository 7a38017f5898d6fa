//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"context"

	"github.com/jovemexausto/zupa/store"
)

// Env is the turn context visible to tool handlers.
type Env struct {
	UserID    string
	SessionID string
	// KV is the session key-value store; nil outside a session.
	KV *store.SessionKV
}

type envKey struct{}

// NewContext returns a copy of ctx carrying env.
func NewContext(ctx context.Context, env Env) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

// EnvFromContext returns the Env stored in ctx, if any.
func EnvFromContext(ctx context.Context) (Env, bool) {
	env, ok := ctx.Value(envKey{}).(Env)
	return env, ok
}
