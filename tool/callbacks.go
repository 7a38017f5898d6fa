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
)

// BeforeToolCallback is called before a tool is executed.
// Returns (args, error).
// - args: if not nil, replaces the arguments passed to the tool.
// - error: if not nil, tool execution will be stopped with this error.
type BeforeToolCallback func(ctx context.Context, decl *Declaration, jsonArgs []byte) ([]byte, error)

// AfterToolCallback is called after a tool is executed successfully.
// Returns (customResult, error).
// - customResult: if not nil, this result will be used instead of the actual tool result.
// - error: if not nil, the call fails with this error.
type AfterToolCallback func(ctx context.Context, decl *Declaration, jsonArgs []byte, result any) (any, error)

// Callbacks holds callbacks run around every tool in a dispatch.
type Callbacks struct {
	// BeforeTool is a list of callbacks that are called before the tool is executed.
	BeforeTool []BeforeToolCallback
	// AfterTool is a list of callbacks that are called after the tool is executed.
	AfterTool []AfterToolCallback
}

// NewCallbacks creates a new Callbacks instance for tool.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

// RegisterBeforeTool registers a before tool callback.
func (c *Callbacks) RegisterBeforeTool(cb BeforeToolCallback) *Callbacks {
	c.BeforeTool = append(c.BeforeTool, cb)
	return c
}

// RegisterAfterTool registers an after tool callback.
func (c *Callbacks) RegisterAfterTool(cb AfterToolCallback) *Callbacks {
	c.AfterTool = append(c.AfterTool, cb)
	return c
}

// RunBeforeTool runs all before tool callbacks in order, threading the
// arguments through each one.
func (c *Callbacks) RunBeforeTool(ctx context.Context, decl *Declaration, jsonArgs []byte) ([]byte, error) {
	if c == nil {
		return jsonArgs, nil
	}
	for _, cb := range c.BeforeTool {
		next, err := cb(ctx, decl, jsonArgs)
		if err != nil {
			return nil, err
		}
		if next != nil {
			jsonArgs = next
		}
	}
	return jsonArgs, nil
}

// RunAfterTool runs all after tool callbacks in order.
// Each non-nil custom result replaces the result seen by later callbacks.
func (c *Callbacks) RunAfterTool(ctx context.Context, decl *Declaration, jsonArgs []byte, result any) (any, error) {
	if c == nil {
		return result, nil
	}
	for _, cb := range c.AfterTool {
		custom, err := cb(ctx, decl, jsonArgs, result)
		if err != nil {
			return nil, err
		}
		if custom != nil {
			result = custom
		}
	}
	return result, nil
}
