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
	"errors"
)

// ToolSet defines an interface for managing a set of tools.
// It provides methods to retrieve the current tools and to perform cleanup.
type ToolSet interface {
	// Tools returns a slice of Tool instances available in the set based on the provided context.
	Tools(context.Context) []Tool

	// Close releases any resources held by the ToolSet.
	Close() error

	// Name returns the name of the ToolSet for identification and conflict resolution.
	Name() string
}

// NewToolSet groups tools under name.
func NewToolSet(name string, tools ...Tool) ToolSet {
	return &staticSet{name: name, tools: tools}
}

type staticSet struct {
	name  string
	tools []Tool
}

func (s *staticSet) Tools(context.Context) []Tool { return append([]Tool(nil), s.tools...) }
func (s *staticSet) Close() error                 { return nil }
func (s *staticSet) Name() string                 { return s.name }

// FromSets flattens sets into tools, prefixing each tool name with
// "<set>_" when the set is named so sets cannot collide.
func FromSets(ctx context.Context, sets ...ToolSet) []Tool {
	var out []Tool
	for _, set := range sets {
		if set == nil {
			continue
		}
		prefix := set.Name()
		for _, t := range set.Tools(ctx) {
			if prefix == "" {
				out = append(out, t)
				continue
			}
			out = append(out, &namedTool{original: t, prefix: prefix})
		}
	}
	return out
}

// CloseSets closes every set and joins the errors.
func CloseSets(sets ...ToolSet) error {
	var errs []error
	for _, set := range sets {
		if set == nil {
			continue
		}
		if err := set.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// namedTool wraps an original tool with a prefixed name to avoid conflicts.
type namedTool struct {
	original Tool
	prefix   string
}

// Declaration returns the tool declaration with a prefixed name.
func (t *namedTool) Declaration() *Declaration {
	decl := t.original.Declaration()
	return &Declaration{
		Name:         t.prefix + "_" + decl.Name,
		Description:  decl.Description,
		InputSchema:  decl.InputSchema,
		OutputSchema: decl.OutputSchema,
	}
}

// Call delegates to the original tool's Call method.
func (t *namedTool) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	if callable, ok := t.original.(CallableTool); ok {
		return callable.Call(ctx, jsonArgs)
	}
	return nil, ErrNotCallable
}

// Before delegates to the original tool's hook, if any.
func (t *namedTool) Before(ctx context.Context, jsonArgs []byte) ([]byte, error) {
	if h, ok := t.original.(BeforeHook); ok {
		return h.Before(ctx, jsonArgs)
	}
	return jsonArgs, nil
}

// After delegates to the original tool's hook, if any.
func (t *namedTool) After(ctx context.Context, jsonArgs []byte, result any) (any, error) {
	if h, ok := t.original.(AfterHook); ok {
		return h.After(ctx, jsonArgs, result)
	}
	return result, nil
}
