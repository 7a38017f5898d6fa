//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package function wraps typed Go functions as tools.
package function

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	itool "github.com/jovemexausto/zupa/internal/tool"
	"github.com/jovemexausto/zupa/tool"
)

// FunctionTool implements tool.CallableTool for a typed function. The input
// schema is derived from I.
type FunctionTool[I, O any] struct {
	name         string
	description  string
	inputSchema  *tool.Schema
	outputSchema *tool.Schema
	fn           func(context.Context, I) (O, error)
	before       func(context.Context, I) (I, error)
	after        func(context.Context, I, O) (O, error)
}

var (
	_ tool.CallableTool = (*FunctionTool[struct{}, string])(nil)
	_ tool.BeforeHook   = (*FunctionTool[struct{}, string])(nil)
	_ tool.AfterHook    = (*FunctionTool[struct{}, string])(nil)
)

// Option is a function that configures a FunctionTool.
type Option func(*functionToolOptions)

// functionToolOptions holds the configuration options for FunctionTool.
type functionToolOptions struct {
	name        string
	description string
	inputSchema *tool.Schema
}

// WithName sets the name of the function tool.
func WithName(name string) Option {
	return func(opts *functionToolOptions) { opts.name = name }
}

// WithDescription sets the description of the function tool.
func WithDescription(description string) Option {
	return func(opts *functionToolOptions) { opts.description = description }
}

// WithInputSchema replaces the schema derived from the input type.
func WithInputSchema(s *tool.Schema) Option {
	return func(opts *functionToolOptions) { opts.inputSchema = s }
}

// NewFunctionTool creates and returns a new instance of FunctionTool with the specified
// function implementation and optional configuration.
func NewFunctionTool[I, O any](fn func(context.Context, I) (O, error), opts ...Option) *FunctionTool[I, O] {
	options := &functionToolOptions{}
	for _, opt := range opts {
		opt(options)
	}
	var (
		emptyI I
		emptyO O
	)
	iSchema := options.inputSchema
	if iSchema == nil {
		iSchema = itool.GenerateJSONSchema(reflect.TypeOf(emptyI))
	}
	return &FunctionTool[I, O]{
		name:         options.name,
		description:  options.description,
		fn:           fn,
		inputSchema:  iSchema,
		outputSchema: itool.GenerateJSONSchema(reflect.TypeOf(emptyO)),
	}
}

// WithBefore sets a hook that may rewrite the decoded input before the
// function runs.
func (ft *FunctionTool[I, O]) WithBefore(fn func(context.Context, I) (I, error)) *FunctionTool[I, O] {
	ft.before = fn
	return ft
}

// WithAfter sets a hook that may rewrite the function's output.
func (ft *FunctionTool[I, O]) WithAfter(fn func(context.Context, I, O) (O, error)) *FunctionTool[I, O] {
	ft.after = fn
	return ft
}

// Call decodes jsonArgs into I and runs the function.
func (ft *FunctionTool[I, O]) Call(ctx context.Context, jsonArgs []byte) (any, error) {
	input, err := ft.decode(jsonArgs)
	if err != nil {
		return nil, err
	}
	if ft.fn == nil {
		return nil, fmt.Errorf("tool %s has no handler", ft.name)
	}
	return ft.fn(ctx, input)
}

// Before runs the before hook on the decoded input and re-encodes it.
func (ft *FunctionTool[I, O]) Before(ctx context.Context, jsonArgs []byte) ([]byte, error) {
	if ft.before == nil {
		return jsonArgs, nil
	}
	input, err := ft.decode(jsonArgs)
	if err != nil {
		return nil, err
	}
	if input, err = ft.before(ctx, input); err != nil {
		return nil, err
	}
	return json.Marshal(input)
}

// After runs the after hook. The result must be the O returned by Call.
func (ft *FunctionTool[I, O]) After(ctx context.Context, jsonArgs []byte, result any) (any, error) {
	if ft.after == nil {
		return result, nil
	}
	out, ok := result.(O)
	if !ok {
		return nil, fmt.Errorf("tool %s: unexpected result type %T", ft.name, result)
	}
	input, err := ft.decode(jsonArgs)
	if err != nil {
		return nil, err
	}
	return ft.after(ctx, input, out)
}

// Declaration returns the tool's declaration information.
func (ft *FunctionTool[I, O]) Declaration() *tool.Declaration {
	return &tool.Declaration{
		Name:         ft.name,
		Description:  ft.description,
		InputSchema:  ft.inputSchema,
		OutputSchema: ft.outputSchema,
	}
}

func (ft *FunctionTool[I, O]) decode(jsonArgs []byte) (I, error) {
	var input I
	if len(jsonArgs) == 0 {
		return input, nil
	}
	if err := json.Unmarshal(jsonArgs, &input); err != nil {
		return input, fmt.Errorf("decode arguments: %w", err)
	}
	return input, nil
}
