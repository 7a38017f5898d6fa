//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package function_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/tool"
	"github.com/jovemexausto/zupa/tool/function"
)

type sumArgs struct {
	A int `json:"A" jsonschema:"description=First integer operand,required"`
	B int `json:"B" jsonschema:"description=Second integer operand,required"`
}

type sumResult struct {
	Result int `json:"result"`
}

func sum(_ context.Context, args sumArgs) (sumResult, error) {
	return sumResult{Result: args.A + args.B}, nil
}

func toArguments(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestFunctionTool_Call(t *testing.T) {
	ft := function.NewFunctionTool(sum,
		function.WithName("sum"),
		function.WithDescription("Calculates the sum of two integers."))

	out, err := ft.Call(context.Background(), toArguments(t, sumArgs{A: 2, B: 3}))
	require.NoError(t, err)
	assert.Equal(t, sumResult{Result: 5}, out)

	_, err = ft.Call(context.Background(), []byte("{not json"))
	assert.Error(t, err)
}

func TestFunctionTool_Declaration(t *testing.T) {
	ft := function.NewFunctionTool(sum, function.WithName("sum"), function.WithDescription("adds"))
	decl := ft.Declaration()
	assert.Equal(t, "sum", decl.Name)
	assert.Equal(t, "adds", decl.Description)
	require.NotNil(t, decl.InputSchema)
	assert.Equal(t, "object", decl.InputSchema.Type)
	assert.Equal(t, "First integer operand", decl.InputSchema.Properties["A"].Description)
	assert.ElementsMatch(t, []string{"A", "B"}, decl.InputSchema.Required)
	require.NotNil(t, decl.OutputSchema)
	assert.Contains(t, decl.OutputSchema.Properties, "result")
}

func TestFunctionTool_InputSchemaOverride(t *testing.T) {
	custom := &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{"q": {Type: "string"}}}
	ft := function.NewFunctionTool(sum, function.WithName("sum"), function.WithInputSchema(custom))
	assert.Same(t, custom, ft.Declaration().InputSchema)
}

func TestFunctionTool_Hooks(t *testing.T) {
	ft := function.NewFunctionTool(sum, function.WithName("sum")).
		WithBefore(func(_ context.Context, in sumArgs) (sumArgs, error) {
			in.B *= 10
			return in, nil
		}).
		WithAfter(func(_ context.Context, in sumArgs, out sumResult) (sumResult, error) {
			out.Result++
			return out, nil
		})
	ctx := context.Background()

	args, err := ft.Before(ctx, toArguments(t, sumArgs{A: 1, B: 2}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"A":1,"B":20}`, string(args))

	out, err := ft.Call(ctx, args)
	require.NoError(t, err)
	out, err = ft.After(ctx, args, out)
	require.NoError(t, err)
	assert.Equal(t, sumResult{Result: 22}, out)

	_, err = ft.After(ctx, args, "wrong type")
	assert.Error(t, err)
}

func TestFunctionTool_NoHooksPassThrough(t *testing.T) {
	ft := function.NewFunctionTool(sum, function.WithName("sum"))
	ctx := context.Background()
	args := []byte(`{"A":1,"B":1}`)

	got, err := ft.Before(ctx, args)
	require.NoError(t, err)
	assert.Equal(t, args, got)
	out, err := ft.After(ctx, args, "anything")
	require.NoError(t, err)
	assert.Equal(t, "anything", out)
}

func TestFunctionTool_DispatchedThroughCatalog(t *testing.T) {
	boom := errors.New("boom")
	failing := function.NewFunctionTool(func(context.Context, sumArgs) (string, error) {
		return "", boom
	}, function.WithName("fail"))
	ok := function.NewFunctionTool(sum, function.WithName("sum")).
		WithBefore(func(_ context.Context, in sumArgs) (sumArgs, error) {
			in.A = 100
			return in, nil
		})

	catalog, err := tool.NewCatalog(failing, ok)
	require.NoError(t, err)

	res := tool.Dispatch(context.Background(), catalog, tool.Call{ID: "1", Name: "sum", Arguments: []byte(`{"A":1,"B":2}`)})
	require.True(t, res.OK(), res.Formatted)
	assert.JSONEq(t, `{"result":102}`, res.Output)

	res = tool.Dispatch(context.Background(), catalog, tool.Call{ID: "2", Name: "fail", Arguments: []byte(`{"A":1,"B":2}`)})
	assert.Equal(t, tool.StatusRecoverableError, res.Status)
	assert.Equal(t, "Tool fail failed: boom", res.Formatted)

	res = tool.Dispatch(context.Background(), catalog, tool.Call{ID: "3", Name: "sum", Arguments: []byte(`{"A":"x","B":2}`)})
	assert.Equal(t, tool.StatusRecoverableError, res.Status)
	assert.Contains(t, res.Formatted, "invalid arguments")
}
