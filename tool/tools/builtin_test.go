//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jovemexausto/zupa/store"
	"github.com/jovemexausto/zupa/store/inmemory"
	"github.com/jovemexausto/zupa/tool"
)

func TestCalculator(t *testing.T) {
	calc := NewCalculatorTool()
	assert.Equal(t, "calculator", calc.Declaration().Name)

	tests := []struct {
		name    string
		args    string
		want    string
		wantErr string
	}{
		{"add", `{"operation":"add","a":2,"b":3}`, "5", ""},
		{"subtract", `{"operation":"subtract","a":2,"b":3}`, "-1", ""},
		{"multiply", `{"operation":"multiply","a":1.5,"b":2}`, "3", ""},
		{"divide", `{"operation":"divide","a":1,"b":4}`, "0.25", ""},
		{"power", `{"operation":"power","a":2,"b":10}`, "1024", ""},
		{"zero", `{"operation":"divide","a":1,"b":0}`, "", "division by zero"},
		{"unknown", `{"operation":"modulo","a":1,"b":2}`, "", "unsupported operation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := calc.Call(context.Background(), []byte(tt.args))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestCalculatorSchemaListsOperations(t *testing.T) {
	schema := NewCalculatorTool().Declaration().InputSchema
	require.NotNil(t, schema)
	op := schema.Properties["operation"]
	require.NotNil(t, op)
	assert.ElementsMatch(t, []any{"add", "subtract", "multiply", "divide", "power"}, op.Enum)
	assert.ElementsMatch(t, []string{"operation", "a", "b"}, schema.Required)
}

func TestTimeTool(t *testing.T) {
	fixed := time.Date(2025, 3, 14, 15, 9, 0, 0, time.UTC)
	clock := NewTimeTool(func() time.Time { return fixed })

	out, err := clock.Call(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "Friday, 2025-03-14 15:09 UTC", out)

	_, err = clock.Call(context.Background(), []byte(`{"timezone":"Mars/Olympus"}`))
	assert.Error(t, err)
}

func sessionCtx(t *testing.T) (context.Context, *store.SessionKV) {
	t.Helper()
	kv := store.NewSessionKV(inmemory.New(), "s1")
	return tool.NewContext(context.Background(), tool.Env{UserID: "u1", SessionID: "s1", KV: kv}), kv
}

func TestNotebook(t *testing.T) {
	ctx, kv := sessionCtx(t)
	remember, recall, forget := NewRememberTool(), NewRecallTool(), NewForgetTool()

	out, err := remember.Call(ctx, []byte(`{"key":"pet","value":"Rex"}`))
	require.NoError(t, err)
	assert.Equal(t, "Noted pet.", out)
	_, err = remember.Call(ctx, []byte(`{"key":"city","value":"Recife"}`))
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "lastCity", "ignored"))

	out, err = recall.Call(ctx, []byte(`{"key":"pet"}`))
	require.NoError(t, err)
	assert.Equal(t, "Rex", out)

	out, err = recall.Call(ctx, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "city: Recife\npet: Rex", out)

	_, err = forget.Call(ctx, []byte(`{"key":"pet"}`))
	require.NoError(t, err)
	out, err = recall.Call(ctx, []byte(`{"key":"pet"}`))
	require.NoError(t, err)
	assert.Equal(t, "No note named pet.", out)

	_, err = remember.Call(ctx, []byte(`{"key":" ","value":"x"}`))
	assert.Error(t, err)
}

func TestNotebookRequiresSession(t *testing.T) {
	_, err := NewRecallTool().Call(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestBuiltinCatalog(t *testing.T) {
	c, err := tool.NewCatalog(tool.FromSets(context.Background(), Builtin(nil))...)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Len())

	ctx, _ := sessionCtx(t)
	res := tool.Dispatch(ctx, c, tool.Call{ID: "1", Name: "remember", Arguments: []byte(`{"key":"a","value":"b"}`)})
	require.True(t, res.OK(), res.Formatted)
}
