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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closingSet struct {
	ToolSet
	err error
}

func (c closingSet) Close() error { return c.err }

func TestFromSets(t *testing.T) {
	ctx := context.Background()
	named := NewToolSet("wx", weatherTool(echoCity))
	plain := NewToolSet("", declOnly{name: "alpha"})

	tools := FromSets(ctx, named, nil, plain)
	require.Len(t, tools, 2)
	assert.Equal(t, "wx_weather", tools[0].Declaration().Name)
	assert.Equal(t, "alpha", tools[1].Declaration().Name)

	c, err := NewCatalog(tools...)
	require.NoError(t, err)
	res := Dispatch(ctx, c, Call{Name: "wx_weather", Arguments: []byte(`{"city":"Recife"}`)})
	require.True(t, res.OK(), res.Formatted)
	assert.Equal(t, "sunny in Recife", res.Output)

	wrapped := FromSets(ctx, NewToolSet("p", declOnly{name: "d"}))[0].(CallableTool)
	_, err = wrapped.Call(ctx, nil)
	assert.ErrorIs(t, err, ErrNotCallable)
}

func TestCloseSets(t *testing.T) {
	boom := errors.New("boom")
	err := CloseSets(NewToolSet("a"), closingSet{ToolSet: NewToolSet("b"), err: boom}, nil)
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, CloseSets(NewToolSet("a")))
}
