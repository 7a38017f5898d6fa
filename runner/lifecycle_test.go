//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestLifecycle_StopJoinsErrors(t *testing.T) {
	var l Lifecycle
	l.Add(
		Closer("a", closerFunc(func() error { return errors.New("a failed") })),
		nil,
		Closer("b", closerFunc(func() error { return errors.New("b failed") })),
	)
	require.NoError(t, l.Start(context.Background()))

	err := l.Stop(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop a: a failed")
	assert.Contains(t, err.Error(), "stop b: b failed")
	assert.NoError(t, l.Stop(context.Background()), "nothing left to stop")
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{MaxConcurrent: 100}.withDefaults()
	assert.Equal(t, 100, cfg.PoolSize)
	assert.Equal(t, DefaultCloseTimeout, cfg.CloseTimeout)

	cfg = DefaultConfig().WithPoolSize(0).withDefaults()
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultBusyReply, cfg.BusyReply)
}
