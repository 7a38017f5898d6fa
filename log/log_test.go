//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)
	cases := []struct {
		in       string
		expected zapcore.Level
	}{
		{LevelDebug, zapcore.DebugLevel},
		{LevelInfo, zapcore.InfoLevel},
		{LevelWarn, zapcore.WarnLevel},
		{LevelError, zapcore.ErrorLevel},
		{LevelFatal, zapcore.FatalLevel},
		{"unknown", zapcore.InfoLevel},
	}
	for _, c := range cases {
		SetLevel(c.in)
		assert.Equal(t, c.expected, zapLevel.Level(), c.in)
	}
}

func TestNew_RespectsSharedLevel(t *testing.T) {
	defer SetLevel(LevelInfo)
	var buf bytes.Buffer
	l := New(&buf)

	SetLevel(LevelWarn)
	l.Infof("hidden %d", 1)
	assert.Empty(t, buf.String())

	l.Warnf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
	assert.Contains(t, buf.String(), "WARN")
}

func TestPackageHelpers_UseDefault(t *testing.T) {
	old := Default
	defer func() { Default = old }()
	var buf bytes.Buffer
	Default = New(&buf)

	Info("hello")
	Errorf("boom: %s", "x")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "boom: x")
}
