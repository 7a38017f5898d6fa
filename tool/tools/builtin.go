//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package tools provides the builtin tools offered to the model: a
// calculator, the current time and a per-session notebook backed by the
// session key-value store.
package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jovemexausto/zupa/tool"
	"github.com/jovemexausto/zupa/tool/function"
)

// notePrefix namespaces notebook keys inside the session KV.
const notePrefix = "note:"

// ErrNoSession is returned by the notebook tools outside a session.
var ErrNoSession = errors.New("no active session")

// CalculatorArgs are the arguments of the calculator tool.
type CalculatorArgs struct {
	Operation string  `json:"operation" jsonschema:"description=The arithmetic operation,enum=add,enum=subtract,enum=multiply,enum=divide,enum=power"`
	A         float64 `json:"a" jsonschema:"description=The first operand"`
	B         float64 `json:"b" jsonschema:"description=The second operand"`
}

// NewCalculatorTool performs basic arithmetic.
func NewCalculatorTool() tool.CallableTool {
	return function.NewFunctionTool(calculate,
		function.WithName("calculator"),
		function.WithDescription("Performs basic arithmetic operations like add, subtract, multiply, divide, and power"),
	)
}

func calculate(_ context.Context, in CalculatorArgs) (string, error) {
	var result float64
	switch in.Operation {
	case "add":
		result = in.A + in.B
	case "subtract":
		result = in.A - in.B
	case "multiply":
		result = in.A * in.B
	case "divide":
		if in.B == 0 {
			return "", errors.New("division by zero")
		}
		result = in.A / in.B
	case "power":
		result = math.Pow(in.A, in.B)
	default:
		return "", fmt.Errorf("unsupported operation: %s", in.Operation)
	}
	// Integers print without a fraction.
	if result == math.Floor(result) && !math.IsInf(result, 0) {
		return strconv.FormatFloat(result, 'f', 0, 64), nil
	}
	return strconv.FormatFloat(result, 'f', -1, 64), nil
}

// TimeArgs are the arguments of the current_time tool.
type TimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone such as America/Sao_Paulo. Defaults to UTC"`
}

// NewTimeTool reports the current time read from now.
func NewTimeTool(now func() time.Time) tool.CallableTool {
	if now == nil {
		now = time.Now
	}
	return function.NewFunctionTool(func(_ context.Context, in TimeArgs) (string, error) {
		loc := time.UTC
		if in.Timezone != "" {
			l, err := time.LoadLocation(in.Timezone)
			if err != nil {
				return "", fmt.Errorf("unknown timezone %q", in.Timezone)
			}
			loc = l
		}
		return now().In(loc).Format("Monday, 2006-01-02 15:04 MST"), nil
	},
		function.WithName("current_time"),
		function.WithDescription("Returns the current date and time"),
	)
}

// RememberArgs are the arguments of the remember tool.
type RememberArgs struct {
	Key   string `json:"key" jsonschema:"description=Short name of the note"`
	Value string `json:"value" jsonschema:"description=What to remember"`
}

// RecallArgs are the arguments of the recall tool.
type RecallArgs struct {
	Key string `json:"key,omitempty" jsonschema:"description=Note to read. Empty lists every note"`
}

func sessionKV(ctx context.Context) (tool.Env, error) {
	env, ok := tool.EnvFromContext(ctx)
	if !ok || env.KV == nil {
		return tool.Env{}, ErrNoSession
	}
	return env, nil
}

// NewRememberTool stores a note in the current session.
func NewRememberTool() tool.CallableTool {
	return function.NewFunctionTool(func(ctx context.Context, in RememberArgs) (string, error) {
		key := strings.TrimSpace(in.Key)
		if key == "" {
			return "", errors.New("key is required")
		}
		env, err := sessionKV(ctx)
		if err != nil {
			return "", err
		}
		if err := env.KV.Set(ctx, notePrefix+key, in.Value); err != nil {
			return "", err
		}
		return "Noted " + key + ".", nil
	},
		function.WithName("remember"),
		function.WithDescription("Saves a note for the rest of this conversation"),
	)
}

// NewRecallTool reads notes of the current session.
func NewRecallTool() tool.CallableTool {
	return function.NewFunctionTool(func(ctx context.Context, in RecallArgs) (string, error) {
		env, err := sessionKV(ctx)
		if err != nil {
			return "", err
		}
		if key := strings.TrimSpace(in.Key); key != "" {
			v, ok, err := env.KV.Get(ctx, notePrefix+key)
			if err != nil {
				return "", err
			}
			if !ok {
				return "No note named " + key + ".", nil
			}
			return fmt.Sprint(v), nil
		}
		all, err := env.KV.All(ctx)
		if err != nil {
			return "", err
		}
		var lines []string
		for k, v := range all {
			if name, ok := strings.CutPrefix(k, notePrefix); ok {
				lines = append(lines, fmt.Sprintf("%s: %v", name, v))
			}
		}
		if len(lines) == 0 {
			return "No notes yet.", nil
		}
		sort.Strings(lines)
		return strings.Join(lines, "\n"), nil
	},
		function.WithName("recall"),
		function.WithDescription("Reads notes saved earlier in this conversation"),
	)
}

// ForgetArgs are the arguments of the forget tool.
type ForgetArgs struct {
	Key string `json:"key" jsonschema:"description=Note to delete"`
}

// NewForgetTool deletes a note of the current session.
func NewForgetTool() tool.CallableTool {
	return function.NewFunctionTool(func(ctx context.Context, in ForgetArgs) (string, error) {
		env, err := sessionKV(ctx)
		if err != nil {
			return "", err
		}
		if err := env.KV.Delete(ctx, notePrefix+strings.TrimSpace(in.Key)); err != nil {
			return "", err
		}
		return "Forgot " + in.Key + ".", nil
	},
		function.WithName("forget"),
		function.WithDescription("Deletes a note saved earlier in this conversation"),
	)
}

// Builtin groups every builtin tool in an unnamed set, so tool names are
// not prefixed.
func Builtin(now func() time.Time) tool.ToolSet {
	return tool.NewToolSet("",
		NewCalculatorTool(),
		NewTimeTool(now),
		NewRememberTool(),
		NewRecallTool(),
		NewForgetTool(),
	)
}
