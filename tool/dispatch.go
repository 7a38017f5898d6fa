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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	itelemetry "github.com/jovemexausto/zupa/internal/telemetry"
	"github.com/jovemexausto/zupa/log"
	"github.com/jovemexausto/zupa/retry"
	"github.com/jovemexausto/zupa/telemetry/trace"
)

// Status tags a dispatch result.
type Status string

// Dispatch statuses.
const (
	StatusOK               Status = "ok"
	StatusRecoverableError Status = "recoverable_error"
)

// Call is a tool invocation requested by the model.
type Call struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments []byte `json:"arguments,omitempty"`
}

// Result is the outcome of one dispatched call. Formatted is the text fed back
// to the model either way.
type Result struct {
	CallID    string `json:"callId"`
	Name      string `json:"name"`
	Status    Status `json:"status"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
	Formatted string `json:"formatted"`
	// DurationMs is the wall time of the whole lifecycle.
	DurationMs int64 `json:"durationMs"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Status == StatusOK }

type dispatchOptions struct {
	policy    retry.Policy
	timeout   time.Duration
	callbacks *Callbacks
}

// DispatchOption configures Dispatch.
type DispatchOption func(*dispatchOptions)

// WithRetryPolicy retries the handler under p. Each attempt re-runs the before
// hook, handler and after hook.
func WithRetryPolicy(p retry.Policy) DispatchOption {
	return func(o *dispatchOptions) { o.policy = p }
}

// WithTimeout bounds every attempt of the lifecycle.
func WithTimeout(d time.Duration) DispatchOption {
	return func(o *dispatchOptions) { o.timeout = d }
}

// WithCallbacks runs cb around every tool.
func WithCallbacks(cb *Callbacks) DispatchOption {
	return func(o *dispatchOptions) { o.callbacks = cb }
}

// Dispatch runs one call against the catalog. It never returns an error:
// unknown tools, invalid arguments, handler errors, timeouts and panics all
// come back as a recoverable result.
func Dispatch(ctx context.Context, c *Catalog, call Call, opts ...DispatchOption) Result {
	o := dispatchOptions{policy: retry.NoRetry}
	for _, opt := range opts {
		opt(&o)
	}
	start := time.Now()
	ctx, span := trace.Tracer.Start(ctx, itelemetry.NewExecuteToolSpanName(call.Name))
	defer span.End()

	out, err := dispatch(ctx, c, call, o)
	res := Result{CallID: call.ID, Name: call.Name, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = StatusRecoverableError
		res.Error = errorMessage(err)
		res.Formatted = fmt.Sprintf("Tool %s failed: %s", call.Name, res.Error)
		log.Warnf("tool %s (call %s) failed: %v", call.Name, call.ID, err)
	} else {
		res.Status = StatusOK
		res.Output = out
		res.Formatted = out
	}
	itelemetry.TraceToolCall(span, call.Name, call.ID, call.Arguments, string(res.Status))
	return res
}

// DispatchAll dispatches calls concurrently. Results keep the order of calls.
func DispatchAll(ctx context.Context, c *Catalog, calls []Call, opts ...DispatchOption) []Result {
	results := make([]Result, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = Dispatch(ctx, c, call, opts...)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func dispatch(ctx context.Context, c *Catalog, call Call, o dispatchOptions) (string, error) {
	t, ok := c.Lookup(call.Name)
	if !ok {
		return "", ErrToolNotFound
	}
	if err := c.Validate(call.Name, call.Arguments); err != nil {
		return "", err
	}
	callable, ok := t.(CallableTool)
	if !ok {
		return "", ErrNotCallable
	}
	policy := o.policy
	if o.timeout > 0 {
		policy = policy.WithTimeout(o.timeout)
	}
	return retry.DoValue(ctx, policy, func(ctx context.Context) (string, error) {
		return runLifecycle(ctx, callable, call.Arguments, o.callbacks)
	})
}

func runLifecycle(ctx context.Context, t CallableTool, args []byte, cb *Callbacks) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	decl := t.Declaration()
	if args, err = cb.RunBeforeTool(ctx, decl, args); err != nil {
		return "", err
	}
	if h, ok := t.(BeforeHook); ok {
		if args, err = h.Before(ctx, args); err != nil {
			return "", err
		}
	}
	result, err := t.Call(ctx, args)
	if err != nil {
		return "", err
	}
	if h, ok := t.(AfterHook); ok {
		if result, err = h.After(ctx, args, result); err != nil {
			return "", err
		}
	}
	if result, err = cb.RunAfterTool(ctx, decl, args, result); err != nil {
		return "", err
	}
	return formatOutput(result)
}

func formatOutput(result any) (string, error) {
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

// errorMessage strips retry bookkeeping so the model sees the cause.
func errorMessage(err error) string {
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) && exhausted.Err != nil {
		err = exhausted.Err
	}
	return err.Error()
}
