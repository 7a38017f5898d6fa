//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// transientError marks an error as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Retryable() bool { return true }

// Transient marks err as retryable. Provider adapters should use it for
// failures they know to be temporary.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Permanent marks err as never retryable, overriding the message heuristic.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() error   { return e.err }
func (e *permanentError) Retryable() bool { return false }

// StatusError carries an upstream status code, typically HTTP.
type StatusError struct {
	Code int
	Err  error
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upstream status %d", e.Code)
	}
	return fmt.Sprintf("upstream status %d: %v", e.Code, e.Err)
}

// Unwrap returns the wrapped error.
func (e *StatusError) Unwrap() error { return e.Err }

// Retryable reports whether the status is worth retrying.
func (e *StatusError) Retryable() bool {
	switch {
	case e.Code == 408, e.Code == 425, e.Code == 429:
		return true
	case e.Code >= 500 && e.Code <= 599:
		return true
	}
	return false
}

// transientMarkers is the fallback for untyped errors from providers that do
// not tag their failures.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"429",
	"rate limit",
	"econnreset",
	"etimedout",
	"econnrefused",
	"socket hang up",
	"502",
	"503",
	"504",
	"temporarily unavailable",
	"connection reset",
}

// IsRetryable classifies err. Typed markers win over the message heuristic.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// DefaultCondition matches errors classified retryable by IsRetryable.
func DefaultCondition() Condition {
	return ConditionFunc(IsRetryable)
}

// OnErrors creates a condition that matches when errors.Is(err, any target).
func OnErrors(targets ...error) Condition {
	return ConditionFunc(func(err error) bool {
		for _, t := range targets {
			if t != nil && errors.Is(err, t) {
				return true
			}
		}
		return false
	})
}
