//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"errors"
	"fmt"
	"time"
)

// InterruptError suspends a node without failing the step. The executor
// persists the step with the interrupted nodes as the next frontier and stops.
type InterruptError struct {
	// Value is the value that was passed to Interrupt.
	Value any
	// NodeID is the node where the interrupt occurred. Filled by the executor.
	NodeID NodeID
	// Step is the step number when the interrupt occurred. Filled by the executor.
	Step int
	// Timestamp is when the interrupt occurred.
	Timestamp time.Time
}

// Error returns the error message for the interrupt.
func (e *InterruptError) Error() string {
	return fmt.Sprintf("graph interrupted at node %s (step %d): %v", e.NodeID, e.Step, e.Value)
}

// Interrupt returns an InterruptError carrying value. Return it from a node
// to suspend that node until the thread is resumed.
func Interrupt(value any) error {
	return &InterruptError{Value: value, Timestamp: time.Now().UTC()}
}

// IsInterruptError checks if err is or wraps an InterruptError.
func IsInterruptError(err error) bool {
	var ie *InterruptError
	return errors.As(err, &ie)
}

// GetInterruptError extracts an InterruptError from err.
func GetInterruptError(err error) (*InterruptError, bool) {
	var ie *InterruptError
	if errors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

// InterruptInfo records an interrupt inside checkpoint metadata.
type InterruptInfo struct {
	Node  NodeID `json:"node"`
	Value any    `json:"value,omitempty"`
}
