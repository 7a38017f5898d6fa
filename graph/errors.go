//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "errors"

// Errors.
var (
	ErrThreadIDRequired   = errors.New("thread_id is required")
	ErrStoreRequired      = errors.New("checkpoint store is required")
	ErrMaxStepsExceeded   = errors.New("max steps exceeded")
	ErrNodeNotFound       = errors.New("node not found")
	ErrNoCheckpoint       = errors.New("no checkpoint for thread")
	ErrThreadTerminal     = errors.New("thread is already terminal")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrEmptyGraph         = errors.New("graph has no nodes")
)
