//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package runner

import "time"

// Defaults for Config.
const (
	DefaultPoolSize     = 64
	DefaultCloseTimeout = 10 * time.Second
	DefaultBusyReply    = "I am handling a lot of messages right now. Please try again in a minute."
)

// Config defines how a Runtime admits inbound messages.
type Config struct {
	// MaxConcurrent bounds in-flight turns. Zero or less admits everything.
	MaxConcurrent int `json:"max_concurrent"`

	// PoolSize is the number of workers running transport-driven turns.
	PoolSize int `json:"pool_size"`

	// BusyReply is sent to senders whose message was shed. Empty sends nothing.
	BusyReply string `json:"busy_reply"`

	// CloseTimeout bounds how long Close waits for in-flight turns.
	CloseTimeout time.Duration `json:"close_timeout"`
}

// DefaultConfig returns a default runtime configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize:     DefaultPoolSize,
		BusyReply:    DefaultBusyReply,
		CloseTimeout: DefaultCloseTimeout,
	}
}

// WithMaxConcurrent sets the in-flight bound.
func (c Config) WithMaxConcurrent(max int) Config {
	c.MaxConcurrent = max
	return c
}

// WithPoolSize sets the worker count.
func (c Config) WithPoolSize(size int) Config {
	c.PoolSize = size
	return c
}

// WithBusyReply sets the reply for shed messages.
func (c Config) WithBusyReply(reply string) Config {
	c.BusyReply = reply
	return c
}

// WithCloseTimeout sets the drain bound of Close.
func (c Config) WithCloseTimeout(timeout time.Duration) Config {
	c.CloseTimeout = timeout
	return c
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.MaxConcurrent > c.PoolSize {
		c.PoolSize = c.MaxConcurrent
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	return c
}
