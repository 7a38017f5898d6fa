//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package command implements slash commands such as /help and /reset.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jovemexausto/zupa/store"
)

// Prefix starts every command.
const Prefix = "/"

var (
	// ErrDuplicateCommand is returned when registering a name twice.
	ErrDuplicateCommand = errors.New("command: duplicate command")
	// ErrInvalidCommand is returned for a command without a name or handler.
	ErrInvalidCommand = errors.New("command: invalid command")
)

// Env is what a command runs against.
type Env struct {
	User    *store.User
	Session *store.Session
	Store   store.Store
	// Summarize produces the summary stored when a command ends a session.
	Summarize func(ctx context.Context, s *store.Session) (string, error)
	Now       time.Time
	Registry  *Registry
}

// Invocation is a parsed command line.
type Invocation struct {
	Name string
	Args []string
	Raw  string
}

// Arg returns the i-th argument, or "".
func (inv Invocation) Arg(i int) string {
	if i < 0 || i >= len(inv.Args) {
		return ""
	}
	return inv.Args[i]
}

// Result is the outcome of a handled command.
type Result struct {
	Reply string
	// User is set when the command changed the user record.
	User *store.User
	// SessionEnded reports that the active session was closed.
	SessionEnded bool
}

// Handler runs a command.
type Handler func(ctx context.Context, env Env, inv Invocation) (Result, error)

// Command is a registered slash command.
type Command struct {
	Name        string
	Usage       string
	Description string
	Handler     Handler
}

// Parse splits text into a command invocation. Names are case-insensitive.
func Parse(text string) (Invocation, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, Prefix) {
		return Invocation{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, Prefix))
	if len(fields) == 0 {
		return Invocation{}, false
	}
	return Invocation{
		Name: strings.ToLower(fields[0]),
		Args: fields[1:],
		Raw:  text,
	}, true
}

// Registry looks commands up by exact name.
type Registry struct {
	cmds map[string]*Command
}

// NewRegistry creates a registry holding cmds.
func NewRegistry(cmds ...*Command) (*Registry, error) {
	r := &Registry{cmds: make(map[string]*Command, len(cmds))}
	for _, c := range cmds {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Default returns a registry with the built-in commands.
func Default() *Registry {
	r, err := NewRegistry(Builtins()...)
	if err != nil {
		panic(err)
	}
	return r
}

// Register adds c.
func (r *Registry) Register(c *Command) error {
	if c == nil || c.Name == "" || c.Handler == nil {
		return ErrInvalidCommand
	}
	name := strings.ToLower(strings.TrimPrefix(c.Name, Prefix))
	if _, ok := r.cmds[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	r.cmds[name] = c
	return nil
}

// Lookup returns the command called name.
func (r *Registry) Lookup(name string) (*Command, bool) {
	if r == nil {
		return nil, false
	}
	c, ok := r.cmds[strings.ToLower(name)]
	return c, ok
}

// Commands returns every command sorted by name.
func (r *Registry) Commands() []*Command {
	if r == nil {
		return nil
	}
	out := make([]*Command, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs the command in text. handled is false when text is not a
// command. Unknown names are handled with a hint reply.
func (r *Registry) Dispatch(ctx context.Context, env Env, text string) (res Result, handled bool, err error) {
	inv, ok := Parse(text)
	if !ok {
		return Result{}, false, nil
	}
	c, ok := r.Lookup(inv.Name)
	if !ok {
		return Result{Reply: fmt.Sprintf("Unknown command /%s. Send /help to see the commands.", inv.Name)}, true, nil
	}
	if env.Registry == nil {
		env.Registry = r
	}
	if env.Now.IsZero() {
		env.Now = time.Now()
	}
	res, err = c.Handler(ctx, env, inv)
	if err != nil {
		return Result{}, true, fmt.Errorf("command /%s: %w", inv.Name, err)
	}
	return res, true, nil
}
