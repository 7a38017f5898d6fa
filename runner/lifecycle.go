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
	"fmt"
	"io"
	"sync"

	"github.com/jovemexausto/zupa/log"
)

// Resource is a collaborator started before the runtime accepts messages
// and stopped after it stops.
type Resource interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type funcResource struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (r *funcResource) Name() string { return r.name }

func (r *funcResource) Start(ctx context.Context) error {
	if r.start == nil {
		return nil
	}
	return r.start(ctx)
}

func (r *funcResource) Stop(ctx context.Context) error {
	if r.stop == nil {
		return nil
	}
	return r.stop(ctx)
}

// NewResource builds a Resource from functions. Either may be nil.
func NewResource(name string, start, stop func(ctx context.Context) error) Resource {
	return &funcResource{name: name, start: start, stop: stop}
}

// Closer adapts an io.Closer, such as a store or a checkpoint saver, into a
// Resource with nothing to start.
func Closer(name string, c io.Closer) Resource {
	return NewResource(name, nil, func(context.Context) error { return c.Close() })
}

// Lifecycle starts resources in registration order and stops them in
// reverse.
type Lifecycle struct {
	mu        sync.Mutex
	resources []Resource
	started   int
}

// Add registers resources. It must be called before Start.
func (l *Lifecycle) Add(rs ...Resource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range rs {
		if r != nil {
			l.resources = append(l.resources, r)
		}
	}
}

// Start starts every resource. When one fails, the ones already started are
// stopped again and the error is returned.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started > 0 {
		return nil
	}
	for i, r := range l.resources {
		log.Debugf("runner: starting %s", r.Name())
		if err := r.Start(ctx); err != nil {
			l.started = i
			stopErr := l.stopLocked(ctx)
			return errors.Join(fmt.Errorf("start %s: %w", r.Name(), err), stopErr)
		}
	}
	l.started = len(l.resources)
	return nil
}

// Stop stops the started resources in reverse order and joins their errors.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLocked(ctx)
}

func (l *Lifecycle) stopLocked(ctx context.Context) error {
	var errs []error
	for i := l.started - 1; i >= 0; i-- {
		r := l.resources[i]
		log.Debugf("runner: stopping %s", r.Name())
		if err := r.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", r.Name(), err))
		}
	}
	l.started = 0
	return errors.Join(errs...)
}
