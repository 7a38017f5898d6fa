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
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Reducer merges a newly written value into the previous value of a channel.
// Reducers must be pure and must accept a nil existing value.
type Reducer func(existing, update any) any

// LastWriteWins returns update unconditionally.
func LastWriteWins(_, update any) any {
	return update
}

// Append concatenates update onto existing. Both are expected to be slices of
// the same type; a single element matching the slice element type is appended
// as one item. Mismatched shapes fall back to update.
func Append(existing, update any) any {
	if update == nil {
		return copyValue(existing)
	}
	uv := reflect.ValueOf(update)
	if existing == nil {
		if uv.Kind() == reflect.Slice {
			return copyValue(update)
		}
		out := reflect.MakeSlice(reflect.SliceOf(uv.Type()), 0, 1)
		return reflect.Append(out, uv).Interface()
	}
	ev := reflect.ValueOf(existing)
	if ev.Kind() != reflect.Slice {
		return update
	}
	out := reflect.MakeSlice(ev.Type(), 0, ev.Len()+1)
	out = reflect.AppendSlice(out, ev)
	switch {
	case uv.Kind() == reflect.Slice && uv.Type().AssignableTo(ev.Type()):
		out = reflect.AppendSlice(out, uv)
	case uv.Type().AssignableTo(ev.Type().Elem()):
		out = reflect.Append(out, uv)
	default:
		return update
	}
	return out.Interface()
}

// BoundedWindow behaves like Append but keeps only the last n entries.
// n must be positive.
func BoundedWindow(n int) Reducer {
	if n < 1 {
		panic(fmt.Sprintf("graph: bounded window size must be positive, got %d", n))
	}
	return func(existing, update any) any {
		merged := Append(existing, update)
		mv := reflect.ValueOf(merged)
		if !mv.IsValid() || mv.Kind() != reflect.Slice || mv.Len() <= n {
			return merged
		}
		out := reflect.MakeSlice(mv.Type(), n, n)
		reflect.Copy(out, mv.Slice(mv.Len()-n, mv.Len()))
		return out.Interface()
	}
}

// Channel describes one state field: how writes merge and which Go type the
// value has once restored from a serialized checkpoint.
type Channel struct {
	Reducer Reducer
	// Type is optional. When set, values decoded from storage into generic
	// JSON shapes are converted back to this type on resume.
	Type reflect.Type
}

// Field returns a Channel of type T with the given reducer (nil means
// LastWriteWins).
func Field[T any](reducer Reducer) Channel {
	return Channel{Reducer: reducer, Type: reflect.TypeOf((*T)(nil)).Elem()}
}

// Schema maps channel names to channels.
type Schema struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{channels: make(map[string]Channel)}
}

// AddChannel registers a channel. A nil reducer means LastWriteWins.
func (s *Schema) AddChannel(name string, ch Channel) *Schema {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch.Reducer == nil {
		ch.Reducer = LastWriteWins
	}
	s.channels[name] = ch
	return s
}

// Channel returns the channel registered under name.
func (s *Schema) Channel(name string) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[name]
	return ch, ok
}

// Apply folds update into prev and returns a new State. prev is not modified.
// Keys absent from update are left untouched; unregistered keys overwrite.
// Keys are folded in sorted order so the result is deterministic.
func (s *Schema) Apply(prev State, update State) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := prev.Clone()
	if len(update) == 0 {
		return result
	}
	keys := make([]string, 0, len(update))
	for k := range update {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		ch, ok := s.channels[key]
		if !ok {
			result[key] = update[key]
			continue
		}
		result[key] = ch.Reducer(result[key], update[key])
	}
	return result
}

// Restore converts values whose dynamic type differs from their channel type
// (typically after a JSON round trip) back to the declared type.
func (s *Schema) Restore(values State) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(State, len(values))
	for key, val := range values {
		ch, ok := s.channels[key]
		if !ok || ch.Type == nil || val == nil || reflect.TypeOf(val) == ch.Type {
			out[key] = val
			continue
		}
		converted, err := convert(val, ch.Type)
		if err != nil {
			return nil, fmt.Errorf("restore channel %s: %w", key, err)
		}
		out[key] = converted
	}
	return out, nil
}

func convert(val any, t reflect.Type) (any, error) {
	raw, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return nil, err
	}
	return ptr.Elem().Interface(), nil
}
