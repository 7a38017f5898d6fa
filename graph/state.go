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
	"reflect"
	"sort"
)

// State is the shared record that flows through the graph.
// Keys are channel names.
type State map[string]any

// Clone returns a shallow copy of the state. Slice and map values are copied
// one level deep so the clone never aliases the backing arrays of s.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = copyValue(v)
	}
	return clone
}

// View is a read-only snapshot of State handed to node functions.
// Nodes communicate only through the State they return in Result.Update.
// Values are deep-copied through pointers, slices, maps and exported struct
// fields; unexported fields are copied by value and may still alias.
type View struct {
	values State
}

// NewView freezes s. Later changes to s are not visible through the view.
func NewView(s State) View {
	return View{values: deepClone(s)}
}

// Get returns a deep copy of the value stored under key, so mutating it
// does not affect the snapshot or other nodes reading the same view.
func (v View) Get(key string) (any, bool) {
	val, ok := v.values[key]
	if !ok {
		return nil, false
	}
	return deepCopy(val), true
}

// Has reports whether key is present.
func (v View) Has(key string) bool {
	_, ok := v.values[key]
	return ok
}

// Keys returns the channel names present in the snapshot, sorted.
func (v View) Keys() []string {
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of channels in the snapshot.
func (v View) Len() int { return len(v.values) }

// Snapshot returns a mutable deep copy of the underlying state.
func (v View) Snapshot() State { return deepClone(v.values) }

// Value returns the value under key asserted to T.
func Value[T any](v View, key string) (T, bool) {
	raw, ok := v.Get(key)
	if !ok || raw == nil {
		var zero T
		return zero, false
	}
	typed, ok := raw.(T)
	return typed, ok
}

// ValueOr returns the value under key asserted to T, or def.
func ValueOr[T any](v View, key string, def T) T {
	if typed, ok := Value[T](v, key); ok {
		return typed
	}
	return def
}

func copyValue(v any) any {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(out, rv)
		return out.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), iter.Value())
		}
		return out.Interface()
	default:
		return v
	}
}

func deepClone(s State) State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = deepCopy(v)
	}
	return clone
}

type seenKey struct {
	addr uintptr
	typ  reflect.Type
}

func deepCopy(v any) any {
	if v == nil {
		return nil
	}
	return copyDeep(reflect.ValueOf(v), map[seenKey]reflect.Value{}).Interface()
}

func copyDeep(rv reflect.Value, seen map[seenKey]reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return rv
		}
		key := seenKey{addr: rv.Pointer(), typ: rv.Type()}
		if c, ok := seen[key]; ok {
			return c
		}
		out := reflect.New(rv.Type().Elem())
		seen[key] = out
		out.Elem().Set(copyDeep(rv.Elem(), seen))
		return out
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		out := reflect.New(rv.Type()).Elem()
		out.Set(copyDeep(rv.Elem(), seen))
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyDeep(rv.Index(i), seen))
		}
		return out
	case reflect.Array:
		out := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(copyDeep(rv.Index(i), seen))
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), copyDeep(iter.Value(), seen))
		}
		return out
	case reflect.Struct:
		out := reflect.New(rv.Type()).Elem()
		out.Set(rv)
		for i := 0; i < rv.NumField(); i++ {
			if f := out.Field(i); f.CanSet() {
				f.Set(copyDeep(rv.Field(i), seen))
			}
		}
		return out
	default:
		return rv
	}
}
