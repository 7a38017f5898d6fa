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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastWriteWins(t *testing.T) {
	assert.Equal(t, "new", LastWriteWins("old", "new"))
	assert.Equal(t, "new", LastWriteWins(nil, "new"))
	assert.Nil(t, LastWriteWins("old", nil))
}

func TestAppend(t *testing.T) {
	tests := []struct {
		name     string
		existing any
		update   any
		want     any
	}{
		{name: "nil existing slice update", existing: nil, update: []string{"a"}, want: []string{"a"}},
		{name: "nil existing element update", existing: nil, update: "a", want: []string{"a"}},
		{name: "slice plus slice", existing: []string{"a"}, update: []string{"b", "c"}, want: []string{"a", "b", "c"}},
		{name: "slice plus element", existing: []int{1}, update: 2, want: []int{1, 2}},
		{name: "nil update keeps existing", existing: []int{1}, update: nil, want: []int{1}},
		{name: "mismatched types overwrite", existing: []int{1}, update: "x", want: "x"},
		{name: "non slice existing overwrite", existing: "x", update: []int{1}, want: []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Append(tt.existing, tt.update))
		})
	}
}

func TestAppend_DoesNotAliasExisting(t *testing.T) {
	existing := make([]string, 1, 8)
	existing[0] = "a"
	merged := Append(existing, []string{"b"}).([]string)
	merged[0] = "changed"
	assert.Equal(t, "a", existing[0])
}

func TestBoundedWindow_PanicsOnNonPositive(t *testing.T) {
	assert.Panics(t, func() { BoundedWindow(0) })
}

func TestBoundedWindow_KeepsMostRecent(t *testing.T) {
	window := BoundedWindow(3)
	var merged any
	for i := 1; i <= 5; i++ {
		merged = window(merged, []int{i})
	}
	assert.Equal(t, []int{3, 4, 5}, merged)
}

// Property: after any sequence of writes the window never exceeds n and holds
// the most recent n appended items in order.
func TestBoundedWindow_Property(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 1; n <= 6; n++ {
		window := BoundedWindow(n)
		var (
			merged any
			all    []int
			next   int
		)
		for w := 0; w < 40; w++ {
			batch := make([]int, rng.Intn(4))
			for i := range batch {
				next++
				batch[i] = next
			}
			all = append(all, batch...)
			merged = window(merged, batch)

			got, _ := merged.([]int)
			require.LessOrEqual(t, len(got), n)
			start := len(all) - n
			if start < 0 {
				start = 0
			}
			if len(all) == 0 {
				assert.Empty(t, got)
				continue
			}
			assert.Equal(t, all[start:], got)
		}
	}
}

func TestSchema_Apply(t *testing.T) {
	schema := NewSchema().
		AddChannel("messages", Channel{Reducer: Append}).
		AddChannel("history", Channel{Reducer: BoundedWindow(2)}).
		AddChannel("user", Channel{})

	prev := State{"messages": []string{"a"}, "user": "u1", "untouched": 1}
	next := schema.Apply(prev, State{
		"messages": []string{"b"},
		"history":  []string{"x", "y", "z"},
		"user":     "u2",
		"extra":    true,
	})

	assert.Equal(t, []string{"a", "b"}, next["messages"])
	assert.Equal(t, []string{"y", "z"}, next["history"])
	assert.Equal(t, "u2", next["user"])
	assert.Equal(t, 1, next["untouched"])
	assert.Equal(t, true, next["extra"])
	// prev is not modified.
	assert.Equal(t, []string{"a"}, prev["messages"])
	assert.Equal(t, "u1", prev["user"])
}

type restoreProfile struct {
	Name  string `json:"name"`
	Turns int    `json:"turns"`
}

func TestSchema_RestoreAfterJSON(t *testing.T) {
	schema := NewSchema().
		AddChannel("profile", Field[*restoreProfile](nil)).
		AddChannel("tags", Field[[]string](Append)).
		AddChannel("count", Field[int](nil))

	original := State{
		"profile": &restoreProfile{Name: "Ana", Turns: 2},
		"tags":    []string{"a", "b"},
		"count":   3,
		"free":    "text",
	}
	raw, err := json.Marshal(original)
	require.NoError(t, err)
	var decoded State
	require.NoError(t, json.Unmarshal(raw, &decoded))

	restored, err := schema.Restore(decoded)
	require.NoError(t, err)
	assert.Equal(t, &restoreProfile{Name: "Ana", Turns: 2}, restored["profile"])
	assert.Equal(t, []string{"a", "b"}, restored["tags"])
	assert.Equal(t, 3, restored["count"])
	assert.Equal(t, "text", restored["free"])
}

func TestSchema_RestoreError(t *testing.T) {
	schema := NewSchema().AddChannel("count", Field[int](nil))
	_, err := schema.Restore(State{"count": "not a number"})
	assert.Error(t, err)
}
