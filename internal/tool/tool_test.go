//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	itool "github.com/jovemexausto/zupa/internal/tool"
)

func TestGenerateJSONSchema_Primitives(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "", "string"},
		{"int", 0, "integer"},
		{"uint8", uint8(0), "integer"},
		{"float", 0.0, "number"},
		{"bool", false, "boolean"},
		{"slice", []string{}, "array"},
		{"map", map[string]int{}, "object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, itool.GenerateJSONSchema(reflect.TypeOf(tt.in)).Type)
		})
	}

	arr := itool.GenerateJSONSchema(reflect.TypeOf([]int{}))
	require.NotNil(t, arr.Items)
	assert.Equal(t, "integer", arr.Items.Type)
}

func TestGenerateJSONSchema_Struct(t *testing.T) {
	type inner struct {
		Zip string `json:"zip"`
	}
	type req struct {
		City     string            `json:"city"`
		Days     int               `json:"days,omitempty"`
		Units    *string           `json:"units"`
		Address  inner             `json:"address"`
		Tags     map[string]string `json:"tags,omitempty"`
		Ignored  string            `json:"-"`
		internal string
	}
	s := itool.GenerateJSONSchema(reflect.TypeOf(req{}))
	assert.Equal(t, "object", s.Type)
	assert.ElementsMatch(t, []string{"city", "address"}, s.Required)
	assert.NotContains(t, s.Properties, "Ignored")
	assert.NotContains(t, s.Properties, "internal")
	assert.Equal(t, "string", s.Properties["units"].Type)
	require.Contains(t, s.Properties["address"].Properties, "zip")
	assert.Equal(t, []string{"zip"}, s.Properties["address"].Required)
}

func TestGenerateJSONSchema_PointerToStruct(t *testing.T) {
	type req struct {
		Name string `json:"name"`
	}
	s := itool.GenerateJSONSchema(reflect.TypeOf(&req{}))
	assert.Equal(t, "object", s.Type)
	assert.Equal(t, "string", s.Properties["name"].Type)
}

func TestGenerateJSONSchema_SelfReference(t *testing.T) {
	type node struct {
		Value    string  `json:"value"`
		Children []*node `json:"children,omitempty"`
	}
	s := itool.GenerateJSONSchema(reflect.TypeOf(node{}))
	require.NotNil(t, s.Properties["children"].Items)
	assert.Equal(t, "object", s.Properties["children"].Items.Type)
}

func TestGenerateJSONSchema_Tags(t *testing.T) {
	type custom struct{ V string }
	type req struct {
		Status   string  `json:"status" jsonschema:"description=Current status,enum=active,enum=inactive"`
		Priority int     `json:"priority,omitempty" jsonschema:"enum=1,enum=2,required"`
		Rate     float64 `json:"rate,omitempty" jsonschema:"enum=1.5,enum=oops"`
		Enabled  bool    `json:"enabled,omitempty" jsonschema:"enum=true"`
		Custom   custom  `json:"custom,omitempty" jsonschema:"enum=a"`
		Empty    string  `json:"empty,omitempty" jsonschema:",,,description"`
	}
	s := itool.GenerateJSONSchema(reflect.TypeOf(req{}))

	assert.Equal(t, "Current status", s.Properties["status"].Description)
	assert.Equal(t, []any{"active", "inactive"}, s.Properties["status"].Enum)
	assert.Equal(t, []any{int64(1), int64(2)}, s.Properties["priority"].Enum)
	assert.Equal(t, []any{1.5}, s.Properties["rate"].Enum)
	assert.Equal(t, []any{true}, s.Properties["enabled"].Enum)
	assert.Empty(t, s.Properties["custom"].Enum)
	assert.Equal(t, "object", s.Properties["custom"].Type)
	assert.Empty(t, s.Properties["empty"].Description)
	assert.ElementsMatch(t, []string{"status", "priority"}, s.Required)
}
