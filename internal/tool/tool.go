//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package tool holds reflection helpers shared by tool implementations.
package tool

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/jovemexausto/zupa/tool"
)

// GenerateJSONSchema generates a JSON schema from a reflect.Type. Struct
// fields read the json tag for naming and the jsonschema tag for
// description, enum and required:
//
//	Reply string `json:"reply" jsonschema:"description=Reply format,enum=text,enum=voice"`
func GenerateJSONSchema(t reflect.Type) *tool.Schema {
	if t == nil {
		return &tool.Schema{Type: "object"}
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() == reflect.Struct {
		return structSchema(t, map[reflect.Type]bool{})
	}
	return GenerateFieldSchema(t)
}

// GenerateFieldSchema generates schema for a specific field type.
func GenerateFieldSchema(t reflect.Type) *tool.Schema {
	return fieldSchema(t, map[reflect.Type]bool{})
}

func fieldSchema(t reflect.Type, seen map[reflect.Type]bool) *tool.Schema {
	switch t.Kind() {
	case reflect.String:
		return &tool.Schema{Type: "string"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &tool.Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &tool.Schema{Type: "number"}
	case reflect.Bool:
		return &tool.Schema{Type: "boolean"}
	case reflect.Slice, reflect.Array:
		return &tool.Schema{Type: "array", Items: fieldSchema(t.Elem(), seen)}
	case reflect.Map:
		return &tool.Schema{Type: "object", AdditionalProperties: fieldSchema(t.Elem(), seen)}
	case reflect.Ptr:
		// Optionality is expressed through Required, not a nullable type.
		return fieldSchema(t.Elem(), seen)
	case reflect.Struct:
		if seen[t] {
			return &tool.Schema{Type: "object"}
		}
		return structSchema(t, seen)
	default:
		return &tool.Schema{}
	}
}

func structSchema(t reflect.Type, seen map[reflect.Type]bool) *tool.Schema {
	seen[t] = true
	defer delete(seen, t)

	schema := &tool.Schema{Type: "object", Properties: map[string]*tool.Schema{}}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonName(field)
		if skip {
			continue
		}
		fs := fieldSchema(field.Type, seen)
		forced := applySchemaTag(fs, field.Type, field.Tag.Get("jsonschema"))
		schema.Properties[name] = fs
		if forced || (field.Type.Kind() != reflect.Ptr && !omitEmpty) {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

func jsonName(field reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	if tag == "" {
		return name, false, false
	}
	parts := strings.Split(tag, ",")
	if parts[0] != "" {
		name = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "omitempty" || p == "omitzero" {
			omitEmpty = true
		}
	}
	return name, omitEmpty, false
}

// applySchemaTag applies a jsonschema tag to s and reports whether the tag
// forces the field to be required. Enum values that cannot be parsed as the
// field's kind are dropped.
func applySchemaTag(s *tool.Schema, t reflect.Type, tag string) bool {
	required := false
	for _, item := range strings.Split(tag, ",") {
		key, value, hasValue := strings.Cut(strings.TrimSpace(item), "=")
		switch {
		case key == "required" && !hasValue:
			required = true
		case key == "description" && hasValue:
			s.Description = value
		case key == "enum" && hasValue:
			if v, err := parseEnum(t, value); err == nil {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	return required
}

func parseEnum(t reflect.Type, raw string) (any, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return raw, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.ParseInt(raw, 10, 64)
	case reflect.Float32, reflect.Float64:
		return strconv.ParseFloat(raw, 64)
	case reflect.Bool:
		return strconv.ParseBool(raw)
	default:
		return nil, fmt.Errorf("enum not supported for %s", t.Kind())
	}
}
