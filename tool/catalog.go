//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrToolNotFound is returned when a call names a tool outside the catalog.
	ErrToolNotFound = errors.New("tool not found")
	// ErrInvalidArguments wraps a schema validation failure.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrNotCallable is returned for declared tools without a handler.
	ErrNotCallable = errors.New("tool is not callable")
)

type entry struct {
	tool   Tool
	decl   *Declaration
	schema *jsonschema.Schema
}

// Catalog is an immutable set of tools looked up by exact name. Each tool's
// input schema is compiled once when the catalog is built.
type Catalog struct {
	entries map[string]*entry
	order   []string
}

// NewCatalog builds a catalog. Names must be unique and non-empty.
func NewCatalog(tools ...Tool) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]*entry, len(tools))}
	for _, t := range tools {
		if t == nil {
			continue
		}
		decl := t.Declaration()
		if decl == nil || decl.Name == "" {
			return nil, errors.New("tool declaration has no name")
		}
		if _, dup := c.entries[decl.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", decl.Name)
		}
		sch, err := compileSchema(decl.Name, decl.InputSchema)
		if err != nil {
			return nil, err
		}
		c.entries[decl.Name] = &entry{tool: t, decl: decl, schema: sch}
		c.order = append(c.order, decl.Name)
	}
	return c, nil
}

func compileSchema(name string, s *Schema) (*jsonschema.Schema, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s.Map())
	if err != nil {
		return nil, fmt.Errorf("encode schema of tool %q: %w", name, err)
	}
	url := "tool/" + name + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load schema of tool %q: %w", name, err)
	}
	sch, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema of tool %q: %w", name, err)
	}
	return sch, nil
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

// Names returns the tool names in registration order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.order...)
}

// Lookup returns the tool registered under exactly name.
func (c *Catalog) Lookup(name string) (Tool, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Declarations returns every declaration sorted by name.
func (c *Catalog) Declarations() []*Declaration {
	if c == nil {
		return nil
	}
	out := make([]*Declaration, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name].decl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks jsonArgs against the named tool's input schema. Empty
// arguments are treated as an empty object.
func (c *Catalog) Validate(name string, jsonArgs []byte) error {
	if c == nil {
		return fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}
	e, ok := c.entries[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrToolNotFound)
	}
	if len(bytes.TrimSpace(jsonArgs)) == 0 {
		jsonArgs = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(jsonArgs))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", ErrInvalidArguments, err)
	}
	if e.schema == nil {
		return nil
	}
	if err := e.schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}
