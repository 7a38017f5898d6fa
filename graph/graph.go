//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package graph provides a checkpointed super-step executor over a directed
// graph of named nodes sharing one State.
package graph

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// NodeID names a node. Graph authors declare their catalog as constants.
type NodeID string

// String implements fmt.Stringer.
func (id NodeID) String() string { return string(id) }

// ChannelNodeTimings is the built-in channel the executor fills with one
// NodeTiming per executed node.
const ChannelNodeTimings = "__node_timings__"

// Node results recorded in NodeTiming.Result.
const (
	NodeResultOK          = "ok"
	NodeResultInterrupted = "interrupted"
)

// NodeTiming records how long a node took in a step.
type NodeTiming struct {
	Node       NodeID `json:"node"`
	Step       int    `json:"step"`
	DurationMs int64  `json:"duration_ms"`
	Result     string `json:"result"`
}

// Result is what a node returns: a partial state update, ledger events to
// flush with the step's checkpoint, and the next nodes to run.
// An empty Next from every node in the frontier ends the thread.
type Result struct {
	Update State
	Ledger []LedgerEvent
	Next   []NodeID
}

// Goto is a shorthand for a Result that only routes.
func Goto(next ...NodeID) *Result {
	return &Result{Next: next}
}

// NodeFunc executes one node against a frozen view of the state.
type NodeFunc func(ctx context.Context, state View) (*Result, error)

// Node is a named function with metadata.
type Node struct {
	ID          NodeID
	Description string
	Function    NodeFunc
}

// Option configures a Node.
type Option func(*Node)

// WithDescription sets the description of the node.
func WithDescription(description string) Option {
	return func(node *Node) {
		node.Description = description
	}
}

// Graph is the compiled, immutable runtime structure executed by Executor.
type Graph struct {
	schema     *Schema
	nodes      map[NodeID]*Node
	order      []NodeID
	entryPoint NodeID
}

// Schema returns the graph's state schema.
func (g *Graph) Schema() *Schema { return g.schema }

// EntryPoint returns the node the first step runs.
func (g *Graph) EntryPoint() NodeID { return g.entryPoint }

// Node returns the node registered under id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns node ids in declaration order.
func (g *Graph) Nodes() []NodeID {
	return append([]NodeID(nil), g.order...)
}

// StateGraph builds a Graph.
//
//	g, err := graph.NewStateGraph(schema).
//	  AddNode("a", fa).
//	  AddNode("b", fb).
//	  SetEntryPoint("a").
//	  Compile()
type StateGraph struct {
	graph *Graph
	errs  []error
}

// NewStateGraph creates a builder with the given schema. A nil schema is
// replaced by an empty one.
func NewStateGraph(schema *Schema) *StateGraph {
	if schema == nil {
		schema = NewSchema()
	}
	schema.AddChannel(ChannelNodeTimings, Channel{
		Reducer: Append,
		Type:    reflect.TypeOf([]NodeTiming(nil)),
	})
	return &StateGraph{graph: &Graph{
		schema: schema,
		nodes:  make(map[NodeID]*Node),
	}}
}

// AddNode adds a node. Re-using an id is a build error.
func (sg *StateGraph) AddNode(id NodeID, fn NodeFunc, opts ...Option) *StateGraph {
	if id == "" {
		sg.errs = append(sg.errs, errors.New("node id cannot be empty"))
		return sg
	}
	if _, dup := sg.graph.nodes[id]; dup {
		sg.errs = append(sg.errs, fmt.Errorf("duplicate node %s", id))
		return sg
	}
	if fn == nil {
		sg.errs = append(sg.errs, fmt.Errorf("node %s has no function", id))
		return sg
	}
	node := &Node{ID: id, Function: fn}
	for _, opt := range opts {
		opt(node)
	}
	sg.graph.nodes[id] = node
	sg.graph.order = append(sg.graph.order, id)
	return sg
}

// SetEntryPoint sets the node run when a thread starts. Defaults to the first
// declared node.
func (sg *StateGraph) SetEntryPoint(id NodeID) *StateGraph {
	sg.graph.entryPoint = id
	return sg
}

// Compile validates the graph and returns it.
func (sg *StateGraph) Compile() (*Graph, error) {
	if len(sg.errs) > 0 {
		return nil, fmt.Errorf("invalid graph: %w", errors.Join(sg.errs...))
	}
	if len(sg.graph.order) == 0 {
		return nil, ErrEmptyGraph
	}
	if sg.graph.entryPoint == "" {
		sg.graph.entryPoint = sg.graph.order[0]
	}
	if _, ok := sg.graph.nodes[sg.graph.entryPoint]; !ok {
		return nil, fmt.Errorf("invalid graph: entry point %s: %w", sg.graph.entryPoint, ErrNodeNotFound)
	}
	return sg.graph, nil
}

// MustCompile compiles the graph or panics if invalid.
func (sg *StateGraph) MustCompile() *Graph {
	g, err := sg.Compile()
	if err != nil {
		panic(err)
	}
	return g
}

type execInfoKey struct{}

// ExecInfo describes the step a node is running in.
type ExecInfo struct {
	ThreadID     string
	CheckpointID string
	Step         int
	Node         NodeID
}

// ExecInfoFromContext returns the step information the executor attached
// to a node's context.
func ExecInfoFromContext(ctx context.Context) (ExecInfo, bool) {
	info, ok := ctx.Value(execInfoKey{}).(ExecInfo)
	return info, ok
}

func withExecInfo(ctx context.Context, info ExecInfo) context.Context {
	return context.WithValue(ctx, execInfoKey{}, info)
}
