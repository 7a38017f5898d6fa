//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package turn is the turn pipeline: the node catalog that takes one inbound
// message from dedup to telemetry as a checkpointed graph.
package turn

import (
	"fmt"

	"github.com/jovemexausto/zupa/graph"
)

// The node catalog. Every turn thread runs a path through these nodes.
const (
	NodeEventDedupGate      graph.NodeID = "event_dedup_gate"
	NodeAccessPolicy        graph.NodeID = "access_policy"
	NodeSessionAttach       graph.NodeID = "session_attach"
	NodeCommandDispatchGate graph.NodeID = "command_dispatch_gate"
	NodeContentResolution   graph.NodeID = "content_resolution"
	NodeContextAssembly     graph.NodeID = "context_assembly"
	NodePromptBuild         graph.NodeID = "prompt_build"
	NodeLLM                 graph.NodeID = "llm_node"
	NodeToolExecution       graph.NodeID = "tool_execution_node"
	NodeResponseFinalize    graph.NodeID = "response_finalize"
	NodePersistenceHooks    graph.NodeID = "persistence_hooks"
	NodeTelemetryEmit       graph.NodeID = "telemetry_emit"
)

// Nodes lists the catalog in pipeline order.
var Nodes = []graph.NodeID{
	NodeEventDedupGate,
	NodeAccessPolicy,
	NodeSessionAttach,
	NodeCommandDispatchGate,
	NodeContentResolution,
	NodeContextAssembly,
	NodePromptBuild,
	NodeLLM,
	NodeToolExecution,
	NodeResponseFinalize,
	NodePersistenceHooks,
	NodeTelemetryEmit,
}

var nodeDescriptions = map[graph.NodeID]string{
	NodeEventDedupGate:      "claim the inbound message id",
	NodeAccessPolicy:        "enforce the allowlist and resolve the user",
	NodeSessionAttach:       "find or create the active session",
	NodeCommandDispatchGate: "rate limit, welcome and slash commands",
	NodeContentResolution:   "transcribe voice and persist the inbound message",
	NodeContextAssembly:     "load history and session summaries",
	NodePromptBuild:         "render the system prompt",
	NodeLLM:                 "call the model",
	NodeToolExecution:       "run requested tools",
	NodeResponseFinalize:    "convert and send the reply",
	NodePersistenceHooks:    "persist the reply",
	NodeTelemetryEmit:       "emit node timings",
}

// handler maps a catalog id to its function. Unknown ids are a programming
// error.
func (p *Pipeline) handler(id graph.NodeID) graph.NodeFunc {
	switch id {
	case NodeEventDedupGate:
		return p.eventDedupGate
	case NodeAccessPolicy:
		return p.accessPolicy
	case NodeSessionAttach:
		return p.sessionAttach
	case NodeCommandDispatchGate:
		return p.commandDispatchGate
	case NodeContentResolution:
		return p.contentResolution
	case NodeContextAssembly:
		return p.contextAssembly
	case NodePromptBuild:
		return p.promptBuild
	case NodeLLM:
		return p.llmNode
	case NodeToolExecution:
		return p.toolExecution
	case NodeResponseFinalize:
		return p.responseFinalize
	case NodePersistenceHooks:
		return p.persistenceHooks
	case NodeTelemetryEmit:
		return p.telemetryEmit
	default:
		panic(fmt.Sprintf("turn: no handler for node %s", id))
	}
}

func (p *Pipeline) buildGraph() (*graph.Graph, error) {
	sg := graph.NewStateGraph(NewSchema())
	for _, id := range Nodes {
		sg.AddNode(id, p.handler(id), graph.WithDescription(nodeDescriptions[id]))
	}
	return sg.SetEntryPoint(NodeEventDedupGate).Compile()
}
