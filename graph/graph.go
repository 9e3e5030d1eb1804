//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package graph provides a checkpointing workflow engine: named stages
// connected by edges, executed one at a time over a shared state, with the
// ability to pause inside a stage and resume it later with an answer.
package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Virtual routing endpoints.
const (
	Start = "__start__"
	End   = "__end__"
)

// NodeType classifies nodes for visualization.
type NodeType string

// Node types.
const (
	NodeTypeFunction NodeType = "function"
	NodeTypeLLM      NodeType = "llm"
	NodeTypeRouter   NodeType = "router"
	NodeTypeHuman    NodeType = "human"
)

func (nt NodeType) String() string {
	return string(nt)
}

// NodeFunc runs a stage. It returns a State update, a *Command or nil.
type NodeFunc func(ctx context.Context, state State) (any, error)

// ConditionalFunc picks a PathMap key from the state.
type ConditionalFunc func(ctx context.Context, state State) (string, error)

// Node is a stage of the graph.
type Node struct {
	ID          string
	Name        string
	Description string
	Function    NodeFunc
	Type        NodeType

	// destinations are the Command.GoTo targets the node may pick, with
	// optional labels.
	destinations map[string]string
}

// ConditionalEdge routes from a node through Condition and PathMap.
type ConditionalEdge struct {
	From      string
	Condition ConditionalFunc
	PathMap   map[string]string
}

// Command is a state update together with the stage to run next.
type Command struct {
	Update State
	GoTo   string
}

// Graph is the compiled, immutable form of a StateGraph. Every node has at
// most one successor: a static edge or a conditional edge, never both.
type Graph struct {
	mu          sync.RWMutex
	schema      *StateSchema
	nodes       map[string]*Node
	order       []string
	next        map[string]string
	conditional map[string]*ConditionalEdge
	entryPoint  string
}

// New creates an empty graph over schema.
func New(schema *StateSchema) *Graph {
	if schema == nil {
		schema = NewStateSchema()
	}
	return &Graph{
		schema:      schema,
		nodes:       make(map[string]*Node),
		next:        make(map[string]string),
		conditional: make(map[string]*ConditionalEdge),
	}
}

// Node returns the node with the given ID.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	return node, ok
}

// NodeIDs returns the node IDs sorted by name.
func (g *Graph) NodeIDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := append([]string(nil), g.order...)
	sort.Strings(ids)
	return ids
}

// Stages returns the node IDs in the order they were added.
func (g *Graph) Stages() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// Successor returns the static successor of a node.
func (g *Graph) Successor(nodeID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	to, ok := g.next[nodeID]
	return to, ok
}

// ConditionalEdge returns the conditional edge leaving a node.
func (g *Graph) ConditionalEdge(nodeID string) (*ConditionalEdge, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edge, ok := g.conditional[nodeID]
	return edge, ok
}

// EntryPoint returns the first stage.
func (g *Graph) EntryPoint() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entryPoint
}

// Schema returns the state schema.
func (g *Graph) Schema() *StateSchema {
	return g.schema
}

func (g *Graph) exists(id string) bool {
	_, ok := g.nodes[id]
	return ok
}

func (g *Graph) validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.entryPoint == "" {
		return fmt.Errorf("%w: no entry point", ErrInvalidGraph)
	}
	for _, id := range g.order {
		if _, ok := g.conditional[id]; ok {
			if to, ok := g.next[id]; ok {
				return fmt.Errorf("%w: node %s has both an edge to %s and a conditional edge",
					ErrInvalidGraph, id, to)
			}
		}
		for to := range g.nodes[id].destinations {
			if to != End && !g.exists(to) {
				return fmt.Errorf("%w: node %s declares unknown destination %s", ErrInvalidGraph, id, to)
			}
		}
	}
	return nil
}

func (g *Graph) addNode(node *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case node.ID == "":
		return fmt.Errorf("%w: empty node ID", ErrInvalidGraph)
	case node.ID == Start || node.ID == End:
		return fmt.Errorf("%w: node ID %s is reserved", ErrInvalidGraph, node.ID)
	case g.exists(node.ID):
		return fmt.Errorf("%w: duplicate node %s", ErrInvalidGraph, node.ID)
	case node.Function == nil:
		return fmt.Errorf("%w: node %s has no function", ErrInvalidGraph, node.ID)
	}
	g.nodes[node.ID] = node
	g.order = append(g.order, node.ID)
	return nil
}

func (g *Graph) addEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if from != Start && !g.exists(from) {
		return fmt.Errorf("%w: edge from unknown node %q", ErrInvalidGraph, from)
	}
	if to != End && !g.exists(to) {
		return fmt.Errorf("%w: edge to unknown node %q", ErrInvalidGraph, to)
	}
	if prev, ok := g.next[from]; ok && prev != to {
		return fmt.Errorf("%w: node %s already continues to %s", ErrInvalidGraph, from, prev)
	}
	g.next[from] = to
	return nil
}

func (g *Graph) addConditionalEdge(ce *ConditionalEdge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.exists(ce.From) {
		return fmt.Errorf("%w: conditional edge from unknown node %q", ErrInvalidGraph, ce.From)
	}
	if ce.Condition == nil {
		return fmt.Errorf("%w: conditional edge from %s has no condition", ErrInvalidGraph, ce.From)
	}
	for _, to := range ce.PathMap {
		if to != End && !g.exists(to) {
			return fmt.Errorf("%w: conditional edge to unknown node %q", ErrInvalidGraph, to)
		}
	}
	g.conditional[ce.From] = ce
	return nil
}

func (g *Graph) setEntryPoint(nodeID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.exists(nodeID) {
		return fmt.Errorf("%w: entry point %s does not exist", ErrInvalidGraph, nodeID)
	}
	g.entryPoint = nodeID
	return nil
}

// nextNode returns the stage after current. A node without a way out
// finishes the graph.
func (g *Graph) nextNode(ctx context.Context, state State, current string) (string, error) {
	if ce, ok := g.ConditionalEdge(current); ok {
		key, err := ce.Condition(ctx, state)
		if err != nil {
			return "", fmt.Errorf("route from %s: %w", current, err)
		}
		to, ok := ce.PathMap[key]
		if !ok {
			return "", fmt.Errorf("route from %s: no path for %q", current, key)
		}
		return to, nil
	}
	if to, ok := g.Successor(current); ok {
		return to, nil
	}
	return End, nil
}
