//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package research builds the deep research workflow: a five stage graph that
// clarifies the query, writes a brief and a draft, gathers findings per topic
// and produces the final report.
package research

import (
	"fmt"
	"reflect"

	"trpc.group/trpc-go/deepresearch-go/engine"
	"trpc.group/trpc-go/deepresearch-go/graph"
)

// Stage node IDs, in execution order.
const (
	NodeClarify    = "clarify_with_user"
	NodeBrief      = "write_research_brief"
	NodeDraft      = "write_draft_report"
	NodeSupervisor = "research_supervisor"
	NodeFinal      = "final_report_generation"
)

// State keys owned by the research stages besides the engine keys.
const (
	KeyQuery         = "query"
	KeyClarification = "clarification"
	KeyApproval      = "approval"
)

// Interrupt types raised by the stages.
const (
	InterruptClarification = "clarification_needed"
	InterruptPlanApproval  = "plan_approval"
)

const (
	// DefaultMinQueryWords is the query length below which the user is
	// asked to clarify.
	DefaultMinQueryWords = 4
	// DefaultConcurrency bounds the topics researched at once.
	DefaultConcurrency = 4
)

// Option configures the research graph.
type Option func(*options)

type options struct {
	writer          Writer
	minQueryWords   int
	alwaysClarify   bool
	requireApproval bool
	concurrency     int
}

// WithWriter sets the backend that writes briefs, findings and reports.
// The default is TemplateWriter.
func WithWriter(w Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

// WithMinQueryWords sets the word count under which a query is treated as
// ambiguous. Zero disables the length check.
func WithMinQueryWords(n int) Option {
	return func(o *options) {
		o.minQueryWords = n
	}
}

// WithAlwaysClarify makes clarify_with_user ask on every fresh query.
func WithAlwaysClarify(always bool) Option {
	return func(o *options) {
		o.alwaysClarify = always
	}
}

// WithRequireApproval makes research_supervisor ask for plan approval
// before researching.
func WithRequireApproval(require bool) Option {
	return func(o *options) {
		o.requireApproval = require
	}
}

// WithConcurrency bounds the number of topics researched in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// Schema returns the state schema of the research workflow.
func Schema() *graph.StateSchema {
	str := reflect.TypeOf("")
	return graph.MessagesStateSchema().
		AddField(KeyQuery, graph.StateField{Type: str, Reducer: graph.DefaultReducer}).
		AddField(KeyClarification, graph.StateField{Type: str, Reducer: graph.DefaultReducer}).
		AddField(engine.KeyResearchBrief, graph.StateField{Type: str, Reducer: graph.DefaultReducer}).
		AddField(engine.KeyDraftReport, graph.StateField{Type: str, Reducer: graph.DefaultReducer}).
		AddField(engine.KeyResearchFindings, graph.StateField{
			Type:    reflect.TypeOf([]string{}),
			Reducer: graph.DefaultReducer,
		}).
		AddField(engine.KeyFinalReport, graph.StateField{Type: str, Reducer: graph.DefaultReducer}).
		AddField(KeyApproval, graph.StateField{Type: str, Reducer: graph.DefaultReducer})
}

// NewGraph compiles the research workflow.
func NewGraph(opts ...Option) (*graph.Graph, error) {
	o := options{
		writer:        TemplateWriter{},
		minQueryWords: DefaultMinQueryWords,
		concurrency:   DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.writer == nil {
		return nil, fmt.Errorf("research: writer is nil")
	}
	if o.concurrency <= 0 {
		o.concurrency = 1
	}
	s := &stages{opts: o}
	return graph.NewStateGraph(Schema()).
		AddNode(NodeClarify, s.clarify,
			graph.WithNodeType(graph.NodeTypeHuman),
			graph.WithDescription("Ask the user to narrow an ambiguous query")).
		AddNode(NodeBrief, s.brief,
			graph.WithNodeType(graph.NodeTypeLLM),
			graph.WithDescription("Turn the query into a research brief")).
		AddNode(NodeDraft, s.draft,
			graph.WithNodeType(graph.NodeTypeLLM),
			graph.WithDescription("Outline a draft report")).
		AddNode(NodeSupervisor, s.supervise,
			graph.WithNodeType(graph.NodeTypeHuman),
			graph.WithDescription("Research every topic of the brief")).
		AddNode(NodeFinal, s.final,
			graph.WithNodeType(graph.NodeTypeLLM),
			graph.WithDescription("Write the final report")).
		AddEdge(NodeClarify, NodeBrief).
		AddEdge(NodeBrief, NodeDraft).
		AddEdge(NodeDraft, NodeSupervisor).
		AddEdge(NodeSupervisor, NodeFinal).
		SetEntryPoint(NodeClarify).
		SetFinishPoint(NodeFinal).
		Compile()
}
