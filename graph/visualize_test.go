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
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSampleGraph(t *testing.T) *Graph {
	t.Helper()
	g, err := NewStateGraph(NewStateSchema()).
		AddNode("prepare", noop).
		AddNode("ask", noop, WithNodeType(NodeTypeHuman)).
		AddNode("route", noop, WithNodeType(NodeTypeRouter),
			WithDestinations(map[string]string{End: "finish early"})).
		AddNode("write", noop, WithNodeType(NodeTypeLLM), WithName("Write \"report\"")).
		AddEdge("prepare", "ask").
		AddEdge("ask", "route").
		AddConditionalEdges("route", func(ctx context.Context, s State) (string, error) {
			return "done", nil
		}, map[string]string{"done": "write"}).
		SetEntryPoint("prepare").
		SetFinishPoint("write").
		Compile()
	require.NoError(t, err)
	return g
}

func TestDOT(t *testing.T) {
	g := buildSampleGraph(t)
	dot := g.DOT(WithRankDir(RankDirLR), WithGraphLabel("Research"))

	assert.True(t, strings.HasPrefix(dot, "digraph G {"))
	assert.Contains(t, dot, "rankdir=LR;")
	assert.Contains(t, dot, "label=\"Research\";")
	assert.Contains(t, dot, "\"prepare\" -> \"ask\";")
	assert.Contains(t, dot, "\"route\" -> \"write\" [style=dashed")
	assert.Contains(t, dot, "label=\"finish early\", constraint=false")
	assert.Contains(t, dot, "shape=hexagon")
	assert.Contains(t, dot, "Write \\\"report\\\"")
	assert.Contains(t, dot, "\"__start__\" -> \"prepare\";")
}

func TestDOTWithoutStartEnd(t *testing.T) {
	g := buildSampleGraph(t)
	dot := g.DOT(WithIncludeStartEnd(false), WithIncludeDestinations(false))

	assert.NotContains(t, dot, Start)
	assert.NotContains(t, dot, End)
	assert.NotContains(t, dot, "style=dotted")
	assert.Contains(t, dot, "\"prepare\" [peripheries=2];")
}

func TestMermaid(t *testing.T) {
	g := buildSampleGraph(t)
	out := g.Mermaid(WithGraphLabel("Research"))

	assert.Contains(t, out, "title: Research")
	assert.Contains(t, out, "flowchart TB")
	assert.Contains(t, out, "([start])")
	assert.Contains(t, out, "{{\"ask\"}}")
	assert.Contains(t, out, "{\"route\"}")
	assert.Contains(t, out, "Write #quot;report#quot;")
	assert.Contains(t, out, "-.->|\"done\"|")
	assert.Contains(t, out, " --> ")

	var buf bytes.Buffer
	require.NoError(t, g.WriteMermaid(&buf))
	assert.Equal(t, g.Mermaid(), buf.String())
	buf.Reset()
	require.NoError(t, g.WriteDOT(&buf))
	assert.Equal(t, g.DOT(), buf.String())
}

func TestRenderImage(t *testing.T) {
	if _, err := exec.LookPath("dot"); err != nil {
		t.Skip("graphviz not installed")
	}
	g := buildSampleGraph(t)
	out := filepath.Join(t.TempDir(), "graph.svg")
	require.NoError(t, g.RenderImage(context.Background(), ImageFormatSVG, out))
	assert.FileExists(t, out)
}
