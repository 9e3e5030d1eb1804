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
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
)

// Layout directions and image formats understood by the renderers.
const (
	RankDirLR = "LR"
	RankDirTB = "TB"

	ImageFormatPNG = "png"
	ImageFormatSVG = "svg"
)

const (
	shapeBox     = "box"
	shapeDiamond = "diamond"
	shapeOval    = "oval"
	shapeHexagon = "hexagon"

	colorLLMFill       = "#e3f2fd"
	colorLLMBorder     = "#2196f3"
	colorHumanFill     = "#fff3e0"
	colorHumanBorder   = "#ff9800"
	colorRouterFill    = "#eeeeee"
	colorRouterBorder  = "#757575"
	colorDefaultFill   = "#f3e5f5"
	colorDefaultBorder = "#9c27b0"
	colorStartFill     = "#e1f5e1"
	colorStartBorder   = "#4caf50"
	colorEndFill       = "#ffe1e1"
	colorEndBorder     = "#f44336"

	colorConditionalEdge = "#999999"
	colorDestinationEdge = "#aaaaaa"
)

// VizOptions configures graph export and rendering.
type VizOptions struct {
	// RankDir is the layout direction, RankDirLR or RankDirTB.
	RankDir string
	// IncludeDestinations renders destinations declared with WithDestinations
	// as dotted edges.
	IncludeDestinations bool
	// IncludeStartEnd renders the virtual Start and End nodes.
	IncludeStartEnd bool
	// GraphLabel optionally titles the graph.
	GraphLabel string
}

// VizOption mutates VizOptions.
type VizOption func(*VizOptions)

// WithRankDir sets the layout direction. Unknown values are ignored.
func WithRankDir(dir string) VizOption {
	return func(o *VizOptions) {
		if dir == RankDirLR || dir == RankDirTB {
			o.RankDir = dir
		}
	}
}

// WithIncludeDestinations toggles rendering of declared destinations.
func WithIncludeDestinations(include bool) VizOption {
	return func(o *VizOptions) { o.IncludeDestinations = include }
}

// WithIncludeStartEnd toggles rendering of Start/End virtual nodes.
func WithIncludeStartEnd(include bool) VizOption {
	return func(o *VizOptions) { o.IncludeStartEnd = include }
}

// WithGraphLabel sets an optional label for the graph.
func WithGraphLabel(label string) VizOption {
	return func(o *VizOptions) { o.GraphLabel = label }
}

func defaultVizOptions() *VizOptions {
	return &VizOptions{
		RankDir:             RankDirTB,
		IncludeDestinations: true,
		IncludeStartEnd:     true,
	}
}

// vizEdge is one edge of the exported topology.
type vizEdge struct {
	from, to, label string
	kind            edgeKind
}

type edgeKind int

const (
	edgeRuntime edgeKind = iota
	edgeConditional
	edgeDestination
)

// topology is a lock-free snapshot of the graph used by exporters.
type topology struct {
	nodes []*Node
	edges []vizEdge
	entry string
}

func (g *Graph) snapshot(o *VizOptions) *topology {
	g.mu.RLock()
	defer g.mu.RUnlock()

	t := &topology{entry: g.entryPoint}
	for _, id := range g.order {
		t.nodes = append(t.nodes, g.nodes[id])
	}
	skip := func(from, to string) bool {
		return !o.IncludeStartEnd && (from == Start || to == End)
	}

	froms := make([]string, 0, len(g.next))
	for from := range g.next {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		if to := g.next[from]; !skip(from, to) {
			t.edges = append(t.edges, vizEdge{from: from, to: to, kind: edgeRuntime})
		}
	}

	froms = froms[:0]
	for from := range g.conditional {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		ce := g.conditional[from]
		for _, k := range sortedKeys(ce.PathMap) {
			to := ce.PathMap[k]
			if !skip(from, to) {
				t.edges = append(t.edges, vizEdge{from: from, to: to, label: k, kind: edgeConditional})
			}
		}
	}

	if o.IncludeDestinations {
		for _, n := range t.nodes {
			for _, to := range sortedKeys(n.destinations) {
				if !skip(n.ID, to) {
					t.edges = append(t.edges, vizEdge{
						from: n.ID, to: to, label: n.destinations[to], kind: edgeDestination,
					})
				}
			}
		}
	}
	return t
}

// DOT returns a Graphviz DOT representation of the graph.
func (g *Graph) DOT(opts ...VizOption) string {
	o := applyVizOptions(opts)
	t := g.snapshot(o)

	var b strings.Builder
	b.WriteString("digraph G {\n")
	fmt.Fprintf(&b, "  rankdir=%s;\n", o.RankDir)
	b.WriteString("  node [fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\"];\n")
	if o.GraphLabel != "" {
		fmt.Fprintf(&b, "  label=\"%s\";\n  labelloc=t;\n", escapeLabel(o.GraphLabel))
	}
	if o.IncludeStartEnd {
		fmt.Fprintf(&b, "  \"%s\" [label=\"start\", shape=%s, style=filled, fillcolor=\"%s\", color=\"%s\"];\n",
			Start, shapeOval, colorStartFill, colorStartBorder)
		fmt.Fprintf(&b, "  \"%s\" [label=\"finish\", shape=%s, style=filled, fillcolor=\"%s\", color=\"%s\"];\n",
			End, shapeOval, colorEndFill, colorEndBorder)
	}
	for _, n := range t.nodes {
		shape, fill, color := styleForNodeType(n.Type)
		fmt.Fprintf(&b, "  \"%s\" [label=\"%s\", shape=%s, style=filled, fillcolor=\"%s\", color=\"%s\"];\n",
			escapeLabel(n.ID), escapeLabel(nodeLabel(n)), shape, fill, color)
	}
	for _, e := range t.edges {
		from, to := escapeLabel(e.from), escapeLabel(e.to)
		switch e.kind {
		case edgeConditional:
			fmt.Fprintf(&b, "  \"%s\" -> \"%s\" [style=dashed, color=\"%s\", label=\"%s\"];\n",
				from, to, colorConditionalEdge, escapeLabel(e.label))
		case edgeDestination:
			if e.label != "" {
				fmt.Fprintf(&b, "  \"%s\" -> \"%s\" [style=dotted, color=\"%s\", label=\"%s\", constraint=false];\n",
					from, to, colorDestinationEdge, escapeLabel(e.label))
			} else {
				fmt.Fprintf(&b, "  \"%s\" -> \"%s\" [style=dotted, color=\"%s\", constraint=false];\n",
					from, to, colorDestinationEdge)
			}
		default:
			fmt.Fprintf(&b, "  \"%s\" -> \"%s\";\n", from, to)
		}
	}
	if !o.IncludeStartEnd && t.entry != "" {
		fmt.Fprintf(&b, "  \"%s\" [peripheries=2];\n", escapeLabel(t.entry))
	}
	b.WriteString("}\n")
	return b.String()
}

// Mermaid returns a Mermaid flowchart of the graph.
func (g *Graph) Mermaid(opts ...VizOption) string {
	o := applyVizOptions(opts)
	t := g.snapshot(o)

	ids := make(map[string]string, len(t.nodes)+2)
	id := func(name string) string {
		if v, ok := ids[name]; ok {
			return v
		}
		v := fmt.Sprintf("n%d", len(ids))
		ids[name] = v
		return v
	}

	var b strings.Builder
	if o.GraphLabel != "" {
		fmt.Fprintf(&b, "---\ntitle: %s\n---\n", o.GraphLabel)
	}
	fmt.Fprintf(&b, "flowchart %s\n", o.RankDir)
	if o.IncludeStartEnd {
		fmt.Fprintf(&b, "  %s([start])\n", id(Start))
		fmt.Fprintf(&b, "  %s([finish])\n", id(End))
	}
	for _, n := range t.nodes {
		label := escapeMermaid(nodeLabel(n))
		switch n.Type {
		case NodeTypeRouter:
			fmt.Fprintf(&b, "  %s{\"%s\"}\n", id(n.ID), label)
		case NodeTypeHuman:
			fmt.Fprintf(&b, "  %s{{\"%s\"}}\n", id(n.ID), label)
		default:
			fmt.Fprintf(&b, "  %s[\"%s\"]\n", id(n.ID), label)
		}
	}
	for _, e := range t.edges {
		from, to := id(e.from), id(e.to)
		switch {
		case e.kind == edgeRuntime:
			fmt.Fprintf(&b, "  %s --> %s\n", from, to)
		case e.label != "":
			fmt.Fprintf(&b, "  %s -.->|\"%s\"| %s\n", from, escapeMermaid(e.label), to)
		default:
			fmt.Fprintf(&b, "  %s -.-> %s\n", from, to)
		}
	}
	return b.String()
}

// WriteDOT writes the DOT representation to w.
func (g *Graph) WriteDOT(w io.Writer, opts ...VizOption) error {
	_, err := io.WriteString(w, g.DOT(opts...))
	return err
}

// WriteMermaid writes the Mermaid representation to w.
func (g *Graph) WriteMermaid(w io.Writer, opts ...VizOption) error {
	_, err := io.WriteString(w, g.Mermaid(opts...))
	return err
}

// RenderImage renders the graph to an image by invoking Graphviz's `dot` binary.
// It returns an error if `dot` is not found or the command fails.
func (g *Graph) RenderImage(ctx context.Context, format, outputPath string, opts ...VizOption) error {
	if format == "" {
		format = ImageFormatPNG
	}
	dotPath, err := exec.LookPath("dot")
	if err != nil {
		return fmt.Errorf("graphviz 'dot' binary not found in PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, dotPath, "-T"+format, "-o", outputPath)
	cmd.Stdin = bytes.NewBufferString(g.DOT(opts...))
	out, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return fmt.Errorf("dot render failed: %w, output: %s", runErr, string(out))
	}
	return nil
}

func applyVizOptions(opts []VizOption) *VizOptions {
	o := defaultVizOptions()
	for _, fn := range opts {
		fn(o)
	}
	return o
}

func nodeLabel(n *Node) string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}

func styleForNodeType(nt NodeType) (shape, fill, color string) {
	switch nt {
	case NodeTypeLLM:
		return shapeBox, colorLLMFill, colorLLMBorder
	case NodeTypeHuman:
		return shapeHexagon, colorHumanFill, colorHumanBorder
	case NodeTypeRouter:
		return shapeDiamond, colorRouterFill, colorRouterBorder
	default:
		return shapeBox, colorDefaultFill, colorDefaultBorder
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// escapeLabel escapes label strings for DOT.
func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	return s
}

// escapeMermaid replaces characters that break quoted Mermaid labels.
func escapeMermaid(s string) string {
	s = strings.ReplaceAll(s, "\"", "#quot;")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
