//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/deepresearch-go/graph"
	"trpc.group/trpc-go/deepresearch-go/log"
)

const graphBaseName = "research_workflow"

func newGraphCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Export the research workflow as Mermaid, DOT and PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("out")
			png, _ := cmd.Flags().GetBool("png")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()
			paths, err := exportGraph(cmd.Context(), a.graph, dir, png)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
	cmd.Flags().StringP("out", "o", ".", "output directory")
	cmd.Flags().Bool("png", true, "also render a PNG with Graphviz when available")
	return cmd
}

// exportGraph writes the Mermaid and DOT forms of g into dir. A PNG is
// rendered when png is set; a missing Graphviz leaves the text forms only.
func exportGraph(ctx context.Context, g *graph.Graph, dir string, png bool) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create graph dir: %w", err)
	}
	opts := []graph.VizOption{graph.WithGraphLabel("Deep Research Workflow")}
	var paths []string
	for _, f := range []struct {
		ext   string
		write func(io.Writer, ...graph.VizOption) error
	}{
		{".mmd", g.WriteMermaid},
		{".dot", g.WriteDOT},
	} {
		path := filepath.Join(dir, graphBaseName+f.ext)
		if err := writeGraphFile(path, f.write, opts); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	if png {
		path := filepath.Join(dir, graphBaseName+".png")
		if err := g.RenderImage(ctx, graph.ImageFormatPNG, path, opts...); err != nil {
			log.Warnf("deepresearch: png export failed, mermaid text kept: %v", err)
		} else {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

func writeGraphFile(path string, write func(io.Writer, ...graph.VizOption) error, opts []graph.VizOption) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f, opts...)
}

func newStateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state <thread-id>",
		Short: "Print the persisted state of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, _ := cmd.Flags().GetInt("history")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			st, err := a.executor.GetState(ctx, args[0])
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("thread %s has no checkpoints", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if history <= 0 {
				return enc.Encode(st)
			}
			snapshots, err := a.executor.History(ctx, args[0], history)
			if err != nil {
				return err
			}
			return enc.Encode(snapshots)
		},
	}
	cmd.Flags().Int("history", 0, "print up to this many snapshots, newest first")
	return cmd
}
