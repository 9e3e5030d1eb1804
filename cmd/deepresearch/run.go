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
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/deepresearch-go/config"
	"trpc.group/trpc-go/deepresearch-go/driver"
	"trpc.group/trpc-go/deepresearch-go/log"
	"trpc.group/trpc-go/deepresearch-go/report"
)

const (
	defaultQuery  = "Compare the LLM quantization formats GPTQ, AWQ and GGUF for local inference"
	defaultThread = "test-1"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [query]",
		Short: "Run a research query until a final report is produced",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				query = defaultQuery
			}
			threadID, _ := cmd.Flags().GetString("thread")
			exportDir, _ := cmd.Flags().GetString("export-graph")
			noReport, _ := cmd.Flags().GetBool("no-report")

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

			out := cmd.OutOrStdout()
			writeBanner(out, cfg)
			if exportDir != "" {
				paths, err := exportGraph(ctx, a.graph, exportDir, true)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintf(out, "Workflow graph saved to %s\n", p)
				}
			}

			r, err := a.runner(cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Research query: %s\nThread: %s\n\n", query, threadID)
			outcome, runErr := r.Run(ctx, query, threadID)
			driver.WriteOutcome(out, outcome)
			if runErr != nil {
				return runErr
			}
			if outcome.Result != nil && !noReport {
				paths, err := saveReport(cfg, query, outcome)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintf(out, "Report saved to %s\n", p)
				}
			}
			return outcome.Err()
		},
	}
	cmd.Flags().StringP("thread", "t", defaultThread, "thread id to run on")
	cmd.Flags().String("export-graph", "", "directory to export the workflow graph to before running")
	cmd.Flags().Bool("no-report", false, "do not save the final report to disk")
	return cmd
}

// saveReport writes the final report of out in the configured formats.
func saveReport(cfg *config.Config, query string, out *driver.Outcome) ([]string, error) {
	if out == nil || out.Result == nil {
		return nil, errors.New("no final report to save")
	}
	formats, err := report.ParseFormats(cfg.Report.Formats)
	if err != nil {
		return nil, err
	}
	r, err := report.New(query, out.ThreadID, out.Result.FinalReport)
	if err != nil {
		return nil, err
	}
	paths, err := report.Save(cfg.Report.Dir, r, formats...)
	if err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}
	log.Debugf("deepresearch: thread %s report saved as %v", out.ThreadID, paths)
	return paths, nil
}

// writeBanner prints the endpoints a run talks to. Secrets are reported as
// present or missing, never printed.
func writeBanner(w io.Writer, cfg *config.Config) {
	orDefault := func(s, def string) string {
		if s == "" {
			return def
		}
		return s
	}
	search := "not configured"
	if cfg.Search.TavilyAPIKey != "" {
		search = "configured"
	}
	llmURL, llmModel := cfg.LLM.BaseURL, cfg.LLM.Model
	if !cfg.LLM.Enabled() {
		llmURL, llmModel = "(none, template writer)", "-"
	}
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  LLM Base URL: %s\n", llmURL)
	fmt.Fprintf(w, "  LLM Model: %s\n", llmModel)
	fmt.Fprintf(w, "  Embedding Base URL: %s\n", orDefault(cfg.Embedding.BaseURL, "(none)"))
	fmt.Fprintf(w, "  Embedding Model: %s\n", orDefault(cfg.Embedding.Model, "-"))
	fmt.Fprintf(w, "  Web Search: %s\n\n", search)
}
