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
	"database/sql"
	"fmt"
	"io"

	_ "modernc.org/sqlite"

	"trpc.group/trpc-go/deepresearch-go/config"
	"trpc.group/trpc-go/deepresearch-go/driver"
	"trpc.group/trpc-go/deepresearch-go/graph"
	"trpc.group/trpc-go/deepresearch-go/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/deepresearch-go/graph/checkpoint/sqlite"
	"trpc.group/trpc-go/deepresearch-go/log"
	"trpc.group/trpc-go/deepresearch-go/model/openai"
	"trpc.group/trpc-go/deepresearch-go/research"
	"trpc.group/trpc-go/deepresearch-go/telemetry/metric"
	"trpc.group/trpc-go/deepresearch-go/telemetry/trace"
)

const serviceName = "deepresearch"

// app holds the components built from a Config.
type app struct {
	cfg      *config.Config
	graph    *graph.Graph
	executor *graph.Executor
	closers  []func() error
}

// newApp wires the research graph, the checkpoint store and, when enabled,
// the telemetry exporters.
func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	log.SetLevel(cfg.Log.Level)
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := a.startTelemetry(ctx); err != nil {
		return nil, err
	}
	saver, err := a.openSaver()
	if err != nil {
		return nil, err
	}
	g, err := research.NewGraph(
		research.WithWriter(newWriter(cfg.LLM)),
		research.WithMinQueryWords(cfg.Research.MinQueryWords),
		research.WithAlwaysClarify(cfg.Research.AlwaysClarify),
		research.WithRequireApproval(cfg.Research.RequireApproval),
		research.WithConcurrency(cfg.Research.Concurrency),
	)
	if err != nil {
		return nil, fmt.Errorf("build research graph: %w", err)
	}
	exec, err := graph.NewExecutor(g, graph.WithCheckpointSaver(saver))
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}
	a.graph = g
	a.executor = exec
	return a, nil
}

func (a *app) startTelemetry(ctx context.Context) error {
	tc := a.cfg.Telemetry
	if tc.Traces {
		clean, err := trace.Start(ctx,
			trace.WithEndpoint(tc.Endpoint),
			trace.WithProtocol(tc.Protocol),
			trace.WithServiceName(serviceName),
		)
		if err != nil {
			return fmt.Errorf("start tracing: %w", err)
		}
		a.closers = append(a.closers, clean)
	}
	if tc.Metrics {
		clean, err := metric.Start(ctx,
			metric.WithEndpoint(tc.Endpoint),
			metric.WithProtocol(tc.Protocol),
			metric.WithServiceName(serviceName),
		)
		if err != nil {
			return fmt.Errorf("start metrics: %w", err)
		}
		a.closers = append(a.closers, clean)
	}
	return nil
}

func (a *app) openSaver() (graph.CheckpointSaver, error) {
	cc := a.cfg.Checkpoint
	if cc.Driver != config.CheckpointSQLite {
		return inmemory.NewSaver(), nil
	}
	db, err := sql.Open("sqlite", cc.Path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db %s: %w", cc.Path, err)
	}
	saver, err := sqlite.NewSaver(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	a.closers = append(a.closers, saver.Close)
	return saver, nil
}

func newWriter(c config.LLMConfig) research.Writer {
	if !c.Enabled() {
		log.Debug("deepresearch: no llm endpoint configured, using template writer")
		return research.TemplateWriter{}
	}
	m := openai.New(c.Model, openai.WithBaseURL(c.BaseURL), openai.WithAPIKey(c.APIKey))
	return research.NewModelWriter(m,
		research.WithTemperature(c.Temperature),
		research.WithMaxTokens(c.MaxTokens),
		research.WithFinalMaxTokens(c.MaxTokensWriter),
		research.WithContextLength(c.ContextLength),
	)
}

// runner builds a driver.Runner over the executor. The console prompter and
// observer are attached when in and out are set.
func (a *app) runner(in io.Reader, out io.Writer, opts ...driver.Option) (*driver.Runner, error) {
	rc := a.cfg.Run
	base := []driver.Option{
		driver.WithResponses(a.cfg.Responses),
		driver.WithPromptTimeout(rc.PromptTimeout),
		driver.WithRecursionLimit(rc.RecursionLimit),
		driver.WithMaxPasses(rc.MaxPasses),
	}
	if in != nil && out != nil {
		base = append(base, driver.WithPrompter(driver.NewConsolePrompter(in, out)))
	}
	if out != nil {
		base = append(base, driver.WithObserver(driver.ConsoleObserver(out)))
	}
	return driver.New(a.executor, append(base, opts...)...)
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warnf("deepresearch: close: %v", err)
		}
	}
	a.closers = nil
}
