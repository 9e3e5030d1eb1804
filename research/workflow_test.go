//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package research_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"trpc.group/trpc-go/deepresearch-go/driver"
	"trpc.group/trpc-go/deepresearch-go/engine"
	"trpc.group/trpc-go/deepresearch-go/graph"
	"trpc.group/trpc-go/deepresearch-go/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/deepresearch-go/graph/checkpoint/sqlite"
	"trpc.group/trpc-go/deepresearch-go/research"
)

const quantizationQuery = "What are the main LLM quantization methods? Compare GPTQ, AWQ, and GGUF formats."

var allStages = []string{
	research.NodeClarify, research.NodeBrief, research.NodeDraft, research.NodeSupervisor, research.NodeFinal,
}

func newExecutor(t *testing.T, saver graph.CheckpointSaver, opts ...research.Option) *graph.Executor {
	t.Helper()
	g, err := research.NewGraph(opts...)
	require.NoError(t, err)
	exec, err := graph.NewExecutor(g, graph.WithCheckpointSaver(saver))
	require.NoError(t, err)
	return exec
}

func TestQuantizationComparison(t *testing.T) {
	exec := newExecutor(t, inmemory.NewSaver())
	var transitions []string
	r, err := driver.New(exec, driver.WithTransitionHook(func(_ string, from, to driver.Status) {
		transitions = append(transitions, fmt.Sprintf("%s>%s", from, to))
	}))
	require.NoError(t, err)

	out, err := r.Run(context.Background(), quantizationQuery, "test-1")
	require.NoError(t, err)
	assert.Equal(t, driver.StatusCompleted, out.Status)
	assert.Equal(t, []string{"RUNNING>COMPLETED"}, transitions)
	assert.Equal(t, allStages, out.Trace)
	assert.Empty(t, out.Interrupts)
	require.NotNil(t, out.Result)
	assert.Equal(t, driver.SourceStream, out.Result.Source)
	for _, format := range []string{"GPTQ", "AWQ", "GGUF"} {
		assert.Contains(t, out.Result.FinalReport, format)
	}

	st, err := exec.GetState(context.Background(), "test-1")
	require.NoError(t, err)
	assert.Equal(t, out.Result.FinalReport, st.Values[engine.KeyFinalReport])
	assert.Len(t, st.Values[engine.KeyResearchFindings], 4)
}

func TestRunnerMatchesEngineRun(t *testing.T) {
	exec := newExecutor(t, inmemory.NewSaver())
	r, err := driver.New(exec)
	require.NoError(t, err)

	out, err := r.Run(context.Background(), quantizationQuery, "looped")
	require.NoError(t, err)
	values, err := exec.Run(context.Background(), driver.NewQueryInput(quantizationQuery), engine.NewConfig("plain"))
	require.NoError(t, err)
	report, ok := engine.FinalReport(values)
	require.True(t, ok)
	assert.Equal(t, report, out.Result.FinalReport)
}

func TestClarificationAutoResume(t *testing.T) {
	exec := newExecutor(t, inmemory.NewSaver())
	r, err := driver.New(exec, driver.WithResponses(map[string]string{research.InterruptClarification: "X"}))
	require.NoError(t, err)

	out, err := r.Run(context.Background(), "Quantization?", "short")
	require.NoError(t, err)
	assert.Equal(t, driver.StatusCompleted, out.Status)
	assert.Equal(t, 2, out.Passes)
	require.Len(t, out.Interrupts, 1)
	assert.Equal(t, research.InterruptClarification, out.Interrupts[0].Type())
	assert.Contains(t, out.Interrupts[0].Question(), "Quantization?")
	assert.Contains(t, out.Result.FinalReport, "Scope from the user: X")
	assert.Equal(t, allStages, out.Trace)
}

func TestClarificationThenPlanApproval(t *testing.T) {
	exec := newExecutor(t, inmemory.NewSaver(), research.WithRequireApproval(true))
	r, err := driver.New(exec, driver.WithResponses(map[string]string{
		research.InterruptClarification: "consumer GPUs",
		research.InterruptPlanApproval:  "focus on memory use",
	}))
	require.NoError(t, err)

	out, err := r.Run(context.Background(), "AWQ or GPTQ?", "approval")
	require.NoError(t, err)
	assert.Equal(t, 3, out.Passes)
	require.Len(t, out.Interrupts, 2)
	assert.Equal(t, research.InterruptClarification, out.Interrupts[0].Type())
	assert.Equal(t, research.InterruptPlanApproval, out.Interrupts[1].Type())
	assert.Contains(t, out.Interrupts[1].Question(), "AWQ, GPTQ")
	assert.Contains(t, out.Result.FinalReport, "Reviewer guidance: focus on memory use.")

	st, err := exec.GetState(context.Background(), "approval")
	require.NoError(t, err)
	assert.Equal(t, "focus on memory use", st.Values[research.KeyApproval])
	assert.Equal(t, "consumer GPUs", st.Values[research.KeyClarification])
}

func TestUnansweredClarificationFails(t *testing.T) {
	exec := newExecutor(t, inmemory.NewSaver(), research.WithAlwaysClarify(true))
	r, err := driver.New(exec)
	require.NoError(t, err)

	out, err := r.Run(context.Background(), quantizationQuery, "headless")
	assert.True(t, driver.IsUnresolvable(err))
	assert.Equal(t, driver.StatusFailed, out.Status)

	st, err := exec.GetState(context.Background(), "headless")
	require.NoError(t, err)
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, research.NodeClarify, st.Tasks[0].Name)
}

type failingWriter struct{ err error }

func (f failingWriter) Write(ctx context.Context, task *research.Task) (string, error) {
	if task.Kind == research.TaskFinding {
		return "", f.err
	}
	return research.TemplateWriter{}.Write(ctx, task)
}

func TestWriterFailureIsEngineFailure(t *testing.T) {
	boom := errors.New("search backend down")
	exec := newExecutor(t, inmemory.NewSaver(), research.WithWriter(failingWriter{err: boom}))
	r, err := driver.New(exec)
	require.NoError(t, err)

	out, err := r.Run(context.Background(), quantizationQuery, "broken")
	assert.ErrorIs(t, err, boom)
	assert.True(t, driver.IsEngineFailure(err))
	assert.Equal(t, driver.StatusFailed, out.Status)
	assert.Equal(t, []string{research.NodeClarify, research.NodeBrief, research.NodeDraft}, out.Trace)
}

func TestConcurrentThreads(t *testing.T) {
	exec := newExecutor(t, inmemory.NewSaver(), research.WithAlwaysClarify(true))
	prompter := driver.PrompterFunc(func(ctx context.Context, req *driver.InterruptRequest) (string, error) {
		return "scope of " + req.Question(), nil
	})
	r, err := driver.New(exec, driver.WithPrompter(prompter))
	require.NoError(t, err)

	queries := []string{"Compare GPTQ and AWQ", "Explain GGUF files", "Is INT8 enough", "Why use NF4 with QLoRA"}
	outs := make([]*driver.Outcome, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.Run(context.Background(), q, fmt.Sprintf("thread-%d", i))
			assert.NoError(t, err)
			outs[i] = out
		}()
	}
	wg.Wait()

	for i, q := range queries {
		require.NotNil(t, outs[i])
		require.Len(t, outs[i].Interrupts, 1)
		assert.Contains(t, outs[i].Interrupts[0].Question(), q)
		assert.Contains(t, outs[i].Result.FinalReport, "Research question: "+q)
		for j, other := range queries {
			if j != i {
				assert.NotContains(t, outs[i].Result.FinalReport, other)
			}
		}
	}
}

func TestResumeAcrossExecutorsWithSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")
	open := func() *sqlite.Saver {
		db, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		saver, err := sqlite.NewSaver(db)
		require.NoError(t, err)
		return saver
	}
	ctx := context.Background()

	first := open()
	exec := newExecutor(t, first, research.WithAlwaysClarify(true))
	r, err := driver.New(exec)
	require.NoError(t, err)
	_, err = r.Run(ctx, quantizationQuery, "durable")
	require.True(t, driver.IsUnresolvable(err))
	require.NoError(t, first.Close())

	second := open()
	defer second.Close()
	exec = newExecutor(t, second, research.WithAlwaysClarify(true))
	req, err := driver.Detect(ctx, exec, "durable")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, research.InterruptClarification, req.Type())

	r, err = driver.New(exec)
	require.NoError(t, err)
	out, err := r.RunInput(ctx, engine.ResumeWith("datacenter GPUs"), "durable")
	require.NoError(t, err)
	assert.Equal(t, driver.StatusCompleted, out.Status)
	assert.Contains(t, out.Result.FinalReport, "Scope from the user: datacenter GPUs")
	assert.Contains(t, out.Result.FinalReport, "GGUF")
}
