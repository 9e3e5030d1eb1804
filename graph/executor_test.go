//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/deepresearch-go/engine"
	"trpc.group/trpc-go/deepresearch-go/graph"
	"trpc.group/trpc-go/deepresearch-go/graph/checkpoint/inmemory"
)

func newExecutor(t *testing.T, g *graph.Graph) *graph.Executor {
	t.Helper()
	exec, err := graph.NewExecutor(g, graph.WithCheckpointSaver(inmemory.NewSaver()))
	require.NoError(t, err)
	return exec
}

func drain(t *testing.T, ch <-chan *engine.StageOutput) []*engine.StageOutput {
	t.Helper()
	var outs []*engine.StageOutput
	for out := range ch {
		outs = append(outs, out)
	}
	return outs
}

func linearGraph() *graph.Graph {
	schema := graph.NewStateSchema().
		AddField("trail", graph.StateField{Type: reflect.TypeOf([]string{}), Reducer: graph.StringSliceReducer})
	step := func(name string) graph.NodeFunc {
		return func(ctx context.Context, s graph.State) (any, error) {
			return graph.State{"trail": []string{name}, name: "done"}, nil
		}
	}
	return graph.NewStateGraph(schema).
		AddNode("one", step("one")).
		AddNode("two", step("two")).
		AddEdge("one", "two").
		SetEntryPoint("one").
		SetFinishPoint("two").
		MustCompile()
}

func TestNewExecutorRequiresSaver(t *testing.T) {
	_, err := graph.NewExecutor(linearGraph())
	assert.ErrorIs(t, err, graph.ErrSaverRequired)
	_, err = graph.NewExecutor(nil)
	assert.Error(t, err)
}

func TestStreamLinear(t *testing.T) {
	exec := newExecutor(t, linearGraph())
	ctx := context.Background()

	ch, err := exec.Stream(ctx, engine.NewInput(map[string]any{"query": "q"}), engine.NewConfig("t1"))
	require.NoError(t, err)
	outs := drain(t, ch)
	require.Len(t, outs, 2)
	assert.Equal(t, "one", outs[0].Stage)
	assert.Equal(t, map[string]any{"trail": []string{"one"}, "one": "done"}, outs[0].Fields)
	assert.Equal(t, "two", outs[1].Stage)

	st, err := exec.GetState(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "t1", st.ThreadID)
	assert.Empty(t, st.Next)
	assert.Empty(t, st.Tasks)
	assert.Equal(t, []string{"one", "two"}, st.Values["trail"])
	assert.Equal(t, "q", st.Values["query"])

	history, err := exec.History(ctx, "t1", 0)
	require.NoError(t, err)
	// Input checkpoint plus one per node.
	assert.Len(t, history, 3)
	assert.Equal(t, st.CheckpointID, history[0].CheckpointID)
}

func TestGetStateUnknownThread(t *testing.T) {
	exec := newExecutor(t, linearGraph())
	st, err := exec.GetState(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = exec.GetState(context.Background(), "")
	assert.ErrorIs(t, err, graph.ErrThreadIDRequired)
}

func TestStreamInvalidConfig(t *testing.T) {
	exec := newExecutor(t, linearGraph())
	_, err := exec.Stream(context.Background(), engine.NewInput(nil), engine.Config{})
	assert.ErrorIs(t, err, engine.ErrThreadIDRequired)
}

func TestNodeErrorSurfacesAsStageError(t *testing.T) {
	boom := errors.New("boom")
	g := graph.NewStateGraph(nil).
		AddNode("fail", func(ctx context.Context, s graph.State) (any, error) { return nil, boom }).
		SetEntryPoint("fail").
		MustCompile()
	exec := newExecutor(t, g)

	ch, err := exec.Stream(context.Background(), engine.NewInput(nil), engine.NewConfig("t"))
	require.NoError(t, err)
	outs := drain(t, ch)
	require.Len(t, outs, 1)
	assert.ErrorIs(t, outs[0].Err, boom)

	_, err = exec.Run(context.Background(), engine.NewInput(nil), engine.NewConfig("t"))
	assert.ErrorIs(t, err, boom)
}

func TestRecursionLimit(t *testing.T) {
	g := graph.NewStateGraph(nil).
		AddNode("loop", func(ctx context.Context, s graph.State) (any, error) {
			return &graph.Command{GoTo: "loop"}, nil
		}, graph.WithDestinations(map[string]string{"loop": ""})).
		SetEntryPoint("loop").
		MustCompile()
	exec := newExecutor(t, g)

	cfg := engine.NewConfig("t")
	cfg.RecursionLimit = 3
	_, err := exec.Run(context.Background(), engine.NewInput(nil), cfg)
	assert.ErrorIs(t, err, graph.ErrRecursionLimit)
}

// questionGraph asks two questions in one node before producing a report.
func questionGraph() *graph.Graph {
	return graph.NewStateGraph(nil).
		AddNode("ask", func(ctx context.Context, s graph.State) (any, error) {
			a, err := graph.InterruptString(ctx, s, "a", map[string]any{"type": "first"})
			if err != nil {
				return nil, err
			}
			b, err := graph.InterruptString(ctx, s, "b", map[string]any{"type": "second"})
			if err != nil {
				return nil, err
			}
			return graph.State{"answers": a + "+" + b}, nil
		}, graph.WithNodeType(graph.NodeTypeHuman)).
		AddNode("report", func(ctx context.Context, s graph.State) (any, error) {
			return graph.State{engine.KeyFinalReport: "report: " + s["answers"].(string)}, nil
		}).
		AddEdge("ask", "report").
		SetEntryPoint("ask").
		SetFinishPoint("report").
		MustCompile()
}

func TestInterruptAndResumeSequence(t *testing.T) {
	exec := newExecutor(t, questionGraph())
	ctx := context.Background()
	cfg := engine.NewConfig("thread")

	outs := drain(t, mustStream(t, exec, engine.NewInput(map[string]any{"q": "x"}), cfg))
	assert.Empty(t, outs)

	st, err := exec.GetState(ctx, "thread")
	require.NoError(t, err)
	require.Len(t, st.Tasks, 1)
	require.Len(t, st.Tasks[0].Interrupts, 1)
	assert.Equal(t, map[string]any{"type": "first"}, st.Tasks[0].Interrupts[0].Value)
	assert.Equal(t, []string{"ask"}, st.Next)

	outs = drain(t, mustStream(t, exec, engine.ResumeWith("A"), cfg))
	assert.Empty(t, outs)
	st, err = exec.GetState(ctx, "thread")
	require.NoError(t, err)
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, map[string]any{"type": "second"}, st.Tasks[0].Interrupts[0].Value)

	outs = drain(t, mustStream(t, exec, engine.ResumeWith("B"), cfg))
	require.Len(t, outs, 2)
	assert.Equal(t, "report: A+B", outs[1].Fields[engine.KeyFinalReport])

	st, err = exec.GetState(ctx, "thread")
	require.NoError(t, err)
	assert.Empty(t, st.Tasks)
	assert.Equal(t, "x", st.Values["q"])
	for _, k := range st.Keys() {
		assert.NotContains(t, k, "__")
	}
}

func TestRunReturnsInterruptError(t *testing.T) {
	exec := newExecutor(t, questionGraph())
	values, err := exec.Run(context.Background(), engine.NewInput(nil), engine.NewConfig("r"))
	ie, ok := graph.GetInterruptError(err)
	require.True(t, ok)
	assert.Equal(t, "ask", ie.NodeID)
	assert.NotEmpty(t, ie.TaskID)
	assert.NotNil(t, values)
}

func TestResumeWithoutInterrupt(t *testing.T) {
	exec := newExecutor(t, linearGraph())
	_, err := exec.Stream(context.Background(), engine.ResumeWith("x"), engine.NewConfig("fresh"))
	assert.ErrorIs(t, err, engine.ErrResumeWithoutInterrupt)
}

func TestFreshInputAbandonsPendingInterrupt(t *testing.T) {
	exec := newExecutor(t, questionGraph())
	cfg := engine.NewConfig("t")
	drain(t, mustStream(t, exec, engine.NewInput(nil), cfg))

	drain(t, mustStream(t, exec, engine.NewInput(map[string]any{"retry": true}), cfg))
	st, err := exec.GetState(context.Background(), "t")
	require.NoError(t, err)
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, map[string]any{"type": "first"}, st.Tasks[0].Interrupts[0].Value)
	assert.Equal(t, true, st.Values["retry"])
}

func TestThreadsAreIsolated(t *testing.T) {
	exec := newExecutor(t, linearGraph())
	ctx := context.Background()

	var wg sync.WaitGroup
	threads := []string{"a", "b", "c", "d"}
	for _, id := range threads {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := exec.Run(ctx, engine.NewInput(map[string]any{"owner": id}), engine.NewConfig(id))
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	for _, id := range threads {
		st, err := exec.GetState(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, st.Values["owner"])
		assert.Equal(t, []string{"one", "two"}, st.Values["trail"])
	}
}

func TestThreadBusy(t *testing.T) {
	release := make(chan struct{})
	g := graph.NewStateGraph(nil).
		AddNode("wait", func(ctx context.Context, s graph.State) (any, error) {
			<-release
			return nil, nil
		}).
		SetEntryPoint("wait").
		MustCompile()
	exec := newExecutor(t, g)
	cfg := engine.NewConfig("busy")

	ch := mustStream(t, exec, engine.NewInput(nil), cfg)
	_, err := exec.Stream(context.Background(), engine.NewInput(nil), cfg)
	assert.ErrorIs(t, err, graph.ErrThreadBusy)

	close(release)
	drain(t, ch)
	// The thread is released once the pass finished.
	require.Eventually(t, func() bool {
		ch, err := exec.Stream(context.Background(), engine.NewInput(nil), cfg)
		if err != nil {
			return false
		}
		drain(t, ch)
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestDeleteThread(t *testing.T) {
	exec := newExecutor(t, linearGraph())
	ctx := context.Background()
	_, err := exec.Run(ctx, engine.NewInput(nil), engine.NewConfig("gone"))
	require.NoError(t, err)
	require.NoError(t, exec.DeleteThread(ctx, "gone"))
	st, err := exec.GetState(ctx, "gone")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func mustStream(t *testing.T, exec *graph.Executor, in engine.Input, cfg engine.Config) <-chan *engine.StageOutput {
	t.Helper()
	ch, err := exec.Stream(context.Background(), in, cfg)
	require.NoError(t, err)
	return ch
}
