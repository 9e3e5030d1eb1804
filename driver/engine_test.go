//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package driver

import (
	"context"
	"sort"
	"sync"

	"trpc.group/trpc-go/deepresearch-go/engine"
)

// pass scripts what the fake engine does in one Stream call.
type pass struct {
	outputs []*engine.StageOutput
	// persist is merged into the thread values without being streamed.
	persist map[string]any
	// interrupt, when non-nil, is left pending after the pass.
	interrupt any
	// streamErr is returned by Stream itself.
	streamErr error
}

// script decides the pass for the n-th (1-based) Stream call on a thread.
type script func(threadID string, n int, in engine.Input) pass

type fakeThread struct {
	values    map[string]any
	interrupt any
	passes    int
	inputs    []engine.Input
	configs   []engine.Config
}

// fakeEngine is an in-memory engine.Engine driven by a script.
type fakeEngine struct {
	script      script
	getStateErr error

	mu      sync.Mutex
	threads map[string]*fakeThread
}

func newFakeEngine(s script) *fakeEngine {
	return &fakeEngine{script: s, threads: make(map[string]*fakeThread)}
}

func (f *fakeEngine) Stream(ctx context.Context, in engine.Input, cfg engine.Config) (<-chan *engine.StageOutput, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	th, ok := f.threads[cfg.ThreadID]
	if !ok {
		th = &fakeThread{values: make(map[string]any)}
		f.threads[cfg.ThreadID] = th
	}
	th.passes++
	th.inputs = append(th.inputs, in)
	th.configs = append(th.configs, cfg)
	n := th.passes
	f.mu.Unlock()

	p := f.script(cfg.ThreadID, n, in)
	if p.streamErr != nil {
		return nil, p.streamErr
	}

	f.mu.Lock()
	for k, v := range in.Values {
		th.values[k] = v
	}
	for _, out := range p.outputs {
		if out == nil {
			continue
		}
		for k, v := range out.Fields {
			th.values[k] = v
		}
	}
	for k, v := range p.persist {
		th.values[k] = v
	}
	th.interrupt = p.interrupt
	f.mu.Unlock()

	ch := make(chan *engine.StageOutput, len(p.outputs))
	for _, out := range p.outputs {
		ch <- out
	}
	close(ch)
	return ch, nil
}

func (f *fakeEngine) Run(ctx context.Context, in engine.Input, cfg engine.Config) (map[string]any, error) {
	ch, err := f.Stream(ctx, in, cfg)
	if err != nil {
		return nil, err
	}
	for out := range ch {
		if out.Err != nil {
			return nil, out.Err
		}
	}
	st, err := f.GetState(ctx, cfg.ThreadID)
	if err != nil || st == nil {
		return nil, err
	}
	return st.Values, nil
}

func (f *fakeEngine) GetState(ctx context.Context, threadID string) (*engine.ThreadState, error) {
	if f.getStateErr != nil {
		return nil, f.getStateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	th, ok := f.threads[threadID]
	if !ok {
		return nil, nil
	}
	st := &engine.ThreadState{ThreadID: threadID, Values: make(map[string]any, len(th.values))}
	for k, v := range th.values {
		st.Values[k] = v
	}
	if th.interrupt != nil {
		st.Tasks = []engine.Task{{
			ID:         "task",
			Name:       "stage",
			Interrupts: []engine.Interrupt{{Value: th.interrupt, NodeID: "stage"}},
		}}
		st.Next = []string{"stage"}
	}
	return st, nil
}

func (f *fakeEngine) thread(id string) *fakeThread {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.threads[id]
}

func resumeValues(th *fakeThread) []string {
	var out []string
	for _, in := range th.inputs {
		if in.IsResume() {
			out = append(out, in.Resume.Value)
		}
	}
	return out
}

func stage(name string, fields map[string]any) *engine.StageOutput {
	return &engine.StageOutput{Stage: name, Fields: fields}
}

// transitions records status changes.
type transitions struct {
	mu  sync.Mutex
	got []string
}

func (t *transitions) hook(_ string, from, to Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.got = append(t.got, string(from)+">"+string(to))
}

func (t *transitions) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := append([]string(nil), t.got...)
	return out
}

func keysOf(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
