//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"sort"
	"sync"

	"trpc.group/trpc-go/deepresearch-go/driver"
	"trpc.group/trpc-go/deepresearch-go/engine"
)

// runInfo records the stages of one submitted run.
type runInfo struct {
	query  string
	handle *driver.Handle

	mu      sync.Mutex
	events  []StageEvent
	changed chan struct{}
	done    bool
}

func newRunInfo(query string) *runInfo {
	return &runInfo{query: query, changed: make(chan struct{})}
}

func (r *runInfo) observe(out *engine.StageOutput) {
	fields := make([]string, 0, len(out.Fields))
	for k := range out.Fields {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, StageEvent{Stage: out.Stage, Fields: fields})
	r.notify()
}

func (r *runInfo) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
	r.notify()
}

// notify wakes every waiter. Callers hold r.mu.
func (r *runInfo) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// since returns the events after index i, a channel closed on the next
// change, and whether the run is over.
func (r *runInfo) since(i int) ([]StageEvent, <-chan struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var events []StageEvent
	if i < len(r.events) {
		events = append(events, r.events[i:]...)
	}
	return events, r.changed, r.done
}

func (r *runInfo) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Stage
	}
	return out
}
