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
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/deepresearch-go/engine"
	"trpc.group/trpc-go/deepresearch-go/log"
)

// DefaultWorkers is the pool size used when none is given.
const DefaultWorkers = 8

// Host drives many threads at once on a bounded worker pool. Each thread is
// driven by its own run; runs share nothing but the engine.
type Host struct {
	runner *Runner
	pool   *ants.Pool
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	handles map[string]*Handle
	closed  bool
}

// NewHost creates a host running at most workers threads concurrently.
func NewHost(runner *Runner, workers int) (*Host, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is nil")
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		runner:  runner,
		pool:    pool,
		ctx:     ctx,
		cancel:  cancel,
		handles: make(map[string]*Handle),
	}, nil
}

// Submit starts driving threadID from in. It fails with ErrThreadActive when
// the thread is still running and with the pool's overload error when every
// worker is busy.
func (h *Host) Submit(in engine.Input, threadID string, opts ...CallOption) (*Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHostClosed
	}
	if prev, ok := h.handles[threadID]; ok && !prev.finished() {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrThreadActive)
	}

	handle := &Handle{ThreadID: threadID, status: StatusRunning, done: make(chan struct{})}
	opts = append(opts, WithCallTransitionHook(func(_ string, _, to Status) {
		handle.setStatus(to)
	}))
	err := h.pool.Submit(func() {
		out, err := h.runner.RunInput(h.ctx, in, threadID, opts...)
		handle.finish(out, err)
	})
	if err != nil {
		return nil, fmt.Errorf("submit thread %s: %w", threadID, err)
	}
	h.handles[threadID] = handle
	log.Debugf("driver: host accepted thread %s (%d running)", threadID, h.pool.Running())
	return handle, nil
}

// Handle returns the latest handle of threadID.
func (h *Host) Handle(threadID string) (*Handle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	handle, ok := h.handles[threadID]
	return handle, ok
}

// Threads returns a status snapshot of every known thread.
func (h *Host) Threads() map[string]Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]Status, len(h.handles))
	for id, handle := range h.handles {
		out[id] = handle.Status()
	}
	return out
}

// Close cancels running threads and releases the pool.
func (h *Host) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()
	h.cancel()
	h.pool.Release()
}

// Handle tracks one submitted thread.
type Handle struct {
	ThreadID string

	mu      sync.RWMutex
	status  Status
	outcome *Outcome
	err     error
	done    chan struct{}
}

// Status returns the current status of the thread.
func (h *Handle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Done is closed once the run finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finished or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.outcome, h.err
	}
}

func (h *Handle) setStatus(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
}

func (h *Handle) finish(out *Outcome, err error) {
	h.mu.Lock()
	h.outcome, h.err = out, err
	switch {
	case out != nil && out.Status.Terminal():
		h.status = out.Status
	default:
		h.status = StatusFailed
	}
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
