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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatePrompter blocks until an answer is sent on its channel.
type gatePrompter chan string

func (g gatePrompter) Prompt(ctx context.Context, req *InterruptRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-g:
		return a, nil
	}
}

func TestHostSubmitAndWait(t *testing.T) {
	r := mustRunner(t, newFakeEngine(quantizationScript))
	h, err := NewHost(r, 4)
	require.NoError(t, err)
	defer h.Close()

	handles := make([]*Handle, 5)
	for i := range handles {
		handles[i], err = h.Submit(NewQueryInput("q"), fmt.Sprintf("h%d", i))
		require.NoError(t, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, handle := range handles {
		out, err := handle.Wait(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("h%d", i), out.ThreadID)
		assert.Equal(t, "<text>", out.Result.FinalReport)
		assert.Equal(t, StatusCompleted, handle.Status())
	}
	threads := h.Threads()
	assert.Len(t, threads, 5)
	for _, s := range threads {
		assert.Equal(t, StatusCompleted, s)
	}
}

func TestHostRejectsActiveThread(t *testing.T) {
	gate := make(gatePrompter)
	r := mustRunner(t, newFakeEngine(clarifyScript), WithPrompter(gate))
	h, err := NewHost(r, 2)
	require.NoError(t, err)
	defer h.Close()

	handle, err := h.Submit(NewQueryInput("q"), "busy")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return handle.Status() == StatusAwaitingInput
	}, 5*time.Second, 5*time.Millisecond)

	_, err = h.Submit(NewQueryInput("q"), "busy")
	assert.ErrorIs(t, err, ErrThreadActive)

	got, ok := h.Handle("busy")
	require.True(t, ok)
	assert.Same(t, handle, got)

	gate <- "later"
	out, err := handle.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "report for later", out.Result.FinalReport)

	again, err := h.Submit(NewQueryInput("follow up"), "busy")
	require.NoError(t, err)
	gate <- "again"
	out, err = again.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "report for again", out.Result.FinalReport)
}

func TestHostClose(t *testing.T) {
	r := mustRunner(t, newFakeEngine(clarifyScript), WithPrompter(make(gatePrompter)))
	h, err := NewHost(r, 1)
	require.NoError(t, err)

	handle, err := h.Submit(NewQueryInput("q"), "pending")
	require.NoError(t, err)
	h.Close()
	h.Close()

	out, err := handle.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, StatusFailed, handle.Status())

	_, err = h.Submit(NewQueryInput("q"), "late")
	assert.ErrorIs(t, err, ErrHostClosed)
}

func TestHandleWaitTimeout(t *testing.T) {
	handle := &Handle{ThreadID: "t", done: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := handle.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewHostValidation(t *testing.T) {
	_, err := NewHost(nil, 1)
	assert.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, StatusAwaitingInput.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestHandleFinishStatus(t *testing.T) {
	tests := []struct {
		name string
		out  *Outcome
		err  error
		want Status
	}{
		{"completed", &Outcome{Status: StatusCompleted}, nil, StatusCompleted},
		{"failed outcome", &Outcome{Status: StatusFailed}, context.Canceled, StatusFailed},
		{"error without outcome", nil, context.Canceled, StatusFailed},
		{"outcome left awaiting input", &Outcome{Status: StatusAwaitingInput}, nil, StatusFailed},
		{"nothing", nil, nil, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Handle{ThreadID: "t", status: StatusRunning, done: make(chan struct{})}
			h.finish(tt.out, tt.err)
			assert.Equal(t, tt.want, h.Status())
			assert.True(t, h.finished())
		})
	}
}
