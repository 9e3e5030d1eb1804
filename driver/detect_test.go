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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/deepresearch-go/engine"
)

func TestNewInterruptRequest(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		malformed bool
		typ       string
		question  string
	}{
		{
			name:     "map with type",
			value:    map[string]any{"type": "clarification_needed", "question": "Which GPU?"},
			typ:      "clarification_needed",
			question: "Which GPU?",
		},
		{
			name:     "string map",
			value:    map[string]string{"type": "plan_approval", "question": "Approve?"},
			typ:      "plan_approval",
			question: "Approve?",
		},
		{
			name:     "map without type",
			value:    map[string]any{"question": "?"},
			typ:      UnknownInterruptType,
			question: "?",
		},
		{
			name:  "empty map",
			value: map[string]any{},
			typ:   UnknownInterruptType,
		},
		{
			name:  "non string type",
			value: map[string]any{"type": 7},
			typ:   "7",
		},
		{name: "string payload", value: "answer me", malformed: true, typ: UnknownInterruptType},
		{name: "slice payload", value: []string{"a"}, malformed: true, typ: UnknownInterruptType},
		{name: "nil payload", value: nil, malformed: true, typ: UnknownInterruptType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewInterruptRequest(tt.value)
			assert.Equal(t, tt.malformed, req.Malformed())
			assert.Equal(t, tt.typ, req.Type())
			assert.Equal(t, tt.question, req.Question())
			assert.Equal(t, tt.value, req.Raw)
		})
	}
}

func TestNewInterruptRequestCopiesPayload(t *testing.T) {
	payload := map[string]any{"type": "a"}
	req := NewInterruptRequest(payload)
	payload["type"] = "b"
	assert.Equal(t, "a", req.Type())
}

func TestDetect(t *testing.T) {
	eng := newFakeEngine(func(threadID string, n int, in engine.Input) pass {
		if threadID == "paused" {
			return pass{interrupt: map[string]any{"type": "clarification_needed", "verification": "ok?"}}
		}
		return pass{}
	})
	ctx := context.Background()

	req, err := Detect(ctx, eng, "never-run")
	require.NoError(t, err)
	assert.Nil(t, req)

	_, err = eng.Run(ctx, NewQueryInput("q"), engine.NewConfig("done"))
	require.NoError(t, err)
	req, err = Detect(ctx, eng, "done")
	require.NoError(t, err)
	assert.Nil(t, req)

	_, err = eng.Run(ctx, NewQueryInput("q"), engine.NewConfig("paused"))
	require.NoError(t, err)
	req, err = Detect(ctx, eng, "paused")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "task", req.TaskID)
	assert.Equal(t, "stage", req.NodeID)
	assert.Equal(t, "clarification_needed", req.Type())
	assert.Equal(t, "ok?", req.Verification())
}

// staticEngine reports a fixed state.
type staticEngine struct {
	engine.Engine
	state *engine.ThreadState
	err   error
}

func (s staticEngine) GetState(context.Context, string) (*engine.ThreadState, error) {
	return s.state, s.err
}

func TestDetectTakesFirstPendingInterrupt(t *testing.T) {
	eng := staticEngine{state: &engine.ThreadState{
		ThreadID: "t",
		Tasks: []engine.Task{
			{ID: "idle", Name: "router"},
			{ID: "t1", Name: "clarify", Interrupts: []engine.Interrupt{{Value: map[string]any{"type": "A"}}}},
			{ID: "t2", Name: "approve", Interrupts: []engine.Interrupt{{Value: map[string]any{"type": "B"}, NodeID: "approve"}}},
		},
	}}
	req, err := Detect(context.Background(), eng, "t")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, "A", req.Type())
	assert.Equal(t, "t1", req.TaskID)
	assert.Equal(t, "clarify", req.NodeID)
}

func TestDetectWrapsStateError(t *testing.T) {
	boom := errors.New("store down")
	_, err := Detect(context.Background(), staticEngine{err: boom}, "t")
	var ef *EngineFailure
	require.ErrorAs(t, err, &ef)
	assert.Equal(t, OpGetState, ef.Op)
	assert.ErrorIs(t, err, boom)
}
