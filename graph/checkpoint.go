//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// CheckpointVersion is the current checkpoint format version.
const CheckpointVersion = 1

// Checkpoint sources.
const (
	SourceInput     = "input"
	SourceLoop      = "loop"
	SourceInterrupt = "interrupt"
)

// Checkpoint represents a snapshot of graph state at a specific point in time.
type Checkpoint struct {
	// Version is the version of the checkpoint format.
	Version int `json:"v"`
	// ID is the unique identifier for this checkpoint.
	ID string `json:"id"`
	// ParentCheckpointID is the ID of the previous checkpoint of the thread.
	ParentCheckpointID string `json:"parent_checkpoint_id,omitempty"`
	// Timestamp is when the checkpoint was created.
	Timestamp time.Time `json:"ts"`
	// Values is the graph state without executor wiring keys.
	Values map[string]any `json:"values"`
	// NextNodes contains the nodes still to execute. Empty once the graph
	// reached End.
	NextNodes []string `json:"next_nodes,omitempty"`
	// InterruptState is set while a node waits for a resume command.
	InterruptState *InterruptState `json:"interrupt_state,omitempty"`
}

// InterruptState represents the state of an interrupted execution.
type InterruptState struct {
	// NodeID is the ID of the node where execution was interrupted.
	NodeID string `json:"node_id"`
	// TaskID is the ID of the task that was interrupted.
	TaskID string `json:"task_id"`
	// InterruptValue is the value that was passed to Interrupt().
	InterruptValue any `json:"interrupt_value"`
	// Step is the step number when the interrupt occurred.
	Step int `json:"step"`
	// UsedInterrupts holds the resume values the node already consumed
	// before it interrupted again.
	UsedInterrupts map[string]any `json:"used_interrupts,omitempty"`
}

// CheckpointMetadata contains metadata about a checkpoint.
type CheckpointMetadata struct {
	// Source indicates how the checkpoint was created.
	Source string `json:"source"`
	// Step is the step number (-1 for input, 0+ for loop steps).
	Step int `json:"step"`
	// Node is the node whose completion produced the checkpoint.
	Node string `json:"node,omitempty"`
}

// CheckpointTuple wraps a checkpoint with its thread and metadata.
type CheckpointTuple struct {
	ThreadID   string              `json:"thread_id"`
	Checkpoint *Checkpoint         `json:"checkpoint"`
	Metadata   *CheckpointMetadata `json:"metadata"`
}

// CheckpointSaver persists checkpoints keyed by thread.
type CheckpointSaver interface {
	// Put stores a checkpoint for the thread.
	Put(ctx context.Context, threadID string, ckpt *Checkpoint, meta *CheckpointMetadata) error
	// Latest returns the newest checkpoint of the thread, or nil when the
	// thread has none.
	Latest(ctx context.Context, threadID string) (*CheckpointTuple, error)
	// Get returns a specific checkpoint or ErrCheckpointNotFound.
	Get(ctx context.Context, threadID, checkpointID string) (*CheckpointTuple, error)
	// List returns checkpoints newest first. A limit <= 0 means no limit.
	List(ctx context.Context, threadID string, limit int) ([]*CheckpointTuple, error)
	// DeleteThread removes every checkpoint of the thread.
	DeleteThread(ctx context.Context, threadID string) error
	// Close releases resources held by the saver.
	Close() error
}

// NewCheckpoint creates a new checkpoint for values.
func NewCheckpoint(values map[string]any, nextNodes []string) *Checkpoint {
	return &Checkpoint{
		Version:   CheckpointVersion,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Values:    values,
		NextNodes: nextNodes,
	}
}

// NewCheckpointMetadata creates checkpoint metadata.
func NewCheckpointMetadata(source string, step int) *CheckpointMetadata {
	return &CheckpointMetadata{
		Source: source,
		Step:   step,
	}
}

// IsInterrupted reports whether the checkpoint waits for a resume command.
func (c *Checkpoint) IsInterrupted() bool {
	return c != nil && c.InterruptState != nil
}
