//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory provides in-memory checkpoint storage implementation
// for graph execution state persistence and recovery.
package inmemory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"trpc.group/trpc-go/deepresearch-go/graph"
)

// DefaultMaxCheckpointsPerThread bounds the history kept for one thread.
const DefaultMaxCheckpointsPerThread = 100

// record is a serialized checkpoint. Checkpoints are stored encoded so that
// callers never share maps with the saver, the same as a database backend.
type record struct {
	id         string
	checkpoint []byte
	metadata   []byte
}

// Saver provides an in-memory implementation of CheckpointSaver.
// This is suitable for testing and debugging but not for production use.
type Saver struct {
	mu sync.RWMutex
	// storage maps thread ID to checkpoints, newest first.
	storage map[string][]record
	// maxCheckpointsPerThread limits the number of checkpoints per thread.
	maxCheckpointsPerThread int
}

var _ graph.CheckpointSaver = (*Saver)(nil)

// NewSaver creates a new in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{
		storage:                 make(map[string][]record),
		maxCheckpointsPerThread: DefaultMaxCheckpointsPerThread,
	}
}

// WithMaxCheckpointsPerThread sets the maximum number of checkpoints per
// thread. Values <= 0 keep every checkpoint.
func (s *Saver) WithMaxCheckpointsPerThread(max int) *Saver {
	s.maxCheckpointsPerThread = max
	return s
}

// Put stores a checkpoint.
func (s *Saver) Put(ctx context.Context, threadID string, ckpt *graph.Checkpoint,
	meta *graph.CheckpointMetadata) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	if ckpt == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}
	if meta == nil {
		meta = &graph.CheckpointMetadata{}
	}
	ckptJSON, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	records := append([]record{{id: ckpt.ID, checkpoint: ckptJSON, metadata: metaJSON}}, s.storage[threadID]...)
	if s.maxCheckpointsPerThread > 0 && len(records) > s.maxCheckpointsPerThread {
		records = records[:s.maxCheckpointsPerThread]
	}
	s.storage[threadID] = records
	return nil
}

// Latest returns the newest checkpoint of the thread, or nil.
func (s *Saver) Latest(ctx context.Context, threadID string) (*graph.CheckpointTuple, error) {
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	s.mu.RLock()
	records := s.storage[threadID]
	var latest *record
	if len(records) > 0 {
		latest = &records[0]
	}
	s.mu.RUnlock()

	if latest == nil {
		return nil, nil
	}
	return decode(threadID, *latest)
}

// Get returns a specific checkpoint.
func (s *Saver) Get(ctx context.Context, threadID, checkpointID string) (*graph.CheckpointTuple, error) {
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	s.mu.RLock()
	var found *record
	for i, r := range s.storage[threadID] {
		if r.id == checkpointID {
			found = &s.storage[threadID][i]
			break
		}
	}
	s.mu.RUnlock()

	if found == nil {
		return nil, fmt.Errorf("thread %s checkpoint %s: %w", threadID, checkpointID, graph.ErrCheckpointNotFound)
	}
	return decode(threadID, *found)
}

// List returns checkpoints newest first.
func (s *Saver) List(ctx context.Context, threadID string, limit int) ([]*graph.CheckpointTuple, error) {
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	s.mu.RLock()
	records := append([]record(nil), s.storage[threadID]...)
	s.mu.RUnlock()

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	tuples := make([]*graph.CheckpointTuple, 0, len(records))
	for _, r := range records {
		t, err := decode(threadID, r)
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, t)
	}
	return tuples, nil
}

// DeleteThread removes all checkpoints of the thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.storage, threadID)
	return nil
}

// Close clears all stored checkpoints.
func (s *Saver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storage = make(map[string][]record)
	return nil
}

func decode(threadID string, r record) (*graph.CheckpointTuple, error) {
	var ckpt graph.Checkpoint
	if err := json.Unmarshal(r.checkpoint, &ckpt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	var meta graph.CheckpointMetadata
	if err := json.Unmarshal(r.metadata, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &graph.CheckpointTuple{ThreadID: threadID, Checkpoint: &ckpt, Metadata: &meta}, nil
}
