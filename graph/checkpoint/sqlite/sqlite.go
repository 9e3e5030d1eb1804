//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides SQLite-based checkpoint storage implementation
// for graph execution state persistence and recovery.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"trpc.group/trpc-go/deepresearch-go/graph"
)

const (
	sqliteCreateCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"seq INTEGER PRIMARY KEY AUTOINCREMENT, " +
		"thread_id TEXT NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_checkpoint_id TEXT, " +
		"ts INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"metadata_json BLOB NOT NULL, " +
		"UNIQUE (thread_id, checkpoint_id)" +
		")"

	sqliteInsertCheckpoint = "INSERT OR REPLACE INTO checkpoints (" +
		"thread_id, checkpoint_id, parent_checkpoint_id, ts, checkpoint_json, metadata_json) " +
		"VALUES (?, ?, ?, ?, ?, ?)"

	sqliteSelectLatest = "SELECT checkpoint_json, metadata_json FROM checkpoints " +
		"WHERE thread_id = ? ORDER BY seq DESC LIMIT 1"

	sqliteSelectByID = "SELECT checkpoint_json, metadata_json FROM checkpoints " +
		"WHERE thread_id = ? AND checkpoint_id = ? LIMIT 1"

	sqliteSelectList = "SELECT checkpoint_json, metadata_json FROM checkpoints " +
		"WHERE thread_id = ? ORDER BY seq DESC"

	sqliteDeleteThread = "DELETE FROM checkpoints WHERE thread_id = ?"
)

// Saver is a SQLite-backed implementation of CheckpointSaver.
// It expects an initialized *sql.DB and will create the required schema.
// This saver stores the entire checkpoint and metadata as JSON blobs.
type Saver struct {
	db *sql.DB
}

var _ graph.CheckpointSaver = (*Saver)(nil)

// NewSaver creates a new saver using the provided DB.
// The DB must use a SQLite driver. The constructor creates tables if needed.
func NewSaver(db *sql.DB) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreateCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	return &Saver{db: db}, nil
}

// Put stores a checkpoint.
func (s *Saver) Put(ctx context.Context, threadID string, ckpt *graph.Checkpoint,
	meta *graph.CheckpointMetadata) error {
	if threadID == "" {
		return graph.ErrThreadIDRequired
	}
	if ckpt == nil {
		return errors.New("checkpoint cannot be nil")
	}
	if meta == nil {
		meta = &graph.CheckpointMetadata{}
	}
	ckptJSON, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, sqliteInsertCheckpoint,
		threadID, ckpt.ID, ckpt.ParentCheckpointID, ckpt.Timestamp.UnixNano(), ckptJSON, metaJSON)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// Latest returns the newest checkpoint of the thread, or nil.
func (s *Saver) Latest(ctx context.Context, threadID string) (*graph.CheckpointTuple, error) {
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	row := s.db.QueryRowContext(ctx, sqliteSelectLatest, threadID)
	t, err := scanTuple(threadID, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest: %w", err)
	}
	return t, nil
}

// Get returns a specific checkpoint.
func (s *Saver) Get(ctx context.Context, threadID, checkpointID string) (*graph.CheckpointTuple, error) {
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	row := s.db.QueryRowContext(ctx, sqliteSelectByID, threadID, checkpointID)
	t, err := scanTuple(threadID, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s checkpoint %s: %w", threadID, checkpointID, graph.ErrCheckpointNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select by id: %w", err)
	}
	return t, nil
}

// List returns checkpoints newest first.
func (s *Saver) List(ctx context.Context, threadID string, limit int) ([]*graph.CheckpointTuple, error) {
	if threadID == "" {
		return nil, graph.ErrThreadIDRequired
	}
	query := sqliteSelectList
	args := []any{threadID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select checkpoints: %w", err)
	}
	defer rows.Close()

	var tuples []*graph.CheckpointTuple
	for rows.Next() {
		t, err := scanTuple(threadID, rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		tuples = append(tuples, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return tuples, nil
}

// DeleteThread removes all checkpoints of the thread.
func (s *Saver) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, sqliteDeleteThread, threadID); err != nil {
		return fmt.Errorf("delete thread: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Saver) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTuple(threadID string, row scanner) (*graph.CheckpointTuple, error) {
	var ckptJSON, metaJSON []byte
	if err := row.Scan(&ckptJSON, &metaJSON); err != nil {
		return nil, err
	}
	var ckpt graph.Checkpoint
	if err := json.Unmarshal(ckptJSON, &ckpt); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	var meta graph.CheckpointMetadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &graph.CheckpointTuple{ThreadID: threadID, Checkpoint: &ckpt, Metadata: &meta}, nil
}
