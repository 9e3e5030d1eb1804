//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package engine defines the contract between the run driver and a
// checkpointing workflow engine. The engine executes named stages over a
// shared run state, can suspend at stage boundaries, and persists run state
// keyed by a thread identifier.
package engine

import (
	"context"
	"errors"
	"time"
)

// Recognized stage output keys.
const (
	KeyMessages         = "messages"
	KeyResearchBrief    = "research_brief"
	KeyDraftReport      = "draft_report"
	KeyResearchFindings = "research_findings"
	KeyFinalReport      = "final_report"
)

// Recognized interrupt payload keys.
const (
	InterruptKeyType         = "type"
	InterruptKeyQuestion     = "question"
	InterruptKeyVerification = "verification"
)

// DefaultRecursionLimit is the step cap used when a caller does not set one.
const DefaultRecursionLimit = 50

// Config errors.
var (
	ErrThreadIDRequired       = errors.New("thread_id is required")
	ErrInvalidRecursionLimit  = errors.New("recursion_limit must be positive")
	ErrResumeWithoutInterrupt = errors.New("resume command issued without a pending interrupt")
)

// Engine is the narrow surface the driver depends on.
type Engine interface {
	// Stream drives one engine pass and emits one StageOutput per completed
	// stage. The channel is closed when the pass ends, either because the
	// graph finished or because a stage requested an interrupt. An engine
	// failure is delivered as a final StageOutput with Err set.
	Stream(ctx context.Context, in Input, cfg Config) (<-chan *StageOutput, error)
	// Run drives one engine pass to its end and returns the persisted values.
	Run(ctx context.Context, in Input, cfg Config) (map[string]any, error)
	// GetState returns the persisted snapshot for threadID, or nil when the
	// engine holds no record of it.
	GetState(ctx context.Context, threadID string) (*ThreadState, error)
}

// Config identifies the run an engine call applies to.
type Config struct {
	// ThreadID names one logical, checkpoint-isolated run.
	ThreadID string `json:"thread_id"`
	// RecursionLimit caps the number of stage executions in one pass.
	RecursionLimit int `json:"recursion_limit"`
}

// NewConfig returns a Config for threadID with the default recursion limit.
func NewConfig(threadID string) Config {
	return Config{ThreadID: threadID, RecursionLimit: DefaultRecursionLimit}
}

// Validate reports whether the config can be handed to an engine.
func (c Config) Validate() error {
	if c.ThreadID == "" {
		return ErrThreadIDRequired
	}
	if c.RecursionLimit <= 0 {
		return ErrInvalidRecursionLimit
	}
	return nil
}

// ResumeCommand marks an input as the answer to the last interrupt.
type ResumeCommand struct {
	Value string `json:"value"`
}

// Input is what the driver feeds the engine: either fresh values for a new
// turn or a resume command for a paused task.
type Input struct {
	Values map[string]any
	Resume *ResumeCommand
}

// NewInput wraps fresh run values.
func NewInput(values map[string]any) Input {
	return Input{Values: values}
}

// ResumeWith builds a resume input carrying value.
func ResumeWith(value string) Input {
	return Input{Resume: &ResumeCommand{Value: value}}
}

// IsResume reports whether the input continues a paused task.
func (in Input) IsResume() bool {
	return in.Resume != nil
}

// StageOutput is one (stage, fields) pair emitted during a pass.
type StageOutput struct {
	Stage  string
	Fields map[string]any
	// Err is set on the last element of a pass that failed.
	Err error
}

// Interrupt is a pending pause request attached to an unfinished task.
type Interrupt struct {
	Value  any    `json:"value"`
	NodeID string `json:"node_id,omitempty"`
}

// Task describes a task that has not finished yet.
type Task struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Interrupts []Interrupt `json:"interrupts,omitempty"`
}

// ThreadState is the persisted snapshot of a thread.
type ThreadState struct {
	ThreadID     string         `json:"thread_id"`
	CheckpointID string         `json:"checkpoint_id"`
	Step         int            `json:"step"`
	Values       map[string]any `json:"values"`
	Tasks        []Task         `json:"tasks,omitempty"`
	Next         []string       `json:"next,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Keys returns the value keys present in the snapshot in no particular order.
func (s *ThreadState) Keys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	return keys
}

// FinalReport returns the non-empty final_report string stored in fields.
func FinalReport(fields map[string]any) (string, bool) {
	report, ok := fields[KeyFinalReport].(string)
	if !ok || report == "" {
		return "", false
	}
	return report, true
}
