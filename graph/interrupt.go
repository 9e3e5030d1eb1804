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
	"errors"
	"fmt"
	"time"
)

// InterruptError represents an interrupt in graph execution that can be resumed.
type InterruptError struct {
	// Value is the value that was passed to Interrupt().
	Value any
	// Key identifies the Interrupt call inside the node.
	Key string
	// NodeID is the ID of the node where the interrupt occurred.
	NodeID string
	// TaskID is the ID of the task that was interrupted.
	TaskID string
	// Step is the step number when the interrupt occurred.
	Step int
	// Timestamp is when the interrupt occurred.
	Timestamp time.Time
}

// Error returns the error message for the interrupt.
func (g *InterruptError) Error() string {
	return fmt.Sprintf("graph interrupted at node %s (step %d): %v", g.NodeID, g.Step, g.Value)
}

// NewInterruptError creates a new InterruptError with the given value.
func NewInterruptError(value any) *InterruptError {
	return &InterruptError{
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

// IsInterruptError checks if an error is or wraps an InterruptError.
func IsInterruptError(err error) bool {
	_, ok := GetInterruptError(err)
	return ok
}

// GetInterruptError extracts InterruptError from an error chain.
func GetInterruptError(err error) (*InterruptError, bool) {
	var interrupt *InterruptError
	if errors.As(err, &interrupt) {
		return interrupt, true
	}
	return nil, false
}

// Interrupt pauses execution at the current node and surfaces prompt to the
// caller. When the node is re-executed after a resume command, Interrupt
// returns the resume value instead. Each key consumes at most one resume
// value per node execution; later calls with the same key return it again.
func Interrupt(ctx context.Context, state State, key string, prompt any) (any, error) {
	usedMap, _ := state[StateKeyUsedInterrupts].(map[string]any)
	if usedMap == nil {
		usedMap = make(map[string]any)
		state[StateKeyUsedInterrupts] = usedMap
	}

	if usedValue, exists := usedMap[key]; exists {
		return usedValue, nil
	}

	if resumeValue, exists := state[ResumeChannel]; exists {
		usedMap[key] = resumeValue
		// Clear the resume value to avoid reusing it for other keys.
		delete(state, ResumeChannel)
		return resumeValue, nil
	}

	ie := NewInterruptError(prompt)
	ie.Key = key
	if nodeID, ok := state[StateKeyCurrentNodeID].(string); ok {
		ie.NodeID = nodeID
	}
	return nil, ie
}

// InterruptString is Interrupt for prompts answered with text.
func InterruptString(ctx context.Context, state State, key string, prompt any) (string, error) {
	v, err := Interrupt(ctx, state, key, prompt)
	if err != nil {
		return "", err
	}
	switch answer := v.(type) {
	case string:
		return answer, nil
	case nil:
		return "", nil
	default:
		return fmt.Sprint(answer), nil
	}
}

// HasResumeValue reports whether a resume value is waiting to be consumed.
func HasResumeValue(state State) bool {
	_, exists := state[ResumeChannel]
	return exists
}
