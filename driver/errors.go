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
	"errors"
	"fmt"
)

// Engine operations reported by EngineFailure.
const (
	OpStream   = "stream"
	OpGetState = "get_state"
	OpRun      = "run"
)

var (
	// ErrNoArtifact marks a completed run that produced no final report.
	ErrNoArtifact = errors.New("run completed without a final report")
	// ErrTooManyPasses is returned when an engine keeps interrupting past
	// the configured pass limit.
	ErrTooManyPasses = errors.New("too many engine passes")
	// ErrNilEngine is returned when a driver is built without an engine.
	ErrNilEngine = errors.New("engine is nil")
	// ErrThreadActive is returned when a host already drives the thread.
	ErrThreadActive = errors.New("thread already running")
	// ErrHostClosed is returned when work is submitted to a closed host.
	ErrHostClosed = errors.New("host is closed")
)

// EngineFailure wraps any error raised by the workflow engine. The original
// error stays reachable through errors.Is and errors.As.
type EngineFailure struct {
	Op  string
	Err error
}

func (e *EngineFailure) Error() string {
	return fmt.Sprintf("engine %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the engine error.
func (e *EngineFailure) Unwrap() error {
	return e.Err
}

// UnresolvableInterrupt reports an interrupt the driver cannot answer.
// Raw is the payload exactly as the engine surfaced it.
type UnresolvableInterrupt struct {
	Raw    any
	Type   string
	Reason string
}

func (e *UnresolvableInterrupt) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("unresolvable %q interrupt: %s (payload: %v)", e.Type, e.Reason, e.Raw)
	}
	return fmt.Sprintf("unresolvable interrupt: %s (payload: %v)", e.Reason, e.Raw)
}

// IsEngineFailure reports whether err carries an *EngineFailure.
func IsEngineFailure(err error) bool {
	var ef *EngineFailure
	return errors.As(err, &ef)
}

// IsUnresolvable reports whether err carries an *UnresolvableInterrupt.
func IsUnresolvable(err error) bool {
	var ui *UnresolvableInterrupt
	return errors.As(err, &ui)
}
