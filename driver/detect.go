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

	"trpc.group/trpc-go/deepresearch-go/engine"
	"trpc.group/trpc-go/deepresearch-go/log"
)

// UnknownInterruptType is the type of interrupts that do not name one.
const UnknownInterruptType = "unknown"

// InterruptRequest is a pending pause request. Its shape is decided once
// when it is detected: a map payload is well-formed and exposes Fields,
// anything else is malformed and only Raw is set.
type InterruptRequest struct {
	// TaskID and NodeID locate the paused task.
	TaskID string
	NodeID string
	// Fields is the payload of a well-formed request, nil when malformed.
	Fields map[string]any
	// Raw is the payload exactly as the engine reported it.
	Raw any
}

// NewInterruptRequest classifies value.
func NewInterruptRequest(value any) *InterruptRequest {
	req := &InterruptRequest{Raw: value}
	switch v := value.(type) {
	case map[string]any:
		req.Fields = copyFields(v)
		if req.Fields == nil {
			req.Fields = map[string]any{}
		}
	case map[string]string:
		req.Fields = make(map[string]any, len(v))
		for k, s := range v {
			req.Fields[k] = s
		}
	}
	return req
}

// Malformed reports whether the payload was not a map.
func (r *InterruptRequest) Malformed() bool {
	return r.Fields == nil
}

// Type returns the interrupt type, UnknownInterruptType when absent.
func (r *InterruptRequest) Type() string {
	if t := r.field(engine.InterruptKeyType); t != "" {
		return t
	}
	return UnknownInterruptType
}

// Question returns the text to show the person answering.
func (r *InterruptRequest) Question() string {
	return r.field(engine.InterruptKeyQuestion)
}

// Verification returns supplementary context for the question.
func (r *InterruptRequest) Verification() string {
	return r.field(engine.InterruptKeyVerification)
}

func (r *InterruptRequest) field(key string) string {
	if r.Fields == nil {
		return ""
	}
	switch v := r.Fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Detect returns the first pending interrupt of the thread, or nil.
// An unknown thread has nothing pending.
func Detect(ctx context.Context, eng engine.Engine, threadID string) (*InterruptRequest, error) {
	st, err := eng.GetState(ctx, threadID)
	if err != nil {
		return nil, &EngineFailure{Op: OpGetState, Err: err}
	}
	if st == nil {
		return nil, nil
	}
	var found *InterruptRequest
	pending := 0
	for _, task := range st.Tasks {
		if len(task.Interrupts) == 0 {
			continue
		}
		pending += len(task.Interrupts)
		if found == nil {
			found = NewInterruptRequest(task.Interrupts[0].Value)
			found.TaskID = task.ID
			found.NodeID = task.Interrupts[0].NodeID
			if found.NodeID == "" {
				found.NodeID = task.Name
			}
		}
	}
	if pending > 1 {
		log.Warnf("driver: thread %s has %d pending interrupts, only the first is answered this pass",
			threadID, pending)
	}
	return found, nil
}
