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
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"trpc.group/trpc-go/deepresearch-go/model"
)

const (
	// StateKeyMessages is the key of the messages.
	StateKeyMessages = "messages"
	// StateKeyCurrentNodeID is the key for storing the current node ID in the state.
	StateKeyCurrentNodeID = "__current_node_id__"
	// StateKeyUsedInterrupts records the resume values already consumed by
	// Interrupt calls in the node being executed.
	StateKeyUsedInterrupts = "__used_interrupts__"
	// ResumeChannel carries the value of a resume command into the
	// interrupted node.
	ResumeChannel = "__resume__"
)

func isInternalStateKey(key string) bool {
	switch key {
	case StateKeyCurrentNodeID, StateKeyUsedInterrupts, ResumeChannel:
		return true
	default:
		return false
	}
}

// State represents the state that flows through the graph.
// This is the shared data structure that flows between nodes.
type State map[string]any

// Clone creates a shallow copy of the state.
func (s State) Clone() State {
	clone := make(State, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// withoutInternal returns a copy of s with executor wiring keys removed.
func (s State) withoutInternal() State {
	out := make(State, len(s))
	for k, v := range s {
		if isInternalStateKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// StateReducer is a function that determines how state updates are merged.
// It takes existing and new values and returns the merged result.
type StateReducer func(existing, update any) any

// StateField defines a field in the state schema with its type and reducer.
type StateField struct {
	Type     reflect.Type
	Reducer  StateReducer
	Default  func() any
	Required bool
}

// StateSchema defines the structure and behavior of graph state.
type StateSchema struct {
	mu     sync.RWMutex
	Fields map[string]StateField
}

// NewStateSchema creates a new state schema.
func NewStateSchema() *StateSchema {
	return &StateSchema{
		Fields: make(map[string]StateField),
	}
}

// AddField adds a field to the state schema.
func (s *StateSchema) AddField(name string, field StateField) *StateSchema {
	s.mu.Lock()
	defer s.mu.Unlock()

	if field.Reducer == nil {
		field.Reducer = DefaultReducer
	}

	s.Fields[name] = field
	return s
}

// ApplyUpdate applies a state update using the defined reducers.
func (s *StateSchema) ApplyUpdate(currentState State, update State) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := currentState.Clone()
	for key, updateValue := range update {
		field, exists := s.Fields[key]
		if !exists {
			// If no field definition, use default behavior (override).
			result[key] = updateValue
			continue
		}
		currentValue, hasCurrentValue := result[key]
		if !hasCurrentValue && field.Default != nil {
			currentValue = field.Default()
		}
		// Apply reducer.
		result[key] = field.Reducer(currentValue, updateValue)
	}
	return result
}

// Validate validates a state against the schema.
func (s *StateSchema) Validate(state State) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name, field := range s.Fields {
		value, exists := state[name]

		if field.Required && !exists {
			return fmt.Errorf("required field %s is missing", name)
		}

		if exists && value != nil && field.Type != nil {
			valueType := reflect.TypeOf(value)
			if !valueType.AssignableTo(field.Type) {
				return fmt.Errorf("field %s has wrong type: expected %v, got %v",
					name, field.Type, valueType)
			}
		}
	}
	return nil
}

// Restore converts values decoded from a checkpoint back into the Go types
// declared by the schema. Fields without a declared type are kept as is.
func (s *StateSchema) Restore(values map[string]any) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := make(State, len(values))
	for key, value := range values {
		field, ok := s.Fields[key]
		if !ok || field.Type == nil || value == nil ||
			reflect.TypeOf(value).AssignableTo(field.Type) {
			state[key] = value
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("restore field %s: %w", key, err)
		}
		target := reflect.New(field.Type)
		if err := json.Unmarshal(raw, target.Interface()); err != nil {
			return nil, fmt.Errorf("restore field %s as %v: %w", key, field.Type, err)
		}
		state[key] = target.Elem().Interface()
	}
	return state, nil
}

// DefaultReducer overwrites the existing value with the update.
func DefaultReducer(existing, update any) any {
	return update
}

// SliceReducer returns a reducer appending []T updates to a []T value. The
// result never aliases the existing slice, so checkpointed values stay
// untouched. Values of another type replace the existing value.
func SliceReducer[T any]() StateReducer {
	return func(existing, update any) any {
		add, ok := update.([]T)
		if !ok {
			return update
		}
		var cur []T
		if existing != nil {
			if cur, ok = existing.([]T); !ok {
				return update
			}
		}
		out := make([]T, 0, len(cur)+len(add))
		out = append(out, cur...)
		return append(out, add...)
	}
}

// StringSliceReducer appends string slices.
var StringSliceReducer = SliceReducer[string]()

// MessageReducer appends message slices.
var MessageReducer = SliceReducer[model.Message]()

// MessagesStateSchema returns a schema with a messages field using
// MessageReducer, the common starting point for conversational graphs.
func MessagesStateSchema() *StateSchema {
	return NewStateSchema().AddField(StateKeyMessages, StateField{
		Type:    reflect.TypeOf([]model.Message{}),
		Reducer: MessageReducer,
		Default: func() any { return []model.Message{} },
	})
}
