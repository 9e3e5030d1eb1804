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
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverOrder(t *testing.T) {
	ctx := context.Background()
	prompted := 0
	r := Resolver{
		Responses: map[string]string{"clarification_needed": " keep spaces "},
		Prompter: PrompterFunc(func(ctx context.Context, req *InterruptRequest) (string, error) {
			prompted++
			return " typed ", nil
		}),
	}

	answer, err := r.Resolve(ctx, NewInterruptRequest(map[string]any{"type": "clarification_needed"}))
	require.NoError(t, err)
	assert.Equal(t, " keep spaces ", answer)
	assert.Zero(t, prompted)

	answer, err = r.Resolve(ctx, NewInterruptRequest(map[string]any{"type": "plan_approval"}))
	require.NoError(t, err)
	assert.Equal(t, "typed", answer)
	assert.Equal(t, 1, prompted)

	_, err = r.Resolve(ctx, NewInterruptRequest(42))
	assert.True(t, IsUnresolvable(err))
	assert.Equal(t, 1, prompted)

	_, err = r.Resolve(ctx, nil)
	assert.Error(t, err)
}

func TestResolverWithoutPrompter(t *testing.T) {
	r := Resolver{}
	_, err := r.Resolve(context.Background(), NewInterruptRequest(map[string]any{"type": "x"}))
	var ui *UnresolvableInterrupt
	require.ErrorAs(t, err, &ui)
	assert.Equal(t, "x", ui.Type)
	assert.Contains(t, ui.Error(), `"x"`)
}

func TestResolverPrompterError(t *testing.T) {
	boom := errors.New("closed")
	r := Resolver{Prompter: PrompterFunc(func(context.Context, *InterruptRequest) (string, error) {
		return "", boom
	})}
	_, err := r.Resolve(context.Background(), NewInterruptRequest(map[string]any{"type": "x"}))
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsUnresolvable(err))
}

func TestConsolePrompter(t *testing.T) {
	var out bytes.Buffer
	p := NewConsolePrompter(strings.NewReader("GPUs only\nsecond\n"), &out)
	req := NewInterruptRequest(map[string]any{
		"type":         "clarification_needed",
		"question":     "Which hardware?",
		"verification": "This narrows the comparison.",
	})

	answer, err := p.Prompt(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "GPUs only", answer)
	text := out.String()
	assert.Contains(t, text, "INPUT REQUESTED (clarification_needed)")
	assert.Contains(t, text, "Which hardware?")
	assert.Contains(t, text, "This narrows the comparison.")
	assert.True(t, strings.HasSuffix(text, "Your response: "))

	answer, err = p.Prompt(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "second", answer)

	_, err = p.Prompt(context.Background(), req)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestConsolePrompterCanceled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	p := NewConsolePrompter(pr, io.Discard)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Prompt(ctx, NewInterruptRequest(map[string]any{}))
	assert.ErrorIs(t, err, context.Canceled)
}
