//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"context"
	"errors"
	"sync"

	"trpc.group/trpc-go/deepresearch-go/driver"
)

// ErrNoPendingInput is returned when an answer arrives for a thread that is
// not waiting for one.
var ErrNoPendingInput = errors.New("thread is not awaiting input")

type pendingInput struct {
	req    *driver.InterruptRequest
	answer chan string
}

// answerBox parks interrupt requests until an HTTP client answers them.
type answerBox struct {
	mu      sync.Mutex
	pending map[string]*pendingInput
}

func newAnswerBox() *answerBox {
	return &answerBox{pending: make(map[string]*pendingInput)}
}

// prompter returns the Prompter used for threadID.
func (b *answerBox) prompter(threadID string) driver.Prompter {
	return driver.PrompterFunc(func(ctx context.Context, req *driver.InterruptRequest) (string, error) {
		p := &pendingInput{req: req, answer: make(chan string, 1)}
		b.mu.Lock()
		b.pending[threadID] = p
		b.mu.Unlock()
		defer func() {
			b.mu.Lock()
			if b.pending[threadID] == p {
				delete(b.pending, threadID)
			}
			b.mu.Unlock()
		}()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case a := <-p.answer:
			return a, nil
		}
	})
}

func (b *answerBox) answer(threadID, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[threadID]
	if !ok {
		return ErrNoPendingInput
	}
	delete(b.pending, threadID)
	p.answer <- text
	return nil
}

func (b *answerBox) get(threadID string) (*driver.InterruptRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[threadID]
	if !ok {
		return nil, false
	}
	return p.req, true
}
