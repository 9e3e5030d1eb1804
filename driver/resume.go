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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"trpc.group/trpc-go/deepresearch-go/log"
)

// Prompter obtains an answer for an interrupt from outside the process.
// Prompt blocks until an answer arrives or ctx is done.
type Prompter interface {
	Prompt(ctx context.Context, req *InterruptRequest) (string, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, req *InterruptRequest) (string, error)

// Prompt calls f.
func (f PrompterFunc) Prompt(ctx context.Context, req *InterruptRequest) (string, error) {
	return f(ctx, req)
}

// Resolver turns an interrupt into the text of a resume command.
//
// Automated answers in Responses win over the Prompter so headless runs
// never block. Without a matching response and without a Prompter the
// interrupt is unresolvable.
type Resolver struct {
	// Responses maps interrupt types to automated answers.
	Responses map[string]string
	// Prompter answers interrupts that have no automated response.
	Prompter Prompter
	// PromptTimeout bounds a single Prompt call. Zero waits forever.
	PromptTimeout time.Duration
}

// Resolve returns the answer for req.
func (r *Resolver) Resolve(ctx context.Context, req *InterruptRequest) (string, error) {
	if req == nil {
		return "", errors.New("nil interrupt request")
	}
	if req.Malformed() {
		return "", &UnresolvableInterrupt{Raw: req.Raw, Reason: "interrupt payload is not a map"}
	}
	typ := req.Type()
	if answer, ok := r.Responses[typ]; ok {
		log.Debugf("driver: automated answer for %q interrupt", typ)
		return answer, nil
	}
	if r.Prompter == nil {
		return "", &UnresolvableInterrupt{
			Raw:    req.Raw,
			Type:   typ,
			Reason: "no automated response configured and no prompter available",
		}
	}
	if r.PromptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.PromptTimeout)
		defer cancel()
	}
	answer, err := r.Prompter.Prompt(ctx, req)
	if err != nil {
		return "", fmt.Errorf("prompt for %q interrupt: %w", typ, err)
	}
	return strings.TrimSpace(answer), nil
}

// ConsolePrompter asks on a writer and reads one line per answer.
type ConsolePrompter struct {
	in  io.Reader
	out io.Writer

	once  sync.Once
	lines chan string
	err   error
}

// NewConsolePrompter creates a prompter reading from in and writing to out.
func NewConsolePrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	return &ConsolePrompter{in: in, out: out}
}

// Prompt writes the question and waits for the next input line.
func (p *ConsolePrompter) Prompt(ctx context.Context, req *InterruptRequest) (string, error) {
	p.once.Do(p.start)

	fmt.Fprintf(p.out, "\n%s\n", strings.Repeat("=", 60))
	fmt.Fprintf(p.out, "INPUT REQUESTED (%s)\n", req.Type())
	fmt.Fprintf(p.out, "%s\n", strings.Repeat("=", 60))
	if q := req.Question(); q != "" {
		fmt.Fprintf(p.out, "%s\n", q)
	}
	if v := req.Verification(); v != "" {
		fmt.Fprintf(p.out, "\n%s\n", v)
	}
	fmt.Fprint(p.out, "\nYour response: ")

	select {
	case <-ctx.Done():
		fmt.Fprintln(p.out)
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			if p.err != nil {
				return "", p.err
			}
			return "", io.ErrUnexpectedEOF
		}
		return line, nil
	}
}

// start reads lines in the background so an abandoned prompt never loses
// the line typed for the next one.
func (p *ConsolePrompter) start() {
	p.lines = make(chan string)
	go func() {
		defer close(p.lines)
		scanner := bufio.NewScanner(p.in)
		for scanner.Scan() {
			p.lines <- scanner.Text()
		}
		p.err = scanner.Err()
	}()
}
