//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package driver drives a checkpointed workflow engine through interrupts
// until it produces a final report.
//
// One pass streams the engine, then the thread state is inspected for a
// pending interrupt. An interrupt is answered from the automated responses
// or a Prompter and fed back as a resume command. The loop ends when a pass
// streams a final report, when nothing is pending any more, or on the
// first error.
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"

	"trpc.group/trpc-go/deepresearch-go/engine"
	itelemetry "trpc.group/trpc-go/deepresearch-go/internal/telemetry"
	"trpc.group/trpc-go/deepresearch-go/log"
	"trpc.group/trpc-go/deepresearch-go/model"
	"trpc.group/trpc-go/deepresearch-go/telemetry/metric"
	"trpc.group/trpc-go/deepresearch-go/telemetry/trace"
)

// DefaultMaxPasses bounds the number of engine passes of one run.
const DefaultMaxPasses = 64

// Status is the state of a run.
type Status string

// Run states.
const (
	StatusRunning       Status = "RUNNING"
	StatusAwaitingInput Status = "AWAITING_INPUT"
	StatusCompleted     Status = "COMPLETED"
	StatusFailed        Status = "FAILED"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TransitionFunc observes state changes of a run.
type TransitionFunc func(threadID string, from, to Status)

// Outcome describes a finished run.
type Outcome struct {
	ThreadID string
	Status   Status
	// Result is nil when the run completed without an artifact.
	Result *RunResult
	// Passes counts the engine passes, including the first.
	Passes int
	// Interrupts lists every interrupt answered or rejected, in order.
	Interrupts []*InterruptRequest
	// Trace lists the stages of every pass in order.
	Trace []string
	// StateKeys lists the persisted keys when no artifact was found.
	StateKeys []string

	err error
}

// Err returns the failure of a failed run, ErrNoArtifact for a run that
// completed without a report, and nil otherwise.
func (o *Outcome) Err() error {
	if o.err != nil {
		return o.err
	}
	if o.Status == StatusCompleted && o.Result == nil {
		return ErrNoArtifact
	}
	return nil
}

// Option configures a Runner.
type Option func(*options)

type options struct {
	responses      map[string]string
	prompter       Prompter
	promptTimeout  time.Duration
	recursionLimit int
	maxPasses      int
	observers      []Observer
	onTransition   TransitionFunc
}

// WithResponses sets the automated answers keyed by interrupt type.
func WithResponses(responses map[string]string) Option {
	return func(o *options) {
		o.responses = make(map[string]string, len(responses))
		for k, v := range responses {
			o.responses[k] = v
		}
	}
}

// WithPrompter sets the fallback used when no automated answer matches.
func WithPrompter(p Prompter) Option {
	return func(o *options) {
		o.prompter = p
	}
}

// WithPromptTimeout bounds every interactive prompt. Zero disables it.
func WithPromptTimeout(d time.Duration) Option {
	return func(o *options) {
		o.promptTimeout = d
	}
}

// WithRecursionLimit sets the per-pass step cap handed to the engine.
func WithRecursionLimit(n int) Option {
	return func(o *options) {
		o.recursionLimit = n
	}
}

// WithMaxPasses sets how many passes a run may take.
func WithMaxPasses(n int) Option {
	return func(o *options) {
		o.maxPasses = n
	}
}

// WithObserver adds an observer for every stage output.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// WithTransitionHook sets a hook called on every status change.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(o *options) {
		o.onTransition = fn
	}
}

// CallOption adjusts a single Run call.
type CallOption func(*callOptions)

type callOptions struct {
	prompter     Prompter
	observers    []Observer
	onTransition TransitionFunc
}

// WithCallPrompter overrides the prompter for one run.
func WithCallPrompter(p Prompter) CallOption {
	return func(o *callOptions) {
		o.prompter = p
	}
}

// WithCallObserver adds an observer for one run.
func WithCallObserver(obs Observer) CallOption {
	return func(o *callOptions) {
		o.observers = append(o.observers, obs)
	}
}

// WithCallTransitionHook adds a transition hook for one run. It is called
// after the runner-wide hook.
func WithCallTransitionHook(fn TransitionFunc) CallOption {
	return func(o *callOptions) {
		o.onTransition = fn
	}
}

// Runner drives runs against one engine. It keeps no per-run state, so a
// single Runner can serve many threads concurrently.
type Runner struct {
	eng  engine.Engine
	opts options

	runs       otelmetric.Int64Counter
	passes     otelmetric.Int64Counter
	interrupts otelmetric.Int64Counter
}

// New creates a Runner for eng.
func New(eng engine.Engine, opts ...Option) (*Runner, error) {
	if eng == nil {
		return nil, ErrNilEngine
	}
	o := options{
		recursionLimit: engine.DefaultRecursionLimit,
		maxPasses:      DefaultMaxPasses,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.recursionLimit <= 0 {
		return nil, engine.ErrInvalidRecursionLimit
	}
	if o.maxPasses <= 0 {
		return nil, fmt.Errorf("max passes must be positive, got %d", o.maxPasses)
	}
	r := &Runner{eng: eng, opts: o}
	if err := r.initMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) initMetrics() error {
	var err error
	r.runs, err = metric.Meter.Int64Counter(
		"deepresearch.driver.runs",
		otelmetric.WithDescription("Number of finished runs by final status"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runs counter: %w", err)
	}
	r.passes, err = metric.Meter.Int64Counter(
		"deepresearch.driver.passes",
		otelmetric.WithDescription("Number of engine passes"),
	)
	if err != nil {
		return fmt.Errorf("failed to create passes counter: %w", err)
	}
	r.interrupts, err = metric.Meter.Int64Counter(
		"deepresearch.driver.interrupts",
		otelmetric.WithDescription("Number of interrupts detected, by type"),
	)
	if err != nil {
		return fmt.Errorf("failed to create interrupts counter: %w", err)
	}
	return nil
}

// NewQueryInput wraps query as the first user message of a run.
func NewQueryInput(query string) engine.Input {
	return engine.NewInput(map[string]any{
		engine.KeyMessages: []model.Message{model.NewUserMessage(query)},
	})
}

// Run drives a new turn for query on threadID.
func (r *Runner) Run(ctx context.Context, query, threadID string, opts ...CallOption) (*Outcome, error) {
	return r.RunInput(ctx, NewQueryInput(query), threadID, opts...)
}

// RunInput drives the thread starting from in until it completes or fails.
// A failed run returns its Outcome together with the error.
func (r *Runner) RunInput(
	ctx context.Context,
	in engine.Input,
	threadID string,
	opts ...CallOption,
) (*Outcome, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	x := &run{
		Runner:   r,
		call:     co,
		outcome:  &Outcome{ThreadID: threadID, Status: StatusRunning},
		cfg:      engine.Config{ThreadID: threadID, RecursionLimit: r.opts.recursionLimit},
		resolver: Resolver{Responses: r.opts.responses, Prompter: r.opts.prompter, PromptTimeout: r.opts.promptTimeout},
	}
	if co.prompter != nil {
		x.resolver.Prompter = co.prompter
	}
	x.observers = append(append([]Observer(nil), r.opts.observers...), co.observers...)

	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameRun)
	defer span.End()
	span.SetAttributes(attribute.String(itelemetry.KeyThreadID, threadID))

	if err := x.cfg.Validate(); err != nil {
		return x.fail(err)
	}
	out, err := x.loop(ctx, in)
	span.SetAttributes(
		attribute.String(itelemetry.KeyStatus, string(out.Status)),
		attribute.Int(itelemetry.KeyPass, out.Passes),
	)
	if out.Result != nil {
		span.SetAttributes(attribute.String(itelemetry.KeyResultSource, string(out.Result.Source)))
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	r.runs.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("status", string(out.Status))))
	return out, err
}

// run is the state of one RunInput call.
type run struct {
	*Runner
	call      callOptions
	outcome   *Outcome
	cfg       engine.Config
	resolver  Resolver
	observers []Observer
}

func (x *run) loop(ctx context.Context, in engine.Input) (*Outcome, error) {
	out := x.outcome
	for {
		if out.Passes >= x.opts.maxPasses {
			return x.fail(fmt.Errorf("%w: %d passes on thread %s", ErrTooManyPasses, out.Passes, out.ThreadID))
		}
		out.Passes++
		x.passes.Add(ctx, 1)
		log.Debugf("driver: thread %s pass %d (resume=%t)", out.ThreadID, out.Passes, in.IsResume())

		sr, err := StreamRun(ctx, x.eng, in, x.cfg, x.observers...)
		if sr != nil {
			out.Trace = append(out.Trace, sr.Stages...)
		}
		if err != nil {
			return x.fail(err)
		}
		if sr.Completed != nil {
			res, _, err := extract(ctx, sr, x.eng, out.ThreadID)
			if err != nil {
				return x.fail(err)
			}
			out.Result = res
			x.transition(StatusCompleted)
			return out, nil
		}

		req, err := Detect(ctx, x.eng, out.ThreadID)
		if err != nil {
			return x.fail(err)
		}
		if req == nil {
			return x.finishFromState(ctx, sr)
		}

		out.Interrupts = append(out.Interrupts, req)
		x.interrupts.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String(itelemetry.KeyInterruptType, req.Type())))
		log.Infof("driver: thread %s interrupted at %s (%s)", out.ThreadID, req.NodeID, req.Type())
		x.transition(StatusAwaitingInput)

		answer, err := x.resolver.Resolve(ctx, req)
		if err != nil {
			return x.fail(err)
		}
		in = engine.ResumeWith(answer)
		x.transition(StatusRunning)
	}
}

// finishFromState completes a run whose last pass streamed no report and
// left nothing pending.
func (x *run) finishFromState(ctx context.Context, sr *StreamResult) (*Outcome, error) {
	out := x.outcome
	res, st, err := extract(ctx, sr, x.eng, out.ThreadID)
	if err != nil {
		return x.fail(err)
	}
	out.Result = res
	if res == nil && st != nil {
		out.StateKeys = sortedKeys(st)
	}
	if res == nil {
		log.Warnf("driver: thread %s completed without a final report (keys: %v)", out.ThreadID, out.StateKeys)
	}
	x.transition(StatusCompleted)
	return out, nil
}

func (x *run) fail(err error) (*Outcome, error) {
	out := x.outcome
	out.err = err
	if errors.Is(err, context.Canceled) {
		log.Infof("driver: thread %s canceled", out.ThreadID)
	} else {
		log.Errorf("driver: thread %s failed: %v", out.ThreadID, err)
	}
	x.transition(StatusFailed)
	return out, err
}

func (x *run) transition(to Status) {
	from := x.outcome.Status
	if from == to {
		return
	}
	x.outcome.Status = to
	log.Debugf("driver: thread %s %s -> %s", x.outcome.ThreadID, from, to)
	if x.opts.onTransition != nil {
		x.opts.onTransition(x.outcome.ThreadID, from, to)
	}
	if x.call.onTransition != nil {
		x.call.onTransition(x.outcome.ThreadID, from, to)
	}
}
