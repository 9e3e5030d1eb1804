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
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"trpc.group/trpc-go/deepresearch-go/engine"
	"trpc.group/trpc-go/deepresearch-go/log"
	"trpc.group/trpc-go/deepresearch-go/telemetry/trace"
)

var _ engine.Engine = (*Executor)(nil)

// Executor executes a compiled graph against a checkpoint saver. It
// implements engine.Engine.
type Executor struct {
	graph             *Graph
	saver             CheckpointSaver
	channelBufferSize int

	mu   sync.Mutex
	busy map[string]bool
}

// ExecutorOption is a function that configures an Executor.
type ExecutorOption func(*ExecutorOptions)

// ExecutorOptions contains configuration options for creating an Executor.
type ExecutorOptions struct {
	// ChannelBufferSize is the buffer size for stage output channels (default: 256).
	ChannelBufferSize int
	// CheckpointSaver persists thread state between passes.
	CheckpointSaver CheckpointSaver
}

// WithChannelBufferSize sets the buffer size for stage output channels.
func WithChannelBufferSize(size int) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.ChannelBufferSize = size
	}
}

// WithCheckpointSaver sets the checkpoint saver.
func WithCheckpointSaver(saver CheckpointSaver) ExecutorOption {
	return func(opts *ExecutorOptions) {
		opts.CheckpointSaver = saver
	}
}

// NewExecutor creates a new graph executor.
func NewExecutor(graph *Graph, opts ...ExecutorOption) (*Executor, error) {
	if graph == nil {
		return nil, errors.New("graph is nil")
	}
	if err := graph.validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	options := ExecutorOptions{ChannelBufferSize: 256}
	for _, opt := range opts {
		opt(&options)
	}
	if options.CheckpointSaver == nil {
		return nil, ErrSaverRequired
	}
	return &Executor{
		graph:             graph,
		saver:             options.CheckpointSaver,
		channelBufferSize: options.ChannelBufferSize,
		busy:              make(map[string]bool),
	}, nil
}

// Graph returns the graph driven by the executor.
func (e *Executor) Graph() *Graph {
	return e.graph
}

// pass carries the mutable data of one engine pass.
type pass struct {
	threadID    string
	limit       int
	state       State
	current     string
	step        int
	parentID    string
	resume      any
	hasResume   bool
	used        map[string]any
	outputs     chan<- *engine.StageOutput
	interrupted bool
}

// Stream implements engine.Engine.
func (e *Executor) Stream(
	ctx context.Context,
	in engine.Input,
	cfg engine.Config,
) (<-chan *engine.StageOutput, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !e.acquire(cfg.ThreadID) {
		return nil, fmt.Errorf("thread %s: %w", cfg.ThreadID, ErrThreadBusy)
	}
	p, err := e.preparePass(ctx, in, cfg)
	if err != nil {
		e.release(cfg.ThreadID)
		return nil, err
	}
	outputs := make(chan *engine.StageOutput, e.channelBufferSize)
	p.outputs = outputs
	go func() {
		defer close(outputs)
		defer e.release(cfg.ThreadID)
		if err := e.runPass(ctx, p); err != nil {
			log.Debugf("graph: thread %s pass failed: %v", p.threadID, err)
			select {
			case outputs <- &engine.StageOutput{Stage: p.current, Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return outputs, nil
}

// Run implements engine.Engine. It drains one pass and returns the
// persisted values. An interrupted pass returns the values together with
// the pending *InterruptError.
func (e *Executor) Run(ctx context.Context, in engine.Input, cfg engine.Config) (map[string]any, error) {
	outputs, err := e.Stream(ctx, in, cfg)
	if err != nil {
		return nil, err
	}
	var passErr error
	for out := range outputs {
		if out.Err != nil {
			passErr = out.Err
		}
	}
	if passErr != nil {
		return nil, passErr
	}
	tuple, err := e.saver.Latest(ctx, cfg.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	if tuple == nil {
		return nil, ErrCheckpointNotFound
	}
	values, err := e.restore(tuple.Checkpoint.Values)
	if err != nil {
		return nil, err
	}
	if is := tuple.Checkpoint.InterruptState; is != nil {
		return values, &InterruptError{
			Value:  is.InterruptValue,
			NodeID: is.NodeID,
			TaskID: is.TaskID,
			Step:   is.Step,
		}
	}
	return values, nil
}

// GetState implements engine.Engine.
func (e *Executor) GetState(ctx context.Context, threadID string) (*engine.ThreadState, error) {
	if threadID == "" {
		return nil, ErrThreadIDRequired
	}
	tuple, err := e.saver.Latest(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	if tuple == nil {
		return nil, nil
	}
	return e.threadState(threadID, tuple)
}

// History returns up to limit snapshots of the thread, newest first.
func (e *Executor) History(ctx context.Context, threadID string, limit int) ([]*engine.ThreadState, error) {
	tuples, err := e.saver.List(ctx, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	states := make([]*engine.ThreadState, 0, len(tuples))
	for _, t := range tuples {
		st, err := e.threadState(threadID, t)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, nil
}

// DeleteThread removes all persisted state of the thread.
func (e *Executor) DeleteThread(ctx context.Context, threadID string) error {
	return e.saver.DeleteThread(ctx, threadID)
}

func (e *Executor) threadState(threadID string, tuple *CheckpointTuple) (*engine.ThreadState, error) {
	ckpt := tuple.Checkpoint
	values, err := e.restore(ckpt.Values)
	if err != nil {
		return nil, err
	}
	st := &engine.ThreadState{
		ThreadID:     threadID,
		CheckpointID: ckpt.ID,
		Values:       values,
		Next:         append([]string(nil), ckpt.NextNodes...),
		UpdatedAt:    ckpt.Timestamp,
	}
	if tuple.Metadata != nil {
		st.Step = tuple.Metadata.Step
	}
	if is := ckpt.InterruptState; is != nil {
		st.Tasks = []engine.Task{{
			ID:   is.TaskID,
			Name: is.NodeID,
			Interrupts: []engine.Interrupt{{
				Value:  is.InterruptValue,
				NodeID: is.NodeID,
			}},
		}}
		return st, nil
	}
	for _, next := range ckpt.NextNodes {
		st.Tasks = append(st.Tasks, engine.Task{ID: ckpt.ID + ":" + next, Name: next})
	}
	return st, nil
}

func (e *Executor) restore(values map[string]any) (State, error) {
	state, err := e.graph.Schema().Restore(values)
	if err != nil {
		return nil, fmt.Errorf("restore checkpoint values: %w", err)
	}
	return state, nil
}

// preparePass loads the thread and decides where the pass starts.
func (e *Executor) preparePass(ctx context.Context, in engine.Input, cfg engine.Config) (*pass, error) {
	tuple, err := e.saver.Latest(ctx, cfg.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	p := &pass{threadID: cfg.ThreadID, limit: cfg.RecursionLimit}

	if in.IsResume() {
		if tuple == nil || !tuple.Checkpoint.IsInterrupted() {
			return nil, fmt.Errorf("thread %s: %w", cfg.ThreadID, engine.ErrResumeWithoutInterrupt)
		}
		if p.state, err = e.restore(tuple.Checkpoint.Values); err != nil {
			return nil, err
		}
		is := tuple.Checkpoint.InterruptState
		p.current = is.NodeID
		p.step = is.Step
		p.parentID = tuple.Checkpoint.ID
		p.resume = in.Resume.Value
		p.hasResume = true
		p.used = copyMap(is.UsedInterrupts)
		log.Debugf("graph: thread %s resuming node %s", cfg.ThreadID, p.current)
		return p, nil
	}

	p.state = make(State)
	if tuple != nil {
		if tuple.Checkpoint.IsInterrupted() {
			log.Warnf("graph: thread %s received fresh input while node %s waits for a resume; the pending task is dropped",
				cfg.ThreadID, tuple.Checkpoint.InterruptState.NodeID)
		}
		if p.state, err = e.restore(tuple.Checkpoint.Values); err != nil {
			return nil, err
		}
		p.parentID = tuple.Checkpoint.ID
		if tuple.Metadata != nil {
			p.step = tuple.Metadata.Step + 1
		}
	}
	schema := e.graph.Schema()
	p.state = schema.ApplyUpdate(p.state, State(in.Values).withoutInternal())
	if err := schema.Validate(p.state); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	p.current = e.graph.EntryPoint()

	ckpt := NewCheckpoint(map[string]any(p.state), []string{p.current})
	ckpt.ParentCheckpointID = p.parentID
	if err := e.saver.Put(ctx, cfg.ThreadID, ckpt, NewCheckpointMetadata(SourceInput, p.step-1)); err != nil {
		return nil, fmt.Errorf("save input checkpoint: %w", err)
	}
	p.parentID = ckpt.ID
	return p, nil
}

// runPass executes nodes until End, an interrupt, or an error.
func (e *Executor) runPass(ctx context.Context, p *pass) error {
	ctx, span := trace.Tracer.Start(ctx, "graph.execute_pass")
	defer span.End()
	span.SetAttributes(attribute.String("deepresearch.thread_id", p.threadID))

	var executed int
	for p.current != End {
		if err := ctx.Err(); err != nil {
			return err
		}
		executed++
		if executed > p.limit {
			err := fmt.Errorf("%w (limit %d)", ErrRecursionLimit, p.limit)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		next, err := e.executeNode(ctx, p)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if p.interrupted {
			span.SetAttributes(attribute.Bool("deepresearch.interrupted", true))
			return nil
		}
		p.current = next
	}
	return nil
}

// executeNode runs p.current and returns the next node ID.
func (e *Executor) executeNode(ctx context.Context, p *pass) (string, error) {
	node, exists := e.graph.Node(p.current)
	if !exists {
		return "", fmt.Errorf("node %s not found", p.current)
	}
	ctx, span := trace.Tracer.Start(ctx, "graph.execute_node "+node.ID)
	defer span.End()
	span.SetAttributes(
		attribute.String("deepresearch.node_id", node.ID),
		attribute.String("deepresearch.node_type", node.Type.String()),
		attribute.Int("deepresearch.step", p.step),
	)

	execState := p.state.Clone()
	execState[StateKeyCurrentNodeID] = node.ID
	execState[StateKeyUsedInterrupts] = copyMap(p.used)
	if p.hasResume {
		execState[ResumeChannel] = p.resume
	}

	var result any
	var err error
	if node.Function != nil {
		result, err = node.Function(ctx, execState)
	}
	if ie, ok := GetInterruptError(err); ok {
		return "", e.suspend(ctx, p, node.ID, execState, ie)
	}
	if err != nil {
		return "", fmt.Errorf("error executing node %s: %w", node.ID, err)
	}

	update, goTo, err := nodeResult(result)
	if err != nil {
		return "", fmt.Errorf("node %s: %w", node.ID, err)
	}
	update = update.withoutInternal()
	p.state = e.graph.Schema().ApplyUpdate(p.state, update)
	p.hasResume, p.resume, p.used = false, nil, nil

	next := goTo
	if next == "" {
		if next, err = e.graph.nextNode(ctx, p.state, node.ID); err != nil {
			return "", fmt.Errorf("route from node %s: %w", node.ID, err)
		}
	}
	span.SetAttributes(attribute.String("deepresearch.next_node", next))

	var nextNodes []string
	if next != End {
		nextNodes = []string{next}
	}
	ckpt := NewCheckpoint(map[string]any(p.state), nextNodes)
	ckpt.ParentCheckpointID = p.parentID
	meta := NewCheckpointMetadata(SourceLoop, p.step)
	meta.Node = node.ID
	if err := e.saver.Put(ctx, p.threadID, ckpt, meta); err != nil {
		return "", fmt.Errorf("save checkpoint after node %s: %w", node.ID, err)
	}
	log.Debugf("graph: thread %s step %d node %s -> %s (checkpoint %s)",
		p.threadID, p.step, node.ID, next, ckpt.ID)
	p.parentID = ckpt.ID
	p.step++

	out := &engine.StageOutput{Stage: node.ID, Fields: map[string]any(update.Clone())}
	select {
	case p.outputs <- out:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return next, nil
}

// suspend persists the pending interrupt and ends the pass.
func (e *Executor) suspend(ctx context.Context, p *pass, nodeID string, execState State, ie *InterruptError) error {
	used, _ := execState[StateKeyUsedInterrupts].(map[string]any)
	ie.NodeID = nodeID
	ie.TaskID = uuid.New().String()
	ie.Step = p.step

	ckpt := NewCheckpoint(map[string]any(p.state), []string{nodeID})
	ckpt.ParentCheckpointID = p.parentID
	ckpt.InterruptState = &InterruptState{
		NodeID:         nodeID,
		TaskID:         ie.TaskID,
		InterruptValue: ie.Value,
		Step:           p.step,
		UsedInterrupts: copyMap(used),
	}
	meta := NewCheckpointMetadata(SourceInterrupt, p.step)
	meta.Node = nodeID
	if err := e.saver.Put(ctx, p.threadID, ckpt, meta); err != nil {
		return fmt.Errorf("save interrupt checkpoint at node %s: %w", nodeID, err)
	}
	log.Debugf("graph: thread %s interrupted at node %s (key %s)", p.threadID, nodeID, ie.Key)
	p.interrupted = true
	return nil
}

func nodeResult(result any) (State, string, error) {
	switch r := result.(type) {
	case nil:
		return State{}, "", nil
	case State:
		return r, "", nil
	case map[string]any:
		return State(r), "", nil
	case *Command:
		if r == nil {
			return State{}, "", nil
		}
		if r.Update == nil {
			return State{}, r.GoTo, nil
		}
		return r.Update, r.GoTo, nil
	default:
		return nil, "", fmt.Errorf("invalid result type %T", result)
	}
}

func (e *Executor) acquire(threadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.busy[threadID] {
		return false
	}
	e.busy[threadID] = true
	return true
}

func (e *Executor) release(threadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.busy, threadID)
}

func copyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
