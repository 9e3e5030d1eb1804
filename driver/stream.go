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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"trpc.group/trpc-go/deepresearch-go/engine"
	itelemetry "trpc.group/trpc-go/deepresearch-go/internal/telemetry"
	"trpc.group/trpc-go/deepresearch-go/telemetry/trace"
)

// Observer receives every stage output of a pass, in order.
type Observer func(out *engine.StageOutput)

// StreamResult is what one engine pass left behind.
type StreamResult struct {
	// Seen holds the last value observed for every field.
	Seen map[string]any
	// Stages lists the stages in the order they reported.
	Stages []string
	// Events counts the stage outputs consumed.
	Events int
	// Completed is the fields of the latest output carrying a non-empty
	// final_report, or nil.
	Completed map[string]any
}

// FinalReport returns the report of the completed output, if any.
func (r *StreamResult) FinalReport() (string, bool) {
	if r == nil || r.Completed == nil {
		return "", false
	}
	return engine.FinalReport(r.Completed)
}

// StreamRun drives one engine pass and collects its outputs. It does not
// interpret interrupts: an empty Completed may mean the run finished without
// an artifact or that it is paused, and Detect tells the two apart.
//
// Engine errors come back as *EngineFailure together with the partial result.
func StreamRun(
	ctx context.Context,
	eng engine.Engine,
	in engine.Input,
	cfg engine.Config,
	observers ...Observer,
) (*StreamResult, error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameStreamPass)
	defer span.End()
	span.SetAttributes(
		attribute.String(itelemetry.KeyThreadID, cfg.ThreadID),
		attribute.Bool("deepresearch.resume", in.IsResume()),
	)

	res := &StreamResult{Seen: make(map[string]any)}
	outputs, err := eng.Stream(ctx, in, cfg)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, &EngineFailure{Op: OpStream, Err: err}
	}
	for {
		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, ctx.Err().Error())
			return res, ctx.Err()
		case out, ok := <-outputs:
			if !ok {
				span.SetAttributes(
					attribute.Int(itelemetry.KeyStagesSeen, res.Events),
					attribute.Bool("deepresearch.completed", res.Completed != nil),
				)
				return res, nil
			}
			if out == nil {
				continue
			}
			if out.Err != nil {
				span.SetStatus(codes.Error, out.Err.Error())
				return res, &EngineFailure{Op: OpStream, Err: out.Err}
			}
			res.record(out)
			for _, obs := range observers {
				if obs != nil {
					obs(out)
				}
			}
		}
	}
}

func (r *StreamResult) record(out *engine.StageOutput) {
	r.Events++
	r.Stages = append(r.Stages, out.Stage)
	for k, v := range out.Fields {
		r.Seen[k] = v
	}
	if _, ok := engine.FinalReport(out.Fields); ok {
		r.Completed = copyFields(out.Fields)
	}
}

func copyFields(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
