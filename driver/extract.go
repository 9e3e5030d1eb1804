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
	"sort"

	"trpc.group/trpc-go/deepresearch-go/engine"
)

// ResultSource tells where a RunResult was found.
type ResultSource string

// Result sources.
const (
	SourceStream ResultSource = "stream"
	SourceState  ResultSource = "state"
)

// RunResult is the final artifact of a run.
type RunResult struct {
	// Fields is the streamed output that carried the report, or the
	// persisted values when the report came from state.
	Fields      map[string]any
	FinalReport string
	Source      ResultSource
}

// Extract returns the run artifact: the streamed output carrying a final
// report when there is one, else the final report persisted for the thread,
// else nil.
func Extract(ctx context.Context, sr *StreamResult, eng engine.Engine, threadID string) (*RunResult, error) {
	res, _, err := extract(ctx, sr, eng, threadID)
	return res, err
}

// extract also returns the state it read, for diagnostics.
func extract(
	ctx context.Context,
	sr *StreamResult,
	eng engine.Engine,
	threadID string,
) (*RunResult, *engine.ThreadState, error) {
	if report, ok := sr.FinalReport(); ok {
		return &RunResult{
			Fields:      copyFields(sr.Completed),
			FinalReport: report,
			Source:      SourceStream,
		}, nil, nil
	}
	st, err := eng.GetState(ctx, threadID)
	if err != nil {
		return nil, nil, &EngineFailure{Op: OpGetState, Err: err}
	}
	if st == nil {
		return nil, nil, nil
	}
	if report, ok := engine.FinalReport(st.Values); ok {
		return &RunResult{
			Fields:      copyFields(st.Values),
			FinalReport: report,
			Source:      SourceState,
		}, st, nil
	}
	return nil, st, nil
}

func sortedKeys(st *engine.ThreadState) []string {
	keys := st.Keys()
	sort.Strings(keys)
	return keys
}
