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
	"fmt"
	"io"
	"reflect"
	"strings"

	"trpc.group/trpc-go/deepresearch-go/engine"
	"trpc.group/trpc-go/deepresearch-go/model"
)

const (
	maxContentPreview = 500
	maxBriefPreview   = 300
)

// ConsoleObserver prints a short summary of every stage output to w.
func ConsoleObserver(w io.Writer) Observer {
	return func(out *engine.StageOutput) {
		rule := strings.Repeat("─", 40)
		fmt.Fprintf(w, "\n%s\nNode: %s\n%s\n", rule, out.Stage, rule)
		f := out.Fields
		if msgs, ok := f[engine.KeyMessages].([]model.Message); ok {
			if last, ok := model.LastMessage(msgs); ok {
				fmt.Fprintf(w, "   Content: %s\n", truncate(last.Content, maxContentPreview))
			}
		}
		if brief, ok := f[engine.KeyResearchBrief].(string); ok && brief != "" {
			fmt.Fprintf(w, "   Research Brief: %s\n", truncate(brief, maxBriefPreview))
		}
		if draft, ok := f[engine.KeyDraftReport].(string); ok && draft != "" {
			fmt.Fprintf(w, "   Draft Report Generated: %d characters\n", len(draft))
		}
		if n := sliceLen(f[engine.KeyResearchFindings]); n > 0 {
			fmt.Fprintf(w, "   Research Findings: %d findings collected\n", n)
		}
		if report, ok := engine.FinalReport(f); ok {
			fmt.Fprintf(w, "   Final Report Generated: %d characters\n", len(report))
		}
		fmt.Fprintln(w)
	}
}

// WriteOutcome prints the final report of out, or what the thread holds
// when there is none.
func WriteOutcome(w io.Writer, out *Outcome) {
	banner := strings.Repeat("=", 60)
	fmt.Fprintf(w, "\n%s\nFINAL REPORT\n%s\n", banner, banner)
	switch {
	case out == nil:
		fmt.Fprintln(w, "No final report generated.")
	case out.Result != nil:
		fmt.Fprintln(w, out.Result.FinalReport)
	default:
		fmt.Fprintln(w, "No final report generated.")
		if len(out.StateKeys) > 0 {
			fmt.Fprintf(w, "Available keys: %s\n", strings.Join(out.StateKeys, ", "))
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func sliceLen(v any) int {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return 0
	}
	return rv.Len()
}
