//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"

	"trpc.group/trpc-go/deepresearch-go/engine"
	"trpc.group/trpc-go/deepresearch-go/graph"
	"trpc.group/trpc-go/deepresearch-go/log"
	"trpc.group/trpc-go/deepresearch-go/model"
)

// ErrNoQuery is returned when the thread holds no user message to research.
var ErrNoQuery = errors.New("research: no user query in messages")

type stages struct {
	opts options
}

func (s *stages) clarify(ctx context.Context, state graph.State) (any, error) {
	msgs, _ := state[engine.KeyMessages].([]model.Message)
	query := lastUserContent(msgs)
	if query == "" {
		return nil, ErrNoQuery
	}
	update := graph.State{KeyQuery: query, KeyClarification: ""}
	if !s.ambiguous(query) {
		return update, nil
	}

	question := fmt.Sprintf("Which aspects of %q should the research focus on?", query)
	answer, err := graph.InterruptString(ctx, state, NodeClarify, map[string]any{
		engine.InterruptKeyType:         InterruptClarification,
		engine.InterruptKeyQuestion:     question,
		engine.InterruptKeyVerification: "The research starts once the scope is clear.",
	})
	if err != nil {
		return nil, err
	}
	answer = strings.TrimSpace(answer)
	update[KeyClarification] = answer
	if answer != "" {
		update[engine.KeyMessages] = []model.Message{
			model.NewAssistantMessage(question),
			model.NewUserMessage(answer),
		}
	}
	return update, nil
}

func (s *stages) ambiguous(query string) bool {
	if s.opts.alwaysClarify {
		return true
	}
	return s.opts.minQueryWords > 0 && len(strings.Fields(query)) < s.opts.minQueryWords
}

func (s *stages) brief(ctx context.Context, state graph.State) (any, error) {
	brief, err := s.opts.writer.Write(ctx, &Task{
		Kind:          TaskBrief,
		Query:         stringValue(state, KeyQuery),
		Clarification: stringValue(state, KeyClarification),
	})
	if err != nil {
		return nil, fmt.Errorf("write research brief: %w", err)
	}
	return graph.State{engine.KeyResearchBrief: brief}, nil
}

func (s *stages) draft(ctx context.Context, state graph.State) (any, error) {
	query := stringValue(state, KeyQuery)
	brief := stringValue(state, engine.KeyResearchBrief)
	draft, err := s.opts.writer.Write(ctx, &Task{
		Kind:   TaskDraft,
		Query:  query,
		Brief:  brief,
		Topics: planTopics(brief, query),
	})
	if err != nil {
		return nil, fmt.Errorf("write draft report: %w", err)
	}
	return graph.State{engine.KeyDraftReport: draft}, nil
}

func (s *stages) supervise(ctx context.Context, state graph.State) (any, error) {
	query := stringValue(state, KeyQuery)
	brief := stringValue(state, engine.KeyResearchBrief)
	topics := planTopics(brief, query)
	update := graph.State{}

	var guidance string
	if s.opts.requireApproval {
		answer, err := graph.InterruptString(ctx, state, NodeSupervisor, map[string]any{
			engine.InterruptKeyType: InterruptPlanApproval,
			engine.InterruptKeyQuestion: fmt.Sprintf("The research plan covers %d topics: %s. "+
				"Reply yes to approve or describe what to change.", len(topics), strings.Join(topics, ", ")),
			engine.InterruptKeyVerification: brief,
		})
		if err != nil {
			return nil, err
		}
		answer = strings.TrimSpace(answer)
		update[KeyApproval] = answer
		if !approved(answer) {
			guidance = answer
		}
	}

	findings := make([]string, len(topics))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.concurrency)
	for i, topic := range topics {
		g.Go(func() error {
			text, err := s.opts.writer.Write(gctx, &Task{
				Kind:     TaskFinding,
				Query:    query,
				Brief:    brief,
				Topic:    topic,
				Guidance: guidance,
			})
			if err != nil {
				return fmt.Errorf("research topic %s: %w", topic, err)
			}
			findings[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	log.Debugf("research: collected %d findings for %q", len(findings), query)
	update[engine.KeyResearchFindings] = findings
	return update, nil
}

func (s *stages) final(ctx context.Context, state graph.State) (any, error) {
	findings, _ := state[engine.KeyResearchFindings].([]string)
	approval := stringValue(state, KeyApproval)
	task := &Task{
		Kind:          TaskFinal,
		Query:         stringValue(state, KeyQuery),
		Clarification: stringValue(state, KeyClarification),
		Brief:         stringValue(state, engine.KeyResearchBrief),
		Draft:         stringValue(state, engine.KeyDraftReport),
		Findings:      findings,
	}
	if !approved(approval) {
		task.Guidance = approval
	}
	report, err := s.opts.writer.Write(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("write final report: %w", err)
	}
	return graph.State{
		engine.KeyFinalReport: report,
		engine.KeyMessages:    []model.Message{model.NewAssistantMessage(report)},
	}, nil
}

// Topics returns the distinct acronyms of text in order of appearance, such
// as the format names of a comparison query.
func Topics(text string) []string {
	var topics []string
	seen := make(map[string]bool)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})
	for _, w := range words {
		w = strings.Trim(w, "-")
		if !isAcronym(w) || seen[w] {
			continue
		}
		seen[w] = true
		topics = append(topics, w)
	}
	return topics
}

func planTopics(brief, query string) []string {
	if topics := Topics(brief); len(topics) > 0 {
		return topics
	}
	if topics := Topics(query); len(topics) > 0 {
		return topics
	}
	return []string{query}
}

func isAcronym(w string) bool {
	upper := 0
	for _, r := range w {
		switch {
		case unicode.IsLower(r):
			return false
		case unicode.IsUpper(r):
			upper++
		}
	}
	return upper >= 2
}

func approved(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes", "ok", "approve", "approved":
		return true
	default:
		return false
	}
}

func lastUserContent(msgs []model.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return strings.TrimSpace(msgs[i].Content)
		}
	}
	return ""
}

func stringValue(state graph.State, key string) string {
	s, _ := state[key].(string)
	return s
}
