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

	"trpc.group/trpc-go/deepresearch-go/log"
	"trpc.group/trpc-go/deepresearch-go/model"
)

// TaskKind names the piece of text a Writer is asked for.
type TaskKind string

// Task kinds.
const (
	TaskBrief   TaskKind = "brief"
	TaskDraft   TaskKind = "draft"
	TaskFinding TaskKind = "finding"
	TaskFinal   TaskKind = "final"
)

// Task is the input of a single Writer call. Only the fields relevant to
// Kind are set.
type Task struct {
	Kind          TaskKind
	Query         string
	Clarification string
	Brief         string
	Draft         string
	Topic         string
	Topics        []string
	Findings      []string
	// Guidance is reviewer feedback given instead of a plan approval.
	Guidance string
}

// Writer produces the text of every research stage.
type Writer interface {
	Write(ctx context.Context, task *Task) (string, error)
}

// ErrEmptyOutput is returned when a backend produced no text.
var ErrEmptyOutput = errors.New("research: writer produced no text")

// TemplateWriter writes deterministic text from the task alone. It keeps the
// workflow usable without a model endpoint.
type TemplateWriter struct{}

// Write implements Writer.
func (TemplateWriter) Write(ctx context.Context, task *Task) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var b strings.Builder
	switch task.Kind {
	case TaskBrief:
		fmt.Fprintf(&b, "Research question: %s", task.Query)
		if task.Clarification != "" {
			fmt.Fprintf(&b, "\nScope from the user: %s", task.Clarification)
		}
	case TaskDraft:
		fmt.Fprintf(&b, "# Draft: %s\n\n## Outline\n\n1. Background\n", title(task.Query))
		for i, topic := range task.Topics {
			fmt.Fprintf(&b, "%d. %s\n", i+2, topic)
		}
		fmt.Fprintf(&b, "%d. Comparison and recommendations\n", len(task.Topics)+2)
	case TaskFinding:
		fmt.Fprintf(&b, "%s: characteristics and trade-offs of %s for %q.", task.Topic, task.Topic, task.Query)
		if task.Guidance != "" {
			fmt.Fprintf(&b, " Reviewer guidance: %s.", task.Guidance)
		}
	case TaskFinal:
		fmt.Fprintf(&b, "# %s\n\n## Research Brief\n\n%s\n\n## Findings\n\n", title(task.Query), task.Brief)
		for _, f := range task.Findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		if task.Guidance != "" {
			fmt.Fprintf(&b, "\n## Reviewer Guidance\n\n%s\n", task.Guidance)
		}
		fmt.Fprintf(&b, "\n## Conclusion\n\nThis report compares %d topics collected for the question above.\n",
			len(task.Findings))
	default:
		return "", fmt.Errorf("research: unknown task kind %q", task.Kind)
	}
	return b.String(), nil
}

func title(query string) string {
	return strings.TrimRight(strings.TrimSpace(query), "?.! ")
}

// ModelOption configures a ModelWriter.
type ModelOption func(*ModelWriter)

// WithTemperature sets the sampling temperature of every call.
func WithTemperature(t float64) ModelOption {
	return func(w *ModelWriter) {
		w.temperature = &t
	}
}

// WithMaxTokens caps the completion of brief, draft and finding calls.
func WithMaxTokens(n int) ModelOption {
	return func(w *ModelWriter) {
		w.maxTokens = &n
	}
}

// WithFinalMaxTokens caps the completion of the final report call.
func WithFinalMaxTokens(n int) ModelOption {
	return func(w *ModelWriter) {
		w.finalMaxTokens = &n
	}
}

// WithContextLength bounds the prompt to roughly n tokens of context.
func WithContextLength(n int) ModelOption {
	return func(w *ModelWriter) {
		w.contextLength = n
	}
}

// approxRunesPerToken converts a token budget into a prompt size.
const approxRunesPerToken = 4

// ModelWriter asks a model.Model for every stage text.
type ModelWriter struct {
	model          model.Model
	temperature    *float64
	maxTokens      *int
	finalMaxTokens *int
	contextLength  int
}

// NewModelWriter creates a Writer backed by m.
func NewModelWriter(m model.Model, opts ...ModelOption) *ModelWriter {
	w := &ModelWriter{model: m}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

var systemPrompts = map[TaskKind]string{
	TaskBrief: "You turn a user question into a concise research brief. " +
		"State the question, the scope and the expected deliverable.",
	TaskDraft: "You outline a research report. Reply with a markdown outline only.",
	TaskFinding: "You are a research assistant. Summarize the key facts about the topic " +
		"in the context of the research brief. Be specific and cite well known sources.",
	TaskFinal: "You write the final research report in markdown. Use the findings and the " +
		"draft outline. Compare the topics and end with recommendations.",
}

// Write implements Writer.
func (w *ModelWriter) Write(ctx context.Context, task *Task) (string, error) {
	system, ok := systemPrompts[task.Kind]
	if !ok {
		return "", fmt.Errorf("research: unknown task kind %q", task.Kind)
	}
	req := &model.Request{
		Messages: []model.Message{
			model.NewSystemMessage(system),
			model.NewUserMessage(w.fit(userPrompt(task))),
		},
	}
	req.Temperature = w.temperature
	req.MaxTokens = w.maxTokens
	if task.Kind == TaskFinal && w.finalMaxTokens != nil {
		req.MaxTokens = w.finalMaxTokens
	}
	log.Debugf("research: %s request to %s", task.Kind, w.model.Info().Name)
	rsp, err := w.model.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(rsp.Content)
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

func (w *ModelWriter) fit(prompt string) string {
	if w.contextLength <= 0 {
		return prompt
	}
	limit := w.contextLength * approxRunesPerToken
	if r := []rune(prompt); len(r) > limit {
		log.Warnf("research: prompt of %d runes trimmed to %d", len(r), limit)
		return string(r[:limit])
	}
	return prompt
}

func userPrompt(task *Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", task.Query)
	if task.Clarification != "" {
		fmt.Fprintf(&b, "Clarification: %s\n", task.Clarification)
	}
	if task.Brief != "" {
		fmt.Fprintf(&b, "\nResearch brief:\n%s\n", task.Brief)
	}
	if len(task.Topics) > 0 {
		fmt.Fprintf(&b, "\nTopics: %s\n", strings.Join(task.Topics, ", "))
	}
	if task.Topic != "" {
		fmt.Fprintf(&b, "\nTopic: %s\n", task.Topic)
	}
	if task.Draft != "" {
		fmt.Fprintf(&b, "\nDraft outline:\n%s\n", task.Draft)
	}
	if len(task.Findings) > 0 {
		b.WriteString("\nFindings:\n")
		for _, f := range task.Findings {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if task.Guidance != "" {
		fmt.Fprintf(&b, "\nReviewer guidance: %s\n", task.Guidance)
	}
	return b.String()
}
