//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package config

import (
	"fmt"
	"slices"
	"strings"

	"trpc.group/trpc-go/deepresearch-go/log"
)

// ValidationError is a single invalid field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// Unwrap makes every validation failure match ErrInvalid.
func (e ValidationError) Unwrap() error {
	return ErrInvalid
}

// ValidationErrors collects every invalid field of a Config.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, err := range e {
		errs[i] = err
	}
	return errs
}

var (
	logLevels   = log.Levels()
	protocols   = []string{"grpc", "http"}
	drivers     = []string{CheckpointMemory, CheckpointSQLite}
	formatNames = []string{"md", "markdown", "html", "htm", "pdf"}
)

// Validate returns every invalid field, or nil.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.LLM.Enabled() && c.LLM.Model == "" {
		add("llm.model", c.LLM.Model, "required when llm.base_url is set")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature", c.LLM.Temperature, "must be between 0 and 2")
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens", c.LLM.MaxTokens, "must not be negative")
	}
	if c.LLM.MaxTokensWriter < 0 {
		add("llm.max_tokens_writer", c.LLM.MaxTokensWriter, "must not be negative")
	}
	if c.LLM.ContextLength < 0 {
		add("llm.context_length", c.LLM.ContextLength, "must not be negative")
	}
	if c.Run.RecursionLimit <= 0 {
		add("run.recursion_limit", c.Run.RecursionLimit, "must be positive")
	}
	if c.Run.MaxPasses <= 0 {
		add("run.max_passes", c.Run.MaxPasses, "must be positive")
	}
	if c.Run.PromptTimeout < 0 {
		add("run.prompt_timeout", c.Run.PromptTimeout, "must not be negative")
	}
	if c.Research.MinQueryWords < 0 {
		add("research.min_query_words", c.Research.MinQueryWords, "must not be negative")
	}
	if c.Research.Concurrency <= 0 {
		add("research.concurrency", c.Research.Concurrency, "must be positive")
	}
	if !slices.Contains(drivers, c.Checkpoint.Driver) {
		add("checkpoint.driver", c.Checkpoint.Driver, "must be one of "+strings.Join(drivers, ", "))
	}
	if c.Checkpoint.Driver == CheckpointSQLite && c.Checkpoint.Path == "" {
		add("checkpoint.path", c.Checkpoint.Path, "required for the sqlite driver")
	}
	for _, f := range c.Report.Formats {
		if !slices.Contains(formatNames, strings.ToLower(strings.TrimSpace(f))) {
			add("report.formats", f, "unknown report format")
		}
	}
	if !log.ValidLevel(c.Log.Level) {
		add("log.level", c.Log.Level, "must be one of "+strings.Join(logLevels, ", "))
	}
	if !slices.Contains(protocols, c.Telemetry.Protocol) {
		add("telemetry.protocol", c.Telemetry.Protocol, "must be one of "+strings.Join(protocols, ", "))
	}
	if c.Server.Workers < 0 {
		add("server.workers", c.Server.Workers, "must not be negative")
	}
	return errs
}
