//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package config loads the settings of the deep research driver from an
// optional YAML file and the environment. The result is an explicit Config
// value handed to constructors; nothing here writes the process environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DEEPRESEARCH"

// Config is the complete driver configuration.
type Config struct {
	LLM        LLMConfig         `mapstructure:"llm" yaml:"llm"`
	Embedding  EmbeddingConfig   `mapstructure:"embedding" yaml:"embedding"`
	Search     SearchConfig      `mapstructure:"search" yaml:"search"`
	Run        RunConfig         `mapstructure:"run" yaml:"run"`
	Responses  map[string]string `mapstructure:"responses" yaml:"responses"`
	Research   ResearchConfig    `mapstructure:"research" yaml:"research"`
	Checkpoint CheckpointConfig  `mapstructure:"checkpoint" yaml:"checkpoint"`
	Report     ReportConfig      `mapstructure:"report" yaml:"report"`
	Log        LogConfig         `mapstructure:"log" yaml:"log"`
	Telemetry  TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
	Server     ServerConfig      `mapstructure:"server" yaml:"server"`
}

// LLMConfig selects the OpenAI compatible endpoint that writes the report.
// An empty BaseURL selects the built-in template writer.
type LLMConfig struct {
	BaseURL         string  `mapstructure:"base_url" yaml:"base_url"`
	APIKey          string  `mapstructure:"api_key" yaml:"api_key"`
	Model           string  `mapstructure:"model" yaml:"model"`
	Temperature     float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	MaxTokensWriter int     `mapstructure:"max_tokens_writer" yaml:"max_tokens_writer"`
	ContextLength   int     `mapstructure:"context_length" yaml:"context_length"`
}

// Enabled reports whether a model endpoint is configured.
func (c LLMConfig) Enabled() bool {
	return c.BaseURL != ""
}

// EmbeddingConfig describes the embedding endpoint used by retrieval backends.
type EmbeddingConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Model   string `mapstructure:"model" yaml:"model"`
}

// SearchConfig holds web search credentials.
type SearchConfig struct {
	TavilyAPIKey string `mapstructure:"tavily_api_key" yaml:"tavily_api_key"`
}

// RunConfig controls the interrupt/resume loop.
type RunConfig struct {
	RecursionLimit int           `mapstructure:"recursion_limit" yaml:"recursion_limit"`
	MaxPasses      int           `mapstructure:"max_passes" yaml:"max_passes"`
	PromptTimeout  time.Duration `mapstructure:"prompt_timeout" yaml:"prompt_timeout"`
	ThreadPrefix   string        `mapstructure:"thread_prefix" yaml:"thread_prefix"`
}

// ResearchConfig controls the research stages.
type ResearchConfig struct {
	MinQueryWords   int  `mapstructure:"min_query_words" yaml:"min_query_words"`
	AlwaysClarify   bool `mapstructure:"always_clarify" yaml:"always_clarify"`
	RequireApproval bool `mapstructure:"require_approval" yaml:"require_approval"`
	Concurrency     int  `mapstructure:"concurrency" yaml:"concurrency"`
}

// Checkpoint drivers.
const (
	CheckpointMemory = "memory"
	CheckpointSQLite = "sqlite"
)

// CheckpointConfig selects where thread state is persisted.
type CheckpointConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// ReportConfig controls where final reports are saved.
type ReportConfig struct {
	Dir     string   `mapstructure:"dir" yaml:"dir"`
	Formats []string `mapstructure:"formats" yaml:"formats"`
}

// LogConfig configures the package logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// TelemetryConfig enables the OTLP exporters.
type TelemetryConfig struct {
	Traces   bool   `mapstructure:"traces" yaml:"traces"`
	Metrics  bool   `mapstructure:"metrics" yaml:"metrics"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Protocol string `mapstructure:"protocol" yaml:"protocol"`
}

// ServerConfig configures the HTTP run service.
type ServerConfig struct {
	Addr    string `mapstructure:"addr" yaml:"addr"`
	Workers int    `mapstructure:"workers" yaml:"workers"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			APIKey:          "not-needed",
			Model:           "llama-3.1-70b",
			Temperature:     0.1,
			MaxTokens:       50000,
			MaxTokensWriter: 55000,
			ContextLength:   64000,
		},
		Embedding: EmbeddingConfig{
			APIKey: "not-needed",
			Model:  "bge-m3",
		},
		Run: RunConfig{
			RecursionLimit: 50,
			MaxPasses:      64,
			ThreadPrefix:   "thread",
		},
		Responses: map[string]string{},
		Research: ResearchConfig{
			MinQueryWords: 4,
			Concurrency:   4,
		},
		Checkpoint: CheckpointConfig{
			Driver: CheckpointMemory,
			Path:   "deepresearch.db",
		},
		Report: ReportConfig{
			Dir:     "reports",
			Formats: []string{"md"},
		},
		Log: LogConfig{Level: "info"},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Server: ServerConfig{
			Addr:    ":8080",
			Workers: 8,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.max_tokens_writer", d.LLM.MaxTokensWriter)
	v.SetDefault("llm.context_length", d.LLM.ContextLength)

	v.SetDefault("embedding.base_url", d.Embedding.BaseURL)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)
	v.SetDefault("embedding.model", d.Embedding.Model)

	v.SetDefault("search.tavily_api_key", d.Search.TavilyAPIKey)

	v.SetDefault("run.recursion_limit", d.Run.RecursionLimit)
	v.SetDefault("run.max_passes", d.Run.MaxPasses)
	v.SetDefault("run.prompt_timeout", d.Run.PromptTimeout)
	v.SetDefault("run.thread_prefix", d.Run.ThreadPrefix)

	v.SetDefault("responses", d.Responses)

	v.SetDefault("research.min_query_words", d.Research.MinQueryWords)
	v.SetDefault("research.always_clarify", d.Research.AlwaysClarify)
	v.SetDefault("research.require_approval", d.Research.RequireApproval)
	v.SetDefault("research.concurrency", d.Research.Concurrency)

	v.SetDefault("checkpoint.driver", d.Checkpoint.Driver)
	v.SetDefault("checkpoint.path", d.Checkpoint.Path)

	v.SetDefault("report.dir", d.Report.Dir)
	v.SetDefault("report.formats", d.Report.Formats)

	v.SetDefault("log.level", d.Log.Level)

	v.SetDefault("telemetry.traces", d.Telemetry.Traces)
	v.SetDefault("telemetry.metrics", d.Telemetry.Metrics)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.protocol", d.Telemetry.Protocol)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.workers", d.Server.Workers)
}

// legacyEnv lists the unprefixed variable names also accepted per key.
var legacyEnv = map[string]string{
	"llm.base_url":          "LLM_BASE_URL",
	"llm.api_key":           "LLM_API_KEY",
	"llm.model":             "LLM_MODEL",
	"llm.temperature":       "LLM_TEMPERATURE",
	"llm.max_tokens":        "MAX_TOKENS_DEFAULT",
	"llm.max_tokens_writer": "MAX_TOKENS_WRITER",
	"llm.context_length":    "LLM_CONTEXT_LENGTH",
	"embedding.base_url":    "EMBEDDING_BASE_URL",
	"embedding.api_key":     "EMBEDDING_API_KEY",
	"embedding.model":       "EMBEDDING_MODEL",
	"search.tavily_api_key": "TAVILY_API_KEY",
}

// Load reads path, when not empty, then the environment, and validates the
// result. Prefixed variables such as DEEPRESEARCH_RUN_MAX_PASSES win over
// the unprefixed names listed in legacyEnv.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, name := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", name, err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Responses == nil {
		cfg.Responses = map[string]string{}
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

const redacted = "******"

// Redacted returns a copy of c with every secret masked.
func (c *Config) Redacted() *Config {
	out := *c
	mask := func(s string) string {
		if s == "" || s == "not-needed" {
			return s
		}
		return redacted
	}
	out.LLM.APIKey = mask(c.LLM.APIKey)
	out.Embedding.APIKey = mask(c.Embedding.APIKey)
	out.Search.TavilyAPIKey = mask(c.Search.TavilyAPIKey)
	return &out
}

// YAML renders c with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")
