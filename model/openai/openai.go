//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package openai provides an OpenAI-compatible model implementation. It
// works with any endpoint that speaks the chat completions protocol,
// including local servers such as vLLM or Ollama.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.opentelemetry.io/otel/codes"

	itelemetry "trpc.group/trpc-go/deepresearch-go/internal/telemetry"
	"trpc.group/trpc-go/deepresearch-go/log"
	"trpc.group/trpc-go/deepresearch-go/model"
	"trpc.group/trpc-go/deepresearch-go/telemetry/trace"
)

// Model is an OpenAI-compatible chat model.
type Model struct {
	client  openai.Client
	name    string
	baseURL string
}

// Option is a function that configures an OpenAI model.
type Option func(*options)

type options struct {
	// APIKey is the API key for the OpenAI-compatible endpoint.
	APIKey string
	// BaseURL overrides the default endpoint.
	BaseURL string
	// HTTPClient is used for every request when set.
	HTTPClient *http.Client
	// MaxRetries overrides the client retry count when non-negative.
	MaxRetries int
}

// WithAPIKey sets the API key for the model.
func WithAPIKey(key string) Option {
	return func(opts *options) {
		opts.APIKey = key
	}
}

// WithBaseURL sets the base URL for the model.
func WithBaseURL(url string) Option {
	return func(opts *options) {
		opts.BaseURL = url
	}
}

// WithHTTPClient sets the HTTP client used by the model.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *options) {
		opts.HTTPClient = client
	}
}

// WithMaxRetries sets how many times a failed request is retried.
func WithMaxRetries(n int) Option {
	return func(opts *options) {
		opts.MaxRetries = n
	}
}

// New creates a new OpenAI-like model.
func New(name string, opts ...Option) *Model {
	o := &options{MaxRetries: -1}
	for _, opt := range opts {
		opt(o)
	}
	var clientOpts []openaiopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	if o.HTTPClient != nil {
		clientOpts = append(clientOpts, openaiopt.WithHTTPClient(o.HTTPClient))
	}
	if o.MaxRetries >= 0 {
		clientOpts = append(clientOpts, openaiopt.WithMaxRetries(o.MaxRetries))
	}
	return &Model{
		client:  openai.NewClient(clientOpts...),
		name:    name,
		baseURL: o.BaseURL,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{
		Name: m.name,
	}
}

// Generate implements the model.Model interface.
func (m *Model) Generate(ctx context.Context, request *model.Request) (rsp *model.Response, err error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNameGenerate)
	defer func() {
		itelemetry.TraceGenerate(span, m.Info(), request, rsp)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(request.Messages),
	}
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}

	log.Debugf("openai: chat completion model=%s base_url=%s messages=%d",
		m.name, m.baseURL, len(request.Messages))
	chatCompletion, err := m.client.Chat.Completions.New(ctx, chatRequest)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(chatCompletion.Choices) == 0 {
		return nil, model.ErrEmptyResponse
	}
	return &model.Response{
		ID:      chatCompletion.ID,
		Model:   chatCompletion.Model,
		Content: chatCompletion.Choices[0].Message.Content,
		Usage: &model.Usage{
			PromptTokens:     int(chatCompletion.Usage.PromptTokens),
			CompletionTokens: int(chatCompletion.Usage.CompletionTokens),
			TotalTokens:      int(chatCompletion.Usage.TotalTokens),
		},
	}, nil
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openai.SystemMessage(msg.Content)
		case model.RoleAssistant:
			result[i] = openai.AssistantMessage(msg.Content)
		default:
			result[i] = openai.UserMessage(msg.Content)
		}
	}
	return result
}
