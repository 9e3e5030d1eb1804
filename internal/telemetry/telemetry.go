//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package telemetry holds the names and helpers shared by the tracing and
// metric packages.
package telemetry

import (
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"trpc.group/trpc-go/deepresearch-go/model"
)

// telemetry service constants.
const (
	ServiceName      = "deepresearch"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "trpc-go-agent"
	InstrumentName   = "trpc.deepresearch.go"

	SpanNameRun        = "driver.run"
	SpanNameStreamPass = "driver.stream_pass"
	SpanNameGenerate   = "model.generate"
)

const (
	// ProtocolGRPC uses gRPC protocol for OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP uses HTTP protocol for OTLP exporter.
	ProtocolHTTP string = "http"
)

// telemetry attribute keys.
var (
	KeyThreadID      = "deepresearch.thread_id"
	KeyStatus        = "deepresearch.status"
	KeyPass          = "deepresearch.pass"
	KeyStagesSeen    = "deepresearch.stages_seen"
	KeyInterruptType = "deepresearch.interrupt_type"
	KeyResultSource  = "deepresearch.result_source"
	KeyLLMRequest    = "deepresearch.llm_request"
	KeyLLMResponse   = "deepresearch.llm_response"
)

// TraceGenerate records one model call on span.
func TraceGenerate(span trace.Span, info model.Info, req *model.Request, rsp *model.Response) {
	span.SetAttributes(
		attribute.String("gen_ai.system", "deepresearch"),
		attribute.String("gen_ai.request.model", info.Name),
	)
	if bts, err := json.Marshal(req); err == nil {
		span.SetAttributes(attribute.String(KeyLLMRequest, string(bts)))
	} else {
		span.SetAttributes(attribute.String(KeyLLMRequest, "<not json serializable>"))
	}
	if rsp == nil {
		return
	}
	span.SetAttributes(attribute.String("gen_ai.response.id", rsp.ID))
	if rsp.Usage != nil {
		span.SetAttributes(
			attribute.Int("gen_ai.usage.input_tokens", rsp.Usage.PromptTokens),
			attribute.Int("gen_ai.usage.output_tokens", rsp.Usage.CompletionTokens),
		)
	}
	if bts, err := json.Marshal(rsp); err == nil {
		span.SetAttributes(attribute.String(KeyLLMResponse, string(bts)))
	} else {
		span.SetAttributes(attribute.String(KeyLLMResponse, "<not json serializable>"))
	}
}
