//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Signals exported over OTLP.
const (
	SignalTraces  = "TRACES"
	SignalMetrics = "METRICS"
)

// ErrUnknownProtocol is returned for an export protocol other than grpc or http.
var ErrUnknownProtocol = errors.New("unknown otlp protocol")

// CheckProtocol returns ErrUnknownProtocol unless protocol is supported.
func CheckProtocol(protocol string) error {
	if protocol != ProtocolGRPC && protocol != ProtocolHTTP {
		return fmt.Errorf("%w: %q", ErrUnknownProtocol, protocol)
	}
	return nil
}

// Endpoint returns the collector address for signal. The signal specific
// OTEL_EXPORTER_OTLP_<SIGNAL>_ENDPOINT variable wins over
// OTEL_EXPORTER_OTLP_ENDPOINT, then the protocol's default port is used.
func Endpoint(signal, protocol string) string {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_" + signal + "_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		return endpoint
	}
	if protocol == ProtocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}

// NewResource describes the exporting service.
func NewResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	if serviceName == "" {
		serviceName = ServiceName
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNamespace(ServiceNamespace),
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// NewGRPCConn opens a plaintext gRPC connection to the collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
