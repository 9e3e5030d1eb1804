//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

package graph

import "errors"

// Errors.
var (
	ErrThreadIDRequired   = errors.New("thread_id is required")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrSaverRequired      = errors.New("checkpoint saver is required")
	ErrThreadBusy         = errors.New("thread already has a pass in progress")
	ErrRecursionLimit     = errors.New("recursion limit reached without hitting a stop condition")
	ErrInvalidGraph       = errors.New("invalid graph")
)
