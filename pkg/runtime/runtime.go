/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package runtime defines the scheduler to worker contract and ships an
// embedded worker implementation for single-process deployments.
package runtime

import "context"

// Dispatch is one node handed to a worker.
type Dispatch struct {
	ExecutionId    string         `json:"execution_id"`
	WorkspaceId    string         `json:"workspace_id"`
	WorkflowId     string         `json:"workflow_id"`
	NodeId         string         `json:"node_id"`
	ScriptPath     string         `json:"script_path"`
	ProcessType    string         `json:"process_type"`
	Params         map[string]any `json:"params"`
	MaxRetries     int64          `json:"max_retries"`
	TimeoutSeconds int64          `json:"timeout_seconds"`
}

// Result is one finished node reported by a worker. Acceptance is idempotent
// per (execution_id, node_id); the collector drops duplicate deliveries.
type Result struct {
	ExecutionId  string         `json:"execution_id"`
	NodeId       string         `json:"node_id"`
	Status       string         `json:"status"`
	ResultData   any            `json:"result_data,omitempty"`
	Duration     float64        `json:"duration,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
}

// Runtime is the worker boundary the scheduler dispatches into. Dispatch
// returning nil is the acknowledgement of receipt; execution itself is
// asynchronous and reports through the result path.
type Runtime interface {
	Dispatch(ctx context.Context, d *Dispatch) error
}
