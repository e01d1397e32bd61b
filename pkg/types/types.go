/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package types holds the domain enums and value objects shared across the
// execution components and the store.
package types

// Workflow statuses.
const (
	WorkflowDraft       = "DRAFT"
	WorkflowActive      = "ACTIVE"
	WorkflowDeactivated = "DEACTIVATED"
	WorkflowArchived    = "ARCHIVED"
)

// Execution statuses.
const (
	ExecutionPending   = "PENDING"
	ExecutionRunning   = "RUNNING"
	ExecutionCompleted = "COMPLETED"
	ExecutionFailed    = "FAILED"
	ExecutionCancelled = "CANCELLED"
	ExecutionTimeout   = "TIMEOUT"
)

// ExecutionInput states.
const (
	InputWaiting  = "WAITING"
	InputReady    = "READY"
	InputInFlight = "IN_FLIGHT"
)

// ExecutionOutput statuses reported by the worker boundary.
const (
	OutputSuccess = "SUCCESS"
	OutputFailed  = "FAILED"
)

// Aggregate-only node statuses synthesized at finalization for nodes that
// never produced an output.
const (
	NodeCancelled = "CANCELLED"
	NodeUnreached = "UNREACHED"
)

// Trigger types.
const (
	TriggerManual    = "MANUAL"
	TriggerScheduled = "SCHEDULED"
	TriggerWebhook   = "WEBHOOK"
	TriggerEvent     = "EVENT"
)

// DefaultTriggerName is the non-deletable trigger every workflow carries.
const DefaultTriggerName = "DEFAULT"

// CustomScript approval statuses.
const (
	ApprovalPending        = "PENDING"
	ApprovalApproved       = "APPROVED"
	ApprovalRejected       = "REJECTED"
	ApprovalRevisionNeeded = "REVISION_NEEDED"
)

// CustomScript test statuses.
const (
	TestUntested = "UNTESTED"
	TestTesting  = "TESTING"
	TestPassed   = "PASSED"
	TestFailed   = "FAILED"
	TestPartial  = "PARTIAL"
)

// Workspace plan tiers.
const (
	PlanFreemium   = "FREEMIUM"
	PlanStarter    = "STARTER"
	PlanPro        = "PRO"
	PlanBusiness   = "BUSINESS"
	PlanEnterprise = "ENTERPRISE"
)

// Quota-counted resources.
const (
	ResourceMembers              = "members"
	ResourceWorkflows            = "workflows"
	ResourceCustomScripts        = "custom_scripts"
	ResourceStorageBytes         = "storage_bytes"
	ResourceAPIKeys              = "api_keys"
	ResourceMonthlyExecutions    = "monthly_executions"
	ResourceConcurrentExecutions = "concurrent_executions"
)

// Plan feature flags.
const (
	FeatureWebhooks      = "webhooks"
	FeatureScheduling    = "scheduling"
	FeatureCustomScripts = "custom_scripts"
	FeatureAPIAccess     = "api_access"
	FeatureExportData    = "export_data"
)

// Declared parameter types. Email, url and password validate as strings.
const (
	TypeString   = "string"
	TypeInteger  = "integer"
	TypeFloat    = "float"
	TypeBoolean  = "boolean"
	TypeArray    = "array"
	TypeObject   = "object"
	TypeEmail    = "email"
	TypeURL      = "url"
	TypePassword = "password"
)

// Param is one declared node parameter. The Value may be a literal or a
// reference template; ExecutionInputs carry the set verbatim.
type Param struct {
	Type        string `json:"type"`
	Value       any    `json:"value"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// ParamSet maps parameter names to their declarations.
type ParamSet map[string]Param

// MappingField declares one accepted trigger-payload field.
type MappingField struct {
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}

// InputMapping validates trigger payloads before an execution is created.
// Strict mappings reject fields that are not declared.
type InputMapping struct {
	Strict bool                    `json:"strict"`
	Fields map[string]MappingField `json:"fields"`
}

// NodeResult is one node's entry in the final Execution results aggregate.
type NodeResult struct {
	Status       string         `json:"status"`
	ResultData   any            `json:"result_data,omitempty"`
	Duration     float64        `json:"duration,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorDetails map[string]any `json:"error_details,omitempty"`
}

// PlanLimits is the quota and feature profile of a workspace plan.
type PlanLimits struct {
	Tier                    string
	MaxMembers              int64
	MaxWorkflows            int64
	MaxCustomScripts        int64
	MaxStorageBytes         int64
	MaxFileSizeBytes        int64
	MaxAPIKeys              int64
	MaxMonthlyExecutions    int64
	MaxConcurrentExecutions int64
	APIRateLimitPerMinute   int64
	APIRateLimitPerHour     int64
	APIRateLimitPerDay      int64
	CanUseWebhooks          bool
	CanUseScheduling        bool
	CanUseCustomScripts     bool
	CanUseAPIAccess         bool
	CanExportData           bool
}

// Allows answers a feature-flag probe against the plan.
func (p PlanLimits) Allows(feature string) bool {
	switch feature {
	case FeatureWebhooks:
		return p.CanUseWebhooks
	case FeatureScheduling:
		return p.CanUseScheduling
	case FeatureCustomScripts:
		return p.CanUseCustomScripts
	case FeatureAPIAccess:
		return p.CanUseAPIAccess
	case FeatureExportData:
		return p.CanExportData
	default:
		return false
	}
}

// LimitFor returns the plan ceiling for a quota-counted resource. A negative
// limit means unlimited.
func (p PlanLimits) LimitFor(resource string) int64 {
	switch resource {
	case ResourceMembers:
		return p.MaxMembers
	case ResourceWorkflows:
		return p.MaxWorkflows
	case ResourceCustomScripts:
		return p.MaxCustomScripts
	case ResourceStorageBytes:
		return p.MaxStorageBytes
	case ResourceAPIKeys:
		return p.MaxAPIKeys
	case ResourceMonthlyExecutions:
		return p.MaxMonthlyExecutions
	case ResourceConcurrentExecutions:
		return p.MaxConcurrentExecutions
	default:
		return 0
	}
}

// IsTerminalExecution reports whether status is one of the closed states.
func IsTerminalExecution(status string) bool {
	switch status {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled, ExecutionTimeout:
		return true
	default:
		return false
	}
}
