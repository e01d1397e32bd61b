/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/miniflowhq/miniflow/pkg/types"
)

// Plan mirrors one row of the plans catalog.
type Plan struct {
	Id                      string    `db:"id"`
	Tier                    string    `db:"tier"`
	MaxMembers              int64     `db:"max_members"`
	MaxWorkflows            int64     `db:"max_workflows"`
	MaxCustomScripts        int64     `db:"max_custom_scripts"`
	MaxStorageBytes         int64     `db:"max_storage_bytes"`
	MaxFileSizeBytes        int64     `db:"max_file_size_bytes"`
	MaxAPIKeys              int64     `db:"max_api_keys"`
	MaxMonthlyExecutions    int64     `db:"max_monthly_executions"`
	MaxConcurrentExecutions int64     `db:"max_concurrent_executions"`
	APIRateLimitPerMinute   int64     `db:"api_rate_limit_per_minute"`
	APIRateLimitPerHour     int64     `db:"api_rate_limit_per_hour"`
	APIRateLimitPerDay      int64     `db:"api_rate_limit_per_day"`
	CanUseWebhooks          bool      `db:"can_use_webhooks"`
	CanUseScheduling        bool      `db:"can_use_scheduling"`
	CanUseCustomScripts     bool      `db:"can_use_custom_scripts"`
	CanUseAPIAccess         bool      `db:"can_use_api_access"`
	CanExportData           bool      `db:"can_export_data"`
	CreatedAt               time.Time `db:"created_at"`
	UpdatedAt               time.Time `db:"updated_at"`
}

// Limits converts the row into the shared plan-limit value object.
func (p *Plan) Limits() types.PlanLimits {
	return types.PlanLimits{
		Tier:                    p.Tier,
		MaxMembers:              p.MaxMembers,
		MaxWorkflows:            p.MaxWorkflows,
		MaxCustomScripts:        p.MaxCustomScripts,
		MaxStorageBytes:         p.MaxStorageBytes,
		MaxFileSizeBytes:        p.MaxFileSizeBytes,
		MaxAPIKeys:              p.MaxAPIKeys,
		MaxMonthlyExecutions:    p.MaxMonthlyExecutions,
		MaxConcurrentExecutions: p.MaxConcurrentExecutions,
		APIRateLimitPerMinute:   p.APIRateLimitPerMinute,
		APIRateLimitPerHour:     p.APIRateLimitPerHour,
		APIRateLimitPerDay:      p.APIRateLimitPerDay,
		CanUseWebhooks:          p.CanUseWebhooks,
		CanUseScheduling:        p.CanUseScheduling,
		CanUseCustomScripts:     p.CanUseCustomScripts,
		CanUseAPIAccess:         p.CanUseAPIAccess,
		CanExportData:           p.CanExportData,
	}
}

// User mirrors one row of users.
type User struct {
	Id           string    `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	DisplayName  string    `db:"display_name"`
	IsDeleted    bool      `db:"is_deleted"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Workspace mirrors one row of workspaces.
type Workspace struct {
	Id                       string    `db:"id"`
	Slug                     string    `db:"slug"`
	Name                     string    `db:"name"`
	OwnerUserId              string    `db:"owner_user_id"`
	PlanTier                 string    `db:"plan_tier"`
	IsSuspended              bool      `db:"is_suspended"`
	CurrentWorkflowCount     int64     `db:"current_workflow_count"`
	CurrentCustomScriptCount int64     `db:"current_custom_script_count"`
	CurrentStorageBytes      int64     `db:"current_storage_bytes"`
	IsDeleted                bool      `db:"is_deleted"`
	CreatedAt                time.Time `db:"created_at"`
	UpdatedAt                time.Time `db:"updated_at"`
}

// WorkspaceMember mirrors one row of workspace_members.
type WorkspaceMember struct {
	Id          string    `db:"id"`
	WorkspaceId string    `db:"workspace_id"`
	UserId      string    `db:"user_id"`
	Role        string    `db:"role"`
	IsDeleted   bool      `db:"is_deleted"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Workflow mirrors one row of workflows.
type Workflow struct {
	Id          string    `db:"id"`
	WorkspaceId string    `db:"workspace_id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Status      string    `db:"status"`
	Priority    int64     `db:"priority"`
	IsDeleted   bool      `db:"is_deleted"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Node mirrors one row of nodes. InputParams is the JSON-encoded ParamSet.
type Node struct {
	Id             string         `db:"id"`
	WorkflowId     string         `db:"workflow_id"`
	Name           string         `db:"name"`
	ScriptId       sql.NullString `db:"script_id"`
	CustomScriptId sql.NullString `db:"custom_script_id"`
	InputParams    string         `db:"input_params"`
	MaxRetries     int64          `db:"max_retries"`
	TimeoutSeconds int64          `db:"timeout_seconds"`
	IsDeleted      bool           `db:"is_deleted"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// Params decodes the stored parameter set.
func (n *Node) Params() (types.ParamSet, error) {
	params := types.ParamSet{}
	if n.InputParams == "" {
		return params, nil
	}
	err := json.Unmarshal([]byte(n.InputParams), &params)
	return params, err
}

// Edge mirrors one row of edges.
type Edge struct {
	Id         string    `db:"id"`
	WorkflowId string    `db:"workflow_id"`
	FromNodeId string    `db:"from_node_id"`
	ToNodeId   string    `db:"to_node_id"`
	IsDeleted  bool      `db:"is_deleted"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Trigger mirrors one row of triggers.
type Trigger struct {
	Id           string    `db:"id"`
	WorkflowId   string    `db:"workflow_id"`
	Name         string    `db:"name"`
	Type         string    `db:"type"`
	Config       string    `db:"config"`
	InputMapping string    `db:"input_mapping"`
	IsEnabled    bool      `db:"is_enabled"`
	IsDefault    bool      `db:"is_default"`
	IsDeleted    bool      `db:"is_deleted"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Mapping decodes the stored input mapping.
func (t *Trigger) Mapping() (types.InputMapping, error) {
	mapping := types.InputMapping{}
	if t.InputMapping == "" || t.InputMapping == "{}" {
		return mapping, nil
	}
	err := json.Unmarshal([]byte(t.InputMapping), &mapping)
	return mapping, err
}

// CronExpression returns the cron spec of a SCHEDULED trigger's config.
func (t *Trigger) CronExpression() string {
	var cfg struct {
		Cron string `json:"cron"`
	}
	if err := json.Unmarshal([]byte(t.Config), &cfg); err != nil {
		return ""
	}
	return cfg.Cron
}

// Script mirrors one row of scripts.
type Script struct {
	Id               string    `db:"id"`
	Name             string    `db:"name"`
	Content          string    `db:"content"`
	FilePath         string    `db:"file_path"`
	ProcessType      string    `db:"process_type"`
	RequiredPackages string    `db:"required_packages"`
	InputSchema      string    `db:"input_schema"`
	OutputSchema     string    `db:"output_schema"`
	IsDeleted        bool      `db:"is_deleted"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// CustomScript mirrors one row of custom_scripts.
type CustomScript struct {
	Id               string    `db:"id"`
	WorkspaceId      string    `db:"workspace_id"`
	Name             string    `db:"name"`
	Content          string    `db:"content"`
	FilePath         string    `db:"file_path"`
	ProcessType      string    `db:"process_type"`
	RequiredPackages string    `db:"required_packages"`
	InputSchema      string    `db:"input_schema"`
	OutputSchema     string    `db:"output_schema"`
	ApprovalStatus   string    `db:"approval_status"`
	TestStatus       string    `db:"test_status"`
	IsDeleted        bool      `db:"is_deleted"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

// Variable mirrors one row of variables. Secret values hold secret-box tokens.
type Variable struct {
	Id          string    `db:"id"`
	WorkspaceId string    `db:"workspace_id"`
	Key         string    `db:"key_name"`
	Value       string    `db:"value"`
	IsSecret    bool      `db:"is_secret"`
	IsDeleted   bool      `db:"is_deleted"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Credential mirrors one row of credentials. Data is a JSON object whose
// fields listed in SecretFields are secret-box tokens.
type Credential struct {
	Id           string    `db:"id"`
	WorkspaceId  string    `db:"workspace_id"`
	Name         string    `db:"name"`
	Type         string    `db:"type"`
	Data         string    `db:"data"`
	SecretFields string    `db:"secret_fields"`
	IsDeleted    bool      `db:"is_deleted"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// DatabaseConnection mirrors one row of database_connections. Password holds
// a secret-box token.
type DatabaseConnection struct {
	Id           string    `db:"id"`
	WorkspaceId  string    `db:"workspace_id"`
	Name         string    `db:"name"`
	Engine       string    `db:"engine"`
	Host         string    `db:"host"`
	Port         int64     `db:"port"`
	Username     string    `db:"username"`
	Password     string    `db:"password"`
	DatabaseName string    `db:"database_name"`
	Options      string    `db:"options"`
	IsDeleted    bool      `db:"is_deleted"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// File mirrors one row of files.
type File struct {
	Id          string    `db:"id"`
	WorkspaceId string    `db:"workspace_id"`
	Name        string    `db:"name"`
	Path        string    `db:"path"`
	SizeBytes   int64     `db:"size_bytes"`
	ContentType string    `db:"content_type"`
	IsDeleted   bool      `db:"is_deleted"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// APIKey mirrors one row of api_keys. Only the HMAC hash and a display hint
// are stored; the opaque key itself is shown once at creation.
type APIKey struct {
	Id          string       `db:"id"`
	WorkspaceId string       `db:"workspace_id"`
	Name        string       `db:"name"`
	KeyHash     string       `db:"key_hash"`
	KeyHint     string       `db:"key_hint"`
	Permissions string       `db:"permissions"`
	AllowedIPs  string       `db:"allowed_ips"`
	ExpiresAt   sql.NullTime `db:"expires_at"`
	IsActive    bool         `db:"is_active"`
	UsageCount  int64        `db:"usage_count"`
	LastUsedAt  sql.NullTime `db:"last_used_at"`
	IsDeleted   bool         `db:"is_deleted"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// Execution mirrors one row of executions.
type Execution struct {
	Id                string         `db:"id"`
	WorkspaceId       string         `db:"workspace_id"`
	WorkflowId        string         `db:"workflow_id"`
	TriggerId         sql.NullString `db:"trigger_id"`
	Status            string         `db:"status"`
	TriggerData       string         `db:"trigger_data"`
	Results           string         `db:"results"`
	PlannedNodes      int64          `db:"planned_nodes"`
	IsCancelRequested bool           `db:"is_cancel_requested"`
	StartedAt         sql.NullTime   `db:"started_at"`
	EndedAt           sql.NullTime   `db:"ended_at"`
	Duration          float64        `db:"duration"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// TriggerPayload decodes the validated trigger data.
func (e *Execution) TriggerPayload() (map[string]any, error) {
	payload := map[string]any{}
	if e.TriggerData == "" {
		return payload, nil
	}
	err := json.Unmarshal([]byte(e.TriggerData), &payload)
	return payload, err
}

// ExecutionInput mirrors one row of execution_inputs: the immutable per-node
// snapshot taken at planning time.
type ExecutionInput struct {
	Id              string       `db:"id"`
	ExecutionId     string       `db:"execution_id"`
	NodeId          string       `db:"node_id"`
	NodeName        string       `db:"node_name"`
	State           string       `db:"state"`
	Priority        int64        `db:"priority"`
	DependencyCount int64        `db:"dependency_count"`
	MaxRetries      int64        `db:"max_retries"`
	TimeoutSeconds  int64        `db:"timeout_seconds"`
	Params          string       `db:"params"`
	ScriptName      string       `db:"script_name"`
	ScriptPath      string       `db:"script_path"`
	ProcessType     string       `db:"process_type"`
	ClaimedAt       sql.NullTime `db:"claimed_at"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

// ParamSet decodes the snapshotted parameters.
func (e *ExecutionInput) ParamSet() (types.ParamSet, error) {
	params := types.ParamSet{}
	if e.Params == "" {
		return params, nil
	}
	err := json.Unmarshal([]byte(e.Params), &params)
	return params, err
}

// Fanout mirrors one row of execution_fanout: a planner-recorded downstream
// link consumed by the output collector.
type Fanout struct {
	ExecutionId      string `db:"execution_id"`
	NodeId           string `db:"node_id"`
	DownstreamNodeId string `db:"downstream_node_id"`
}

// ExecutionOutput mirrors one row of execution_outputs.
type ExecutionOutput struct {
	Id           string    `db:"id"`
	ExecutionId  string    `db:"execution_id"`
	NodeId       string    `db:"node_id"`
	Status       string    `db:"status"`
	ResultData   string    `db:"result_data"`
	Duration     float64   `db:"duration"`
	ErrorMessage string    `db:"error_message"`
	ErrorDetails string    `db:"error_details"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Result decodes the stored result data.
func (e *ExecutionOutput) Result() (any, error) {
	if e.ResultData == "" {
		return nil, nil
	}
	var out any
	err := json.Unmarshal([]byte(e.ResultData), &out)
	return out, err
}
