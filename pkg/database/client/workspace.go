/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"k8s.io/klog/v2"

	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/types"
)

const (
	TWorkspace = "workspaces"
	TMember    = "workspace_members"
)

var (
	getWorkspaceCmd = fmt.Sprintf(`SELECT * FROM %s WHERE id = ? AND is_deleted = ? LIMIT 1`, TWorkspace)

	countMembersCmd = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE workspace_id = ? AND is_deleted = ?`, TMember)
	getMemberCmd    = fmt.Sprintf(`SELECT * FROM %s WHERE workspace_id = ? AND user_id = ? AND is_deleted = ? LIMIT 1`, TMember)

	adjustWorkflowCountCmd = fmt.Sprintf(`UPDATE %s SET current_workflow_count = current_workflow_count + ?, updated_at = ? WHERE id = ?`, TWorkspace)
	adjustScriptCountCmd   = fmt.Sprintf(`UPDATE %s SET current_custom_script_count = current_custom_script_count + ?, updated_at = ? WHERE id = ?`, TWorkspace)
	adjustStorageBytesCmd  = fmt.Sprintf(`UPDATE %s SET current_storage_bytes = current_storage_bytes + ?, updated_at = ? WHERE id = ?`, TWorkspace)
)

// GetWorkspace returns one live workspace by id.
func (c *Client) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var ws Workspace
	if err := db.GetContext(ctx, &ws, c.rebind(getWorkspaceCmd), id, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFound("workspace", id)
		}
		klog.ErrorS(err, "failed to select workspace", "id", id)
		return nil, err
	}
	return &ws, nil
}

// GetWorkspacePlan returns the plan limits the workspace is on.
func (c *Client) GetWorkspacePlan(ctx context.Context, workspaceID string) (types.PlanLimits, error) {
	ws, err := c.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return types.PlanLimits{}, err
	}
	plan, err := c.GetPlanByTier(ctx, ws.PlanTier)
	if err != nil {
		return types.PlanLimits{}, err
	}
	return plan.Limits(), nil
}

// GetMember returns the membership row of a user in a workspace.
func (c *Client) GetMember(ctx context.Context, workspaceID, userID string) (*WorkspaceMember, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var member WorkspaceMember
	if err := db.GetContext(ctx, &member, c.rebind(getMemberCmd), workspaceID, userID, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFound("member", userID)
		}
		klog.ErrorS(err, "failed to select member", "workspace", workspaceID, "user", userID)
		return nil, err
	}
	return &member, nil
}

// WorkspaceCounter returns the live usage for a quota-counted resource. Run
// inside tx the read takes a row-level lock on backends that support it, so
// the check serializes against concurrent creators for the length of the
// transaction that admits the mutation.
func (c *Client) WorkspaceCounter(ctx context.Context, tx *sqlx.Tx, workspaceID, resource string) (int64, error) {
	q, err := c.reader(tx)
	if err != nil {
		return 0, err
	}
	lock := ""
	if tx != nil && c.cfg != nil && c.cfg.SupportsRowLock() {
		lock = " FOR UPDATE"
	}
	switch resource {
	case types.ResourceMembers:
		var cnt int64
		err = q.GetContext(ctx, &cnt, c.rebind(countMembersCmd), workspaceID, false)
		return cnt, err
	case types.ResourceAPIKeys:
		var cnt int64
		err = q.GetContext(ctx, &cnt, c.rebind(countAPIKeysCmd), workspaceID, false)
		return cnt, err
	case types.ResourceMonthlyExecutions:
		return c.countExecutionsThisMonth(ctx, q, workspaceID)
	case types.ResourceConcurrentExecutions:
		return c.countActiveExecutions(ctx, q, workspaceID)
	case types.ResourceWorkflows, types.ResourceCustomScripts, types.ResourceStorageBytes:
		column := map[string]string{
			types.ResourceWorkflows:     "current_workflow_count",
			types.ResourceCustomScripts: "current_custom_script_count",
			types.ResourceStorageBytes:  "current_storage_bytes",
		}[resource]
		cmd := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? AND is_deleted = ?%s`, column, TWorkspace, lock)
		var cnt int64
		if err = q.GetContext(ctx, &cnt, c.rebind(cmd), workspaceID, false); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, apierrors.NewNotFound("workspace", workspaceID)
			}
			return 0, err
		}
		return cnt, nil
	default:
		return 0, apierrors.NewInternalError(fmt.Sprintf("unknown quota resource %q", resource))
	}
}

// AdjustWorkspaceCounter moves one of the derived workspace counters by
// delta. Callers run it in the same transaction as the locked counter read
// that admitted the change.
func (c *Client) AdjustWorkspaceCounter(ctx context.Context, tx *sqlx.Tx, workspaceID, resource string, delta int64) error {
	var cmd string
	switch resource {
	case types.ResourceWorkflows:
		cmd = adjustWorkflowCountCmd
	case types.ResourceCustomScripts:
		cmd = adjustScriptCountCmd
	case types.ResourceStorageBytes:
		cmd = adjustStorageBytesCmd
	default:
		return apierrors.NewInternalError(fmt.Sprintf("resource %q has no derived counter", resource))
	}
	var ex sqlx.ExecerContext = tx
	if tx == nil {
		db, err := c.getDB()
		if err != nil {
			return err
		}
		ex = db
	}
	if _, err := ex.ExecContext(ctx, c.rebind(cmd), delta, now(), workspaceID); err != nil {
		klog.ErrorS(err, "failed to adjust workspace counter", "workspace", workspaceID, "resource", resource)
		return err
	}
	return nil
}

// insertWorkspaceTx seeds a workspace row inside a transaction. Used by setup
// and tests.
func insertWorkspaceTx(tx *sqlx.Tx, ws *Workspace) error {
	cmd := fmt.Sprintf(`INSERT INTO %s (id, slug, name, owner_user_id, plan_tier, is_suspended,
		current_workflow_count, current_custom_script_count, current_storage_bytes,
		is_deleted, created_at, updated_at)
		VALUES (:id, :slug, :name, :owner_user_id, :plan_tier, :is_suspended,
		:current_workflow_count, :current_custom_script_count, :current_storage_bytes,
		:is_deleted, :created_at, :updated_at)`, TWorkspace)
	ws.CreatedAt, ws.UpdatedAt = now(), now()
	_, err := tx.NamedExec(cmd, ws)
	return err
}
