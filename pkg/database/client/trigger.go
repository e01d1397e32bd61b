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

	"k8s.io/klog/v2"

	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/types"
)

const TTrigger = "triggers"

var (
	getTriggerCmd        = fmt.Sprintf(`SELECT * FROM %s WHERE id = ? AND is_deleted = ? LIMIT 1`, TTrigger)
	countTriggersCmd     = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE workflow_id = ? AND is_deleted = ?`, TTrigger)
	setTriggerEnabledCmd = fmt.Sprintf(`UPDATE %s SET is_enabled = ?, updated_at = ? WHERE id = ?`, TTrigger)
	listTriggersCmd      = fmt.Sprintf(`SELECT * FROM %s WHERE workflow_id = ? AND is_deleted = ? ORDER BY created_at ASC`, TTrigger)

	// enabled SCHEDULED triggers whose workflow is ACTIVE, for the cron runner
	listScheduledCmd = fmt.Sprintf(`SELECT t.* FROM %s t
		JOIN %s w ON w.id = t.workflow_id
		WHERE t.type = ? AND t.is_enabled = ? AND t.is_deleted = ?
		  AND w.status = ? AND w.is_deleted = ?`, TTrigger, TWorkflow)

	insertTriggerCmd = fmt.Sprintf(`INSERT INTO %s (id, workflow_id, name, type, config,
		input_mapping, is_enabled, is_default, is_deleted, created_at, updated_at)
		VALUES (:id, :workflow_id, :name, :type, :config, :input_mapping, :is_enabled,
		:is_default, :is_deleted, :created_at, :updated_at)`, TTrigger)
)

// GetTrigger returns one live trigger by id.
func (c *Client) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var trigger Trigger
	if err := db.GetContext(ctx, &trigger, c.rebind(getTriggerCmd), id, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFound("trigger", id)
		}
		klog.ErrorS(err, "failed to select trigger", "id", id)
		return nil, err
	}
	return &trigger, nil
}

// CountWorkflowTriggers returns how many live triggers the workflow has.
func (c *Client) CountWorkflowTriggers(ctx context.Context, workflowID string) (int64, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	var cnt int64
	err = db.GetContext(ctx, &cnt, c.rebind(countTriggersCmd), workflowID, false)
	return cnt, err
}

// ListWorkflowTriggers returns every live trigger of the workflow.
func (c *Client) ListWorkflowTriggers(ctx context.Context, workflowID string) ([]*Trigger, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var triggers []*Trigger
	err = db.SelectContext(ctx, &triggers, c.rebind(listTriggersCmd), workflowID, false)
	return triggers, err
}

// SetTriggerEnabled flips a single trigger's enablement.
func (c *Client) SetTriggerEnabled(ctx context.Context, triggerID string, enabled bool) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, c.rebind(setTriggerEnabledCmd), enabled, now(), triggerID); err != nil {
		klog.ErrorS(err, "failed to update trigger enablement", "id", triggerID, "enabled", enabled)
		return err
	}
	return nil
}

// ListRunnableScheduledTriggers returns the enabled SCHEDULED triggers of
// ACTIVE workflows, for cron registration.
func (c *Client) ListRunnableScheduledTriggers(ctx context.Context) ([]*Trigger, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var triggers []*Trigger
	err = db.SelectContext(ctx, &triggers, c.rebind(listScheduledCmd),
		types.TriggerScheduled, true, false, types.WorkflowActive, false)
	return triggers, err
}

// InsertTrigger writes one trigger row.
func (c *Client) InsertTrigger(ctx context.Context, trigger *Trigger) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	trigger.CreatedAt, trigger.UpdatedAt = now(), now()
	if _, err := db.NamedExecContext(ctx, insertTriggerCmd, trigger); err != nil {
		klog.ErrorS(err, "failed to insert trigger", "id", trigger.Id, "workflow", trigger.WorkflowId)
		return err
	}
	return nil
}
