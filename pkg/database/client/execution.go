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
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"k8s.io/klog/v2"

	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/types"
)

const TExecution = "executions"

var (
	getExecutionCmd = fmt.Sprintf(`SELECT * FROM %s WHERE id = ? LIMIT 1`, TExecution)

	insertExecutionCmd = fmt.Sprintf(`INSERT INTO %s (id, workspace_id, workflow_id, trigger_id,
		status, trigger_data, results, planned_nodes, is_cancel_requested, started_at,
		ended_at, duration, created_at, updated_at)
		VALUES (:id, :workspace_id, :workflow_id, :trigger_id, :status, :trigger_data,
		:results, :planned_nodes, :is_cancel_requested, :started_at, :ended_at, :duration,
		:created_at, :updated_at)`, TExecution)

	countActiveExecutionsCmd = fmt.Sprintf(`SELECT COUNT(*) FROM %s
		WHERE workspace_id = ? AND status IN (?, ?)`, TExecution)
	countMonthExecutionsCmd = fmt.Sprintf(`SELECT COUNT(*) FROM %s
		WHERE workspace_id = ? AND created_at >= ?`, TExecution)

	requestCancelCmd = fmt.Sprintf(`UPDATE %s SET is_cancel_requested = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`, TExecution)

	listDeadlinedCmd = fmt.Sprintf(`SELECT * FROM %s WHERE status = ? AND started_at < ?`, TExecution)

	finalizeExecutionCmd = fmt.Sprintf(`UPDATE %s SET status = ?, results = ?, ended_at = ?,
		duration = ?, updated_at = ? WHERE id = ? AND status IN (?, ?)`, TExecution)
)

// GetExecution returns one execution by id.
func (c *Client) GetExecution(ctx context.Context, id string) (*Execution, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var exec Execution
	if err := db.GetContext(ctx, &exec, c.rebind(getExecutionCmd), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFound("execution", id)
		}
		klog.ErrorS(err, "failed to select execution", "id", id)
		return nil, err
	}
	return &exec, nil
}

// InsertExecution writes one PENDING execution row. The admit callback runs
// first, inside the same transaction, so a locked quota read guards exactly
// the insert it admits; a nil admit just inserts.
func (c *Client) InsertExecution(ctx context.Context, exec *Execution, admit func(tx *sqlx.Tx) error) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		if admit != nil {
			if err := admit(tx); err != nil {
				return err
			}
		}
		exec.CreatedAt, exec.UpdatedAt = now(), now()
		if _, err := tx.NamedExec(insertExecutionCmd, exec); err != nil {
			klog.ErrorS(err, "failed to insert execution", "id", exec.Id)
			return err
		}
		return nil
	})
}

// ExecutionListFilter narrows ListExecutions.
type ExecutionListFilter struct {
	WorkspaceId string
	WorkflowId  string
	Status      string
	Limit       int
	Offset      int
}

// ListExecutions returns executions of a workspace, newest first.
func (c *Client) ListExecutions(ctx context.Context, filter ExecutionListFilter) ([]*Execution, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	builder := sqrl.Select("*").PlaceholderFormat(c.cfg.Placeholder()).
		From(TExecution).
		Where(sqrl.Eq{"workspace_id": filter.WorkspaceId}).
		OrderBy("created_at DESC")
	if filter.WorkflowId != "" {
		builder = builder.Where(sqrl.Eq{"workflow_id": filter.WorkflowId})
	}
	if filter.Status != "" {
		builder = builder.Where(sqrl.Eq{"status": filter.Status})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}
	var execs []*Execution
	err = db.SelectContext(ctx, &execs, query, args...)
	return execs, err
}

// CountExecutions returns the total matching a filter, for list pagination.
func (c *Client) CountExecutions(ctx context.Context, filter ExecutionListFilter) (int64, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	builder := sqrl.Select("COUNT(*)").PlaceholderFormat(c.cfg.Placeholder()).
		From(TExecution).
		Where(sqrl.Eq{"workspace_id": filter.WorkspaceId})
	if filter.WorkflowId != "" {
		builder = builder.Where(sqrl.Eq{"workflow_id": filter.WorkflowId})
	}
	if filter.Status != "" {
		builder = builder.Where(sqrl.Eq{"status": filter.Status})
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return 0, err
	}
	var cnt int64
	err = db.GetContext(ctx, &cnt, query, args...)
	return cnt, err
}

// countActiveExecutions returns how many executions of a workspace are
// PENDING or RUNNING, for the concurrent-execution quota.
func (c *Client) countActiveExecutions(ctx context.Context, q queryer, workspaceID string) (int64, error) {
	var cnt int64
	err := q.GetContext(ctx, &cnt, c.rebind(countActiveExecutionsCmd),
		workspaceID, types.ExecutionPending, types.ExecutionRunning)
	return cnt, err
}

// countExecutionsThisMonth returns how many executions a workspace started
// since the first of the current month, for the monthly-execution quota.
func (c *Client) countExecutionsThisMonth(ctx context.Context, q queryer, workspaceID string) (int64, error) {
	nowUTC := now()
	monthStart := time.Date(nowUTC.Year(), nowUTC.Month(), 1, 0, 0, 0, 0, time.UTC)
	var cnt int64
	err := q.GetContext(ctx, &cnt, c.rebind(countMonthExecutionsCmd), workspaceID, monthStart)
	return cnt, err
}

// RequestCancel sets the cancel marker on a still-open execution.
func (c *Client) RequestCancel(ctx context.Context, executionID string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, c.rebind(requestCancelCmd), true, now(), executionID,
		types.ExecutionPending, types.ExecutionRunning)
	if err != nil {
		klog.ErrorS(err, "failed to request cancel", "id", executionID)
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return apierrors.NewBusinessRuleViolation(fmt.Sprintf("execution %s is not cancellable", executionID))
	}
	return nil
}

// ListRunningPastDeadline returns RUNNING executions that started before the
// cutoff, for the finalizer's timeout sweep.
func (c *Client) ListRunningPastDeadline(ctx context.Context, cutoff time.Time) ([]*Execution, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var execs []*Execution
	err = db.SelectContext(ctx, &execs, c.rebind(listDeadlinedCmd), types.ExecutionRunning, cutoff)
	return execs, err
}

// FinalizeExecution closes an execution: final status, aggregated results,
// ended_at/duration, and removal of its remaining inputs, outputs and fanout
// rows, all in one transaction. A second finalization attempt is a no-op
// because the status guard no longer matches.
func (c *Client) FinalizeExecution(ctx context.Context, executionID, status, results string, startedAt time.Time) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		ended := now()
		duration := float64(0)
		if !startedAt.IsZero() {
			duration = ended.Sub(startedAt).Seconds()
		}
		res, err := tx.Exec(c.rebind(finalizeExecutionCmd), status, results, ended, duration,
			ended, executionID, types.ExecutionPending, types.ExecutionRunning)
		if err != nil {
			klog.ErrorS(err, "failed to finalize execution", "id", executionID, "status", status)
			return err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return nil
		}
		for _, cmd := range []string{deleteInputsForExecutionCmd, deleteOutputsForExecutionCmd, deleteFanoutForExecutionCmd} {
			if _, err := tx.Exec(c.rebind(cmd), executionID); err != nil {
				klog.ErrorS(err, "failed to clean execution rows", "id", executionID)
				return err
			}
		}
		return nil
	})
}
