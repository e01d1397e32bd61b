/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"k8s.io/klog/v2"

	"github.com/miniflowhq/miniflow/pkg/types"
)

const (
	TExecutionInput = "execution_inputs"
	TFanout         = "execution_fanout"
)

var (
	insertInputCmd = fmt.Sprintf(`INSERT INTO %s (id, execution_id, node_id, node_name, state,
		priority, dependency_count, max_retries, timeout_seconds, params, script_name,
		script_path, process_type, claimed_at, created_at, updated_at)
		VALUES (:id, :execution_id, :node_id, :node_name, :state, :priority,
		:dependency_count, :max_retries, :timeout_seconds, :params, :script_name,
		:script_path, :process_type, :claimed_at, :created_at, :updated_at)`, TExecutionInput)

	insertFanoutCmd = fmt.Sprintf(`INSERT INTO %s (execution_id, node_id, downstream_node_id)
		VALUES (:execution_id, :node_id, :downstream_node_id)`, TFanout)

	markExecutionRunningCmd = fmt.Sprintf(`UPDATE %s SET status = ?, planned_nodes = ?,
		started_at = ?, updated_at = ? WHERE id = ? AND status = ?`, TExecution)

	listReadyCandidatesCmd = fmt.Sprintf(`SELECT * FROM %s WHERE state = ?
		ORDER BY priority DESC, created_at ASC LIMIT ?`, TExecutionInput)
	claimInputCmd = fmt.Sprintf(`UPDATE %s SET state = ?, claimed_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`, TExecutionInput)

	deleteInputCmd              = fmt.Sprintf(`DELETE FROM %s WHERE execution_id = ? AND node_id = ?`, TExecutionInput)
	deleteInputsForExecutionCmd = fmt.Sprintf(`DELETE FROM %s WHERE execution_id = ?`, TExecutionInput)
	deleteFanoutForExecutionCmd = fmt.Sprintf(`DELETE FROM %s WHERE execution_id = ?`, TFanout)

	listInputsForExecutionCmd = fmt.Sprintf(`SELECT * FROM %s WHERE execution_id = ?`, TExecutionInput)

	releaseExpiredClaimsCmd = fmt.Sprintf(`UPDATE %s SET state = ?, claimed_at = NULL,
		updated_at = ? WHERE state = ? AND claimed_at < ?`, TExecutionInput)

	listDownstreamCmd = fmt.Sprintf(`SELECT * FROM %s WHERE execution_id = ? AND node_id = ?`, TFanout)
)

// ApplyPlan persists a planner snapshot in one transaction: every
// ExecutionInput, every fanout link, and the PENDING to RUNNING promotion of
// the execution itself.
func (c *Client) ApplyPlan(ctx context.Context, executionID string, inputs []*ExecutionInput, fanout []*Fanout) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		ts := now()
		for _, input := range inputs {
			input.CreatedAt, input.UpdatedAt = ts, ts
			if _, err := tx.NamedExec(insertInputCmd, input); err != nil {
				klog.ErrorS(err, "failed to insert execution input", "execution", executionID, "node", input.NodeId)
				return err
			}
		}
		for _, link := range fanout {
			if _, err := tx.NamedExec(insertFanoutCmd, link); err != nil {
				klog.ErrorS(err, "failed to insert fanout link", "execution", executionID, "node", link.NodeId)
				return err
			}
		}
		if _, err := tx.Exec(c.rebind(markExecutionRunningCmd), types.ExecutionRunning,
			len(inputs), ts, ts, executionID, types.ExecutionPending); err != nil {
			klog.ErrorS(err, "failed to mark execution running", "execution", executionID)
			return err
		}
		return nil
	})
}

// ClaimReadyInputs atomically moves up to batch READY inputs to IN_FLIGHT and
// returns them. Each candidate is claimed with a compare-and-set on its
// state, so concurrent loops never hand the same input to two workers.
func (c *Client) ClaimReadyInputs(ctx context.Context, batch int) ([]*ExecutionInput, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var candidates []*ExecutionInput
	if err := db.SelectContext(ctx, &candidates, c.rebind(listReadyCandidatesCmd), types.InputReady, batch); err != nil {
		klog.ErrorS(err, "failed to select ready inputs")
		return nil, err
	}
	claimed := make([]*ExecutionInput, 0, len(candidates))
	for _, input := range candidates {
		ts := now()
		res, err := db.ExecContext(ctx, c.rebind(claimInputCmd),
			types.InputInFlight, ts, ts, input.Id, types.InputReady)
		if err != nil {
			klog.ErrorS(err, "failed to claim input", "id", input.Id)
			return claimed, err
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			input.State = types.InputInFlight
			claimed = append(claimed, input)
		}
	}
	return claimed, nil
}

// DeleteInput removes an input after the runtime acknowledged its dispatch.
func (c *Client) DeleteInput(ctx context.Context, executionID, nodeID string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, c.rebind(deleteInputCmd), executionID, nodeID); err != nil {
		klog.ErrorS(err, "failed to delete execution input", "execution", executionID, "node", nodeID)
		return err
	}
	return nil
}

// ListInputsForExecution returns every remaining input of an execution.
func (c *Client) ListInputsForExecution(ctx context.Context, executionID string) ([]*ExecutionInput, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var inputs []*ExecutionInput
	err = db.SelectContext(ctx, &inputs, c.rebind(listInputsForExecutionCmd), executionID)
	return inputs, err
}

// ReleaseExpiredClaims sweeps IN_FLIGHT rows whose claim outlived the lease
// back to READY. Covers scheduler crashes between claim and acknowledgement.
func (c *Client) ReleaseExpiredClaims(ctx context.Context, lease time.Duration) (int64, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	cutoff := now().Add(-lease)
	res, err := db.ExecContext(ctx, c.rebind(releaseExpiredClaimsCmd),
		types.InputReady, now(), types.InputInFlight, cutoff)
	if err != nil {
		klog.ErrorS(err, "failed to release expired claims")
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// ListDownstream returns the planner-recorded fanout links of a node.
func (c *Client) ListDownstream(ctx context.Context, executionID, nodeID string) ([]*Fanout, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var links []*Fanout
	err = db.SelectContext(ctx, &links, c.rebind(listDownstreamCmd), executionID, nodeID)
	return links, err
}
