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

const TExecutionOutput = "execution_outputs"

var (
	getOutputCmd = fmt.Sprintf(`SELECT * FROM %s WHERE execution_id = ? AND node_id = ? LIMIT 1`, TExecutionOutput)

	insertOutputCmd = fmt.Sprintf(`INSERT INTO %s (id, execution_id, node_id, status,
		result_data, duration, error_message, error_details, created_at, updated_at)
		VALUES (:id, :execution_id, :node_id, :status, :result_data, :duration,
		:error_message, :error_details, :created_at, :updated_at)`, TExecutionOutput)

	listOutputsForExecutionCmd   = fmt.Sprintf(`SELECT * FROM %s WHERE execution_id = ? ORDER BY created_at ASC`, TExecutionOutput)
	deleteOutputsForExecutionCmd = fmt.Sprintf(`DELETE FROM %s WHERE execution_id = ?`, TExecutionOutput)

	decrementDependenciesCmd = fmt.Sprintf(`UPDATE %s SET dependency_count = dependency_count - 1,
		updated_at = ? WHERE execution_id = ? AND node_id IN (?) AND state = ?`, TExecutionInput)
	promoteReadyCmd = fmt.Sprintf(`UPDATE %s SET state = ?, updated_at = ?
		WHERE execution_id = ? AND state = ? AND dependency_count <= 0`, TExecutionInput)
)

// GetOutput returns the recorded output of one node in one execution.
func (c *Client) GetOutput(ctx context.Context, executionID, nodeID string) (*ExecutionOutput, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var out ExecutionOutput
	if err := db.GetContext(ctx, &out, c.rebind(getOutputCmd), executionID, nodeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFound("execution output", executionID+"/"+nodeID)
		}
		klog.ErrorS(err, "failed to select execution output", "execution", executionID, "node", nodeID)
		return nil, err
	}
	return &out, nil
}

// ListOutputsForExecution returns every output recorded for an execution.
func (c *Client) ListOutputsForExecution(ctx context.Context, executionID string) ([]*ExecutionOutput, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var outs []*ExecutionOutput
	err = db.SelectContext(ctx, &outs, c.rebind(listOutputsForExecutionCmd), executionID)
	return outs, err
}

// ApplyIngest records one worker result in a single transaction: insert the
// output, delete the node's input, decrement the dependency counters of the
// downstream nodes, promote those reaching zero to READY, and persist any
// cancelled descendants computed by the collector. The whole call is a no-op
// when an output for the same (execution, node) already exists, which makes
// result delivery idempotent.
func (c *Client) ApplyIngest(ctx context.Context, out *ExecutionOutput, downstream []string, cancelled []*ExecutionOutput) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		var existing ExecutionOutput
		err := tx.Get(&existing, c.rebind(getOutputCmd), out.ExecutionId, out.NodeId)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		ts := now()
		out.CreatedAt, out.UpdatedAt = ts, ts
		if _, err := tx.NamedExec(insertOutputCmd, out); err != nil {
			klog.ErrorS(err, "failed to insert execution output", "execution", out.ExecutionId, "node", out.NodeId)
			return err
		}
		if _, err := tx.Exec(c.rebind(deleteInputCmd), out.ExecutionId, out.NodeId); err != nil {
			return err
		}
		if len(downstream) > 0 {
			query, args, err := sqlx.In(decrementDependenciesCmd, ts, out.ExecutionId, downstream, types.InputWaiting)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(c.rebind(query), args...); err != nil {
				klog.ErrorS(err, "failed to decrement dependencies", "execution", out.ExecutionId, "node", out.NodeId)
				return err
			}
			if _, err := tx.Exec(c.rebind(promoteReadyCmd), types.InputReady, ts,
				out.ExecutionId, types.InputWaiting); err != nil {
				klog.ErrorS(err, "failed to promote ready inputs", "execution", out.ExecutionId)
				return err
			}
		}
		// The cancel set is computed outside this transaction, so two
		// concurrent failure ingests can overlap. A node some other commit
		// already closed is skipped instead of tripping the unique
		// (execution_id, node_id) constraint and rolling back this result.
		for _, dead := range cancelled {
			var prior ExecutionOutput
			err := tx.Get(&prior, c.rebind(getOutputCmd), dead.ExecutionId, dead.NodeId)
			if err == nil {
				continue
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			dead.CreatedAt, dead.UpdatedAt = ts, ts
			if _, err := tx.NamedExec(insertOutputCmd, dead); err != nil {
				klog.ErrorS(err, "failed to record cancelled node", "execution", dead.ExecutionId, "node", dead.NodeId)
				return err
			}
			if _, err := tx.Exec(c.rebind(deleteInputCmd), dead.ExecutionId, dead.NodeId); err != nil {
				return err
			}
		}
		return nil
	})
}
