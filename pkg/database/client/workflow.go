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
)

const (
	TWorkflow = "workflows"
	TNode     = "nodes"
	TEdge     = "edges"
)

var (
	getWorkflowCmd   = fmt.Sprintf(`SELECT * FROM %s WHERE id = ? AND is_deleted = ? LIMIT 1`, TWorkflow)
	countNodesCmd    = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE workflow_id = ? AND is_deleted = ?`, TNode)
	listNodesCmd     = fmt.Sprintf(`SELECT * FROM %s WHERE workflow_id = ? AND is_deleted = ? ORDER BY created_at ASC`, TNode)
	listEdgesCmd     = fmt.Sprintf(`SELECT * FROM %s WHERE workflow_id = ? AND is_deleted = ? ORDER BY created_at ASC`, TEdge)
	getNodeCmd       = fmt.Sprintf(`SELECT * FROM %s WHERE id = ? AND is_deleted = ? LIMIT 1`, TNode)
	getEdgeByPairCmd = fmt.Sprintf(`SELECT * FROM %s WHERE from_node_id = ? AND to_node_id = ? AND is_deleted = ? LIMIT 1`, TEdge)

	setWorkflowStatusCmd = fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE id = ?`, TWorkflow)
	cascadeTriggersCmd   = fmt.Sprintf(`UPDATE %s SET is_enabled = ?, updated_at = ? WHERE workflow_id = ? AND is_enabled = ? AND is_deleted = ?`, TTrigger)

	insertNodeCmd = fmt.Sprintf(`INSERT INTO %s (id, workflow_id, name, script_id, custom_script_id,
		input_params, max_retries, timeout_seconds, is_deleted, created_at, updated_at)
		VALUES (:id, :workflow_id, :name, :script_id, :custom_script_id, :input_params,
		:max_retries, :timeout_seconds, :is_deleted, :created_at, :updated_at)`, TNode)
	insertEdgeCmd = fmt.Sprintf(`INSERT INTO %s (id, workflow_id, from_node_id, to_node_id,
		is_deleted, created_at, updated_at)
		VALUES (:id, :workflow_id, :from_node_id, :to_node_id, :is_deleted, :created_at, :updated_at)`, TEdge)
	insertWorkflowCmd = fmt.Sprintf(`INSERT INTO %s (id, workspace_id, name, description, status,
		priority, is_deleted, created_at, updated_at)
		VALUES (:id, :workspace_id, :name, :description, :status, :priority, :is_deleted,
		:created_at, :updated_at)`, TWorkflow)
)

// GetWorkflow returns one live workflow by id.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var wf Workflow
	if err := db.GetContext(ctx, &wf, c.rebind(getWorkflowCmd), id, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFound("workflow", id)
		}
		klog.ErrorS(err, "failed to select workflow", "id", id)
		return nil, err
	}
	return &wf, nil
}

// CountWorkflowNodes returns how many live nodes the workflow has.
func (c *Client) CountWorkflowNodes(ctx context.Context, workflowID string) (int64, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	var cnt int64
	err = db.GetContext(ctx, &cnt, c.rebind(countNodesCmd), workflowID, false)
	return cnt, err
}

// ListWorkflowNodes returns every live node of the workflow.
func (c *Client) ListWorkflowNodes(ctx context.Context, workflowID string) ([]*Node, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var nodes []*Node
	err = db.SelectContext(ctx, &nodes, c.rebind(listNodesCmd), workflowID, false)
	return nodes, err
}

// ListWorkflowEdges returns every live edge of the workflow.
func (c *Client) ListWorkflowEdges(ctx context.Context, workflowID string) ([]*Edge, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var edges []*Edge
	err = db.SelectContext(ctx, &edges, c.rebind(listEdgesCmd), workflowID, false)
	return edges, err
}

// GetNode returns one live node by id.
func (c *Client) GetNode(ctx context.Context, id string) (*Node, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	var node Node
	if err := db.GetContext(ctx, &node, c.rebind(getNodeCmd), id, false); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierrors.NewNotFound("node", id)
		}
		klog.ErrorS(err, "failed to select node", "id", id)
		return nil, err
	}
	return &node, nil
}

// EdgeExists reports whether a live edge already joins the pair.
func (c *Client) EdgeExists(ctx context.Context, fromNodeID, toNodeID string) (bool, error) {
	db, err := c.getDB()
	if err != nil {
		return false, err
	}
	var edge Edge
	err = db.GetContext(ctx, &edge, c.rebind(getEdgeByPairCmd), fromNodeID, toNodeID, false)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// SetWorkflowStatus writes the workflow status and, when cascade is non-nil,
// flips every trigger whose is_enabled equals !*cascade in the same
// transaction. Cascade true enables triggers, false disables them.
func (c *Client) SetWorkflowStatus(ctx context.Context, workflowID, status string, cascade *bool) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.Exec(c.rebind(setWorkflowStatusCmd), status, now(), workflowID); err != nil {
			klog.ErrorS(err, "failed to update workflow status", "id", workflowID, "status", status)
			return err
		}
		if cascade != nil {
			if _, err := tx.Exec(c.rebind(cascadeTriggersCmd), *cascade, now(), workflowID, !*cascade, false); err != nil {
				klog.ErrorS(err, "failed to cascade trigger enablement", "workflow", workflowID, "enabled", *cascade)
				return err
			}
		}
		return nil
	})
}

// InsertWorkflow writes one workflow row.
func (c *Client) InsertWorkflow(ctx context.Context, wf *Workflow) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	wf.CreatedAt, wf.UpdatedAt = now(), now()
	if _, err := db.NamedExecContext(ctx, insertWorkflowCmd, wf); err != nil {
		klog.ErrorS(err, "failed to insert workflow", "id", wf.Id)
		return err
	}
	return nil
}

// InsertNode writes one node row.
func (c *Client) InsertNode(ctx context.Context, node *Node) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	node.CreatedAt, node.UpdatedAt = now(), now()
	if _, err := db.NamedExecContext(ctx, insertNodeCmd, node); err != nil {
		klog.ErrorS(err, "failed to insert node", "id", node.Id, "workflow", node.WorkflowId)
		return err
	}
	return nil
}

// InsertEdge writes one edge row.
func (c *Client) InsertEdge(ctx context.Context, edge *Edge) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	edge.CreatedAt, edge.UpdatedAt = now(), now()
	if _, err := db.NamedExecContext(ctx, insertEdgeCmd, edge); err != nil {
		klog.ErrorS(err, "failed to insert edge", "id", edge.Id, "workflow", edge.WorkflowId)
		return err
	}
	return nil
}
