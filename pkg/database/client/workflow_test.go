/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/miniflowhq/miniflow/pkg/types"
)

func TestInsertWorkflowGraph(t *testing.T) {
	c, mock := newMockClient(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO workflows`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, c.InsertWorkflow(ctx, &Workflow{
		Id: "WFL-1", WorkspaceId: "WSP-1", Name: "nightly-sync",
		Status: types.WorkflowDraft, Priority: 5,
	}))

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO nodes`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, c.InsertNode(ctx, &Node{
		Id: "NOD-A", WorkflowId: "WFL-1", Name: "fetch",
		InputParams: `{"url": {"type": "string"}}`, MaxRetries: 2, TimeoutSeconds: 30,
	}))

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO edges`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, c.InsertEdge(ctx, &Edge{
		Id: "EDG-1", WorkflowId: "WFL-1", FromNodeId: "NOD-A", ToNodeId: "NOD-B",
	}))

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO triggers`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, c.InsertTrigger(ctx, &Trigger{
		Id: "TRG-1", WorkflowId: "WFL-1", Type: types.TriggerManual,
	}))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustWorkspaceCounter(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE workspaces SET current_workflow_count = current_workflow_count + ?`)).
		WithArgs(int64(1), sqlmock.AnyArg(), "WSP-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := c.AdjustWorkspaceCounter(context.Background(), nil, "WSP-1", types.ResourceWorkflows, 1)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdjustWorkspaceCounterUnknownResource(t *testing.T) {
	c, _ := newMockClient(t)
	err := c.AdjustWorkspaceCounter(context.Background(), nil, "WSP-1", types.ResourceMembers, 1)
	require.Error(t, err)
}

func TestGetOutputNotRecorded(t *testing.T) {
	c, mock := newMockClient(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM execution_outputs`)).
		WithArgs("EXC-1", "NOD-A").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := c.GetOutput(context.Background(), "EXC-1", "NOD-A")
	require.Error(t, err)
}
