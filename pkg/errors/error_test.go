/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCodesAndStatuses(t *testing.T) {
	cases := []struct {
		err      *StatusError
		code     string
		httpCode int
	}{
		{NewValidationError("bad body"), ValidationError, http.StatusUnprocessableEntity},
		{NewInvalidInput("bad field"), InvalidInput, http.StatusBadRequest},
		{NewNotFound("Workflow", "WFL-0000000000000001"), ResourceNotFound, http.StatusNotFound},
		{NewAlreadyExists("Workflow", "daily-report"), ResourceAlreadyExists, http.StatusConflict},
		{NewBusinessRuleViolation("cannot activate empty workflow"), BusinessRuleViolation, http.StatusBadRequest},
		{NewQuotaExceeded("workflows", 5, 5), QuotaExceeded, http.StatusBadRequest},
		{NewRateLimited(30 * time.Second), RateLimited, http.StatusTooManyRequests},
		{NewForbidden("not a member"), Forbidden, http.StatusForbidden},
		{NewTokenInvalid("expired"), TokenInvalid, http.StatusUnauthorized},
		{NewTriggerDisabled("TRG-0000000000000001"), TriggerDisabled, http.StatusBadRequest},
		{NewSecretIntegrity("authentication failed"), SecretIntegrity, http.StatusInternalServerError},
		{NewInternalError("boom"), InternalError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, GetErrorCode(tc.err))
		assert.Equal(t, tc.httpCode, HTTPStatusOf(tc.err))
	}
}

func TestPredicatesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("starting execution: %w", NewTriggerDisabled("TRG-0000000000000001"))
	assert.True(t, IsTriggerDisabled(err))
	assert.False(t, IsNotFound(err))
	assert.Equal(t, TriggerDisabled, GetErrorCode(err))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusOf(err))
}

func TestForeignErrors(t *testing.T) {
	err := stderrors.New("plain")
	assert.Equal(t, "", GetErrorCode(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusOf(err))
	assert.False(t, IsNotFound(err))
	assert.Nil(t, DetailsOf(err))
}

func TestQuotaDetails(t *testing.T) {
	err := NewQuotaExceeded("concurrent_executions", 3, 3)
	details := DetailsOf(err)
	assert.Equal(t, "concurrent_executions", details["resource"])
	assert.Equal(t, int64(3), details["current"])
	assert.Equal(t, int64(3), details["limit"])
}

func TestRetryAfter(t *testing.T) {
	assert.Equal(t, int64(30), RetryAfterOf(NewRateLimited(30*time.Second)))
	assert.Equal(t, int64(1), RetryAfterOf(NewRateLimited(200*time.Millisecond)))
	assert.Equal(t, int64(0), RetryAfterOf(NewForbidden("x")))
}

func TestIgnoreNotFound(t *testing.T) {
	assert.NoError(t, IgnoreNotFound(nil))
	assert.NoError(t, IgnoreNotFound(NewNotFound("Trigger", "TRG-0000000000000001")))
	assert.Error(t, IgnoreNotFound(NewForbidden("x")))
}

func TestWithDetail(t *testing.T) {
	err := NewScriptMissing("/scripts/gone.py").WithDetail("process_type", "python")
	assert.Equal(t, "python", DetailsOf(err)["process_type"])
	assert.Equal(t, "/scripts/gone.py", DetailsOf(err)["script_path"])
}
