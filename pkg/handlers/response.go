/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package handlers implements the HTTP surface: request handlers plus the
// response envelopes every route answers with.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	apierrors "github.com/miniflowhq/miniflow/pkg/errors"
	"github.com/miniflowhq/miniflow/pkg/trace"
)

// Response wraps every successful answer.
type Response struct {
	Status    string `json:"status"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	TraceId   string `json:"traceId"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// ErrorResponse wraps every failure.
type ErrorResponse struct {
	Status       string         `json:"status"`
	Code         int            `json:"code"`
	TraceId      string         `json:"traceId"`
	Timestamp    string         `json:"timestamp"`
	ErrorMessage string         `json:"error_message"`
	ErrorCode    string         `json:"error_code"`
	Details      map[string]any `json:"details,omitempty"`
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// OK answers 200 with data.
func OK(c *gin.Context, data any) {
	respond(c, http.StatusOK, data)
}

// Created answers 201 with data.
func Created(c *gin.Context, data any) {
	respond(c, http.StatusCreated, data)
}

func respond(c *gin.Context, code int, data any) {
	c.JSON(code, Response{
		Status:    "success",
		Code:      code,
		Message:   http.StatusText(code),
		TraceId:   trace.IDOf(c),
		Timestamp: timestamp(),
		Data:      data,
	})
}

// AbortWithApiError renders err in the failure envelope and stops the
// handler chain. Rate-limit errors additionally answer a Retry-After header.
func AbortWithApiError(c *gin.Context, err error) {
	status := apierrors.HTTPStatusOf(err)
	code := apierrors.GetErrorCode(err)
	if code == "" {
		code = apierrors.InternalError
	}
	if status >= http.StatusInternalServerError {
		klog.ErrorS(err, "request failed", "path", c.FullPath(), "traceId", trace.IDOf(c))
	}
	if retryAfter := apierrors.RetryAfterOf(err); retryAfter > 0 {
		c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		Status:       "error",
		Code:         status,
		TraceId:      trace.IDOf(c),
		Timestamp:    timestamp(),
		ErrorMessage: err.Error(),
		ErrorCode:    code,
		Details:      apierrors.DetailsOf(err),
	})
}
