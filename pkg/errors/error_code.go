/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package errors

import (
	"fmt"
	"net/http"
	"time"
)

// Stable error codes. Request-path codes map to an HTTP status; node-level
// codes are recorded into ExecutionOutput error details by the execution
// loops and only reach HTTP when they abort a request directly.
const (
	ValidationError         = "VALIDATION_ERROR"
	InvalidInput            = "INVALID_INPUT"
	ResourceNotFound        = "RESOURCE_NOT_FOUND"
	ResourceAlreadyExists   = "RESOURCE_ALREADY_EXISTS"
	BusinessRuleViolation   = "BUSINESS_RULE_VIOLATION"
	QuotaExceeded           = "QUOTA_EXCEEDED"
	RateLimited             = "RATE_LIMITED"
	Forbidden               = "FORBIDDEN"
	InsufficientPermissions = "INSUFFICIENT_PERMISSIONS"
	TokenInvalid            = "TOKEN_INVALID"
	InvalidCredentials      = "INVALID_CREDENTIALS"
	TriggerDisabled         = "TRIGGER_DISABLED"
	InternalError           = "INTERNAL_ERROR"
)

// node-level codes
const (
	ReferenceResolution = "REFERENCE_RESOLUTION"
	TypeMismatch        = "TYPE_MISMATCH"
	NodeOutputMissing   = "NODE_OUTPUT_MISSING"
	ScriptMissing       = "SCRIPT_MISSING"
	SecretIntegrity     = "SECRET_INTEGRITY"
)

func IsNotFound(err error) bool {
	return ReasonForError(err) == ResourceNotFound
}

func IsAlreadyExists(err error) bool {
	return ReasonForError(err) == ResourceAlreadyExists
}

func IsBusinessRuleViolation(err error) bool {
	return ReasonForError(err) == BusinessRuleViolation
}

func IsQuotaExceeded(err error) bool {
	return ReasonForError(err) == QuotaExceeded
}

func IsRateLimited(err error) bool {
	return ReasonForError(err) == RateLimited
}

func IsTriggerDisabled(err error) bool {
	return ReasonForError(err) == TriggerDisabled
}

func IsTypeMismatch(err error) bool {
	return ReasonForError(err) == TypeMismatch
}

func IsSecretIntegrity(err error) bool {
	return ReasonForError(err) == SecretIntegrity
}

// IgnoreNotFound returns nil when err is a not-found error.
func IgnoreNotFound(err error) error {
	if err == nil || IsNotFound(err) {
		return nil
	}
	return err
}

func NewValidationError(message string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusUnprocessableEntity,
		Code:     ValidationError,
		Message:  message,
	}}
}

func NewInvalidInput(message string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusBadRequest,
		Code:     InvalidInput,
		Message:  message,
	}}
}

func NewNotFound(kind, id string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusNotFound,
		Code:     ResourceNotFound,
		Message:  fmt.Sprintf("%s %s not found", kind, id),
		Details:  map[string]any{"kind": kind, "id": id},
	}}
}

func NewNotFoundWithMessage(message string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusNotFound,
		Code:     ResourceNotFound,
		Message:  message,
	}}
}

func NewAlreadyExists(kind, name string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusConflict,
		Code:     ResourceAlreadyExists,
		Message:  fmt.Sprintf("%s %s already exists", kind, name),
		Details:  map[string]any{"kind": kind, "name": name},
	}}
}

func NewBusinessRuleViolation(message string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusBadRequest,
		Code:     BusinessRuleViolation,
		Message:  message,
	}}
}

func NewQuotaExceeded(resource string, current, limit int64) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusBadRequest,
		Code:     QuotaExceeded,
		Message:  fmt.Sprintf("quota exceeded for %s: %d of %d used", resource, current, limit),
		Details:  map[string]any{"resource": resource, "current": current, "limit": limit},
	}}
}

func NewRateLimited(retryAfter time.Duration) *StatusError {
	seconds := int64(retryAfter / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusTooManyRequests,
		Code:     RateLimited,
		Message:  fmt.Sprintf("rate limit exceeded, retry in %ds", seconds),
		Details:  map[string]any{"retry_after": seconds},
	}}
}

// RetryAfterOf returns the retry_after detail of a rate-limit error in
// seconds, or 0 when absent.
func RetryAfterOf(err error) int64 {
	details := DetailsOf(err)
	if details == nil {
		return 0
	}
	if v, ok := details["retry_after"].(int64); ok {
		return v
	}
	return 0
}

func NewForbidden(message string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusForbidden,
		Code:     Forbidden,
		Message:  message,
	}}
}

func NewInsufficientPermissions(message string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusForbidden,
		Code:     InsufficientPermissions,
		Message:  message,
	}}
}

func NewTokenInvalid(message string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusUnauthorized,
		Code:     TokenInvalid,
		Message:  message,
	}}
}

func NewInvalidCredentials(message string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusUnauthorized,
		Code:     InvalidCredentials,
		Message:  message,
	}}
}

func NewTriggerDisabled(triggerID string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusBadRequest,
		Code:     TriggerDisabled,
		Message:  fmt.Sprintf("trigger %s is disabled", triggerID),
	}}
}

func NewReferenceResolution(message string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusInternalServerError,
		Code:     ReferenceResolution,
		Message:  message,
	}}
}

func NewTypeMismatch(param, declared string, got any) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusInternalServerError,
		Code:     TypeMismatch,
		Message:  fmt.Sprintf("parameter %s: value %v is not assignable to %s", param, got, declared),
		Details:  map[string]any{"parameter": param, "declared_type": declared},
	}}
}

func NewNodeOutputMissing(nodeID string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusInternalServerError,
		Code:     NodeOutputMissing,
		Message:  fmt.Sprintf("no successful output recorded for upstream node %s", nodeID),
		Details:  map[string]any{"node_id": nodeID},
	}}
}

func NewScriptMissing(path string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusInternalServerError,
		Code:     ScriptMissing,
		Message:  fmt.Sprintf("script artifact %s is not available", path),
		Details:  map[string]any{"script_path": path},
	}}
}

func NewSecretIntegrity(message string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusInternalServerError,
		Code:     SecretIntegrity,
		Message:  message,
	}}
}

func NewInternalError(message string) *StatusError {
	return &StatusError{ErrStatus: Status{
		HTTPCode: http.StatusInternalServerError,
		Code:     InternalError,
		Message:  message,
	}}
}
