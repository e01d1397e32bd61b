/*
 * Copyright (C) 2025-2026, MiniflowHQ, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package errors defines the API error model shared by every component. An
// error carries a stable machine code, the HTTP status it maps to, and
// optional structured details that are returned to callers verbatim.
package errors

import (
	stderrors "errors"
	"net/http"
)

// Status is the error payload in the shape callers receive it.
type Status struct {
	HTTPCode int            `json:"-"`
	Code     string         `json:"error_code"`
	Message  string         `json:"error_message"`
	Details  map[string]any `json:"details,omitempty"`
}

// StatusError is an error intended for consumption by the HTTP layer and by
// the execution loops, which record its code and details into node results.
type StatusError struct {
	ErrStatus Status
}

func (e *StatusError) Error() string { return e.ErrStatus.Message }

// WithDetail attaches a structured detail and returns the same error.
func (e *StatusError) WithDetail(key string, value any) *StatusError {
	if e.ErrStatus.Details == nil {
		e.ErrStatus.Details = make(map[string]any, 1)
	}
	e.ErrStatus.Details[key] = value
	return e
}

// AsStatus unwraps err into a *StatusError when possible.
func AsStatus(err error) (*StatusError, bool) {
	var se *StatusError
	if stderrors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ReasonForError returns the stable code of err, or "" for foreign errors.
func ReasonForError(err error) string {
	if se, ok := AsStatus(err); ok {
		return se.ErrStatus.Code
	}
	return ""
}

// GetErrorCode is an alias of ReasonForError kept for call-site readability.
func GetErrorCode(err error) string { return ReasonForError(err) }

// HTTPStatusOf maps err onto an HTTP status, defaulting to 500 for errors
// that did not originate from this package.
func HTTPStatusOf(err error) int {
	if se, ok := AsStatus(err); ok && se.ErrStatus.HTTPCode != 0 {
		return se.ErrStatus.HTTPCode
	}
	return http.StatusInternalServerError
}

// DetailsOf returns the structured details of err, or nil.
func DetailsOf(err error) map[string]any {
	if se, ok := AsStatus(err); ok {
		return se.ErrStatus.Details
	}
	return nil
}
