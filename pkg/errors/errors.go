// Copyright 2026 © The Ensemble Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling with rich context for ensemble.
//
// Every engine error is an *EnsembleError carrying an ErrorCode and, when it was
// raised on behalf of a context type, the name of that type. Matching with
// errors.Is is scoped: a target without a ContextType matches every error with
// the same code, a target with a ContextType matches only errors raised by that
// context type.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies ensemble errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal engine error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates a declaration or argument was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidRole indicates a lookup of a role never declared in a context.
	CodeInvalidRole ErrorCode = "INVALID_ROLE"

	// CodeInvalidRoleType indicates an unrecognized composition strategy or a
	// behavior that could not construct its composed player.
	CodeInvalidRoleType ErrorCode = "INVALID_ROLE_TYPE"

	// CodeAccessDenied indicates a trigger guard denied execution.
	CodeAccessDenied ErrorCode = "ACCESS_DENIED"

	// CodeNameCollision indicates a player exposes an operation named like a sibling role.
	CodeNameCollision ErrorCode = "NAME_COLLISION"

	// CodeUnknownTrigger indicates a trigger name that was never registered.
	CodeUnknownTrigger ErrorCode = "UNKNOWN_TRIGGER"

	// CodeNoMethod indicates a player does not answer the requested operation.
	CodeNoMethod ErrorCode = "NO_METHOD"
)

// Base kinds. Use them as errors.Is targets to match an error kind raised by
// any context type. They must not be mutated.
var (
	ErrInvalidInput    = &EnsembleError{Code: CodeInvalidInput}
	ErrInvalidRole     = &EnsembleError{Code: CodeInvalidRole}
	ErrInvalidRoleType = &EnsembleError{Code: CodeInvalidRoleType}
	ErrAccessDenied    = &EnsembleError{Code: CodeAccessDenied}
	ErrNameCollision   = &EnsembleError{Code: CodeNameCollision}
	ErrUnknownTrigger  = &EnsembleError{Code: CodeUnknownTrigger}
	ErrNoMethod        = &EnsembleError{Code: CodeNoMethod}
)

// EnsembleError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type EnsembleError struct {
	Code        ErrorCode
	Message     string
	Err         error
	ContextType string
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *EnsembleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *EnsembleError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *EnsembleError of the same code whose
// ContextType is either empty or equal to this error's ContextType.
func (e *EnsembleError) Is(target error) bool {
	t, ok := target.(*EnsembleError)
	if !ok || t == nil {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.ContextType == "" || t.ContextType == e.ContextType
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *EnsembleError) MarshalJSON() ([]byte, error) {
	type Alias EnsembleError
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		ContextType string `json:"context_type,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		ContextType: e.ContextType,
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new EnsembleError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *EnsembleError {
	return &EnsembleError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
	}
}

// Scoped returns a match-only error for code raised by contextType. It is
// meant to be used as an errors.Is target.
func Scoped(code ErrorCode, contextType string) *EnsembleError {
	return &EnsembleError{Code: code, ContextType: contextType}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *EnsembleError) WithContext(key string, value interface{}) *EnsembleError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *EnsembleError) WithAttribute(key, value string) *EnsembleError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithContextType scopes the error to a context type.
func (e *EnsembleError) WithContextType(name string) *EnsembleError {
	e.ContextType = name
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *EnsembleError) WithRecoverable(recoverable bool) *EnsembleError {
	e.Recoverable = recoverable
	return e
}

// AsEnsembleError attempts to convert an error to an EnsembleError.
// Returns the error as EnsembleError if one is found in the chain, or wraps it otherwise.
func AsEnsembleError(err error) *EnsembleError {
	if err == nil {
		return nil
	}
	var ee *EnsembleError
	if stderrors.As(err, &ee) {
		return ee
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether err carries an EnsembleError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var ee *EnsembleError
	if !stderrors.As(err, &ee) {
		return false
	}
	return ee.Code == code
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *EnsembleError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As is errors.As from the standard library.
func As(err error, target any) bool { return stderrors.As(err, target) }
