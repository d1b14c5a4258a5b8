// Package errors provides structured error types for the sync-worker packages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the failure for callers and telemetry.
type ErrorCode string

const (
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeTransportFailure  ErrorCode = "TRANSPORT_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
	ErrCodeSaveInFlight      ErrorCode = "SAVE_IN_FLIGHT"
)

// Operation names the sync operation during which an error occurred.
type Operation string

const (
	OpSave          Operation = "save"
	OpClientChanged Operation = "client_changed"
	OpChanged       Operation = "changed"
	OpCompact       Operation = "compact"
	OpApply         Operation = "apply"
	OpClear         Operation = "clear"
	OpClose         Operation = "close"
)

// Kind distinguishes the broad category of a failure, orthogonal to the
// operation and component.
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
	KindInvalid   Kind = "invalid"
)

// SyncError is the structured error carried across package boundaries.
type SyncError struct {
	// Operation during which the error occurred.
	Op Operation

	// Component that generated the error (e.g. "worker", "server").
	Component string

	// Underlying error.
	Err error

	// Whether the operation can be retried.
	Retryable bool

	// Error code for the failure class.
	Code ErrorCode

	// Kind of failure.
	Kind Kind

	// Metadata for additional context.
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Component tags the component argument of E.
type Component string

// E builds a SyncError from its arguments. Operation, Component, Kind,
// ErrorCode and error values are recognized by type; a string becomes the
// underlying error; the last value of each kind wins.
func E(args ...interface{}) *SyncError {
	e := &SyncError{}
	for _, arg := range args {
		switch v := arg.(type) {
		case Operation:
			e.Op = v
		case Component:
			e.Component = string(v)
		case Kind:
			e.Kind = v
			if v == KindTransient {
				e.Retryable = true
			}
		case ErrorCode:
			e.Code = v
		case error:
			e.Err = v
		case string:
			e.Err = errors.New(v)
		}
	}
	return e
}

// NewStorageError creates a storage-related SyncError.
func NewStorageError(op Operation, component string, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: component,
		Err:       cause,
		Kind:      KindTransient,
		Retryable: true,
	}
}

// NewTransportError creates a transport-related SyncError.
func NewTransportError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeTransportFailure,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Kind:      KindTransient,
		Retryable: true,
	}
}

// NewValidationError creates a validation-related SyncError.
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code: ErrCodeValidationFailure,
		Op:   op,
		Err:  cause,
		Kind: KindInvalid,
	}
}

// New creates a plain SyncError.
func New(op Operation, err error) *SyncError {
	return &SyncError{Op: op, Err: err}
}

// NewWithComponent creates a SyncError with component information.
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{Op: op, Component: component, Err: err}
}

// IsRetryable checks whether err is (or wraps) a retryable SyncError.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsCode checks whether err is (or wraps) a SyncError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code == code
	}
	return false
}
