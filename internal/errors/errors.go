// Package errors provides structured error types for orchard.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for orchard.
const (
	// Validation errors
	CodeValidation   Code = "VALIDATION"
	CodeInvalidID    Code = "INVALID_TASK_ID"
	CodeEmptyField   Code = "EMPTY_FIELD"
	CodeFieldTooLong Code = "FIELD_TOO_LONG"

	// Lookup errors
	CodeTaskNotFound  Code = "TASK_NOT_FOUND"
	CodeTreeNotFound  Code = "TREE_NOT_FOUND"
	CodeAgentNotFound Code = "AGENT_NOT_FOUND"

	// Business-rule violations
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeContextNotReady   Code = "CONTEXT_NOT_READY"
	CodeCapacityExceeded  Code = "CAPACITY_EXCEEDED"
	CodeLockDenied        Code = "LOCK_DENIED"
	CodeTreeAssigned      Code = "TREE_ALREADY_ASSIGNED"
	CodeSameTree          Code = "SAME_TREE_DEPENDENCY"
)

// Category groups error codes for HTTP status mapping by the transport layer.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeValidation:        CategoryBadRequest,
	CodeInvalidID:         CategoryBadRequest,
	CodeEmptyField:        CategoryBadRequest,
	CodeFieldTooLong:      CategoryBadRequest,
	CodeTaskNotFound:      CategoryNotFound,
	CodeTreeNotFound:      CategoryNotFound,
	CodeAgentNotFound:     CategoryNotFound,
	CodeInvalidTransition: CategoryConflict,
	CodeContextNotReady:   CategoryConflict,
	CodeCapacityExceeded:  CategoryConflict,
	CodeLockDenied:        CategoryConflict,
	CodeTreeAssigned:      CategoryConflict,
	CodeSameTree:          CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	default:
		return 500
	}
}

// Error is the structured error type for orchard.
type Error struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Category returns the error category for HTTP status mapping.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrValidation returns a generic validation error.
func ErrValidation(what, why string) *Error {
	return &Error{Code: CodeValidation, What: what, Why: why}
}

// ErrInvalidID returns an error for a malformed task identifier.
func ErrInvalidID(value string) *Error {
	return &Error{
		Code: CodeInvalidID,
		What: fmt.Sprintf("invalid task id %q", value),
		Why:  "task ids must be YYYYMMDDSSS or YYYYMMDDSSS.NNN",
	}
}

// ErrEmptyField returns an error for a required field left empty.
func ErrEmptyField(field string) *Error {
	return &Error{
		Code: CodeEmptyField,
		What: fmt.Sprintf("%s must not be empty", field),
	}
}

// ErrFieldTooLong returns an error for a field exceeding its length limit.
func ErrFieldTooLong(field string, limit int) *Error {
	return &Error{
		Code: CodeFieldTooLong,
		What: fmt.Sprintf("%s exceeds %d characters", field, limit),
	}
}

// ErrTaskNotFound returns an error when a task doesn't exist.
func ErrTaskNotFound(id string) *Error {
	return &Error{
		Code: CodeTaskNotFound,
		What: fmt.Sprintf("task %s not found", id),
	}
}

// ErrTreeNotFound returns an error when a task tree doesn't exist.
func ErrTreeNotFound(id string) *Error {
	return &Error{
		Code: CodeTreeNotFound,
		What: fmt.Sprintf("task tree %s not found", id),
	}
}

// ErrAgentNotFound returns an error when an agent isn't registered.
func ErrAgentNotFound(id string) *Error {
	return &Error{
		Code: CodeAgentNotFound,
		What: fmt.Sprintf("agent %s is not registered", id),
	}
}

// ErrInvalidTransition returns an error for an undefined status transition.
func ErrInvalidTransition(from, to string) *Error {
	return &Error{
		Code: CodeInvalidTransition,
		What: fmt.Sprintf("cannot transition from %s to %s", from, to),
		Why:  "the target status is not reachable from the current status",
	}
}

// ErrContextNotReady returns an error for completion without a fresh context.
func ErrContextNotReady(taskID string) *Error {
	return &Error{
		Code: CodeContextNotReady,
		What: fmt.Sprintf("task %s cannot be completed", taskID),
		Why:  "work context must be regenerated before the task can be marked done",
	}
}

// ErrCapacityExceeded returns an error for exhausted id allocation.
func ErrCapacityExceeded(scope string) *Error {
	return &Error{
		Code: CodeCapacityExceeded,
		What: fmt.Sprintf("id allocation capacity exceeded for %s", scope),
		Why:  "at most 999 ids can be allocated per date or parent",
	}
}

// ErrLockDenied returns an error when a resource lock is held by another agent.
func ErrLockDenied(resource, holder string) *Error {
	return &Error{
		Code: CodeLockDenied,
		What: fmt.Sprintf("resource %s is locked", resource),
		Why:  fmt.Sprintf("held by agent %s", holder),
	}
}

// ErrTreeAssigned returns an error when a tree is already bound to another agent.
func ErrTreeAssigned(treeID, agentID string) *Error {
	return &Error{
		Code: CodeTreeAssigned,
		What: fmt.Sprintf("tree %s is already assigned to agent %s", treeID, agentID),
	}
}

// ErrSameTree returns an error for a cross-tree dependency within one tree.
func ErrSameTree(dependentID, prerequisiteID string) *Error {
	return &Error{
		Code: CodeSameTree,
		What: fmt.Sprintf("tasks %s and %s are in the same tree", dependentID, prerequisiteID),
		Why:  "same-tree ordering must use ordinary task dependencies",
	}
}

// AsError attempts to convert an error to an orchard Error.
// Returns nil if the error is not one.
func AsError(err error) *Error {
	var oe *Error
	if stderrors.As(err, &oe) {
		return oe
	}
	return nil
}

// Wrap wraps a generic error into an orchard Error with unknown code.
func Wrap(err error, what string) *Error {
	return &Error{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
