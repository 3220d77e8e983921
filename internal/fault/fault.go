// Package fault defines the error taxonomy shared by the orchestrator
// services and mapped to transport statuses by the API layer.
package fault

import "fmt"

// NotFoundError reports a missing terminal, session, flow, or message.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError for the given entity kind and id.
func NotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ValidationError reports rejected input: a missing required flow field,
// an invalid cron expression, a nonexistent working directory, or an
// unknown provider kind.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validation builds a ValidationError from a format string.
func Validation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// TimeoutError reports a bounded wait that elapsed without the expected
// status transition.
type TimeoutError struct {
	Message string
}

func (e *TimeoutError) Error() string {
	return e.Message
}

// Timeout builds a TimeoutError from a format string.
func Timeout(format string, args ...any) *TimeoutError {
	return &TimeoutError{Message: fmt.Sprintf(format, args...)}
}

// PreconditionError reports an operation invoked without required caller
// context, such as sending to an inbox without a resolvable sender identity.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

// Precondition builds a PreconditionError from a format string.
func Precondition(format string, args ...any) *PreconditionError {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// ScriptError reports a gating script that exited nonzero.
type ScriptError struct {
	Stderr string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("Script failed: %s", e.Stderr)
}
