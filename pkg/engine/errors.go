// Package engine drives the ordered, weighted, resumable provisioning steps
// and defines the error classification the whole installer shares.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on
	// retry. The call client absorbs these; one escaping to the orchestrator
	// means retries were exhausted.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassAlreadySatisfied indicates the resource already exists in the
	// requested shape. Folded into success by creation steps.
	ErrorClassAlreadySatisfied ErrorClass = "already_satisfied"

	// ErrorClassBlocked indicates an externally managed prerequisite is
	// unmet. The attempt aborts with structured remediation.
	ErrorClassBlocked ErrorClass = "blocked"

	// ErrorClassDegraded indicates an asynchronous resource did not finish
	// activating within its check budget. Never raised as an error: steps
	// fold it into a success with warnings, and the runner records it as
	// the step outcome label.
	ErrorClassDegraded ErrorClass = "degraded"

	// ErrorClassAuthExpired indicates the bearer credential was rejected and
	// the caller must re-authenticate.
	ErrorClassAuthExpired ErrorClass = "auth_expired"

	// ErrorClassFatal indicates a non-recoverable error that aborts the
	// attempt, preserving prior progress.
	ErrorClassFatal ErrorClass = "fatal"
)

// InstallError represents a classified error with step context.
type InstallError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Step is the step name during which the error occurred, if applicable.
	Step string `json:"step,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *InstallError) Error() string {
	switch {
	case e.Step != "" && e.Operation != "":
		return fmt.Sprintf("[%s] %s (step=%s, operation=%s): %s",
			e.Class, e.Message, e.Step, e.Operation, e.unwrapMessage())
	case e.Step != "":
		return fmt.Sprintf("[%s] %s (step=%s): %s", e.Class, e.Message, e.Step, e.unwrapMessage())
	default:
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
	}
}

// Unwrap returns the underlying error for error chain inspection.
func (e *InstallError) Unwrap() error {
	return e.Err
}

func (e *InstallError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *InstallError) Is(target error) bool {
	t, ok := target.(*InstallError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithStep attaches a step name for diagnostics.
func (e *InstallError) WithStep(step string) *InstallError {
	e.Step = step
	return e
}

// WithOperation attaches an operation name for diagnostics.
func (e *InstallError) WithOperation(op string) *InstallError {
	e.Operation = op
	return e
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *InstallError {
	return &InstallError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewAlreadySatisfiedError creates a new already-satisfied error.
func NewAlreadySatisfiedError(message string, err error) *InstallError {
	return &InstallError{Class: ErrorClassAlreadySatisfied, Message: message, Err: err}
}

// NewAuthExpiredError creates a new auth-expired error.
func NewAuthExpiredError(message string, err error) *InstallError {
	return &InstallError{Class: ErrorClassAuthExpired, Message: message, Err: err}
}

// NewFatalError creates a new fatal error.
func NewFatalError(message string, err error) *InstallError {
	return &InstallError{Class: ErrorClassFatal, Message: message, Err: err}
}

// ClassOf returns the classification of err, defaulting to fatal for
// unclassified errors.
func ClassOf(err error) ErrorClass {
	var installErr *InstallError
	if errors.As(err, &installErr) {
		return installErr.Class
	}
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return ErrorClassBlocked
	}
	return ErrorClassFatal
}

// Remediation describes one unmet externally managed condition, with enough
// structure for a presentation layer to render actionable instructions.
type Remediation struct {
	// Title is the short human name of the condition.
	Title string `json:"title"`

	// Description explains why the condition cannot be automated.
	Description string `json:"description"`

	// ActionLabel labels the primary remediation action.
	ActionLabel string `json:"action_label,omitempty"`

	// ActionURL is the primary remediation link.
	ActionURL string `json:"action_url,omitempty"`

	// SubSteps is an optional ordered list of manual sub-steps.
	SubSteps []string `json:"sub_steps,omitempty"`
}

// BlockedError aborts an attempt because prerequisites are unmet. It carries
// the remediation payload as typed data rather than encoding it into the
// error string, so no transport sanitization can corrupt it.
type BlockedError struct {
	Remediations []Remediation `json:"remediations"`
}

// Error implements the error interface.
func (e *BlockedError) Error() string {
	if len(e.Remediations) == 1 {
		return fmt.Sprintf("installation blocked: %s", e.Remediations[0].Title)
	}
	return fmt.Sprintf("installation blocked by %d unmet prerequisites", len(e.Remediations))
}

// AsBlocked extracts a BlockedError from an error chain.
func AsBlocked(err error) (*BlockedError, bool) {
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return blocked, true
	}
	return nil, false
}
