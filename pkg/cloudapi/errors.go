package cloudapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// APIError is the typed outcome of a failed control-plane call. Callers branch
// on the status code instead of sniffing formatted error strings.
type APIError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"status_code"`

	// Status is the provider's symbolic status (e.g. "ALREADY_EXISTS"), when present.
	Status string `json:"status,omitempty"`

	// Message is the provider's error message, when present.
	Message string `json:"message,omitempty"`

	// Body is the raw response body, kept for diagnosis of unparseable errors.
	Body []byte `json:"-"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("control plane returned %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("control plane returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("control plane returned %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the status code indicates a transient server failure.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500
}

// errorEnvelope matches the provider's standard error payload shape.
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// newAPIError builds an APIError from a non-2xx response body.
func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{
		StatusCode: statusCode,
		Body:       body,
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Status = envelope.Error.Status
		apiErr.Message = envelope.Error.Message
	}

	return apiErr
}

// AsAPIError extracts an APIError from an error chain.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is a 404 from the control plane. Creation
// steps treat this as "resource must be created".
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the control plane. Creation
// steps treat this as "already satisfied".
func IsConflict(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.StatusCode == http.StatusConflict
}

// IsAuthExpired reports whether err is a 401, meaning the bearer credential
// is no longer usable and the caller must re-authenticate.
func IsAuthExpired(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.StatusCode == http.StatusUnauthorized
}

// IsPermissionDenied reports whether err is a 403. Freshly granted roles can
// surface this for a while before the grant propagates.
func IsPermissionDenied(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.StatusCode == http.StatusForbidden
}

// TimeoutError is returned when a poll exhausts its check budget without the
// target reaching a terminal state. It is an outcome, not a transport failure:
// some steps convert it into a degraded success.
type TimeoutError struct {
	// Kind names what was being polled (e.g. "api-config", "gateway").
	Kind string

	// Checks is the number of checks issued before giving up.
	Checks int

	// Elapsed is the wall-clock time spent polling.
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s did not reach a terminal state after %d checks (%s)",
		e.Kind, e.Checks, e.Elapsed.Round(time.Second))
}

// IsPollTimeout reports whether err is an exhausted poll budget.
func IsPollTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}
