package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackpilot/stackpilot/pkg/stores"
)

// RunStatus represents the overall status of an install attempt.
type RunStatus string

const (
	// RunStatusRunning indicates the attempt is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted indicates every step finished, possibly with
	// recorded warnings.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed indicates the attempt aborted at a step.
	RunStatusFailed RunStatus = "failed"

	// RunStatusBlocked indicates prerequisites were unmet before any step ran.
	RunStatusBlocked RunStatus = "blocked"
)

// IsTerminal returns true if the status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusBlocked
}

// StepFunc is the idempotent action of one step. It returns the resources the
// step produced, or an error classified per this package.
type StepFunc func(ctx context.Context, rc *RunContext) (*StepResult, error)

// Step is a named, weighted, ordered unit of provisioning work. Names are
// stable across versions; they key the persisted record.
type Step struct {
	// Name is the unique, stable step name.
	Name string

	// Weight is the step's relative progress contribution. All step weights
	// sum to 100.
	Weight int

	// VersionCritical marks the step for forced re-execution when the
	// persisted record was written by a different build version.
	VersionCritical bool

	// Run executes the step.
	Run StepFunc
}

// StepResult is the partial result one step contributes.
type StepResult struct {
	// Resources maps resource kind to the identifiers this step produced.
	Resources map[string]stores.ResourceRecord

	// Warnings are surfaced on the final result without failing the attempt.
	Warnings []string

	// RetryLater marks a degraded success: the resource has not finished
	// activating and the user should re-check it later.
	RetryLater bool
}

// SkippedStep records a step skipped on resume and why.
type SkippedStep struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Result is the compiled outcome of an install attempt.
type Result struct {
	// RunID identifies this attempt.
	RunID string `json:"run_id"`

	// ProjectID is the target project.
	ProjectID string `json:"project_id"`

	// Status is the terminal attempt status.
	Status RunStatus `json:"status"`

	// Resources is the merged resource map across completed and resumed steps.
	Resources map[string]stores.ResourceRecord `json:"resources"`

	// Warnings collects degraded-success and other non-fatal notes.
	Warnings []string `json:"warnings,omitempty"`

	// Skipped lists the steps skipped on resume.
	Skipped []SkippedStep `json:"skipped,omitempty"`

	// FailedStep names the step a failed attempt aborted at.
	FailedStep string `json:"failed_step,omitempty"`

	// Cause is the underlying cause string of a failed attempt.
	Cause string `json:"cause,omitempty"`

	// StartedAt and CompletedAt bound the attempt.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Resource returns the record for a kind, or an empty record.
func (r *Result) Resource(kind string) stores.ResourceRecord {
	if record, ok := r.Resources[kind]; ok {
		return record
	}
	return stores.ResourceRecord{}
}

// ProgressFunc observes weighted progress: the current step label and the
// overall percent complete (0..100). Purely observational, no backpressure.
type ProgressFunc func(stepLabel string, percentComplete int)

// RunContext is handed to each step action. It exposes the resources earlier
// steps produced and a checkpoint hook for intermediate progress.
type RunContext struct {
	projectID  string
	logger     zerolog.Logger
	resources  map[string]stores.ResourceRecord
	checkpoint func(fraction float64)
}

// ProjectID returns the target project ID.
func (rc *RunContext) ProjectID() string {
	return rc.projectID
}

// Logger returns the step-scoped logger.
func (rc *RunContext) Logger() *zerolog.Logger {
	return &rc.logger
}

// Resource returns the record an earlier step produced for a kind, or an
// empty record. Later steps consume identifiers through this.
func (rc *RunContext) Resource(kind string) stores.ResourceRecord {
	if record, ok := rc.resources[kind]; ok {
		return record
	}
	return stores.ResourceRecord{}
}

// Checkpoint reports intra-step progress as a fraction in [0, 1], folded into
// the weighted overall percentage. Pollers call this once per check.
func (rc *RunContext) Checkpoint(fraction float64) {
	if rc.checkpoint != nil {
		rc.checkpoint(fraction)
	}
}
