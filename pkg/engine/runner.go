package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/stackpilot/stackpilot/pkg/stores"
	"github.com/stackpilot/stackpilot/pkg/telemetry"
)

// Store is the persistence contract the runner needs. *stores.SQLiteStore
// satisfies it.
type Store interface {
	Load(ctx context.Context, projectID string) (*stores.InstallationState, error)
	Save(ctx context.Context, state *stores.InstallationState) error
	MarkStepComplete(ctx context.Context, projectID, step string, resources map[string]stores.ResourceRecord) error
	SetFinalResult(ctx context.Context, projectID string, result json.RawMessage) error
	Clear(ctx context.Context, projectID string) error
}

// RunnerOptions carries the runner's collaborators. Progress may be nil.
type RunnerOptions struct {
	Progress ProgressFunc
	Logger   zerolog.Logger
	Tracer   *telemetry.Tracer
	Metrics  *telemetry.Metrics
}

// Runner executes the ordered step list against one project, consulting the
// state store to skip completed steps and persisting after each success so a
// later attempt resumes past them.
type Runner struct {
	steps    []Step
	store    Store
	version  string
	progress ProgressFunc
	logger   zerolog.Logger
	tracer   *telemetry.Tracer
	metrics  *telemetry.Metrics
}

// NewRunner creates a runner for the given steps. Step weights must sum to
// 100 and names must be unique.
func NewRunner(steps []Step, store Store, version string, opts RunnerOptions) (*Runner, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("no steps defined")
	}

	total := 0
	seen := make(map[string]bool, len(steps))
	for _, step := range steps {
		if step.Name == "" {
			return nil, fmt.Errorf("step with empty name")
		}
		if seen[step.Name] {
			return nil, fmt.Errorf("duplicate step name: %s", step.Name)
		}
		seen[step.Name] = true
		if step.Weight <= 0 {
			return nil, fmt.Errorf("step %s has non-positive weight", step.Name)
		}
		if step.Run == nil {
			return nil, fmt.Errorf("step %s has no action", step.Name)
		}
		total += step.Weight
	}
	if total != 100 {
		return nil, fmt.Errorf("step weights sum to %d, want 100", total)
	}

	return &Runner{
		steps:    steps,
		store:    store,
		version:  version,
		progress: opts.Progress,
		logger:   opts.Logger.With().Str("component", "runner").Logger(),
		tracer:   opts.Tracer,
		metrics:  opts.Metrics,
	}, nil
}

// Run executes all pending steps for the project and returns the compiled
// result. Failed attempts keep prior completed steps persisted; there is no
// rollback, only forward resumption.
func (r *Runner) Run(ctx context.Context, projectID, displayName string) (*Result, error) {
	logger := r.logger.With().Str("project_id", projectID).Logger()
	startedAt := time.Now()

	state, err := r.store.Load(ctx, projectID)
	if err != nil {
		return nil, NewFatalError("failed to load installation state", err)
	}

	resumed := state != nil && len(state.CompletedSteps) > 0
	versionChanged := state != nil && state.SchemaVersion != r.version

	if state == nil {
		state = &stores.InstallationState{
			ProjectID:     projectID,
			DisplayName:   displayName,
			SchemaVersion: r.version,
		}
	} else {
		// A version change un-completes the version-critical steps before the
		// new version is stamped and persisted, so the forced re-run survives
		// an attempt that fails partway through.
		if versionChanged {
			for _, step := range r.steps {
				if step.VersionCritical && state.StepCompleted(step.Name) {
					state.RemoveStep(step.Name)
					logger.Info().Str("step", step.Name).Msg("version change forces step re-run")
				}
			}
		}
		state.SchemaVersion = r.version
	}
	if err := r.store.Save(ctx, state); err != nil {
		return nil, NewFatalError("failed to persist installation state", err)
	}

	if r.metrics != nil {
		r.metrics.RecordInstallStarted(resumed)
	}
	logger.Info().
		Bool("resumed", resumed).
		Bool("version_changed", versionChanged).
		Int("completed_steps", len(state.CompletedSteps)).
		Msg("starting install attempt")

	result := &Result{
		RunID:     uuid.New().String(),
		ProjectID: projectID,
		Status:    RunStatusRunning,
		Resources: make(map[string]stores.ResourceRecord),
		StartedAt: startedAt,
	}

	// Resources from prior attempts are folded in up front; per-kind records
	// are additive so replay order does not matter.
	mergeResources(result.Resources, state.Resources)

	completedWeight := 0
	for _, step := range r.steps {
		if state.StepCompleted(step.Name) {
			completedWeight += step.Weight
			result.Skipped = append(result.Skipped, SkippedStep{
				Name:   step.Name,
				Reason: "completed by a previous attempt",
			})
			r.reportProgress(step.Name, completedWeight)
			if r.metrics != nil {
				r.metrics.RecordStepSkipped(step.Name)
			}
			logger.Info().Str("step", step.Name).Msg("skipping completed step")
			continue
		}

		if err := r.runStep(ctx, step, state, result, completedWeight); err != nil {
			result.Status = RunStatusFailed
			if _, ok := AsBlocked(err); ok {
				result.Status = RunStatusBlocked
			}
			result.FailedStep = step.Name
			result.Cause = err.Error()
			result.CompletedAt = time.Now()
			r.finishMetrics(result)
			logger.Error().Err(err).Str("step", step.Name).Msg("install attempt failed")
			return result, err
		}

		completedWeight += step.Weight
		r.reportProgress(step.Name, completedWeight)
	}

	result.Status = RunStatusCompleted
	result.CompletedAt = time.Now()

	compiled, err := json.Marshal(result)
	if err != nil {
		return nil, NewFatalError("failed to compile final result", err)
	}
	if err := r.store.SetFinalResult(ctx, projectID, compiled); err != nil {
		return nil, NewFatalError("failed to persist final result", err)
	}

	r.finishMetrics(result)
	logger.Info().
		Int("skipped", len(result.Skipped)).
		Int("warnings", len(result.Warnings)).
		Msg("install attempt completed")
	return result, nil
}

// runStep executes one step action, persists its outcome, and folds its
// resources into the running result.
func (r *Runner) runStep(ctx context.Context, step Step, state *stores.InstallationState, result *Result, baseWeight int) error {
	r.reportProgress(step.Name, baseWeight)

	stepCtx := ctx
	var span trace.Span
	if r.tracer != nil {
		stepCtx, span = r.tracer.StartStep(ctx, step.Name)
		defer span.End()
	}

	rc := &RunContext{
		projectID: state.ProjectID,
		logger:    r.logger.With().Str("step", step.Name).Logger(),
		resources: result.Resources,
		checkpoint: func(fraction float64) {
			if fraction < 0 {
				fraction = 0
			}
			if fraction > 1 {
				fraction = 1
			}
			r.reportProgress(step.Name, baseWeight+int(fraction*float64(step.Weight)))
		},
	}

	start := time.Now()
	stepResult, err := step.Run(stepCtx, rc)
	duration := time.Since(start)

	if err != nil {
		if span != nil {
			telemetry.RecordError(span, err)
		}
		if r.metrics != nil {
			r.metrics.RecordStep(step.Name, "failed", duration)
			r.metrics.RecordError(string(ClassOf(err)))
		}
		var installErr *InstallError
		if errors.As(err, &installErr) {
			installErr.Step = step.Name
		}
		return err
	}

	if stepResult == nil {
		stepResult = &StepResult{}
	}

	mergeResources(result.Resources, stepResult.Resources)
	result.Warnings = append(result.Warnings, stepResult.Warnings...)

	if err := r.store.MarkStepComplete(ctx, state.ProjectID, step.Name, stepResult.Resources); err != nil {
		return NewFatalError("failed to persist step completion", err).WithStep(step.Name)
	}
	state.AppendStep(step.Name)
	state.MergeResources(stepResult.Resources)

	if r.metrics != nil {
		status := "completed"
		if stepResult.RetryLater {
			status = string(ErrorClassDegraded)
		}
		r.metrics.RecordStep(step.Name, status, duration)
	}
	return nil
}

func (r *Runner) reportProgress(label string, percent int) {
	if r.progress == nil {
		return
	}
	if percent > 100 {
		percent = 100
	}
	r.progress(label, percent)
}

func (r *Runner) finishMetrics(result *Result) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordInstallCompleted(string(result.Status), result.CompletedAt.Sub(result.StartedAt))
}

// mergeResources folds src into dst additively.
func mergeResources(dst map[string]stores.ResourceRecord, src map[string]stores.ResourceRecord) {
	for kind, record := range src {
		existing, ok := dst[kind]
		if !ok {
			existing = make(stores.ResourceRecord, len(record))
			dst[kind] = existing
		}
		for k, v := range record {
			existing[k] = v
		}
	}
}
