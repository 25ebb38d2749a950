package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackpilot/stackpilot/pkg/cloudapi"
	"github.com/stackpilot/stackpilot/pkg/config"
	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Resource kinds recorded in the installation state.
const (
	KindServices       = "services"
	KindServiceAccount = "service_account"
	KindFunctions      = "functions"
	KindAPI            = "api"
	KindAPIConfig      = "api_config"
	KindGateway        = "gateway"
	KindAPIKey         = "api_key"
	KindIdentity       = "identity"
)

// Provisioner implements the provisioning steps against the control plane.
// It holds no per-run state; all run state flows through the step context
// and the installation record.
type Provisioner struct {
	client   *cloudapi.Client
	manifest *config.Manifest
	eps      Endpoints
	version  string
	logger   zerolog.Logger
}

// New creates a provisioner for one manifest. The version string stamps
// derived resource identifiers that must stay stable within a build.
func New(client *cloudapi.Client, manifest *config.Manifest, eps Endpoints, version string, logger zerolog.Logger) *Provisioner {
	return &Provisioner{
		client:   client,
		manifest: manifest,
		eps:      eps,
		version:  version,
		logger:   logger.With().Str("component", "provision").Logger(),
	}
}

// wrapCallError maps a failed control-plane call to the install error
// taxonomy. Expired credentials get their own class so the caller can
// re-trigger login instead of reporting a step failure.
func wrapCallError(operation string, err error) error {
	switch {
	case cloudapi.IsAuthExpired(err):
		return engine.NewAuthExpiredError("bearer token rejected by the control plane", err).WithOperation(operation)
	case cloudapi.IsConflict(err):
		return engine.NewAlreadySatisfiedError(fmt.Sprintf("%s found the resource already present", operation), err).WithOperation(operation)
	case isRetryExhausted(err):
		return engine.NewTransientError(fmt.Sprintf("%s failed but may succeed on a later attempt", operation), err).WithOperation(operation)
	default:
		return engine.NewFatalError(fmt.Sprintf("%s failed", operation), err).WithOperation(operation)
	}
}

// isRetryExhausted reports whether err is a server-side failure the call
// client already retried, or an exhausted poll budget. Both clear up on
// their own, so a later attempt resumes past them.
func isRetryExhausted(err error) bool {
	if cloudapi.IsPollTimeout(err) {
		return true
	}
	apiErr, ok := cloudapi.AsAPIError(err)
	return ok && apiErr.Retryable()
}

// withPropagationRetry runs fn, absorbing permission-denied responses for a
// bounded window. Freshly granted permissions are not immediately effective
// on this control plane; a denied call right after a grant usually succeeds
// a few checks later.
func (p *Provisioner) withPropagationRetry(ctx context.Context, operation string, fn func() error) error {
	t := p.manifest.Timing
	var lastErr error
	for check := 1; check <= t.PropagationChecks; check++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !cloudapi.IsPermissionDenied(err) {
			return err
		}
		lastErr = err

		p.logger.Debug().
			Str("operation", operation).
			Int("check", check).
			Msg("permission not yet propagated, waiting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(t.PropagationInterval()):
		}
	}
	return fmt.Errorf("%s: permission not effective after %d checks: %w", operation, t.PropagationChecks, lastErr)
}
