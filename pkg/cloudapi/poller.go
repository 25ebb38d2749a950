package cloudapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ProgressFunc receives one update per poll check so an observer can
// distinguish "still working" from "stuck".
type ProgressFunc func(check int, elapsed time.Duration)

// PollConfig tunes a readiness poll. The defaults used by the installer's
// checklist are configuration, not invariants.
type PollConfig struct {
	// Kind names the polled target for logs and metrics.
	Kind string

	// MaxChecks is the check budget.
	MaxChecks int

	// Interval is the wait between checks.
	Interval time.Duration

	// InitialWait is an unconditional settle delay before the first check,
	// for resources known to report stale state immediately after creation.
	InitialWait time.Duration
}

// Operation is a long-running operation handle with a done flag and an
// optional embedded error.
type Operation struct {
	Name     string           `json:"name"`
	Done     bool             `json:"done"`
	Error    *OperationStatus `json:"error,omitempty"`
	Metadata json.RawMessage  `json:"metadata,omitempty"`
	Response json.RawMessage  `json:"response,omitempty"`
}

// OperationStatus is the embedded failure detail of a finished operation.
type OperationStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PollOperation polls an operation URL until its done flag is set or the
// check budget is exhausted. A done operation carrying an embedded error is
// returned as an error; an exhausted budget is returned as *TimeoutError so
// the caller can decide between aborting and degraded success.
func (c *Client) PollOperation(ctx context.Context, opURL string, cfg PollConfig, progress ProgressFunc) (*Operation, error) {
	var op *Operation
	err := c.poll(ctx, cfg, progress, func(pollCtx context.Context) (bool, error) {
		var current Operation
		if err := c.Get(pollCtx, opURL, &current); err != nil {
			return false, err
		}
		if !current.Done {
			return false, nil
		}
		if current.Error != nil {
			return false, fmt.Errorf("operation %s failed: %s (code %d)",
				current.Name, current.Error.Message, current.Error.Code)
		}
		op = &current
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return op, nil
}

// PollResource GETs a resource URL until isTerminal reports the document has
// reached a terminal state, returning the final document. Used for resources
// that expose readiness through their own state field instead of an
// operation handle.
func (c *Client) PollResource(ctx context.Context, resourceURL string, cfg PollConfig, isTerminal func(doc json.RawMessage) (bool, error), progress ProgressFunc) (json.RawMessage, error) {
	var final json.RawMessage
	err := c.poll(ctx, cfg, progress, func(pollCtx context.Context) (bool, error) {
		var doc json.RawMessage
		if err := c.Get(pollCtx, resourceURL, &doc); err != nil {
			return false, err
		}
		done, err := isTerminal(doc)
		if err != nil {
			return false, err
		}
		if done {
			final = doc
		}
		return done, nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

// poll drives the shared check loop: initial settle wait, then up to
// MaxChecks checks separated by Interval.
func (c *Client) poll(ctx context.Context, cfg PollConfig, progress ProgressFunc, check func(context.Context) (bool, error)) error {
	if cfg.MaxChecks <= 0 {
		return fmt.Errorf("poll %s: check budget must be positive", cfg.Kind)
	}

	start := time.Now()

	if cfg.InitialWait > 0 {
		c.logger.Debug().
			Str("kind", cfg.Kind).
			Dur("wait", cfg.InitialWait).
			Msg("waiting for resource to settle")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.InitialWait):
		}
	}

	for i := 1; i <= cfg.MaxChecks; i++ {
		if c.metrics != nil {
			c.metrics.RecordPollCheck(cfg.Kind)
		}

		done, err := check(ctx)
		if err != nil {
			return err
		}

		if progress != nil {
			progress(i, time.Since(start))
		}
		if done {
			return nil
		}

		if i == cfg.MaxChecks {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Interval):
		}
	}

	if c.metrics != nil {
		c.metrics.RecordPollTimeout(cfg.Kind)
	}
	return &TimeoutError{
		Kind:    cfg.Kind,
		Checks:  cfg.MaxChecks,
		Elapsed: time.Since(start),
	}
}
