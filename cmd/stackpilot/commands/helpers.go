package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/stackpilot/stackpilot/pkg/cloudapi"
	"github.com/stackpilot/stackpilot/pkg/config"
	"github.com/stackpilot/stackpilot/pkg/policy"
	"github.com/stackpilot/stackpilot/pkg/provision"
	"github.com/stackpilot/stackpilot/pkg/stores"
	"github.com/stackpilot/stackpilot/pkg/telemetry"
)

// appEnv bundles everything a command needs: the parsed manifest, telemetry,
// the call client, the state store, and the provisioner.
type appEnv struct {
	manifest *config.Manifest
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	client   *cloudapi.Client
	store    *stores.SQLiteStore
	prov     *provision.Provisioner
	version  string
}

// newAppEnv wires the application from the global flags. When needToken is
// false, commands that only read local state skip credential resolution.
func newAppEnv(ctx context.Context, version string, needToken bool) (*appEnv, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}
	manifest, err := loader.Load(manifestPath)
	if err != nil {
		return nil, err
	}

	telCfg := telemetry.DefaultConfig("stackpilot", version)
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	if err := telCfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(telCfg.Logging)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.NewMetrics(telCfg.Metrics)
	if err != nil {
		return nil, err
	}
	tracer, err := telemetry.NewTracer(telCfg.Tracing, telCfg.ServiceName, telCfg.ServiceVersion, telCfg.Environment)
	if err != nil {
		return nil, err
	}

	env := &appEnv{
		manifest: manifest,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		version:  version,
	}

	dir := stateDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".stackpilot")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{
		Path: filepath.Join(dir, "state.db"),
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	env.store = store

	if needToken {
		bearer := token
		if bearer == "" {
			bearer = os.Getenv("STACKPILOT_TOKEN")
		}
		if bearer == "" {
			return nil, fmt.Errorf("no bearer token: pass --token or set STACKPILOT_TOKEN")
		}

		t := manifest.Timing
		env.client = cloudapi.NewClient(cloudapi.StaticToken(bearer), cloudapi.Options{
			MaxAttempts:    t.MaxAttempts,
			AttemptTimeout: t.AttemptTimeout(),
			RetryBaseDelay: t.RetryBaseDelay(),
			RetryMaxDelay:  t.RetryMaxDelay(),
			Logger:         logger.Zerolog(),
			Metrics:        metrics,
		})
		env.prov = provision.New(env.client, manifest, provision.DefaultEndpoints(), version, logger.Zerolog())
	}

	return env, nil
}

// Close releases the store and flushes the tracer.
func (e *appEnv) Close(ctx context.Context) {
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.tracer != nil {
		_ = e.tracer.Shutdown(ctx)
	}
}

// evaluatePolicies runs the policy gate when the manifest enables it.
func (e *appEnv) evaluatePolicies(ctx context.Context) error {
	if !e.manifest.Policy.PolicyEnabled() {
		return nil
	}

	pe, err := policy.NewEngine(e.logger.Zerolog())
	if err != nil {
		return err
	}
	if len(e.manifest.Policy.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, e.manifest.Policy.Paths); err != nil {
			return err
		}
	}

	result, err := pe.Evaluate(ctx, e.manifest)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		e.logger.Warn(w)
	}
	if !result.Allowed {
		for _, v := range result.Violations {
			e.logger.WithField("policy", v.Policy).Error(v.Message)
		}
		return fmt.Errorf("manifest rejected by %d policy violation(s)", len(result.Violations))
	}
	return nil
}
