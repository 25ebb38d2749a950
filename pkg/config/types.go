package config

import "time"

// Manifest is the declarative install manifest: which project to provision,
// what to call the resources, and every tunable numeric of the retry and poll
// policy. Numeric policy defaults match the provider's observed propagation
// latency and are deliberately configuration, not constants.
type Manifest struct {
	// Project identifies the target deployment.
	Project ProjectConfig `json:"project" validate:"required"`

	// Region is the location for regional resources.
	Region string `json:"region" validate:"required"`

	// Names overrides the default resource names.
	Names NamesConfig `json:"names"`

	// Labels are applied to created resources where the provider supports it.
	Labels map[string]string `json:"labels,omitempty"`

	// Functions lists the serverless functions to deploy.
	Functions []FunctionSpec `json:"functions" validate:"required,min=1,dive"`

	// Timing tunes the call client and the pollers.
	Timing TimingConfig `json:"timing"`

	// Policy configures the pre-flight policy gate.
	Policy PolicyConfig `json:"policy"`
}

// ProjectConfig identifies the target project.
type ProjectConfig struct {
	// ID is the immutable project identifier.
	ID string `json:"id" validate:"required"`

	// DisplayName is informational.
	DisplayName string `json:"display_name,omitempty"`
}

// NamesConfig names the created resources.
type NamesConfig struct {
	ServiceAccount string `json:"service_account"`
	API            string `json:"api"`
	Gateway        string `json:"gateway"`
	APIKey         string `json:"api_key"`
}

// FunctionSpec describes one serverless function. The packaged source
// payload is read from SourcePath; producing it is the caller's concern.
type FunctionSpec struct {
	Name        string `json:"name" validate:"required"`
	EntryPoint  string `json:"entry_point" validate:"required"`
	Runtime     string `json:"runtime"`
	Description string `json:"description,omitempty"`
	SourcePath  string `json:"source_path" validate:"required"`
}

// TimingConfig carries the empirically tuned retry/poll numbers. Durations
// are whole seconds to keep the manifest unambiguous.
type TimingConfig struct {
	// Call client
	MaxAttempts           int `json:"max_attempts"`
	AttemptTimeoutSeconds int `json:"attempt_timeout_seconds"`
	RetryBaseDelaySeconds int `json:"retry_base_delay_seconds"`
	RetryMaxDelaySeconds  int `json:"retry_max_delay_seconds"`

	// API config activation poll
	ConfigPollChecks          int `json:"config_poll_checks"`
	ConfigPollIntervalSeconds int `json:"config_poll_interval_seconds"`

	// Gateway readiness: unconditional settle wait, then bounded poll.
	// The settle wait is a pointer so an explicit zero survives defaulting.
	GatewaySettleSeconds       *int `json:"gateway_settle_seconds,omitempty"`
	GatewayPollChecks          int  `json:"gateway_poll_checks"`
	GatewayPollIntervalSeconds int `json:"gateway_poll_interval_seconds"`

	// Permission propagation lag
	PropagationChecks          int `json:"propagation_checks"`
	PropagationIntervalSeconds int `json:"propagation_interval_seconds"`

	// Generic operation poll
	OperationPollChecks          int `json:"operation_poll_checks"`
	OperationPollIntervalSeconds int `json:"operation_poll_interval_seconds"`
}

// PolicyConfig configures the pre-flight policy gate.
type PolicyConfig struct {
	// Enabled toggles the gate. Defaults to true.
	Enabled *bool `json:"enabled,omitempty"`

	// AllowedRegions restricts where resources may be provisioned. Empty
	// means any region.
	AllowedRegions []string `json:"allowed_regions,omitempty"`

	// Paths lists directories of additional Rego policies to load.
	Paths []string `json:"paths,omitempty"`
}

// PolicyEnabled reports whether the policy gate should run.
func (p PolicyConfig) PolicyEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// AttemptTimeout returns the per-attempt deadline.
func (t TimingConfig) AttemptTimeout() time.Duration {
	return time.Duration(t.AttemptTimeoutSeconds) * time.Second
}

// RetryBaseDelay returns the linear backoff base.
func (t TimingConfig) RetryBaseDelay() time.Duration {
	return time.Duration(t.RetryBaseDelaySeconds) * time.Second
}

// RetryMaxDelay returns the backoff cap.
func (t TimingConfig) RetryMaxDelay() time.Duration {
	return time.Duration(t.RetryMaxDelaySeconds) * time.Second
}

// ConfigPollInterval returns the API config poll interval.
func (t TimingConfig) ConfigPollInterval() time.Duration {
	return time.Duration(t.ConfigPollIntervalSeconds) * time.Second
}

// GatewaySettle returns the unconditional gateway settle wait. Zero means
// poll immediately.
func (t TimingConfig) GatewaySettle() time.Duration {
	if t.GatewaySettleSeconds == nil {
		return 0
	}
	return time.Duration(*t.GatewaySettleSeconds) * time.Second
}

// GatewayPollInterval returns the gateway poll interval.
func (t TimingConfig) GatewayPollInterval() time.Duration {
	return time.Duration(t.GatewayPollIntervalSeconds) * time.Second
}

// PropagationInterval returns the permission-propagation recheck interval.
func (t TimingConfig) PropagationInterval() time.Duration {
	return time.Duration(t.PropagationIntervalSeconds) * time.Second
}

// OperationPollInterval returns the generic operation poll interval.
func (t TimingConfig) OperationPollInterval() time.Duration {
	return time.Duration(t.OperationPollIntervalSeconds) * time.Second
}

// applyDefaults fills unset fields with the reference checklist's numbers.
func (m *Manifest) applyDefaults() {
	if m.Region == "" {
		m.Region = "us-central1"
	}
	if m.Names.ServiceAccount == "" {
		m.Names.ServiceAccount = "stackpilot-runtime"
	}
	if m.Names.API == "" {
		m.Names.API = "stackpilot-api"
	}
	if m.Names.Gateway == "" {
		m.Names.Gateway = "stackpilot-gateway"
	}
	if m.Names.APIKey == "" {
		m.Names.APIKey = "stackpilot-key"
	}

	for i := range m.Functions {
		if m.Functions[i].Runtime == "" {
			m.Functions[i].Runtime = "nodejs20"
		}
		if m.Functions[i].EntryPoint == "" {
			m.Functions[i].EntryPoint = m.Functions[i].Name
		}
	}

	t := &m.Timing
	if t.MaxAttempts == 0 {
		t.MaxAttempts = 3
	}
	if t.AttemptTimeoutSeconds == 0 {
		t.AttemptTimeoutSeconds = 120
	}
	if t.RetryBaseDelaySeconds == 0 {
		t.RetryBaseDelaySeconds = 2
	}
	if t.RetryMaxDelaySeconds == 0 {
		t.RetryMaxDelaySeconds = 30
	}
	if t.ConfigPollChecks == 0 {
		t.ConfigPollChecks = 60
	}
	if t.ConfigPollIntervalSeconds == 0 {
		t.ConfigPollIntervalSeconds = 10
	}
	if t.GatewaySettleSeconds == nil {
		settle := 120
		t.GatewaySettleSeconds = &settle
	}
	if t.GatewayPollChecks == 0 {
		t.GatewayPollChecks = 10
	}
	if t.GatewayPollIntervalSeconds == 0 {
		t.GatewayPollIntervalSeconds = 30
	}
	if t.PropagationChecks == 0 {
		t.PropagationChecks = 6
	}
	if t.PropagationIntervalSeconds == 0 {
		t.PropagationIntervalSeconds = 10
	}
	if t.OperationPollChecks == 0 {
		t.OperationPollChecks = 30
	}
	if t.OperationPollIntervalSeconds == 0 {
		t.OperationPollIntervalSeconds = 5
	}
}
