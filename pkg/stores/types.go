package stores

import (
	"encoding/json"
	"time"
)

// ResourceRecord holds the identifiers, URLs, and flags a step produced for
// one resource kind (e.g. a service-account email, a gateway hostname).
type ResourceRecord map[string]string

// InstallationState is the versioned, resumable record of one deployment,
// keyed by project ID. A step name appears in CompletedSteps only after its
// side effects were durably observed, and Resources only ever grows.
type InstallationState struct {
	// ProjectID is the immutable record key.
	ProjectID string `json:"project_id"`

	// DisplayName is informational.
	DisplayName string `json:"display_name,omitempty"`

	// SchemaVersion is the orchestrator build version that last wrote this
	// record, used to force re-execution of version-critical steps.
	SchemaVersion string `json:"schema_version"`

	// StartedAt is when the first install attempt for this project began.
	StartedAt time.Time `json:"started_at"`

	// LastUpdatedAt is bumped on every write; records older than the
	// staleness window are discarded on load.
	LastUpdatedAt time.Time `json:"last_updated_at"`

	// CompletedSteps lists finished step names in completion order.
	CompletedSteps []string `json:"completed_steps"`

	// Resources maps resource kind to the identifiers that kind produced.
	Resources map[string]ResourceRecord `json:"resources"`

	// FinalResult is the compiled output once every step finished.
	FinalResult json.RawMessage `json:"final_result,omitempty"`
}

// StepCompleted reports whether the named step is recorded as done.
func (s *InstallationState) StepCompleted(name string) bool {
	for _, step := range s.CompletedSteps {
		if step == name {
			return true
		}
	}
	return false
}

// AppendStep records a completed step, ignoring duplicates.
func (s *InstallationState) AppendStep(name string) {
	if !s.StepCompleted(name) {
		s.CompletedSteps = append(s.CompletedSteps, name)
	}
}

// RemoveStep erases a step's completion record, forcing a later attempt to
// run it again.
func (s *InstallationState) RemoveStep(name string) {
	for i, step := range s.CompletedSteps {
		if step == name {
			s.CompletedSteps = append(s.CompletedSteps[:i], s.CompletedSteps[i+1:]...)
			return
		}
	}
}

// MergeResources folds new resource records into the state additively: keys
// are added or overwritten per kind, but existing kinds and keys are never
// removed.
func (s *InstallationState) MergeResources(resources map[string]ResourceRecord) {
	if s.Resources == nil {
		s.Resources = make(map[string]ResourceRecord, len(resources))
	}
	for kind, record := range resources {
		existing, ok := s.Resources[kind]
		if !ok {
			existing = make(ResourceRecord, len(record))
			s.Resources[kind] = existing
		}
		for k, v := range record {
			existing[k] = v
		}
	}
}

// Resource returns the record for a kind, or an empty record.
func (s *InstallationState) Resource(kind string) ResourceRecord {
	if record, ok := s.Resources[kind]; ok {
		return record
	}
	return ResourceRecord{}
}
