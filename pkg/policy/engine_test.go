package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stackpilot/stackpilot/pkg/config"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func cleanManifest() *config.Manifest {
	return &config.Manifest{
		Project: config.ProjectConfig{ID: "demo-project"},
		Region:  "us-central1",
		Names: config.NamesConfig{
			ServiceAccount: "stackpilot-runtime",
			API:            "stackpilot-api",
			Gateway:        "stackpilot-gateway",
			APIKey:         "stackpilot-key",
		},
		Functions: []config.FunctionSpec{
			{Name: "create-item", EntryPoint: "createItem", Runtime: "nodejs20", SourcePath: "./fn.zip"},
		},
	}
}

func violationMessages(result *Result) []string {
	msgs := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		msgs = append(msgs, v.Message)
	}
	return msgs
}

func TestEvaluateCleanManifest(t *testing.T) {
	engine := testEngine(t)

	result, err := engine.Evaluate(context.Background(), cleanManifest())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("allowed = false, violations: %v", violationMessages(result))
	}
	if len(result.Warnings) != 0 {
		t.Errorf("warnings = %v, want none", result.Warnings)
	}
}

func TestEvaluateRegionAllowlist(t *testing.T) {
	engine := testEngine(t)

	m := cleanManifest()
	m.Region = "asia-east1"
	m.Policy.AllowedRegions = []string{"us-central1", "europe-west1"}

	result, err := engine.Evaluate(context.Background(), m)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("allowed = true for a region outside the allowlist")
	}

	found := false
	for _, msg := range violationMessages(result) {
		if strings.Contains(msg, "asia-east1") {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %v, want one naming the region", violationMessages(result))
	}
}

func TestEvaluateEmptyAllowlistPermitsAnyRegion(t *testing.T) {
	engine := testEngine(t)

	m := cleanManifest()
	m.Region = "asia-east1"

	result, err := engine.Evaluate(context.Background(), m)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("allowed = false with no allowlist, violations: %v", violationMessages(result))
	}
}

func TestEvaluateNamingViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Manifest)
	}{
		{"trailing hyphen", func(m *config.Manifest) { m.Names.Gateway = "bad-gateway-" }},
		{"uppercase", func(m *config.Manifest) { m.Names.API = "BadAPI" }},
		{"overlong", func(m *config.Manifest) { m.Names.ServiceAccount = strings.Repeat("a", 64) }},
		{"bad function name", func(m *config.Manifest) { m.Functions[0].Name = "Create_Item" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := testEngine(t)
			m := cleanManifest()
			tt.mutate(m)

			result, err := engine.Evaluate(context.Background(), m)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if result.Allowed {
				t.Error("allowed = true for a malformed resource name")
			}
		})
	}
}

func TestEvaluateFunctionLimits(t *testing.T) {
	t.Run("duplicate names", func(t *testing.T) {
		engine := testEngine(t)
		m := cleanManifest()
		m.Functions = append(m.Functions, m.Functions[0])

		result, err := engine.Evaluate(context.Background(), m)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if result.Allowed {
			t.Error("allowed = true for duplicate function names")
		}
	})

	t.Run("unsupported runtime", func(t *testing.T) {
		engine := testEngine(t)
		m := cleanManifest()
		m.Functions[0].Runtime = "cobol85"

		result, err := engine.Evaluate(context.Background(), m)
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if result.Allowed {
			t.Error("allowed = true for an unsupported runtime")
		}
		found := false
		for _, msg := range violationMessages(result) {
			if strings.Contains(msg, "cobol85") {
				found = true
			}
		}
		if !found {
			t.Errorf("violations = %v, want one naming the runtime", violationMessages(result))
		}
	})
}

func TestLoadPoliciesFromDirectory(t *testing.T) {
	engine := testEngine(t)

	dir := t.TempDir()
	rego := `package custom.labels

import rego.v1

deny contains violation if {
	not input.manifest.labels.team
	violation := {
		"message": "Manifests must carry a team label",
		"severity": "error",
	}
}
`
	if err := os.WriteFile(filepath.Join(dir, "labels.rego"), []byte(rego), 0o600); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}

	if err := engine.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	if _, err := engine.GetPolicy("labels"); err != nil {
		t.Fatalf("loaded policies = %v, want labels", policyNames(engine.ListPolicies()))
	}

	result, err := engine.Evaluate(context.Background(), cleanManifest())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("allowed = true, want the custom policy to reject a manifest without labels")
	}

	m := cleanManifest()
	m.Labels = map[string]string{"team": "platform"}
	result, err = engine.Evaluate(context.Background(), m)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("allowed = false with the label present, violations: %v", violationMessages(result))
	}
}

func policyNames(policies []Policy) []string {
	names := make([]string, 0, len(policies))
	for _, p := range policies {
		names = append(names, p.Name)
	}
	return names
}
