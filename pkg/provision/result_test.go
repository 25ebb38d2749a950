package provision

import (
	"strings"
	"testing"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

func completedResult() *engine.Result {
	return &engine.Result{
		ProjectID: "demo",
		Status:    engine.RunStatusCompleted,
		Resources: map[string]stores.ResourceRecord{
			KindGateway:        {"url": "https://gw.gateway.dev", "hostname": "gw.gateway.dev"},
			KindAPIKey:         {"key_string": "AIzaFakeKey123"},
			KindServiceAccount: {"email": "stackpilot-runtime@demo.iam.gserviceaccount.com"},
			KindFunctions: {
				"list-items_url":  "https://list-items.example.test",
				"create-item_url": "https://create-item.example.test",
			},
		},
	}
}

func TestExportEnv(t *testing.T) {
	out := ExportEnv(completedResult())
	lines := strings.Split(strings.TrimSpace(out), "\n")

	want := []string{
		"STACKPILOT_PROJECT_ID=demo",
		"STACKPILOT_GATEWAY_URL=https://gw.gateway.dev",
		"STACKPILOT_API_KEY=AIzaFakeKey123",
		"STACKPILOT_SERVICE_ACCOUNT=stackpilot-runtime@demo.iam.gserviceaccount.com",
		"STACKPILOT_FUNCTION_CREATE_ITEM_URL=https://create-item.example.test",
		"STACKPILOT_FUNCTION_LIST_ITEMS_URL=https://list-items.example.test",
	}
	if len(lines) < len(want) {
		t.Fatalf("output has %d lines, want at least %d:\n%s", len(lines), len(want), out)
	}
	for i, w := range want {
		if lines[i] != w {
			t.Fatalf("line %d = %q, want %q\nfull output:\n%s", i, lines[i], w, out)
		}
	}

	if !strings.Contains(out, "# Next steps:") {
		t.Error("next steps section missing")
	}
}

func TestExportEnvOmitsMissingResources(t *testing.T) {
	result := &engine.Result{
		ProjectID: "demo",
		Status:    engine.RunStatusCompleted,
		Resources: map[string]stores.ResourceRecord{
			KindGateway: {"state": "ACTIVATING"},
		},
	}

	out := ExportEnv(result)
	if strings.Contains(out, "STACKPILOT_GATEWAY_URL") {
		t.Error("gateway URL exported for a gateway without one")
	}
	if strings.Contains(out, "STACKPILOT_API_KEY") {
		t.Error("api key exported when none was recorded")
	}
}

func TestNextStepsCarriesWarnings(t *testing.T) {
	result := completedResult()
	result.Warnings = []string{"gateway stackpilot-gateway had not finished activating"}

	steps := NextSteps(result)
	if len(steps) == 0 || steps[0] != result.Warnings[0] {
		t.Errorf("steps = %v, want the warning first", steps)
	}

	foundVerify := false
	for _, s := range steps {
		if strings.Contains(s, "test request") {
			foundVerify = true
		}
	}
	if !foundVerify {
		t.Errorf("steps = %v, missing verification advice", steps)
	}
}

func TestNextStepsFailedRunHasNoAdvice(t *testing.T) {
	result := completedResult()
	result.Status = engine.RunStatusFailed

	if steps := NextSteps(result); len(steps) != 0 {
		t.Errorf("steps = %v, want none for a failed attempt", steps)
	}
}
