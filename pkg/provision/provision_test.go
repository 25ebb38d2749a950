package provision

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackpilot/stackpilot/pkg/cloudapi"
	"github.com/stackpilot/stackpilot/pkg/config"
)

// testManifest returns a manifest with every wait collapsed so tests run in
// milliseconds.
func testManifest(t *testing.T, projectID string) *config.Manifest {
	t.Helper()

	source := filepath.Join(t.TempDir(), "fn.zip")
	if err := os.WriteFile(source, []byte("zip-payload"), 0o600); err != nil {
		t.Fatalf("failed to write source archive: %v", err)
	}

	return &config.Manifest{
		Project: config.ProjectConfig{ID: projectID, DisplayName: "Demo"},
		Region:  "us-central1",
		Names: config.NamesConfig{
			ServiceAccount: "stackpilot-runtime",
			API:            "stackpilot-api",
			Gateway:        "stackpilot-gateway",
			APIKey:         "stackpilot-key",
		},
		Functions: []config.FunctionSpec{
			{Name: "create-item", EntryPoint: "createItem", Runtime: "nodejs20", SourcePath: source},
			{Name: "list-items", EntryPoint: "listItems", Runtime: "nodejs20", SourcePath: source},
		},
		Timing: config.TimingConfig{
			MaxAttempts:           1,
			AttemptTimeoutSeconds: 5,
			ConfigPollChecks:      5,
			GatewayPollChecks:     5,
			PropagationChecks:     1,
			OperationPollChecks:   5,
		},
	}
}

// testEndpoints points every service at the same fake server.
func testEndpoints(base string) Endpoints {
	return Endpoints{
		ServiceUsage:    base + "/serviceusage/v1",
		IAM:             base + "/iam/v1",
		ResourceManager: base + "/resourcemanager/v1",
		Functions:       base + "/functions/v1",
		APIGateway:      base + "/apigateway/v1",
		APIKeys:         base + "/apikeys/v2",
		Firestore:       base + "/firestore/v1",
		Identity:        base + "/identitytoolkit",
	}
}

func newTestProvisioner(t *testing.T, srv *httptest.Server, manifest *config.Manifest) *Provisioner {
	t.Helper()

	client := cloudapi.NewClient(cloudapi.StaticToken("test-token"), cloudapi.Options{
		MaxAttempts:    1,
		AttemptTimeout: 5 * time.Second,
	})
	return New(client, manifest, testEndpoints(srv.URL), "1.0.0", zerolog.Nop())
}
