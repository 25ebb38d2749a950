package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

// fakeControlPlane simulates the full provisioning surface: service
// enablement, identity resources, function deployment with source upload,
// the gateway stack, key minting, and the identity platform config.
type fakeControlPlane struct {
	mu sync.Mutex

	baseURL string

	enableCalls      int
	saExists         bool
	policies         map[string]*PolicyDocument
	uploads          int
	functions        map[string]bool
	apiExists        bool
	configExists     bool
	gatewayExists    bool
	gatewayActivates bool
	identityDomains  []string
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		policies:         make(map[string]*PolicyDocument),
		functions:        make(map[string]bool),
		gatewayActivates: true,
		identityDomains:  []string{"demo.firebaseapp.com"},
	}
}

func (f *fakeControlPlane) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	f.baseURL = srv.URL
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeControlPlane) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case strings.HasSuffix(path, ":enable"):
		f.enableCalls++
		fmt.Fprint(w, `{}`)

	case strings.HasSuffix(path, ":getIamPolicy"):
		scope := strings.TrimSuffix(path, ":getIamPolicy")
		policy := f.policies[scope]
		if policy == nil {
			policy = &PolicyDocument{Version: 1}
		}
		json.NewEncoder(w).Encode(policy)

	case strings.HasSuffix(path, ":setIamPolicy"):
		scope := strings.TrimSuffix(path, ":setIamPolicy")
		var body struct {
			Policy *PolicyDocument `json:"policy"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Policy == nil {
			writeAPIError(w, http.StatusBadRequest, "malformed policy write")
			return
		}
		f.policies[scope] = body.Policy
		json.NewEncoder(w).Encode(body.Policy)

	case strings.Contains(path, "/serviceAccounts"):
		f.serveServiceAccounts(w, r, path)

	case strings.HasSuffix(path, "functions:generateUploadUrl"):
		fmt.Fprintf(w, `{"uploadUrl":"%s/upload/source.zip"}`, f.baseURL)

	case strings.HasPrefix(path, "/upload/"):
		f.uploads++
		w.WriteHeader(http.StatusOK)

	case strings.Contains(path, "/functions/v1/"):
		f.serveFunctions(w, r, path)

	case strings.Contains(path, "/apigateway/v1/"):
		f.serveGatewayStack(w, r, path)

	case strings.Contains(path, "/apikeys/v2/"):
		f.serveAPIKeys(w, r, path)

	case strings.HasSuffix(path, "/config"):
		f.serveIdentityConfig(w, r)

	default:
		writeAPIError(w, http.StatusNotFound, "unexpected path "+path)
	}
}

func (f *fakeControlPlane) serveServiceAccounts(w http.ResponseWriter, r *http.Request, path string) {
	const email = "stackpilot-runtime@demo.iam.gserviceaccount.com"
	account := fmt.Sprintf(`{"name":"projects/demo/serviceAccounts/%s","email":"%s","displayName":"stackpilot runtime"}`, email, email)

	switch {
	case strings.HasSuffix(path, "/keys"):
		fmt.Fprintf(w, `{"name":"projects/demo/serviceAccounts/%s/keys/key-1","privateKeyData":"cHJpdmF0ZQ=="}`, email)

	case r.Method == http.MethodPost:
		f.saExists = true
		fmt.Fprint(w, account)

	default:
		if !f.saExists {
			writeAPIError(w, http.StatusNotFound, "service account not found")
			return
		}
		fmt.Fprint(w, account)
	}
}

func (f *fakeControlPlane) serveFunctions(w http.ResponseWriter, r *http.Request, path string) {
	switch {
	case strings.Contains(path, "/operations/"):
		fmt.Fprint(w, `{"name":"op-fn","done":true}`)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/functions"):
		var fn functionResource
		if err := json.NewDecoder(r.Body).Decode(&fn); err != nil {
			writeAPIError(w, http.StatusBadRequest, "malformed function")
			return
		}
		name := fn.Name[strings.LastIndex(fn.Name, "/")+1:]
		f.functions[name] = true
		fmt.Fprint(w, `{"name":"projects/demo/locations/us-central1/operations/op-fn"}`)

	default:
		name := path[strings.LastIndex(path, "/")+1:]
		if !f.functions[name] {
			writeAPIError(w, http.StatusNotFound, "function not found")
			return
		}
		fmt.Fprintf(w, `{"name":"%s","status":"ACTIVE","httpsTrigger":{"url":"https://%s.example.test"}}`,
			strings.TrimPrefix(path, "/functions/v1/"), name)
	}
}

func (f *fakeControlPlane) serveGatewayStack(w http.ResponseWriter, r *http.Request, path string) {
	switch {
	case strings.Contains(path, "/operations/"):
		fmt.Fprint(w, `{"name":"op-gw","done":true}`)

	case strings.Contains(path, "/configs"):
		if r.Method == http.MethodPost {
			f.configExists = true
			fmt.Fprint(w, `{"name":"projects/demo/locations/global/operations/op-config"}`)
			return
		}
		if !f.configExists {
			writeAPIError(w, http.StatusNotFound, "config not found")
			return
		}
		fmt.Fprint(w, `{"state":"ACTIVE"}`)

	case strings.Contains(path, "/gateways"):
		if r.Method == http.MethodPost {
			f.gatewayExists = true
			fmt.Fprint(w, `{"name":"projects/demo/locations/us-central1/operations/op-gateway"}`)
			return
		}
		if !f.gatewayExists {
			writeAPIError(w, http.StatusNotFound, "gateway not found")
			return
		}
		if !f.gatewayActivates {
			fmt.Fprint(w, `{"state":"ACTIVATING"}`)
			return
		}
		fmt.Fprint(w, `{"state":"ACTIVE","defaultHostname":"stackpilot-gateway-8fk2.gateway.dev"}`)

	case strings.Contains(path, "/apis"):
		if r.Method == http.MethodPost {
			f.apiExists = true
			fmt.Fprint(w, `{"name":"projects/demo/locations/global/operations/op-api"}`)
			return
		}
		if !f.apiExists {
			writeAPIError(w, http.StatusNotFound, "api not found")
			return
		}
		fmt.Fprint(w, `{"name":"projects/demo/locations/global/apis/stackpilot-api","managedService":"stackpilot-api-1a2b3c.apigateway.demo.cloud.goog"}`)

	default:
		writeAPIError(w, http.StatusNotFound, "unexpected gateway path "+path)
	}
}

func (f *fakeControlPlane) serveAPIKeys(w http.ResponseWriter, r *http.Request, path string) {
	switch {
	case strings.Contains(path, "/operations/"):
		fmt.Fprint(w, `{"name":"op-key","done":true,"response":{"keyString":"AIzaFakeKey123"}}`)

	case r.Method == http.MethodPost:
		fmt.Fprint(w, `{"name":"operations/op-key"}`)

	case strings.HasSuffix(path, "/keyString"):
		fmt.Fprint(w, `{"keyString":"AIzaFakeKey123"}`)

	default:
		writeAPIError(w, http.StatusNotFound, "unexpected keys path "+path)
	}
}

func (f *fakeControlPlane) serveIdentityConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPatch {
		var body struct {
			AuthorizedDomains []string `json:"authorizedDomains"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeAPIError(w, http.StatusBadRequest, "malformed identity config")
			return
		}
		f.identityDomains = body.AuthorizedDomains
	}
	resp := map[string]interface{}{
		"name":              "projects/demo/config",
		"signIn":            map[string]interface{}{"email": map[string]bool{"enabled": true}},
		"authorizedDomains": f.identityDomains,
	}
	json.NewEncoder(w).Encode(resp)
}

func newScenarioStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func runScenario(t *testing.T, plane *fakeControlPlane, store *stores.SQLiteStore, progress *[]int) (*engine.Result, error) {
	t.Helper()

	srv := plane.start(t)
	prov := newTestProvisioner(t, srv, testManifest(t, "demo"))

	runner, err := engine.NewRunner(prov.Steps(), store, "1.0.0", engine.RunnerOptions{
		Progress: func(label string, pct int) {
			*progress = append(*progress, pct)
		},
		Logger: zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	return runner.Run(context.Background(), "demo", "Demo")
}

func TestFullInstall(t *testing.T) {
	plane := newFakeControlPlane()
	store := newScenarioStore(t)
	var progress []int

	result, err := runScenario(t, plane, store, &progress)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Status != engine.RunStatusCompleted {
		t.Errorf("status = %v, want completed", result.Status)
	}
	if got := result.Resource(KindGateway)["url"]; got != "https://stackpilot-gateway-8fk2.gateway.dev" {
		t.Errorf("gateway url = %q", got)
	}
	if got := result.Resource(KindAPIKey)["key_string"]; got != "AIzaFakeKey123" {
		t.Errorf("key string = %q", got)
	}
	if got := result.Resource(KindFunctions)["create-item_url"]; got != "https://create-item.example.test" {
		t.Errorf("function url = %q", got)
	}
	if got := result.Resource(KindServiceAccount)["email"]; got != "stackpilot-runtime@demo.iam.gserviceaccount.com" {
		t.Errorf("service account email = %q", got)
	}

	if plane.enableCalls != len(requiredServices) {
		t.Errorf("enable calls = %d, want %d", plane.enableCalls, len(requiredServices))
	}
	if plane.uploads != 2 {
		t.Errorf("source uploads = %d, want one per function", plane.uploads)
	}

	// The gateway hostname must end up authorized for sign-in.
	found := false
	for _, d := range plane.identityDomains {
		if d == "stackpilot-gateway-8fk2.gateway.dev" {
			found = true
		}
	}
	if !found {
		t.Errorf("authorized domains = %v, missing gateway hostname", plane.identityDomains)
	}

	// The runtime account received its project roles in one write.
	projectPolicy := plane.policies["/resourcemanager/v1/projects/demo"]
	if projectPolicy == nil {
		t.Fatal("no project policy was written")
	}
	if len(projectPolicy.Bindings) != len(projectRoles) {
		t.Errorf("project bindings = %+v, want one per role", projectPolicy.Bindings)
	}

	if len(progress) == 0 {
		t.Fatal("no progress was reported")
	}
	for i := 1; i < len(progress); i++ {
		if progress[i] < progress[i-1] {
			t.Errorf("progress went backwards at %d: %v", i, progress)
		}
	}
	if last := progress[len(progress)-1]; last != 100 {
		t.Errorf("final progress = %d, want 100", last)
	}

	// The persisted record carries the compiled result for later export.
	state, err := store.Load(context.Background(), "demo")
	if err != nil || state == nil {
		t.Fatalf("failed to load persisted record: state=%v err=%v", state, err)
	}
	if len(state.CompletedSteps) != 9 {
		t.Errorf("completed steps = %v, want all nine", state.CompletedSteps)
	}
	if state.FinalResult == nil {
		t.Error("final result was not persisted")
	}
}

func TestResumeSkipsEnableStep(t *testing.T) {
	plane := newFakeControlPlane()
	store := newScenarioStore(t)

	seed := &stores.InstallationState{
		ProjectID:      "demo",
		DisplayName:    "Demo",
		SchemaVersion:  "1.0.0",
		CompletedSteps: []string{StepEnableAPIs},
		Resources: map[string]stores.ResourceRecord{
			KindServices: {"enabled": "all"},
		},
	}
	if err := store.Save(context.Background(), seed); err != nil {
		t.Fatalf("failed to seed record: %v", err)
	}

	var progress []int
	result, err := runScenario(t, plane, store, &progress)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if plane.enableCalls != 0 {
		t.Errorf("enable calls = %d, want 0 on resume", plane.enableCalls)
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Name != StepEnableAPIs {
		t.Errorf("skipped = %+v, want only the enablement step", result.Skipped)
	}
	if got := result.Resource(KindServices)["enabled"]; got != "all" {
		t.Errorf("resumed services record = %q, want carried over", got)
	}
	if len(progress) == 0 || progress[0] != 10 {
		t.Errorf("first progress = %v, want resume to start at the skipped weight", progress)
	}
}

func TestDegradedGatewayStillCompletes(t *testing.T) {
	plane := newFakeControlPlane()
	plane.gatewayActivates = false
	store := newScenarioStore(t)
	var progress []int

	result, err := runScenario(t, plane, store, &progress)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Status != engine.RunStatusCompleted {
		t.Errorf("status = %v, want completed despite the slow gateway", result.Status)
	}
	if got := result.Resource(KindGateway)["state"]; got != "ACTIVATING" {
		t.Errorf("gateway state = %q, want ACTIVATING", got)
	}
	if got := result.Resource(KindGateway)["hostname"]; got != "" {
		t.Errorf("gateway hostname = %q, want unknown", got)
	}
	if len(result.Warnings) < 2 {
		t.Errorf("warnings = %v, want gateway and sign-in notes", result.Warnings)
	}
	if got := result.Resource(KindAPIKey)["key_string"]; got == "" {
		t.Error("api key step did not run after the degraded gateway")
	}
}
