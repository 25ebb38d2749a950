package provision

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// fakePrereqPlane simulates the read-only surface consulted by the
// prerequisite gate.
type fakePrereqPlane struct {
	databaseExists bool
	authInit       bool
	emailEnabled   bool
	userCount      int

	queryCalls atomic.Int32
}

func (f *fakePrereqPlane) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/databases/"):
			if !f.databaseExists {
				writeAPIError(w, http.StatusNotFound, "database does not exist")
				return
			}
			fmt.Fprint(w, `{"name":"projects/demo/databases/(default)"}`)

		case strings.HasSuffix(r.URL.Path, "/config"):
			if !f.authInit {
				writeAPIError(w, http.StatusNotFound, "identity platform not configured")
				return
			}
			fmt.Fprintf(w, `{"name":"projects/demo/config","signIn":{"email":{"enabled":%t}}}`, f.emailEnabled)

		case strings.HasSuffix(r.URL.Path, "accounts:query"):
			f.queryCalls.Add(1)
			fmt.Fprintf(w, `{"recordsCount":"%d"}`, f.userCount)

		default:
			writeAPIError(w, http.StatusNotFound, "unexpected path "+r.URL.Path)
		}
	}
}

func writeAPIError(w http.ResponseWriter, code int, message string) {
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q}}`, code, message)
}

func remediationTitles(rems []engine.Remediation) []string {
	titles := make([]string, 0, len(rems))
	for _, r := range rems {
		titles = append(titles, r.Title)
	}
	return titles
}

func TestCheckPrerequisitesAllMet(t *testing.T) {
	plane := &fakePrereqPlane{databaseExists: true, authInit: true, emailEnabled: true, userCount: 2}
	srv := httptest.NewServer(plane.handler())
	defer srv.Close()

	prov := newTestProvisioner(t, srv, testManifest(t, "demo"))
	unmet, err := prov.CheckPrerequisites(context.Background())
	if err != nil {
		t.Fatalf("CheckPrerequisites returned error: %v", err)
	}
	if len(unmet) != 0 {
		t.Errorf("unmet = %v, want none", remediationTitles(unmet))
	}
}

func TestCheckPrerequisitesSuppressesDependents(t *testing.T) {
	plane := &fakePrereqPlane{databaseExists: true, authInit: false}
	srv := httptest.NewServer(plane.handler())
	defer srv.Close()

	prov := newTestProvisioner(t, srv, testManifest(t, "demo"))
	unmet, err := prov.CheckPrerequisites(context.Background())
	if err != nil {
		t.Fatalf("CheckPrerequisites returned error: %v", err)
	}

	titles := remediationTitles(unmet)
	if len(titles) != 1 || titles[0] != "Initialize authentication" {
		t.Errorf("unmet = %v, want only the authentication remediation", titles)
	}
	if got := plane.queryCalls.Load(); got != 0 {
		t.Errorf("accounts:query called %d times, want 0 when sign-in is unverifiable", got)
	}
}

func TestCheckPrerequisitesEmailDisabledSuppressesUserCheck(t *testing.T) {
	plane := &fakePrereqPlane{databaseExists: true, authInit: true, emailEnabled: false, userCount: 3}
	srv := httptest.NewServer(plane.handler())
	defer srv.Close()

	prov := newTestProvisioner(t, srv, testManifest(t, "demo"))
	unmet, err := prov.CheckPrerequisites(context.Background())
	if err != nil {
		t.Fatalf("CheckPrerequisites returned error: %v", err)
	}

	titles := remediationTitles(unmet)
	if len(titles) != 1 || titles[0] != "Enable email/password sign-in" {
		t.Errorf("unmet = %v, want only the sign-in remediation", titles)
	}
	if got := plane.queryCalls.Load(); got != 0 {
		t.Errorf("accounts:query called %d times, want 0", got)
	}
}

func TestCheckPrerequisitesIndependentFailuresAllReported(t *testing.T) {
	plane := &fakePrereqPlane{databaseExists: false, authInit: true, emailEnabled: true, userCount: 0}
	srv := httptest.NewServer(plane.handler())
	defer srv.Close()

	prov := newTestProvisioner(t, srv, testManifest(t, "demo"))
	unmet, err := prov.CheckPrerequisites(context.Background())
	if err != nil {
		t.Fatalf("CheckPrerequisites returned error: %v", err)
	}

	titles := remediationTitles(unmet)
	want := []string{"Create the document database", "Create a test user"}
	if len(titles) != len(want) || titles[0] != want[0] || titles[1] != want[1] {
		t.Errorf("unmet = %v, want %v", titles, want)
	}
}

func TestCheckPrerequisitesAuthExpiredAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusUnauthorized, "token expired")
	}))
	defer srv.Close()

	prov := newTestProvisioner(t, srv, testManifest(t, "demo"))
	_, err := prov.CheckPrerequisites(context.Background())
	if err == nil {
		t.Fatal("expected an error for an expired credential")
	}
	if engine.ClassOf(err) != engine.ErrorClassAuthExpired {
		t.Errorf("class = %v, want auth expired", engine.ClassOf(err))
	}
}

func TestGatePrerequisitesBlocks(t *testing.T) {
	plane := &fakePrereqPlane{databaseExists: false, authInit: true, emailEnabled: true, userCount: 1}
	srv := httptest.NewServer(plane.handler())
	defer srv.Close()

	prov := newTestProvisioner(t, srv, testManifest(t, "demo"))
	err := prov.GatePrerequisites(context.Background())

	blocked, ok := engine.AsBlocked(err)
	if !ok {
		t.Fatalf("expected a blocked error, got %v", err)
	}
	if len(blocked.Remediations) != 1 {
		t.Errorf("remediations = %v, want one", remediationTitles(blocked.Remediations))
	}

	plane.databaseExists = true
	if err := prov.GatePrerequisites(context.Background()); err != nil {
		t.Errorf("GatePrerequisites returned %v after remediation, want nil", err)
	}
}
