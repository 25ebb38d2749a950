package provision

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stackpilot/stackpilot/pkg/cloudapi"
	"github.com/stackpilot/stackpilot/pkg/engine"
)

// prereqCheck is one externally managed condition the installer cannot
// satisfy itself. Checks run in order; dependsOn suppresses reporting a
// condition whose logical prerequisite is itself unmet, so the user never
// sees an unreachable instruction.
type prereqCheck struct {
	name        string
	dependsOn   string
	check       func(ctx context.Context) (bool, error)
	remediation engine.Remediation
}

// identityConfig is the subset of the identity platform config consulted by
// the gate and the identity step.
type identityConfig struct {
	Name   string `json:"name"`
	SignIn struct {
		Email struct {
			Enabled bool `json:"enabled"`
		} `json:"email"`
	} `json:"signIn"`
	AuthorizedDomains []string `json:"authorizedDomains"`
}

// CheckPrerequisites evaluates the prerequisite checklist and returns the
// remediations for every unmet, non-suppressed condition. An empty result
// means the install may proceed. A failed read counts as "condition not
// met", not as a transport error; only an expired credential aborts the
// evaluation.
func (p *Provisioner) CheckPrerequisites(ctx context.Context) ([]engine.Remediation, error) {
	project := p.manifest.Project.ID
	consoleBase := "https://console.firebase.google.com/project/" + project

	checks := []prereqCheck{
		{
			name: "database",
			check: func(ctx context.Context) (bool, error) {
				url := fmt.Sprintf("%s/projects/%s/databases/(default)", p.eps.Firestore, project)
				return p.readCheck(ctx, url, nil)
			},
			remediation: engine.Remediation{
				Title:       "Create the document database",
				Description: "Provisioning a database requires choosing a region and an access-rule mode, which are irreversible and cannot be automated.",
				ActionLabel: "Open database setup",
				ActionURL:   consoleBase + "/firestore",
				SubSteps: []string{
					"Click 'Create database'",
					"Choose the same region as this install",
					"Start in production mode",
				},
			},
		},
		{
			name: "auth-initialized",
			check: func(ctx context.Context) (bool, error) {
				url := fmt.Sprintf("%s/admin/v2/projects/%s/config", p.eps.Identity, project)
				return p.readCheck(ctx, url, nil)
			},
			remediation: engine.Remediation{
				Title:       "Initialize authentication",
				Description: "Authentication must be enabled once through the console before it can be configured programmatically.",
				ActionLabel: "Open authentication setup",
				ActionURL:   consoleBase + "/authentication",
				SubSteps: []string{
					"Click 'Get started'",
				},
			},
		},
		{
			name:      "email-password",
			dependsOn: "auth-initialized",
			check: func(ctx context.Context) (bool, error) {
				url := fmt.Sprintf("%s/admin/v2/projects/%s/config", p.eps.Identity, project)
				var cfg identityConfig
				ok, err := p.readCheck(ctx, url, &cfg)
				if !ok || err != nil {
					return false, err
				}
				return cfg.SignIn.Email.Enabled, nil
			},
			remediation: engine.Remediation{
				Title:       "Enable email/password sign-in",
				Description: "Choosing which sign-in methods to offer is a product decision the installer will not make for you.",
				ActionLabel: "Open sign-in methods",
				ActionURL:   consoleBase + "/authentication/providers",
				SubSteps: []string{
					"Select 'Email/Password'",
					"Toggle it on and save",
				},
			},
		},
		{
			name:      "test-user",
			dependsOn: "email-password",
			check: func(ctx context.Context) (bool, error) {
				url := fmt.Sprintf("%s/v1/projects/%s/accounts:query", p.eps.Identity, project)
				var resp struct {
					RecordsCount string `json:"recordsCount"`
				}
				if err := p.client.Post(ctx, url, map[string]interface{}{}, &resp); err != nil {
					return false, err
				}
				count, err := strconv.Atoi(resp.RecordsCount)
				if err != nil {
					return false, nil
				}
				return count > 0, nil
			},
			remediation: engine.Remediation{
				Title:       "Create a test user",
				Description: "At least one account is needed to verify the deployed endpoints end to end.",
				ActionLabel: "Open user management",
				ActionURL:   consoleBase + "/authentication/users",
				SubSteps: []string{
					"Click 'Add user'",
					"Enter any email and password you control",
				},
			},
		},
	}

	met := make(map[string]bool, len(checks))
	var unmet []engine.Remediation

	for _, c := range checks {
		if c.dependsOn != "" && !met[c.dependsOn] {
			continue
		}

		ok, err := c.check(ctx)
		if err != nil {
			if cloudapi.IsAuthExpired(err) {
				return nil, engine.NewAuthExpiredError("bearer token rejected during prerequisite checks", err)
			}
			p.logger.Debug().Err(err).Str("check", c.name).Msg("prerequisite read failed, treating as unmet")
			ok = false
		}

		met[c.name] = ok
		if !ok {
			unmet = append(unmet, c.remediation)
		}
	}

	return unmet, nil
}

// GatePrerequisites blocks the install with structured remediation when any
// prerequisite is unmet.
func (p *Provisioner) GatePrerequisites(ctx context.Context) error {
	unmet, err := p.CheckPrerequisites(ctx)
	if err != nil {
		return err
	}
	if len(unmet) > 0 {
		return &engine.BlockedError{Remediations: unmet}
	}
	return nil
}

// readCheck GETs a URL, decoding into out when non-nil. A 404 or any other
// client error reports the condition as unmet; transport failures bubble up
// for the caller to classify.
func (p *Provisioner) readCheck(ctx context.Context, url string, out interface{}) (bool, error) {
	err := p.client.Get(ctx, url, out)
	if err == nil {
		return true, nil
	}
	if cloudapi.IsAuthExpired(err) {
		return false, err
	}
	if _, ok := cloudapi.AsAPIError(err); ok {
		return false, nil
	}
	return false, err
}
