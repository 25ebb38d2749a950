package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

// configureIdentity adds the gateway hostname to the identity platform's
// authorized domains so federated sign-in works from the deployed endpoints.
// When the gateway finished in a degraded state its hostname is not yet
// known; the step records a warning instead of failing the attempt, since
// the domain can be authorized manually once the gateway settles.
func (p *Provisioner) configureIdentity(ctx context.Context, rc *engine.RunContext) (*engine.StepResult, error) {
	hostname := rc.Resource(KindGateway)["hostname"]
	if hostname == "" {
		return &engine.StepResult{
			Warnings: []string{
				"gateway hostname not yet known; add it to the authorized sign-in domains manually once the gateway is active",
			},
			RetryLater: true,
		}, nil
	}

	cfgURL := fmt.Sprintf("%s/admin/v2/projects/%s/config", p.eps.Identity, rc.ProjectID())

	var cfg identityConfig
	if err := p.client.Get(ctx, cfgURL, &cfg); err != nil {
		return nil, wrapCallError("read identity config", err)
	}
	rc.Checkpoint(0.5)

	domains := cfg.AuthorizedDomains
	present := false
	for _, d := range domains {
		if d == hostname {
			present = true
			break
		}
	}

	if !present {
		domains = append(domains, hostname)
		body := map[string]interface{}{"authorizedDomains": domains}
		if err := p.client.Patch(ctx, cfgURL+"?updateMask=authorizedDomains", body, nil); err != nil {
			return nil, wrapCallError("authorize gateway domain", err)
		}
		rc.Logger().Info().Str("domain", hostname).Msg("gateway domain authorized for sign-in")
	}

	return &engine.StepResult{
		Resources: map[string]stores.ResourceRecord{
			KindIdentity: {
				"authorized_domains": strings.Join(domains, ","),
			},
		},
	}, nil
}
