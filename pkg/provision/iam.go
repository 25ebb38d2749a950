package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

// projectRoles are granted to the runtime service account on the project
// scope. This list is version-critical: extending it in a later release must
// retroactively apply to deployments provisioned by earlier releases.
var projectRoles = []string{
	"roles/datastore.user",
	"roles/iam.serviceAccountTokenCreator",
	"roles/logging.logWriter",
}

// PolicyDocument is an access-policy document for a project or a single
// identity resource.
type PolicyDocument struct {
	Version  int       `json:"version,omitempty"`
	Bindings []Binding `json:"bindings"`
	Etag     string    `json:"etag,omitempty"`
}

// Binding grants one role to a set of members.
type Binding struct {
	Role    string   `json:"role"`
	Members []string `json:"members"`
}

// RoleGrant is one (role, member) pair to add.
type RoleGrant struct {
	Role   string
	Member string
}

// MergeBindings applies grants to a policy additively: members are appended
// to existing role bindings only if absent, missing bindings are created,
// and bindings for unmentioned roles are left untouched. Malformed members
// are stripped first so a poisoned document cannot reject the write-back.
// Reports whether the policy changed.
func MergeBindings(policy *PolicyDocument, grants []RoleGrant) bool {
	changed := false

	for i := range policy.Bindings {
		kept := policy.Bindings[i].Members[:0]
		for _, m := range policy.Bindings[i].Members {
			if memberValid(m) {
				kept = append(kept, m)
			} else {
				changed = true
			}
		}
		policy.Bindings[i].Members = kept
	}

	for _, g := range grants {
		idx := -1
		for i := range policy.Bindings {
			if policy.Bindings[i].Role == g.Role {
				idx = i
				break
			}
		}

		if idx < 0 {
			policy.Bindings = append(policy.Bindings, Binding{
				Role:    g.Role,
				Members: []string{g.Member},
			})
			changed = true
			continue
		}

		present := false
		for _, m := range policy.Bindings[idx].Members {
			if m == g.Member {
				present = true
				break
			}
		}
		if !present {
			policy.Bindings[idx].Members = append(policy.Bindings[idx].Members, g.Member)
			changed = true
		}
	}

	return changed
}

// memberValid reports whether a member entry is well formed: a known prefix,
// a non-empty identifier, and no unresolved placeholder.
func memberValid(member string) bool {
	prefix, id, ok := strings.Cut(member, ":")
	if !ok {
		// allUsers and allAuthenticatedUsers carry no identifier.
		return member == "allUsers" || member == "allAuthenticatedUsers"
	}
	if prefix == "" || id == "" {
		return false
	}
	return !strings.Contains(id, "undefined")
}

// applyGrants performs the read-merge-write cycle against a policy scope.
// The write-back is a full-document replace; the narrow race between
// concurrent installers on the same scope is accepted.
func (p *Provisioner) applyGrants(ctx context.Context, scopeURL string, grants []RoleGrant) error {
	var policy PolicyDocument
	if err := p.client.Post(ctx, scopeURL+":getIamPolicy", map[string]interface{}{}, &policy); err != nil {
		return fmt.Errorf("failed to read policy: %w", err)
	}

	if !MergeBindings(&policy, grants) {
		return nil
	}

	body := map[string]interface{}{"policy": &policy}
	if err := p.client.Post(ctx, scopeURL+":setIamPolicy", body, nil); err != nil {
		return fmt.Errorf("failed to write policy: %w", err)
	}
	return nil
}

// GrantProjectRole grants one role to a member on the project scope.
func (p *Provisioner) GrantProjectRole(ctx context.Context, role, member string) error {
	scope := fmt.Sprintf("%s/projects/%s", p.eps.ResourceManager, p.manifest.Project.ID)
	return p.applyGrants(ctx, scope, []RoleGrant{{Role: role, Member: member}})
}

// GrantServiceAccountRole grants a role on a single service account's own
// policy scope, used for token-creator style impersonation bindings.
func (p *Provisioner) GrantServiceAccountRole(ctx context.Context, email, role, member string) error {
	scope := fmt.Sprintf("%s/projects/%s/serviceAccounts/%s", p.eps.IAM, p.manifest.Project.ID, email)
	return p.applyGrants(ctx, scope, []RoleGrant{{Role: role, Member: member}})
}

// grantProjectRoles grants the runtime service account its project roles in
// a single read-merge-write cycle.
func (p *Provisioner) grantProjectRoles(ctx context.Context, rc *engine.RunContext) (*engine.StepResult, error) {
	email := rc.Resource(KindServiceAccount)["email"]
	if email == "" {
		return nil, engine.NewFatalError("service account email missing from prior step", nil)
	}
	member := "serviceAccount:" + email

	grants := make([]RoleGrant, 0, len(projectRoles))
	for _, role := range projectRoles {
		grants = append(grants, RoleGrant{Role: role, Member: member})
	}

	scope := fmt.Sprintf("%s/projects/%s", p.eps.ResourceManager, rc.ProjectID())
	if err := p.applyGrants(ctx, scope, grants); err != nil {
		return nil, wrapCallError("grant project roles", err)
	}

	return &engine.StepResult{
		Resources: map[string]stores.ResourceRecord{
			KindServiceAccount: {"project_roles": strings.Join(projectRoles, ",")},
		},
	}, nil
}
