package provision

import (
	"context"
	"fmt"

	"github.com/stackpilot/stackpilot/pkg/cloudapi"
	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

// serviceAccount is the control plane's identity resource.
type serviceAccount struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// serviceAccountKey is a generated credential for a service account. The
// private key material arrives base64-encoded and is persisted only inside
// the sealed installation record.
type serviceAccountKey struct {
	Name           string `json:"name"`
	PrivateKeyData string `json:"privateKeyData"`
}

// createServiceAccount ensures the runtime service account exists, generates
// a key for it, and grants the account permission to mint tokens for itself.
func (p *Provisioner) createServiceAccount(ctx context.Context, rc *engine.RunContext) (*engine.StepResult, error) {
	accountID := p.manifest.Names.ServiceAccount
	email := fmt.Sprintf("%s@%s.iam.gserviceaccount.com", accountID, rc.ProjectID())
	accountsURL := fmt.Sprintf("%s/projects/%s/serviceAccounts", p.eps.IAM, rc.ProjectID())

	var sa serviceAccount
	err := p.client.Get(ctx, accountsURL+"/"+email, &sa)
	switch {
	case err == nil:
		rc.Logger().Info().Str("email", sa.Email).Msg("service account already exists")
	case cloudapi.IsNotFound(err):
		body := map[string]interface{}{
			"accountId": accountID,
			"serviceAccount": map[string]interface{}{
				"displayName": "stackpilot runtime",
			},
		}
		createErr := p.client.Post(ctx, accountsURL, body, &sa)
		if cloudapi.IsConflict(createErr) {
			// Created by a concurrent attempt between our GET and POST.
			createErr = p.client.Get(ctx, accountsURL+"/"+email, &sa)
		}
		if createErr != nil {
			return nil, wrapCallError("create service account", createErr)
		}
		rc.Logger().Info().Str("email", sa.Email).Msg("service account created")
	default:
		return nil, wrapCallError("read service account", err)
	}
	rc.Checkpoint(0.4)

	var key serviceAccountKey
	keyBody := map[string]interface{}{"keyAlgorithm": "KEY_ALG_RSA_2048"}
	if err := p.client.Post(ctx, accountsURL+"/"+sa.Email+"/keys", keyBody, &key); err != nil {
		return nil, wrapCallError("create service account key", err)
	}
	rc.Checkpoint(0.7)

	// The account signs its own short-lived tokens at runtime.
	err = p.withPropagationRetry(ctx, "token creator binding", func() error {
		return p.GrantServiceAccountRole(ctx, sa.Email, "roles/iam.serviceAccountTokenCreator", "serviceAccount:"+sa.Email)
	})
	if err != nil {
		return nil, wrapCallError("grant token creator", err)
	}

	return &engine.StepResult{
		Resources: map[string]stores.ResourceRecord{
			KindServiceAccount: {
				"name":     sa.Name,
				"email":    sa.Email,
				"key_name": key.Name,
				"key_data": key.PrivateKeyData,
			},
		},
	}, nil
}
