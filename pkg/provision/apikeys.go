package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stackpilot/stackpilot/pkg/cloudapi"
	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

// createAPIKey mints an API key restricted to the gateway's managed service.
// Key creation is asynchronous; the key string arrives in the finished
// operation's response.
func (p *Provisioner) createAPIKey(ctx context.Context, rc *engine.RunContext) (*engine.StepResult, error) {
	managedService := rc.Resource(KindAPI)["managed_service"]
	if managedService == "" {
		return nil, engine.NewFatalError("managed service name missing from prior step", nil)
	}

	keyID := p.manifest.Names.APIKey
	keysURL := fmt.Sprintf("%s/projects/%s/locations/global/keys", p.eps.APIKeys, rc.ProjectID())
	keyName := fmt.Sprintf("projects/%s/locations/global/keys/%s", rc.ProjectID(), keyID)

	body := map[string]interface{}{
		"displayName": keyID,
		"restrictions": map[string]interface{}{
			"apiTargets": []map[string]interface{}{
				{"service": managedService},
			},
		},
	}

	var keyString string
	var op cloudapi.Operation
	err := p.client.Post(ctx, keysURL+"?keyId="+keyID, body, &op)
	switch {
	case cloudapi.IsConflict(err):
		// Key survives from an earlier attempt; read its string back.
		rc.Logger().Info().Str("key", keyID).Msg("api key already exists")
	case err != nil:
		return nil, wrapCallError("create api key", err)
	default:
		t := p.manifest.Timing
		finished, pollErr := p.client.PollOperation(ctx, p.eps.APIKeys+"/"+op.Name, cloudapi.PollConfig{
			Kind:      "api_key",
			MaxChecks: t.OperationPollChecks,
			Interval:  t.OperationPollInterval(),
		}, func(check int, _ time.Duration) {
			rc.Checkpoint(float64(check) / float64(t.OperationPollChecks))
		})
		if pollErr != nil {
			return nil, wrapCallError("wait for api key", pollErr)
		}
		var created struct {
			KeyString string `json:"keyString"`
		}
		if len(finished.Response) > 0 {
			if err := json.Unmarshal(finished.Response, &created); err != nil {
				return nil, engine.NewFatalError("failed to decode api key response", err)
			}
		}
		keyString = created.KeyString
	}

	if keyString == "" {
		var ks struct {
			KeyString string `json:"keyString"`
		}
		if err := p.client.Get(ctx, p.eps.APIKeys+"/"+keyName+"/keyString", &ks); err != nil {
			return nil, wrapCallError("read api key string", err)
		}
		keyString = ks.KeyString
	}

	return &engine.StepResult{
		Resources: map[string]stores.ResourceRecord{
			KindAPIKey: {
				"name":       keyName,
				"key_string": keyString,
			},
		},
	}, nil
}
