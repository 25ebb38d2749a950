package provision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/stackpilot/stackpilot/pkg/cloudapi"
	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

// createAPI ensures the managed API resource exists and records the managed
// service name later used to restrict the API key.
func (p *Provisioner) createAPI(ctx context.Context, rc *engine.RunContext) (*engine.StepResult, error) {
	apiID := p.manifest.Names.API
	apiName := fmt.Sprintf("projects/%s/locations/global/apis/%s", rc.ProjectID(), apiID)
	apiURL := p.eps.APIGateway + "/" + apiName

	var api struct {
		Name           string `json:"name"`
		ManagedService string `json:"managedService"`
	}

	err := p.client.Get(ctx, apiURL, &api)
	if cloudapi.IsNotFound(err) {
		createURL := fmt.Sprintf("%s/projects/%s/locations/global/apis?apiId=%s", p.eps.APIGateway, rc.ProjectID(), apiID)
		var op cloudapi.Operation
		createErr := p.client.Post(ctx, createURL, map[string]interface{}{
			"labels": p.manifest.Labels,
		}, &op)
		if createErr != nil && !cloudapi.IsConflict(createErr) {
			return nil, wrapCallError("create api", createErr)
		}
		if createErr == nil {
			if err := p.waitOperation(ctx, rc, "api", op.Name); err != nil {
				return nil, err
			}
		}
		err = p.client.Get(ctx, apiURL, &api)
	}
	if err != nil {
		return nil, wrapCallError("read api", err)
	}

	return &engine.StepResult{
		Resources: map[string]stores.ResourceRecord{
			KindAPI: {
				"name":            api.Name,
				"managed_service": api.ManagedService,
			},
		},
	}, nil
}

// createAPIConfig uploads an API config derived from the deployed function
// URLs and waits for it to activate. Config IDs are content-addressed so
// re-running with an unchanged manifest reuses the existing config instead
// of piling up new ones.
func (p *Provisioner) createAPIConfig(ctx context.Context, rc *engine.RunContext) (*engine.StepResult, error) {
	saEmail := rc.Resource(KindServiceAccount)["email"]
	urls := functionURLs(rc.Resource(KindFunctions))
	if saEmail == "" || len(urls) == 0 {
		return nil, engine.NewFatalError("service account or function URLs missing from prior steps", nil)
	}

	doc, err := buildOpenAPIDocument(p.manifest.Names.API, urls)
	if err != nil {
		return nil, engine.NewFatalError("failed to build API definition", err)
	}

	configID := fmt.Sprintf("%s-cfg-%.8s", p.manifest.Names.API, uuid.NewSHA1(uuid.NameSpaceURL, doc).String())
	apiName := fmt.Sprintf("projects/%s/locations/global/apis/%s", rc.ProjectID(), p.manifest.Names.API)
	configName := fmt.Sprintf("%s/configs/%s", apiName, configID)
	configURL := p.eps.APIGateway + "/" + configName

	err = p.client.Get(ctx, configURL, nil)
	if cloudapi.IsNotFound(err) {
		createURL := fmt.Sprintf("%s/%s/configs?apiConfigId=%s", p.eps.APIGateway, apiName, configID)
		body := map[string]interface{}{
			"openapiDocuments": []map[string]interface{}{
				{
					"document": map[string]interface{}{
						"path":     "openapi.yaml",
						"contents": base64.StdEncoding.EncodeToString(doc),
					},
				},
			},
			"gatewayConfig": map[string]interface{}{
				"backendConfig": map[string]interface{}{
					"googleServiceAccount": saEmail,
				},
			},
		}
		var op cloudapi.Operation
		createErr := p.client.Post(ctx, createURL, body, &op)
		if createErr != nil && !cloudapi.IsConflict(createErr) {
			return nil, wrapCallError("create api config", createErr)
		}
		if createErr == nil {
			if err := p.waitOperation(ctx, rc, "api_config", op.Name); err != nil {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, wrapCallError("read api config", err)
	}

	// Activation lags the create operation; read the config back until its
	// own state goes ACTIVE.
	t := p.manifest.Timing
	_, err = p.client.PollResource(ctx, configURL, cloudapi.PollConfig{
		Kind:      "api_config",
		MaxChecks: t.ConfigPollChecks,
		Interval:  t.ConfigPollInterval(),
	}, func(doc json.RawMessage) (bool, error) {
		var cfg struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(doc, &cfg); err != nil {
			return false, err
		}
		if cfg.State == "FAILED" {
			return false, fmt.Errorf("api config %s entered FAILED state", configID)
		}
		return cfg.State == "ACTIVE", nil
	}, func(check int, _ time.Duration) {
		rc.Checkpoint(float64(check) / float64(t.ConfigPollChecks))
	})
	if err != nil {
		return nil, wrapCallError("wait for api config", err)
	}

	return &engine.StepResult{
		Resources: map[string]stores.ResourceRecord{
			KindAPIConfig: {
				"id":   configID,
				"name": configName,
			},
		},
	}, nil
}

// createGateway ensures the gateway exists and waits for it to activate.
// Gateways keep activating well past any reasonable in-process wait, so an
// exhausted poll budget is a degraded success with a retry-later marker, not
// a failure.
func (p *Provisioner) createGateway(ctx context.Context, rc *engine.RunContext) (*engine.StepResult, error) {
	configName := rc.Resource(KindAPIConfig)["name"]
	if configName == "" {
		return nil, engine.NewFatalError("api config name missing from prior step", nil)
	}

	gatewayName := fmt.Sprintf("projects/%s/locations/%s/gateways/%s",
		rc.ProjectID(), p.manifest.Region, p.manifest.Names.Gateway)
	gatewayURL := p.eps.APIGateway + "/" + gatewayName

	err := p.client.Get(ctx, gatewayURL, nil)
	if cloudapi.IsNotFound(err) {
		createURL := fmt.Sprintf("%s/projects/%s/locations/%s/gateways?gatewayId=%s",
			p.eps.APIGateway, rc.ProjectID(), p.manifest.Region, p.manifest.Names.Gateway)
		body := map[string]interface{}{
			"apiConfig": configName,
			"labels":    p.manifest.Labels,
		}
		var op cloudapi.Operation
		createErr := p.client.Post(ctx, createURL, body, &op)
		if createErr != nil && !cloudapi.IsConflict(createErr) {
			return nil, wrapCallError("create gateway", createErr)
		}
	} else if err != nil {
		return nil, wrapCallError("read gateway", err)
	}

	t := p.manifest.Timing
	var hostname string
	_, err = p.client.PollResource(ctx, gatewayURL, cloudapi.PollConfig{
		Kind:        "gateway",
		MaxChecks:   t.GatewayPollChecks,
		Interval:    t.GatewayPollInterval(),
		InitialWait: t.GatewaySettle(),
	}, func(doc json.RawMessage) (bool, error) {
		var gw struct {
			State           string `json:"state"`
			DefaultHostname string `json:"defaultHostname"`
		}
		if err := json.Unmarshal(doc, &gw); err != nil {
			return false, err
		}
		if gw.State == "FAILED" {
			return false, fmt.Errorf("gateway %s entered FAILED state", p.manifest.Names.Gateway)
		}
		if gw.State == "ACTIVE" && gw.DefaultHostname != "" {
			hostname = gw.DefaultHostname
			return true, nil
		}
		return false, nil
	}, func(check int, _ time.Duration) {
		rc.Checkpoint(float64(check) / float64(t.GatewayPollChecks))
	})

	if cloudapi.IsPollTimeout(err) {
		rc.Logger().Warn().Str("gateway", gatewayName).Msg("gateway still activating after poll budget")
		return &engine.StepResult{
			Resources: map[string]stores.ResourceRecord{
				KindGateway: {
					"name":  gatewayName,
					"state": "ACTIVATING",
				},
			},
			Warnings: []string{
				fmt.Sprintf("gateway %s had not finished activating; its URL will become available shortly, check the console later", p.manifest.Names.Gateway),
			},
			RetryLater: true,
		}, nil
	}
	if err != nil {
		return nil, wrapCallError("wait for gateway", err)
	}

	return &engine.StepResult{
		Resources: map[string]stores.ResourceRecord{
			KindGateway: {
				"name":     gatewayName,
				"hostname": hostname,
				"url":      "https://" + hostname,
				"state":    "ACTIVE",
			},
		},
	}, nil
}

// waitOperation polls a long-running operation to completion with the
// generic operation budget.
func (p *Provisioner) waitOperation(ctx context.Context, rc *engine.RunContext, kind, opName string) error {
	t := p.manifest.Timing
	_, err := p.client.PollOperation(ctx, p.eps.APIGateway+"/"+opName, cloudapi.PollConfig{
		Kind:      kind,
		MaxChecks: t.OperationPollChecks,
		Interval:  t.OperationPollInterval(),
	}, func(check int, _ time.Duration) {
		rc.Checkpoint(float64(check) / float64(t.OperationPollChecks))
	})
	if err != nil {
		return wrapCallError("wait for "+kind+" operation", err)
	}
	return nil
}

// buildOpenAPIDocument renders the gateway's API definition: one POST route
// per function, all backed by the function's trigger URL and guarded by an
// API key. Routes are emitted in sorted order so the document bytes, and
// with them the content-addressed config ID, are stable.
func buildOpenAPIDocument(title string, urls map[string]string) ([]byte, error) {
	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)

	paths := yaml.Node{Kind: yaml.MappingNode}
	for _, name := range names {
		var route yaml.Node
		if err := route.Encode(map[string]interface{}{
			"post": map[string]interface{}{
				"operationId": name,
				"x-google-backend": map[string]interface{}{
					"address": urls[name],
				},
				"security": []map[string][]string{
					{"api_key": {}},
				},
				"responses": map[string]interface{}{
					"200": map[string]string{"description": "OK"},
				},
			},
		}); err != nil {
			return nil, err
		}
		paths.Content = append(paths.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: "/" + name},
			&route,
		)
	}

	var doc yaml.Node
	if err := doc.Encode(map[string]interface{}{
		"swagger":  "2.0",
		"info":     map[string]string{"title": title, "version": "1.0.0"},
		"schemes":  []string{"https"},
		"produces": []string{"application/json"},
		"securityDefinitions": map[string]interface{}{
			"api_key": map[string]string{
				"type": "apiKey",
				"name": "key",
				"in":   "query",
			},
		},
	}); err != nil {
		return nil, err
	}
	doc.Content = append(doc.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "paths"},
		&paths,
	)

	return yaml.Marshal(&doc)
}
