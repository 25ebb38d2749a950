package provision

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/stackpilot/stackpilot/pkg/cloudapi"
	"github.com/stackpilot/stackpilot/pkg/config"
	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

// functionResource is the control plane's function document, reduced to the
// fields the installer reads and writes.
type functionResource struct {
	Name                string            `json:"name"`
	EntryPoint          string            `json:"entryPoint"`
	Runtime             string            `json:"runtime"`
	SourceUploadURL     string            `json:"sourceUploadUrl,omitempty"`
	ServiceAccountEmail string            `json:"serviceAccountEmail,omitempty"`
	Labels              map[string]string `json:"labels,omitempty"`
	HTTPSTrigger        *httpsTrigger     `json:"httpsTrigger,omitempty"`
	Status              string            `json:"status,omitempty"`
}

type httpsTrigger struct {
	URL           string `json:"url,omitempty"`
	SecurityLevel string `json:"securityLevel,omitempty"`
}

// deployFunctions uploads and deploys every function in the manifest under
// the runtime service account, then lets that account invoke them.
func (p *Provisioner) deployFunctions(ctx context.Context, rc *engine.RunContext) (*engine.StepResult, error) {
	saEmail := rc.Resource(KindServiceAccount)["email"]
	if saEmail == "" {
		return nil, engine.NewFatalError("service account email missing from prior step", nil)
	}

	total := len(p.manifest.Functions)
	record := stores.ResourceRecord{}

	for i, fn := range p.manifest.Functions {
		rc.Checkpoint(float64(i) / float64(total))
		rc.Logger().Info().Str("function", fn.Name).Msg("deploying function")

		url, err := p.deployFunction(ctx, rc, fn, saEmail, float64(i), float64(total))
		if err != nil {
			return nil, err
		}
		record[fn.Name+"_url"] = url

		err = p.withPropagationRetry(ctx, "invoker binding "+fn.Name, func() error {
			return p.grantFunctionInvoker(ctx, fn.Name, "serviceAccount:"+saEmail)
		})
		if err != nil {
			return nil, wrapCallError("grant invoker on "+fn.Name, err)
		}
	}

	return &engine.StepResult{
		Resources: map[string]stores.ResourceRecord{KindFunctions: record},
	}, nil
}

// deployFunction uploads one function's source and creates or updates the
// function, waiting for the deployment operation to finish. Returns the
// HTTPS trigger URL.
func (p *Provisioner) deployFunction(ctx context.Context, rc *engine.RunContext, fn config.FunctionSpec, saEmail string, index, total float64) (string, error) {
	locPath := fmt.Sprintf("%s/projects/%s/locations/%s", p.eps.Functions, rc.ProjectID(), p.manifest.Region)
	fnName := fmt.Sprintf("projects/%s/locations/%s/functions/%s", rc.ProjectID(), p.manifest.Region, fn.Name)

	source, err := os.ReadFile(fn.SourcePath)
	if err != nil {
		return "", engine.NewFatalError(fmt.Sprintf("failed to read source for function %s", fn.Name), err)
	}

	var upload struct {
		UploadURL string `json:"uploadUrl"`
	}
	if err := p.client.Post(ctx, locPath+"/functions:generateUploadUrl", map[string]interface{}{}, &upload); err != nil {
		return "", wrapCallError("generate upload url for "+fn.Name, err)
	}
	if err := p.client.Upload(ctx, upload.UploadURL, "application/zip", source); err != nil {
		return "", wrapCallError("upload source for "+fn.Name, err)
	}

	body := functionResource{
		Name:                fnName,
		EntryPoint:          fn.EntryPoint,
		Runtime:             fn.Runtime,
		SourceUploadURL:     upload.UploadURL,
		ServiceAccountEmail: saEmail,
		Labels:              p.manifest.Labels,
		HTTPSTrigger:        &httpsTrigger{SecurityLevel: "SECURE_ALWAYS"},
	}

	var op cloudapi.Operation
	err = p.withPropagationRetry(ctx, "deploy "+fn.Name, func() error {
		createErr := p.client.Post(ctx, locPath+"/functions", body, &op)
		if cloudapi.IsConflict(createErr) {
			patchURL := fmt.Sprintf("%s/%s?updateMask=sourceUploadUrl,entryPoint,runtime,labels",
				p.eps.Functions, fnName)
			return p.client.Patch(ctx, patchURL, body, &op)
		}
		return createErr
	})
	if err != nil {
		return "", wrapCallError("deploy function "+fn.Name, err)
	}

	t := p.manifest.Timing
	_, err = p.client.PollOperation(ctx, p.eps.Functions+"/"+op.Name, cloudapi.PollConfig{
		Kind:      "function",
		MaxChecks: t.OperationPollChecks,
		Interval:  t.OperationPollInterval(),
	}, func(check int, _ time.Duration) {
		frac := float64(check) / float64(t.OperationPollChecks)
		rc.Checkpoint((index + frac) / total)
	})
	if err != nil {
		return "", wrapCallError("wait for function "+fn.Name, err)
	}

	var deployed functionResource
	if err := p.client.Get(ctx, p.eps.Functions+"/"+fnName, &deployed); err != nil {
		return "", wrapCallError("read deployed function "+fn.Name, err)
	}
	if deployed.HTTPSTrigger == nil || deployed.HTTPSTrigger.URL == "" {
		return "", engine.NewFatalError(fmt.Sprintf("function %s deployed without an HTTPS trigger", fn.Name), nil)
	}
	return deployed.HTTPSTrigger.URL, nil
}

// grantFunctionInvoker grants invoke rights on one function's own policy
// scope through the same read-merge-write cycle used for project grants.
func (p *Provisioner) grantFunctionInvoker(ctx context.Context, function, member string) error {
	scope := fmt.Sprintf("%s/projects/%s/locations/%s/functions/%s",
		p.eps.Functions, p.manifest.Project.ID, p.manifest.Region, function)
	return p.applyGrants(ctx, scope, []RoleGrant{{Role: "roles/cloudfunctions.invoker", Member: member}})
}

// functionURLs extracts the deployed trigger URLs recorded by the deploy
// step, keyed by function name.
func functionURLs(record stores.ResourceRecord) map[string]string {
	urls := make(map[string]string, len(record))
	for k, v := range record {
		if name, ok := strings.CutSuffix(k, "_url"); ok && name != "" {
			urls[name] = v
		}
	}
	return urls
}
