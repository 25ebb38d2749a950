package provision

import "github.com/stackpilot/stackpilot/pkg/engine"

// Step names. These key the persisted record and must stay stable across
// releases.
const (
	StepEnableAPIs        = "Enabling APIs"
	StepServiceAccount    = "Creating service account"
	StepProjectRoles      = "Granting project roles"
	StepDeployFunctions   = "Deploying functions"
	StepCreateAPI         = "Creating API"
	StepCreateAPIConfig   = "Creating API config"
	StepCreateGateway     = "Creating gateway"
	StepCreateAPIKey      = "Creating API key"
	StepConfigureIdentity = "Configuring identity platform"
)

// Steps returns the ordered step list. Weights sum to 100. The role-grant
// and identity steps are version-critical: their side effects have grown
// across releases and must be re-applied to deployments provisioned by an
// older build.
func (p *Provisioner) Steps() []engine.Step {
	return []engine.Step{
		{Name: StepEnableAPIs, Weight: 10, Run: p.enableServices},
		{Name: StepServiceAccount, Weight: 10, Run: p.createServiceAccount},
		{Name: StepProjectRoles, Weight: 10, VersionCritical: true, Run: p.grantProjectRoles},
		{Name: StepDeployFunctions, Weight: 25, Run: p.deployFunctions},
		{Name: StepCreateAPI, Weight: 5, Run: p.createAPI},
		{Name: StepCreateAPIConfig, Weight: 15, Run: p.createAPIConfig},
		{Name: StepCreateGateway, Weight: 15, Run: p.createGateway},
		{Name: StepCreateAPIKey, Weight: 5, Run: p.createAPIKey},
		{Name: StepConfigureIdentity, Weight: 5, VersionCritical: true, Run: p.configureIdentity},
	}
}
