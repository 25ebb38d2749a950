package provision

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// ExportEnv renders a completed result as environment-style assignments,
// followed by commented next-steps lines for anything the installer could
// not finish on its own.
func ExportEnv(result *engine.Result) string {
	var b strings.Builder

	b.WriteString("STACKPILOT_PROJECT_ID=" + result.ProjectID + "\n")

	if url := result.Resource(KindGateway)["url"]; url != "" {
		b.WriteString("STACKPILOT_GATEWAY_URL=" + url + "\n")
	}
	if key := result.Resource(KindAPIKey)["key_string"]; key != "" {
		b.WriteString("STACKPILOT_API_KEY=" + key + "\n")
	}
	if email := result.Resource(KindServiceAccount)["email"]; email != "" {
		b.WriteString("STACKPILOT_SERVICE_ACCOUNT=" + email + "\n")
	}

	urls := functionURLs(result.Resource(KindFunctions))
	names := make([]string, 0, len(urls))
	for name := range urls {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		b.WriteString(fmt.Sprintf("STACKPILOT_FUNCTION_%s_URL=%s\n", envName, urls[name]))
	}

	steps := NextSteps(result)
	if len(steps) > 0 {
		b.WriteString("\n# Next steps:\n")
		for i, s := range steps {
			b.WriteString(fmt.Sprintf("#   %d. %s\n", i+1, s))
		}
	}

	return b.String()
}

// NextSteps lists the manual follow-ups a completed install still needs:
// warnings recorded by degraded steps plus standing verification advice.
func NextSteps(result *engine.Result) []string {
	steps := make([]string, 0, len(result.Warnings)+2)
	steps = append(steps, result.Warnings...)

	if result.Status == engine.RunStatusCompleted {
		if result.Resource(KindGateway)["url"] != "" {
			steps = append(steps, "send a test request to the gateway URL with the API key to verify the deployment end to end")
		}
		steps = append(steps, "store the exported values in your application's environment configuration")
	}

	return steps
}
