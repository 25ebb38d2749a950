package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/stores"
)

// requiredServices are the provider APIs the later steps depend on.
var requiredServices = []string{
	"iam.googleapis.com",
	"cloudresourcemanager.googleapis.com",
	"cloudfunctions.googleapis.com",
	"cloudbuild.googleapis.com",
	"apigateway.googleapis.com",
	"servicemanagement.googleapis.com",
	"servicecontrol.googleapis.com",
	"apikeys.googleapis.com",
	"firestore.googleapis.com",
	"identitytoolkit.googleapis.com",
}

// enableServices enables the required provider APIs as a concurrent fan-out.
// Enablement calls are independent, so a single failure is tolerated and
// surfaced as a warning; only the whole batch failing aborts the step.
func (p *Provisioner) enableServices(ctx context.Context, rc *engine.RunContext) (*engine.StepResult, error) {
	type outcome struct {
		service string
		err     error
	}

	results := make(chan outcome, len(requiredServices))
	for _, svc := range requiredServices {
		go func(svc string) {
			url := fmt.Sprintf("%s/projects/%s/services/%s:enable", p.eps.ServiceUsage, rc.ProjectID(), svc)
			err := p.client.Post(ctx, url, map[string]interface{}{}, nil)
			results <- outcome{service: svc, err: err}
		}(svc)
	}

	var enabled, failed []string
	var warnings []string
	var lastErr error
	for range requiredServices {
		o := <-results
		if o.err != nil {
			rc.Logger().Warn().Err(o.err).Str("service", o.service).Msg("failed to enable service")
			failed = append(failed, o.service)
			warnings = append(warnings, fmt.Sprintf("service %s could not be enabled: %v", o.service, o.err))
			lastErr = o.err
			continue
		}
		enabled = append(enabled, o.service)
	}

	if len(enabled) == 0 {
		return nil, wrapCallError("enable services", lastErr)
	}

	sort.Strings(enabled)
	sort.Strings(failed)

	record := stores.ResourceRecord{"enabled": strings.Join(enabled, ",")}
	if len(failed) > 0 {
		record["failed"] = strings.Join(failed, ",")
	}

	return &engine.StepResult{
		Resources: map[string]stores.ResourceRecord{KindServices: record},
		Warnings:  warnings,
	}, nil
}
