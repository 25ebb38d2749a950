package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/provision"
)

func newInstallCommand(version string) *cobra.Command {
	var fresh bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Provision the deployment described by the manifest",
		Long: `Run the full provisioning sequence against the control plane.

This command:
  - Validates the manifest against the policy gate
  - Checks externally-managed prerequisites and stops with instructions
    if any are unmet
  - Executes the weighted step sequence, skipping steps a previous
    attempt already completed
  - Persists progress after every step so an interrupted install resumes
  - Prints the final configuration bundle on success`,
		Example: `  # Install using the default manifest
  stackpilot install --token $TOKEN

  # Discard prior progress and start over
  stackpilot install --fresh

  # Machine-readable result
  stackpilot install --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := newAppEnv(ctx, version, true)
			if err != nil {
				return err
			}
			defer env.Close(ctx)

			projectID := env.manifest.Project.ID
			logger := env.logger.WithProject(projectID)

			if fresh {
				if err := env.store.Clear(ctx, projectID); err != nil {
					return err
				}
				logger.Info("Discarded previous installation state")
			}

			if err := env.evaluatePolicies(ctx); err != nil {
				return err
			}

			logger.Info("Checking prerequisites")
			if err := env.prov.GatePrerequisites(ctx); err != nil {
				if blocked, ok := engine.AsBlocked(err); ok {
					printRemediations(blocked.Remediations)
					return fmt.Errorf("installation blocked by %d unmet prerequisite(s)", len(blocked.Remediations))
				}
				return err
			}

			runner, err := engine.NewRunner(env.prov.Steps(), env.store, version, engine.RunnerOptions{
				Progress: func(stepLabel string, percent int) {
					fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", percent, stepLabel)
				},
				Logger:  env.logger.Zerolog(),
				Tracer:  env.tracer,
				Metrics: env.metrics,
			})
			if err != nil {
				return err
			}

			result, runErr := runner.Run(ctx, projectID, env.manifest.Project.DisplayName)
			if runErr != nil {
				if result != nil && result.FailedStep != "" {
					logger.WithStep(result.FailedStep).Errorf("Installation failed: %s", result.Cause)
				}
				return runErr
			}

			for _, skipped := range result.Skipped {
				logger.WithStep(skipped.Name).Infof("Skipped: %s", skipped.Reason)
			}
			for _, w := range result.Warnings {
				logger.Warn(w)
			}

			if jsonOutput {
				encoded, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(encoded))
				return nil
			}

			fmt.Print(provision.ExportEnv(result))
			return nil
		},
	}

	cmd.Flags().BoolVar(&fresh, "fresh", false, "discard persisted progress and start over")

	return cmd
}

// printRemediations renders the blocked-install payload as numbered,
// actionable instructions.
func printRemediations(remediations []engine.Remediation) {
	if jsonOutput {
		encoded, err := json.MarshalIndent(remediations, "", "  ")
		if err == nil {
			fmt.Println(string(encoded))
		}
		return
	}

	fmt.Println("The following must be set up manually before installing:")
	for i, r := range remediations {
		fmt.Printf("\n%d. %s\n", i+1, r.Title)
		fmt.Printf("   %s\n", r.Description)
		if r.ActionURL != "" {
			fmt.Printf("   %s: %s\n", r.ActionLabel, r.ActionURL)
		}
		for j, sub := range r.SubSteps {
			fmt.Printf("   %d.%d %s\n", i+1, j+1, sub)
		}
	}
}
