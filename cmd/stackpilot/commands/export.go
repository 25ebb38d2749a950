package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackpilot/stackpilot/pkg/engine"
	"github.com/stackpilot/stackpilot/pkg/provision"
)

func newExportCommand(version string) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the completed install's configuration bundle",
		Long: `Render the persisted final result as environment-style assignments
(gateway URL, API key, service endpoints). The install must have
completed at least once.`,
		Example: `  # Print to stdout
  stackpilot export

  # Write to a file
  stackpilot export --output .env.stackpilot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := newAppEnv(ctx, version, false)
			if err != nil {
				return err
			}
			defer env.Close(ctx)

			state, err := env.store.Load(ctx, env.manifest.Project.ID)
			if err != nil {
				return err
			}
			if state == nil || len(state.FinalResult) == 0 {
				return fmt.Errorf("no completed installation for project %s; run 'stackpilot install' first", env.manifest.Project.ID)
			}

			var result engine.Result
			if err := json.Unmarshal(state.FinalResult, &result); err != nil {
				return fmt.Errorf("failed to decode stored result: %w", err)
			}

			var rendered string
			if jsonOutput {
				encoded, err := json.MarshalIndent(&result, "", "  ")
				if err != nil {
					return err
				}
				rendered = string(encoded) + "\n"
			} else {
				rendered = provision.ExportEnv(&result)
			}

			if outputPath != "" {
				if err := os.WriteFile(outputPath, []byte(rendered), 0o600); err != nil {
					return fmt.Errorf("failed to write %s: %w", outputPath, err)
				}
				fmt.Printf("Wrote %s\n", outputPath)
				return nil
			}

			fmt.Print(rendered)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the bundle to a file instead of stdout")

	return cmd
}
