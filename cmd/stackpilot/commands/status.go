package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func newStatusCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show persisted installation progress",
		Long: `Show which steps a previous install attempt completed for the manifest's
project and what resources they recorded. Reads only local state; no
control-plane calls are made.`,
		Example: `  stackpilot status
  stackpilot status --json`,
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

			if state == nil {
				fmt.Printf("No installation state for project %s.\n", env.manifest.Project.ID)
				return nil
			}

			if jsonOutput {
				encoded, err := json.MarshalIndent(state, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(encoded))
				return nil
			}

			fmt.Printf("Project:        %s\n", state.ProjectID)
			if state.DisplayName != "" {
				fmt.Printf("Display name:   %s\n", state.DisplayName)
			}
			fmt.Printf("Schema version: %s\n", state.SchemaVersion)
			fmt.Printf("Started:        %s\n", state.StartedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("Last updated:   %s\n", state.LastUpdatedAt.Format("2006-01-02 15:04:05 MST"))
			fmt.Printf("Completed:      %s\n", formatSteps(state.CompletedSteps))
			if len(state.FinalResult) > 0 {
				fmt.Println("Finished:       yes")
			} else {
				fmt.Println("Finished:       no (resumable)")
			}

			if len(state.Resources) > 0 {
				fmt.Println("\nRecorded resources:")
				kinds := make([]string, 0, len(state.Resources))
				for kind := range state.Resources {
					kinds = append(kinds, kind)
				}
				sort.Strings(kinds)
				for _, kind := range kinds {
					fmt.Printf("  %s:\n", kind)
					keys := make([]string, 0, len(state.Resources[kind]))
					for k := range state.Resources[kind] {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						v := state.Resources[kind][k]
						if k == "key_data" || k == "key_string" {
							v = "<redacted>"
						}
						fmt.Printf("    %s: %s\n", k, v)
					}
				}
			}

			return nil
		},
	}

	return cmd
}

func formatSteps(steps []string) string {
	if len(steps) == 0 {
		return "(none)"
	}
	return strings.Join(steps, ", ")
}
