package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check prerequisites without provisioning anything",
		Long: `Evaluate the externally-managed prerequisites (database, authentication
setup, test user) and report what still needs manual setup. Makes only
read calls against the control plane.`,
		Example: `  stackpilot check --token $TOKEN`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := newAppEnv(ctx, version, true)
			if err != nil {
				return err
			}
			defer env.Close(ctx)

			unmet, err := env.prov.CheckPrerequisites(ctx)
			if err != nil {
				return err
			}

			if len(unmet) == 0 {
				if jsonOutput {
					fmt.Println("[]")
				} else {
					fmt.Println("All prerequisites are met.")
				}
				return nil
			}

			if jsonOutput {
				encoded, err := json.MarshalIndent(unmet, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(encoded))
			} else {
				printRemediations(unmet)
			}
			return fmt.Errorf("%d prerequisite(s) unmet", len(unmet))
		},
	}

	return cmd
}
