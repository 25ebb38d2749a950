package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newResetCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard persisted installation progress",
		Long: `Delete the local installation record for the manifest's project so the
next install starts from scratch. Resources already created on the
control plane are not touched; re-running install will find and reuse
them.`,
		Example: `  stackpilot reset`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := newAppEnv(ctx, version, false)
			if err != nil {
				return err
			}
			defer env.Close(ctx)

			if err := env.store.Clear(ctx, env.manifest.Project.ID); err != nil {
				return err
			}

			fmt.Printf("Installation state for project %s discarded.\n", env.manifest.Project.ID)
			return nil
		},
	}

	return cmd
}
