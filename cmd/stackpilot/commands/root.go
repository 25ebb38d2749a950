package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	manifestPath string
	stateDir     string
	token        string
	verbose      bool
	jsonOutput   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stackpilot",
		Short: "StackPilot - Resumable cloud deployment installer",
		Long: `StackPilot provisions a complete serverless deployment against a cloud
provider's REST control plane: service account, functions, API gateway,
restricted API key, and federated-identity wiring.

Every step is idempotent and progress is persisted locally, so a crashed
or interrupted install resumes where it left off instead of starting over.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&manifestPath, "manifest", "m", "stackpilot.yaml", "install manifest path")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "directory for the installation state database (default ~/.stackpilot)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token for the control plane (or STACKPILOT_TOKEN)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInstallCommand(version))
	rootCmd.AddCommand(newCheckCommand(version))
	rootCmd.AddCommand(newStatusCommand(version))
	rootCmd.AddCommand(newResetCommand(version))
	rootCmd.AddCommand(newExportCommand(version))

	return rootCmd
}
