package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	settingsPath string
	verbose      bool

	// buildVersion tags emitted traces with the binary's version.
	buildVersion = "dev"
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "gantry",
		Short: "Gantry - Remote Deployment Orchestrator",
		Long: `Gantry provisions and configures remote compute instances for declared
application types, driven by a declarative deployment document.

It establishes a reliable control channel to the target, installs the
declared dependencies with bounded retry, resolves managed databases and
buckets through the control plane, dispatches to a type-specific
configurator, and verifies the result against the declared health
endpoint.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&settingsPath, "settings", "s", "", "operator settings file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newRestartCommand())

	return rootCmd
}
