package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opengantry/opengantry/pkg/config"
	"github.com/opengantry/opengantry/pkg/controlplane"
)

func newRestartCommand() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "restart <instance-id>",
		Short: "Hard-restart an instance through the control plane and wait for running state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceID := args[0]

			settings, err := config.LoadSettings(settingsPath)
			if err != nil {
				return err
			}
			cp := controlplane.NewClient(settings.ControlPlane.Endpoint, settings.ControlPlane.Token, log.Logger)

			if err := cp.RestartInstance(cmd.Context(), instanceID); err != nil {
				return fmt.Errorf("restarting %s: %w", instanceID, err)
			}
			if err := cp.WaitForInstanceState(cmd.Context(), instanceID, controlplane.StateRunning, wait); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s is running\n", instanceID)
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 5*time.Minute, "how long to wait for the instance to report running")
	return cmd
}
