package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opengantry/opengantry/pkg/config"
	"github.com/opengantry/opengantry/pkg/controlplane"
	"github.com/opengantry/opengantry/pkg/provision"
)

func newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <document.yaml>",
		Short: "Resolve declared external resources and print the facts with secrets redacted",
		Long: `Resolve walks the document's externalResources through the control plane
exactly as a deployment would, including create-if-missing and the
database connectivity smoke test, but writes nothing to the instance.
Useful for debugging provisioning before a real run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewLoader().LoadFile(args[0])
			if err != nil {
				return err
			}
			if len(cfg.ExternalResources) == 0 {
				fmt.Fprintln(os.Stdout, "no external resources declared")
				return nil
			}

			settings, err := config.LoadSettings(settingsPath)
			if err != nil {
				return err
			}

			cp := controlplane.NewClient(settings.ControlPlane.Endpoint, settings.ControlPlane.Token, log.Logger)
			prov := provision.New(cp, cp, nil, cfg.Target.InstanceID, log.Logger)

			for _, spec := range cfg.ExternalResources {
				r, err := prov.Resolve(cmd.Context(), spec)
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, r.Redacted())
			}
			return nil
		},
	}
}
