package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opengantry/opengantry/pkg/config"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <document.yaml> [document.yaml...]",
		Short: "Parse and validate deployment documents without touching the network",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader()
			failed := 0
			for _, path := range args {
				cfg, err := loader.LoadFile(path)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
					failed++
					continue
				}
				fmt.Fprintf(os.Stdout, "%s: ok (%s -> %s, %d dependencies, %d resources)\n",
					path, cfg.ApplicationType, cfg.Target.Host, len(cfg.Dependencies), len(cfg.ExternalResources))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents invalid", failed, len(args))
			}
			return nil
		},
	}
}
