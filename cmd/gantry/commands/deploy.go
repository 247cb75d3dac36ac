package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/opengantry/opengantry/pkg/config"
	"github.com/opengantry/opengantry/pkg/configurator"
	"github.com/opengantry/opengantry/pkg/controlplane"
	"github.com/opengantry/opengantry/pkg/deploy"
	"github.com/opengantry/opengantry/pkg/installer"
	"github.com/opengantry/opengantry/pkg/pkgguard"
	"github.com/opengantry/opengantry/pkg/provision"
	"github.com/opengantry/opengantry/pkg/session"
	"github.com/opengantry/opengantry/pkg/telemetry"
	"github.com/opengantry/opengantry/pkg/transport/ssh"
)

func newDeployCommand() *cobra.Command {
	var (
		ciMode     bool
		parallel   int
		runTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "deploy <document.yaml> [document.yaml...]",
		Short: "Run a deployment against one or more target instances",
		Long: `Deploy loads each deployment document, establishes a control channel to
its target instance and runs the full pipeline: package health check,
dependency installs, external resource provisioning, artifact transfer,
configuration and health verification.

Multiple documents fan out across independent targets in parallel.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if runTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, runTimeout)
				defer cancel()
			}

			settings, err := config.LoadSettings(settingsPath)
			if err != nil {
				return err
			}

			loader := config.NewLoader()
			configs := make([]*config.DeploymentConfig, 0, len(args))
			for _, path := range args {
				cfg, err := loader.LoadFile(path)
				if err != nil {
					return err
				}
				configs = append(configs, cfg)
			}

			logger := telemetry.Component(log.Logger, "cli")
			if verbose {
				logger = logger.Level(zerolog.DebugLevel)
			}

			metrics := telemetry.NewMetrics(telemetry.MetricsConfig{
				Enabled:   settings.Telemetry.MetricsAddr != "",
				Addr:      settings.Telemetry.MetricsAddr,
				Namespace: "gantry",
			})
			metrics.Serve(settings.Telemetry.MetricsAddr)

			tracer, err := telemetry.NewTracer(tracingConfig(settings), "gantry", buildVersion)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := tracer.Shutdown(shutdownCtx); err != nil {
					logger.Warn().Err(err).Msg("trace flush failed")
				}
			}()

			cp := controlplane.NewClient(settings.ControlPlane.Endpoint, settings.ControlPlane.Token, logger)

			fleet := &deploy.Fleet{
				Parallelism: parallel,
				Log:         logger,
				Build: func(cfg *config.DeploymentConfig) (deploy.Pipeline, error) {
					return buildPipeline(cfg, cp, tracer, metrics, ciMode, logger)
				},
			}

			started := time.Now()
			for _, cfg := range configs {
				metrics.DeployStarted(string(cfg.ApplicationType))
			}
			results := fleet.DeployAll(ctx, configs)

			failed := 0
			for i, r := range results {
				metrics.DeployCompleted(string(configs[i].ApplicationType), string(r.Result.Outcome), time.Since(started))
				fmt.Fprintf(os.Stdout, "\n=== %s: %s ===\n%s\n", r.InstanceID, r.Result.Outcome, r.Result.Diagnostics)
				if r.Result.Outcome == deploy.OutcomeFatal || r.Result.Outcome == deploy.OutcomeCancelled {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d deployments failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&ciMode, "ci", false, "widen connect retry budgets for slow CI egress")
	cmd.Flags().IntVar(&parallel, "parallel", 4, "maximum concurrent targets")
	cmd.Flags().DurationVar(&runTimeout, "timeout", 0, "overall run deadline (0 = none)")

	return cmd
}

// tracingConfig derives the tracer setup from operator settings. An OTLP
// endpoint wins over stdout; with neither set, tracing stays off.
func tracingConfig(settings *config.Settings) telemetry.TracingConfig {
	cfg := telemetry.TracingConfig{
		Enabled:       true,
		Endpoint:      settings.Telemetry.OTLPEndpoint,
		SamplingRate:  1.0,
		ExportTimeout: 30 * time.Second,
	}
	switch {
	case settings.Telemetry.OTLPEndpoint != "":
		cfg.Exporter = "otlp"
	case settings.Telemetry.TraceStdout:
		cfg.Exporter = "stdout"
	default:
		cfg.Enabled = false
	}
	return cfg
}

// buildPipeline wires one target's session, guard, installer, provisioner,
// configurator and verifier into an executor.
func buildPipeline(cfg *config.DeploymentConfig, cp *controlplane.Client, tracer *telemetry.Tracer, metrics *telemetry.Metrics, ciMode bool, logger zerolog.Logger) (deploy.Pipeline, error) {
	sshCfg := ssh.DefaultConfig(cfg.Target.Host, cfg.Target.User)
	sshCfg.Port = cfg.Target.Port
	if cfg.Target.KeyPath != "" {
		sshCfg.PrivateKeyPath = cfg.Target.KeyPath
	}

	transport, err := ssh.NewClient(sshCfg)
	if err != nil {
		return nil, fmt.Errorf("building transport for %s: %w", cfg.Target.Host, err)
	}

	policy := session.DefaultRetryPolicy()
	if ciMode {
		policy = session.CIRetryPolicy()
	}

	sess := session.NewManager(transport, cp, cfg.Target.InstanceID, policy, logger)
	guard := pkgguard.New(sess, logger)
	inst := installer.New(sess, guard, logger)
	prov := provision.New(cp, cp, nil, cfg.Target.InstanceID, logger)
	conf := configurator.NewDispatcher(logger)
	verifier := deploy.NewVerifier(logger)

	executor := deploy.NewExecutor(cfg, sess, guard, inst, prov, conf, verifier, logger)
	return executor.WithTelemetry(tracer, metrics), nil
}
