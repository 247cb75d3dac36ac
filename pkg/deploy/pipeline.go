package deploy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/opengantry/opengantry/pkg/config"
	"github.com/opengantry/opengantry/pkg/configurator"
	"github.com/opengantry/opengantry/pkg/installer"
	"github.com/opengantry/opengantry/pkg/pkgguard"
	"github.com/opengantry/opengantry/pkg/provision"
	"github.com/opengantry/opengantry/pkg/session"
	"github.com/opengantry/opengantry/pkg/telemetry"
	"github.com/opengantry/opengantry/pkg/transport/ssh"
)

// Outcome is the caller-facing verdict of one deployment run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"

	// OutcomeFatal means the pipeline aborted before the service could
	// exist: connection, provisioning, pre-step or configurator failure.
	OutcomeFatal Outcome = "fatal"

	// OutcomeHealthWarning means everything applied but no probe passed.
	// Remote state is left in place.
	OutcomeHealthWarning Outcome = "healthCheckWarning"

	// OutcomeCancelled means the caller's deadline cut the run short.
	// Partially-applied remote state is not rolled back.
	OutcomeCancelled Outcome = "cancelled"
)

// Result is returned to the caller for every run, including failed ones.
type Result struct {
	Outcome     Outcome
	Ledger      *installer.Ledger
	LastState   session.State
	Diagnostics string
	Err         error
}

// Session is the slice of the session manager the pipeline drives.
type Session interface {
	Connect(ctx context.Context) error
	Run(ctx context.Context, cmd ssh.Command) (*ssh.ExecResult, error)
	Put(ctx context.Context, content []byte, remotePath string, mode os.FileMode) error
	UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error
	Symlink(ctx context.Context, target, linkPath string) error
	Chown(ctx context.Context, remotePath, owner string, recursive bool) error
	State() session.State
	Close() error
}

// Guard is the package health surface the pipeline runs before installs.
type Guard interface {
	Inspect(ctx context.Context) (*pkgguard.HealthReport, error)
	Repair(ctx context.Context) (*pkgguard.RepairOutcome, error)
}

// Installer walks the dependency list.
type Installer interface {
	InstallAll(ctx context.Context, specs []config.DependencySpec) (*installer.Ledger, error)
}

// Provisioner resolves external resources.
type Provisioner interface {
	ResolveAll(ctx context.Context, specs []config.ResourceSpec, sess provision.Session) ([]provision.ResolvedResource, error)
}

// Configurator dispatches to the application-type variant.
type Configurator interface {
	Configure(ctx context.Context, sess configurator.Session, req configurator.Request) (*configurator.Outcome, error)
}

// HealthVerifier polls the declared endpoint.
type HealthVerifier interface {
	Verify(ctx context.Context, host string, spec config.HealthCheckSpec) error
}

const defaultArtifactPath = "/tmp/gantry-artifact.tar.gz"

// Executor runs the linear pipeline for one target instance. Stages never
// overlap; each stage's side effects are visible before the next starts.
type Executor struct {
	cfg      *config.DeploymentConfig
	sess     Session
	guard    Guard
	inst     Installer
	prov     Provisioner
	conf     Configurator
	verifier HealthVerifier
	tracer   *telemetry.Tracer
	metrics  *telemetry.Metrics
	log      zerolog.Logger
}

// NewExecutor wires the pipeline for one deployment document.
func NewExecutor(cfg *config.DeploymentConfig, sess Session, guard Guard, inst Installer, prov Provisioner, conf Configurator, verifier HealthVerifier, log zerolog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		sess:     sess,
		guard:    guard,
		inst:     inst,
		prov:     prov,
		conf:     conf,
		verifier: verifier,
		log:      log.With().Str("component", "deploy").Str("instance", cfg.Target.InstanceID).Logger(),
	}
}

// WithTelemetry attaches the tracer and metrics collectors. Either may be
// nil; the pipeline then runs unobserved on that axis.
func (e *Executor) WithTelemetry(tracer *telemetry.Tracer, metrics *telemetry.Metrics) *Executor {
	e.tracer = tracer
	e.metrics = metrics
	return e
}

// stage runs fn inside a span and duration observation named after the
// pipeline stage.
func (e *Executor) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.StartStage(ctx, name, e.cfg.Target.InstanceID)
	}
	start := time.Now()
	err := fn(ctx)
	if e.metrics != nil {
		e.metrics.StageObserved(name, time.Since(start))
	}
	if span != nil {
		telemetry.EndStage(span, err)
	}
	return err
}

func (e *Executor) observeError(err error) {
	if e.metrics != nil && err != nil {
		e.metrics.ErrorObserved(string(Classify(err)))
	}
}

// Deploy runs the full sequence and always returns a Result, never a bare
// error. Cancellation at any stage yields OutcomeCancelled.
func (e *Executor) Deploy(ctx context.Context) *Result {
	ledger := installer.NewLedger()
	var warnings []string

	fail := func(stage string, err error) *Result {
		e.observeError(err)
		if ctx.Err() != nil || Classify(err) == ClassCancelled {
			return e.result(OutcomeCancelled, ledger, warnings, stageError(stage, err))
		}
		return e.result(OutcomeFatal, ledger, warnings, stageError(stage, err))
	}

	// Stage: connect.
	if err := e.stage(ctx, "connect", e.sess.Connect); err != nil {
		return fail("connect", err)
	}
	defer e.sess.Close()
	e.log.Info().Msg("control channel established")

	// Stage: package health.
	err := e.stage(ctx, "package-health", func(ctx context.Context) error {
		report, err := e.guard.Inspect(ctx)
		if err != nil {
			return err
		}
		if !report.Consistent {
			if _, err := e.guard.Repair(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fail("package-health", err)
	}

	// Stage: dependencies.
	err = e.stage(ctx, "install", func(ctx context.Context) error {
		var err error
		ledger, err = e.inst.InstallAll(ctx, e.cfg.Dependencies)
		return err
	})
	e.recordInstallAttempts(ledger)
	if err != nil {
		return fail("install", err)
	}
	for _, dep := range e.cfg.Dependencies {
		if dep.Required && ledger.Failed(dep.Name) {
			return fail("install", fmt.Errorf("required dependency %q failed to install", dep.Name))
		}
		if ledger.Failed(dep.Name) {
			warnings = append(warnings, fmt.Sprintf("optional dependency %s failed to install", dep.Name))
		}
	}

	// Stage: external resources.
	if len(e.cfg.ExternalResources) > 0 {
		err := e.stage(ctx, "provision", func(ctx context.Context) error {
			_, err := e.prov.ResolveAll(ctx, e.cfg.ExternalResources, e.sess)
			return err
		})
		if err != nil {
			return fail("provision", err)
		}
	}

	// Stage: artifact transfer.
	remotePath := e.cfg.Artifact.RemotePath
	if remotePath == "" {
		remotePath = defaultArtifactPath
	}
	err = e.stage(ctx, "transfer", func(ctx context.Context) error {
		return e.sess.UploadFile(ctx, e.cfg.Artifact.LocalPath, remotePath, 0o644)
	})
	if err != nil {
		return fail("transfer", err)
	}
	e.log.Info().Str("remote", remotePath).Msg("artifact transferred")

	// Stage: pre-steps. Any failure is fatal.
	for _, step := range e.cfg.PreSteps {
		err := e.stage(ctx, "pre-step "+step.Name, func(ctx context.Context) error {
			return e.runStep(ctx, step)
		})
		if err != nil {
			return fail("pre-step "+step.Name, err)
		}
	}

	// Stage: configure.
	err = e.stage(ctx, "configure", func(ctx context.Context) error {
		_, err := e.conf.Configure(ctx, e.sess, configurator.Request{
			AppType:              e.cfg.ApplicationType,
			ArtifactPath:         remotePath,
			ServeUser:            e.cfg.Target.ServeUser,
			Port:                 e.cfg.HealthCheck.Port,
			Unmanaged:            e.cfg.Unmanaged,
			PostConfigureScript:  e.cfg.PostConfigureScript,
			PostConfigureTimeout: e.cfg.PostConfigureTimeout,
		})
		return err
	})
	if err != nil {
		return fail("configure", err)
	}

	// Stage: post-steps. Failures are recorded, not fatal; verification
	// still tells the caller whether the service came up.
	for _, step := range e.cfg.PostSteps {
		err := e.stage(ctx, "post-step "+step.Name, func(ctx context.Context) error {
			return e.runStep(ctx, step)
		})
		if err != nil {
			if ctx.Err() != nil {
				return fail("post-step "+step.Name, err)
			}
			e.log.Warn().Err(err).Str("step", step.Name).Msg("post-step failed")
			warnings = append(warnings, fmt.Sprintf("post-step %s failed: %v", step.Name, err))
		}
	}

	// Stage: verify.
	err = e.stage(ctx, "verify", func(ctx context.Context) error {
		return e.verifier.Verify(ctx, e.cfg.Target.Host, e.cfg.HealthCheck)
	})
	if err != nil {
		if Classify(err) == ClassHealthCheckExhausted {
			e.observeError(err)
			warnings = append(warnings, err.Error())
			return e.result(OutcomeHealthWarning, ledger, warnings, err)
		}
		return fail("verify", err)
	}

	e.log.Info().Msg("deployment verified")
	return e.result(OutcomeSuccess, ledger, warnings, nil)
}

// recordInstallAttempts feeds every ledger entry into the attempt counter.
func (e *Executor) recordInstallAttempts(ledger *installer.Ledger) {
	if e.metrics == nil || ledger == nil {
		return
	}
	for _, entry := range ledger.Entries() {
		e.metrics.InstallAttempt(string(entry.Outcome))
	}
}

func (e *Executor) runStep(ctx context.Context, step config.StepSpec) error {
	res, err := e.sess.Run(ctx, ssh.Command{
		Body:    step.Command,
		Sudo:    step.Sudo,
		Timeout: step.Timeout,
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("step %s exited %d: %s", step.Name, res.ExitCode, res.Stderr)
	}
	return nil
}

func (e *Executor) result(outcome Outcome, ledger *installer.Ledger, warnings []string, err error) *Result {
	return &Result{
		Outcome:     outcome,
		Ledger:      ledger,
		LastState:   e.sess.State(),
		Diagnostics: renderDiagnostics(outcome, e.sess.State(), ledger, warnings, err),
		Err:         err,
	}
}

// renderDiagnostics builds the human-readable report: outcome, last session
// state, the full ledger, and any warnings, so a reader can tell "never
// connected" from "connected but one optional dependency failed" from
// "deployed but unhealthy".
func renderDiagnostics(outcome Outcome, state session.State, ledger *installer.Ledger, warnings []string, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "outcome: %s\n", outcome)
	fmt.Fprintf(&b, "session state: %s\n", state)
	if err != nil {
		fmt.Fprintf(&b, "error: %v\n", err)
	}
	if len(warnings) > 0 {
		b.WriteString("warnings:\n")
		for _, w := range warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}
	b.WriteString("installation ledger:\n")
	b.WriteString(ledger.Render())
	return b.String()
}
