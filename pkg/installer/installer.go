package installer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengantry/opengantry/pkg/config"
	"github.com/opengantry/opengantry/pkg/pkgguard"
	"github.com/opengantry/opengantry/pkg/transport/ssh"
)

// Runner executes commands on the target instance.
type Runner interface {
	Run(ctx context.Context, cmd ssh.Command) (*ssh.ExecResult, error)
}

// Guard repairs the remote package subsystem between failed attempts. A
// returned error means the guard escalated and the run must stop.
type Guard interface {
	Repair(ctx context.Context) (*pkgguard.RepairOutcome, error)
}

const (
	// retryDelay is the fixed pause between install attempts of one
	// dependency, giving transient package-manager contention time to clear.
	retryDelay = 3 * time.Second

	installTimeout = 10 * time.Minute
	detectTimeout  = 30 * time.Second
)

// Flavor identifies the package-manager family found on the target.
type Flavor string

const (
	FlavorApt Flavor = "apt"
	FlavorDnf Flavor = "dnf"
)

const detectScript = `if command -v apt-get >/dev/null 2>&1; then echo apt
elif command -v dnf >/dev/null 2>&1; then echo dnf
else echo unknown
fi`

// DetectFlavor probes the target for a supported package manager.
func DetectFlavor(ctx context.Context, runner Runner) (Flavor, error) {
	res, err := runner.Run(ctx, ssh.Command{Body: detectScript, Timeout: detectTimeout})
	if err != nil {
		return "", fmt.Errorf("probing package manager: %w", err)
	}
	switch f := Flavor(strings.TrimSpace(res.Stdout)); f {
	case FlavorApt, FlavorDnf:
		return f, nil
	default:
		return "", fmt.Errorf("no supported package manager on target, need apt or dnf")
	}
}

// clientPackages maps an external dependency name to the thin client
// installed locally in place of the full service, per flavor.
var clientPackages = map[Flavor]map[string]string{
	FlavorApt: {
		"postgres":   "postgresql-client",
		"postgresql": "postgresql-client",
		"mysql":      "default-mysql-client",
		"mariadb":    "mariadb-client",
		"redis":      "redis-tools",
	},
	FlavorDnf: {
		"postgres":   "postgresql",
		"postgresql": "postgresql",
		"mysql":      "mysql",
		"mariadb":    "mariadb",
		"redis":      "redis",
	},
}

// Installer walks an ordered dependency list and installs each entry through
// the session, recording every attempt in a Ledger.
type Installer struct {
	runner Runner
	guard  Guard
	flavor Flavor
	delay  time.Duration
	log    zerolog.Logger
}

// New creates an installer bound to one session.
func New(runner Runner, guard Guard, log zerolog.Logger) *Installer {
	return &Installer{
		runner: runner,
		guard:  guard,
		delay:  retryDelay,
		log:    log.With().Str("component", "installer").Logger(),
	}
}

// InstallAll processes specs strictly in declaration order. A dependency's
// final failure is recorded and the walk continues; later stages consult the
// ledger to decide whether a failed entry blocks them. The returned ledger
// always holds one terminal outcome per spec.
func (in *Installer) InstallAll(ctx context.Context, specs []config.DependencySpec) (*Ledger, error) {
	ledger := NewLedger()
	if len(specs) == 0 {
		return ledger, nil
	}
	if err := in.ensureFlavor(ctx); err != nil {
		return ledger, err
	}

	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return ledger, err
		}

		switch {
		case !spec.Enabled:
			in.log.Debug().Str("dependency", spec.Name).Msg("dependency disabled, skipping")
			ledger.Append(spec.Name, 0, OutcomeSkipped, "disabled", 0)

		case spec.External:
			if err := in.installClient(ctx, spec, ledger); err != nil {
				return ledger, err
			}

		default:
			if err := in.installWithRetry(ctx, spec, ledger); err != nil {
				return ledger, err
			}
		}
	}
	return ledger, nil
}

// ensureFlavor detects the target's package manager once per session.
func (in *Installer) ensureFlavor(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if in.flavor != "" {
		return nil
	}
	flavor, err := DetectFlavor(ctx, in.runner)
	if err != nil {
		return err
	}
	in.flavor = flavor
	in.log.Info().Str("flavor", string(flavor)).Msg("package manager detected")
	return nil
}

// installClient installs only the thin client for an externally managed
// dependency. Connection facts come later from the resource provisioner.
func (in *Installer) installClient(ctx context.Context, spec config.DependencySpec, ledger *Ledger) error {
	pkg, ok := clientPackages[in.flavor][spec.Name]
	if !ok {
		pkg = spec.Name + "-client"
	}
	in.log.Info().Str("dependency", spec.Name).Str("client", pkg).Msg("installing thin client for external dependency")

	start := time.Now()
	res, err := in.runner.Run(ctx, ssh.Command{
		Body:    installBody(in.flavor, pkg, ""),
		Sudo:    true,
		Timeout: installTimeout,
	})
	elapsed := time.Since(start)

	if failure := installFailure(res, err); failure != "" {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ledger.Append(spec.Name, 1, OutcomeFailed, failure, elapsed)
		in.log.Warn().Str("dependency", spec.Name).Str("reason", failure).Msg("client install failed")
		return nil
	}
	ledger.Append(spec.Name, 1, OutcomeClientOnly, pkg, elapsed)
	return nil
}

// installWithRetry attempts the install up to 1+RetryBudget times, invoking
// guard repair between attempts. Repair never runs after the final failure,
// only when another attempt will follow.
func (in *Installer) installWithRetry(ctx context.Context, spec config.DependencySpec, ledger *Ledger) error {
	maxAttempts := 1 + spec.Retries()
	body := installBody(in.flavor, spec.Name, spec.Version)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		res, err := in.runner.Run(ctx, ssh.Command{
			Body:    body,
			Sudo:    true,
			Timeout: installTimeout,
		})
		elapsed := time.Since(start)

		failure := installFailure(res, err)
		if failure == "" {
			ledger.Append(spec.Name, attempt, OutcomeSucceeded, "", elapsed)
			in.log.Info().Str("dependency", spec.Name).Int("attempt", attempt).Msg("dependency installed")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt == maxAttempts {
			ledger.Append(spec.Name, attempt, OutcomeFailed, failure, elapsed)
			in.log.Warn().Str("dependency", spec.Name).Int("attempts", attempt).Str("reason", failure).
				Msg("dependency failed after exhausting retry budget")
			return nil
		}

		ledger.Append(spec.Name, attempt, OutcomeRetrying, failure, elapsed)
		in.log.Warn().Str("dependency", spec.Name).Int("attempt", attempt).Str("reason", failure).
			Msg("install attempt failed, repairing package state before retry")

		if _, err := in.guard.Repair(ctx); err != nil {
			return fmt.Errorf("package repair before retry of %s: %w", spec.Name, err)
		}

		select {
		case <-time.After(in.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// installBody builds the install command for one package. Version pins use
// the `pkg=version` form on apt and `pkg-version` on dnf.
func installBody(flavor Flavor, pkg, version string) string {
	if flavor == FlavorDnf {
		target := pkg
		if version != "" {
			target = pkg + "-" + version
		}
		return fmt.Sprintf("dnf install -y -q %s", target)
	}
	target := pkg
	if version != "" {
		target = pkg + "=" + version
	}
	return fmt.Sprintf("export DEBIAN_FRONTEND=noninteractive\napt-get update -qq\napt-get install -y -qq %s", target)
}

// installFailure classifies one attempt. Empty string means success. A
// command timeout and a non-zero exit both count as attempt failures here;
// the distinction matters to the session layer, not to the retry loop.
func installFailure(res *ssh.ExecResult, err error) string {
	if err != nil {
		return err.Error()
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		return fmt.Sprintf("exit %d: %s", res.ExitCode, lastLine(detail))
	}
	return ""
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
