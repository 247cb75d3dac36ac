// Package pkgguard inspects and repairs the remote package-management
// subsystem before and between installs.
package pkgguard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengantry/opengantry/pkg/transport/ssh"
)

// Runner is the slice of the session manager the guard needs.
type Runner interface {
	Run(ctx context.Context, cmd ssh.Command) (*ssh.ExecResult, error)
}

// HealthReport describes the state of the remote package database.
type HealthReport struct {
	// Consistent is true when no interrupted transaction or held lock was
	// found.
	Consistent bool

	// LockHeld is true when the dpkg frontend lock is held by a process.
	LockHeld bool

	// InterruptedPackages lists packages dpkg reports as half-configured.
	InterruptedPackages []string

	// CheckedAt is when the inspection ran.
	CheckedAt time.Time
}

// RepairOutcome describes the result of a repair pass.
type RepairOutcome struct {
	// Repaired is true when the database was consistent after repair.
	Repaired bool

	// StepsRun lists the repair commands that were executed.
	StepsRun []string

	// Err is the last repair failure, if any.
	Err error
}

// FatalError is returned from Repair once consecutive repair failures cross
// the escalation threshold; at that point every subsequent install would
// fail anyway and the run should stop.
type FatalError struct {
	ConsecutiveFailures int
	Err                 error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("package subsystem unrecoverable after %d repair failures: %v", e.ConsecutiveFailures, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Guard inspects and repairs the remote package database.
type Guard struct {
	runner Runner
	log    zerolog.Logger

	// escalateAfter is the number of consecutive repair failures that
	// turns a warning into a fatal error. Zero disables escalation.
	escalateAfter int

	consecutiveFailures int
}

// Option configures a Guard.
type Option func(*Guard)

// WithEscalation makes repair failures fatal after n consecutive failures
// instead of warning indefinitely.
func WithEscalation(n int) Option {
	return func(g *Guard) { g.escalateAfter = n }
}

// New creates a guard over the given runner.
func New(runner Runner, log zerolog.Logger, opts ...Option) *Guard {
	g := &Guard{
		runner:        runner,
		log:           log.With().Str("component", "pkgguard").Logger(),
		escalateAfter: 3,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

const inspectScript = `set -u
if ! command -v dpkg >/dev/null 2>&1; then
  echo "lock=clear"
  exit 0
fi
lock=clear
if command -v fuser >/dev/null 2>&1; then
  if fuser /var/lib/dpkg/lock-frontend >/dev/null 2>&1; then lock=held; fi
fi
echo "lock=$lock"
dpkg --audit 2>/dev/null | awk '/^ / {print $1}'
`

// Inspect checks whether the remote package database is in a consistent
// state: no held lock, no half-configured packages.
func (g *Guard) Inspect(ctx context.Context) (*HealthReport, error) {
	result, err := g.runner.Run(ctx, ssh.Command{
		Body:    inspectScript,
		Sudo:    true,
		Timeout: 60 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("package database inspection failed: %w", err)
	}

	report := &HealthReport{Consistent: true, CheckedAt: time.Now()}
	for _, line := range splitLines(result.Stdout) {
		switch {
		case line == "lock=held":
			report.LockHeld = true
			report.Consistent = false
		case line == "lock=clear" || line == "":
		default:
			report.InterruptedPackages = append(report.InterruptedPackages, line)
			report.Consistent = false
		}
	}

	g.log.Debug().
		Bool("consistent", report.Consistent).
		Bool("lock_held", report.LockHeld).
		Int("interrupted", len(report.InterruptedPackages)).
		Msg("package database inspected")

	return report, nil
}

var repairSteps = []struct {
	name string
	body string
}{
	{"configure-pending", "DEBIAN_FRONTEND=noninteractive dpkg --configure -a"},
	{"fix-broken", "DEBIAN_FRONTEND=noninteractive apt-get install -f -y"},
	{"clean-partial", "apt-get clean && rm -f /var/cache/apt/archives/partial/*.deb"},
}

// Repair runs the bounded repair sequence and re-checks. A repair failure
// is normally reported but non-fatal, since many package managers self-heal
// on the next operation; after escalateAfter consecutive failures it
// becomes a FatalError.
func (g *Guard) Repair(ctx context.Context) (*RepairOutcome, error) {
	outcome := &RepairOutcome{}

	for _, step := range repairSteps {
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		outcome.StepsRun = append(outcome.StepsRun, step.name)
		if _, err := g.runner.Run(ctx, ssh.Command{
			Body:    step.body,
			Sudo:    true,
			Timeout: 5 * time.Minute,
		}); err != nil {
			g.log.Warn().Err(err).Str("step", step.name).Msg("repair step failed")
			outcome.Err = err
		}
	}

	report, err := g.Inspect(ctx)
	if err != nil {
		outcome.Err = err
	} else {
		outcome.Repaired = report.Consistent
	}

	if outcome.Repaired {
		g.consecutiveFailures = 0
		return outcome, nil
	}

	g.consecutiveFailures++
	if g.escalateAfter > 0 && g.consecutiveFailures >= g.escalateAfter {
		return outcome, &FatalError{
			ConsecutiveFailures: g.consecutiveFailures,
			Err:                 outcome.Err,
		}
	}

	g.log.Warn().
		Int("consecutive_failures", g.consecutiveFailures).
		Msg("package database still inconsistent after repair, continuing optimistically")
	return outcome, nil
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		lines = append(lines, strings.TrimSpace(line))
	}
	return lines
}
