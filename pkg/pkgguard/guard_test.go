package pkgguard

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/opengantry/opengantry/pkg/transport/ssh"
)

// scriptedRunner replays canned results keyed by a substring of the body.
type scriptedRunner struct {
	results map[string]*ssh.ExecResult
	errs    map[string]error
	calls   []string
}

func (r *scriptedRunner) Run(ctx context.Context, cmd ssh.Command) (*ssh.ExecResult, error) {
	for key, err := range r.errs {
		if strings.Contains(cmd.Body, key) {
			r.calls = append(r.calls, key)
			return nil, err
		}
	}
	for key, res := range r.results {
		if strings.Contains(cmd.Body, key) {
			r.calls = append(r.calls, key)
			return res, nil
		}
	}
	r.calls = append(r.calls, "default")
	return &ssh.ExecResult{ExitCode: 0}, nil
}

func TestInspectConsistent(t *testing.T) {
	runner := &scriptedRunner{
		results: map[string]*ssh.ExecResult{
			"dpkg --audit": {Stdout: "lock=clear\n", ExitCode: 0},
		},
	}
	g := New(runner, zerolog.Nop())

	report, err := g.Inspect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Consistent {
		t.Error("expected consistent report")
	}
	if report.LockHeld {
		t.Error("expected no lock held")
	}
}

func TestInspectDetectsLockAndInterruptedPackages(t *testing.T) {
	runner := &scriptedRunner{
		results: map[string]*ssh.ExecResult{
			"dpkg --audit": {Stdout: "lock=held\nlibfoo1\nlibbar2\n", ExitCode: 0},
		},
	}
	g := New(runner, zerolog.Nop())

	report, err := g.Inspect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Consistent {
		t.Error("expected inconsistent report")
	}
	if !report.LockHeld {
		t.Error("expected lock held")
	}
	if len(report.InterruptedPackages) != 2 {
		t.Errorf("expected 2 interrupted packages, got %v", report.InterruptedPackages)
	}
}

func TestRepairRunsAllStepsAndReinspects(t *testing.T) {
	runner := &scriptedRunner{
		results: map[string]*ssh.ExecResult{
			"dpkg --audit": {Stdout: "lock=clear\n", ExitCode: 0},
		},
	}
	g := New(runner, zerolog.Nop())

	outcome, err := g.Repair(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Repaired {
		t.Error("expected repaired outcome")
	}
	if len(outcome.StepsRun) != len(repairSteps) {
		t.Errorf("expected %d steps, got %d", len(repairSteps), len(outcome.StepsRun))
	}
}

func TestRepairFailureIsNonFatalBelowThreshold(t *testing.T) {
	runner := &scriptedRunner{
		results: map[string]*ssh.ExecResult{
			"dpkg --audit": {Stdout: "lock=held\n", ExitCode: 0},
		},
	}
	g := New(runner, zerolog.Nop(), WithEscalation(3))

	for i := 0; i < 2; i++ {
		outcome, err := g.Repair(context.Background())
		if err != nil {
			t.Fatalf("repair %d should warn, not fail: %v", i+1, err)
		}
		if outcome.Repaired {
			t.Error("expected unrepaired outcome")
		}
	}
}

func TestRepairEscalatesAfterConsecutiveFailures(t *testing.T) {
	runner := &scriptedRunner{
		results: map[string]*ssh.ExecResult{
			"dpkg --audit": {Stdout: "lock=held\n", ExitCode: 0},
		},
	}
	g := New(runner, zerolog.Nop(), WithEscalation(3))

	var lastErr error
	for i := 0; i < 3; i++ {
		_, lastErr = g.Repair(context.Background())
	}

	var fatal *FatalError
	if !errors.As(lastErr, &fatal) {
		t.Fatalf("expected FatalError after 3 consecutive failures, got %v", lastErr)
	}
	if fatal.ConsecutiveFailures != 3 {
		t.Errorf("expected 3 consecutive failures, got %d", fatal.ConsecutiveFailures)
	}
}

func TestRepairSuccessResetsFailureCounter(t *testing.T) {
	runner := &scriptedRunner{
		results: map[string]*ssh.ExecResult{
			"dpkg --audit": {Stdout: "lock=held\n", ExitCode: 0},
		},
	}
	g := New(runner, zerolog.Nop(), WithEscalation(2))

	if _, err := g.Repair(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Database heals; counter resets.
	runner.results["dpkg --audit"] = &ssh.ExecResult{Stdout: "lock=clear\n", ExitCode: 0}
	if _, err := g.Repair(context.Background()); err != nil {
		t.Fatal(err)
	}

	// One more failure must not escalate.
	runner.results["dpkg --audit"] = &ssh.ExecResult{Stdout: "lock=held\n", ExitCode: 0}
	if _, err := g.Repair(context.Background()); err != nil {
		t.Fatalf("counter should have reset, got %v", err)
	}
}
