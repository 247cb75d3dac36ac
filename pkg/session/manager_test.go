package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengantry/opengantry/pkg/transport/ssh"
)

// fakeTransport scripts connect and command outcomes.
type fakeTransport struct {
	connectErrs  []error
	connectCalls int
	runErrs      []error
	runCalls     int
	healthErr    error
	connected    bool
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	var err error
	if f.connectCalls < len(f.connectErrs) {
		err = f.connectErrs[f.connectCalls]
	}
	f.connectCalls++
	if err == nil {
		f.connected = true
	}
	return err
}

func (f *fakeTransport) Disconnect() error {
	f.connected = false
	return nil
}

func (f *fakeTransport) IsConnected() bool { return f.connected }

func (f *fakeTransport) HealthCheck(ctx context.Context) error { return f.healthErr }

func (f *fakeTransport) Run(ctx context.Context, cmd ssh.Command) (*ssh.ExecResult, error) {
	var err error
	if f.runCalls < len(f.runErrs) {
		err = f.runErrs[f.runCalls]
	}
	f.runCalls++
	if err != nil {
		return nil, err
	}
	return &ssh.ExecResult{ExitCode: 0}, nil
}

func (f *fakeTransport) Put(ctx context.Context, content []byte, remotePath string, mode os.FileMode) error {
	return nil
}

func (f *fakeTransport) UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	return nil
}

func (f *fakeTransport) Symlink(ctx context.Context, target, linkPath string) error { return nil }

func (f *fakeTransport) Chown(ctx context.Context, remotePath, owner string, recursive bool) error {
	return nil
}

// fakeRestarter counts restarts.
type fakeRestarter struct {
	restarts int
	err      error
}

func (f *fakeRestarter) RestartInstance(ctx context.Context, instanceID string) error {
	f.restarts++
	return f.err
}

func (f *fakeRestarter) WaitForInstanceState(ctx context.Context, instanceID, state string, timeout time.Duration) error {
	return nil
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:             3,
		PerAttemptTimeout:       time.Second,
		BaseDelay:               time.Millisecond,
		MaxDelay:                5 * time.Millisecond,
		CommandFailureThreshold: 3,
	}
}

func transient(op string) error {
	return &ssh.TransportError{Op: op, Err: errString("dial tcp: connection refused"), IsTemporary: true, ExitCode: -1}
}

func authErr() error {
	return &ssh.TransportError{Op: "connect", Err: errString("ssh: unable to authenticate"), IsAuthError: true, ExitCode: -1}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestConnectRetriesTransientFailures(t *testing.T) {
	transport := &fakeTransport{
		connectErrs: []error{transient("connect"), transient("connect"), nil},
	}
	m := NewManager(transport, nil, "i-1", fastPolicy(), zerolog.Nop())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("expected connect to succeed after retries: %v", err)
	}
	if transport.connectCalls != 3 {
		t.Errorf("expected 3 connect attempts, got %d", transport.connectCalls)
	}
	if m.State() != StateReady {
		t.Errorf("expected Ready, got %s", m.State())
	}
}

func TestConnectAbortsOnAuthError(t *testing.T) {
	transport := &fakeTransport{
		connectErrs: []error{authErr()},
	}
	restarter := &fakeRestarter{}
	m := NewManager(transport, restarter, "i-1", fastPolicy(), zerolog.Nop())

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail")
	}
	if transport.connectCalls != 1 {
		t.Errorf("expected exactly 1 attempt for fatal failure, got %d", transport.connectCalls)
	}
	if restarter.restarts != 0 {
		t.Errorf("fatal failure must not trigger a restart, got %d", restarter.restarts)
	}
	if m.State() != StateFailed {
		t.Errorf("expected Failed, got %s", m.State())
	}
}

func TestConnectHonorsAttemptFloor(t *testing.T) {
	transport := &fakeTransport{
		connectErrs: []error{transient("connect"), transient("connect"), transient("connect")},
	}
	// A policy below the floor is raised to it.
	policy := fastPolicy()
	policy.MaxAttempts = 1
	m := NewManager(transport, nil, "i-1", policy, zerolog.Nop())

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail")
	}
	if transport.connectCalls < 3 {
		t.Errorf("expected at least 3 attempts (floor), got %d", transport.connectCalls)
	}
}

func TestConnectPerformsAtMostOneRestart(t *testing.T) {
	// All attempts fail, including post-restart ones.
	errs := make([]error, 12)
	for i := range errs {
		errs[i] = transient("connect")
	}
	transport := &fakeTransport{connectErrs: errs}
	restarter := &fakeRestarter{}
	m := NewManager(transport, restarter, "i-1", fastPolicy(), zerolog.Nop())

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail")
	}
	if restarter.restarts != 1 {
		t.Errorf("expected exactly 1 restart, got %d", restarter.restarts)
	}
	// 3 attempts before the restart, 3 after.
	if transport.connectCalls != 6 {
		t.Errorf("expected 6 attempts total, got %d", transport.connectCalls)
	}
	if m.State() != StateFailed {
		t.Errorf("expected Failed, got %s", m.State())
	}
}

func TestConnectSucceedsAfterRestart(t *testing.T) {
	transport := &fakeTransport{
		connectErrs: []error{transient("connect"), transient("connect"), transient("connect"), nil},
	}
	restarter := &fakeRestarter{}
	m := NewManager(transport, restarter, "i-1", fastPolicy(), zerolog.Nop())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("expected connect to succeed after restart: %v", err)
	}
	if restarter.restarts != 1 {
		t.Errorf("expected 1 restart, got %d", restarter.restarts)
	}
	if m.State() != StateReady {
		t.Errorf("expected Ready, got %s", m.State())
	}
}

func TestDegradedAfterConsecutiveCommandFailures(t *testing.T) {
	transport := &fakeTransport{
		connectErrs: []error{nil},
		runErrs:     []error{transient("run"), transient("run"), transient("run")},
	}
	m := NewManager(transport, nil, "i-1", fastPolicy(), zerolog.Nop())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = m.Run(ctx, ssh.Command{Body: "true"})
	}

	if m.State() != StateDegraded {
		t.Errorf("expected Degraded after 3 consecutive failures, got %s", m.State())
	}
}

func TestDegradedRecoversViaProbe(t *testing.T) {
	transport := &fakeTransport{
		connectErrs: []error{nil},
		runErrs:     []error{transient("run"), transient("run"), transient("run"), nil},
	}
	m := NewManager(transport, nil, "i-1", fastPolicy(), zerolog.Nop())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = m.Run(ctx, ssh.Command{Body: "true"})
	}
	if m.State() != StateDegraded {
		t.Fatalf("expected Degraded, got %s", m.State())
	}

	// The channel answers the probe, so the next Run recovers.
	if _, err := m.Run(ctx, ssh.Command{Body: "true"}); err != nil {
		t.Fatalf("expected recovery run to succeed: %v", err)
	}
	if m.State() != StateReady {
		t.Errorf("expected Ready after recovery, got %s", m.State())
	}
}

func TestNonZeroExitDoesNotDegrade(t *testing.T) {
	exitErr := &ssh.TransportError{Op: "run", Err: errString("exit 1"), ExitCode: 1}
	transport := &fakeTransport{
		connectErrs: []error{nil},
		runErrs:     []error{exitErr, exitErr, exitErr, exitErr, exitErr},
	}
	m := NewManager(transport, nil, "i-1", fastPolicy(), zerolog.Nop())

	if err := m.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = m.Run(ctx, ssh.Command{Body: "false"})
	}

	if m.State() != StateReady {
		t.Errorf("application-level exits must not degrade the session, got %s", m.State())
	}
}

func TestConnectCancellation(t *testing.T) {
	transport := &fakeTransport{
		connectErrs: []error{transient("connect"), transient("connect"), transient("connect")},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(transport, nil, "i-1", fastPolicy(), zerolog.Nop())
	err := m.Connect(ctx)
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if ctx.Err() == nil {
		t.Fatal("context should be cancelled")
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	policy := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	small := policy.Backoff(0)
	large := policy.Backoff(6)

	if small > 200*time.Millisecond {
		t.Errorf("first backoff too large: %s", small)
	}
	// Capped at MaxDelay plus jitter headroom.
	if large > 1300*time.Millisecond {
		t.Errorf("backoff exceeds cap: %s", large)
	}
}
