package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengantry/opengantry/pkg/transport/ssh"
)

// InstanceRestarter performs a hard restart of the target through the
// control plane and waits for it to come back.
type InstanceRestarter interface {
	RestartInstance(ctx context.Context, instanceID string) error
	WaitForInstanceState(ctx context.Context, instanceID, state string, timeout time.Duration) error
}

// Manager owns the control channel to one remote instance for the duration
// of a run. It is not safe for concurrent use; one pipeline per manager.
type Manager struct {
	transport  ssh.Transport
	restarter  InstanceRestarter
	policy     RetryPolicy
	instanceID string
	log        zerolog.Logger

	mu                  sync.Mutex
	state               State
	restartUsed         bool
	consecutiveFailures int
}

// NewManager wires a transport, a restarter and a retry policy together.
// restarter may be nil, in which case the restart escalation is skipped and
// exhausting the connect budget fails the run directly.
func NewManager(transport ssh.Transport, restarter InstanceRestarter, instanceID string, policy RetryPolicy, log zerolog.Logger) *Manager {
	if policy.MaxAttempts < 3 {
		// The floor, not a default: callers may widen, never narrow.
		policy.MaxAttempts = 3
	}
	return &Manager{
		transport:  transport,
		restarter:  restarter,
		policy:     policy,
		instanceID: instanceID,
		state:      StateDisconnected,
		log:        log.With().Str("component", "session").Str("instance", instanceID).Logger(),
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == to {
		return
	}
	if !canTransition(m.state, to) {
		// A broken transition is a programming error; log loudly rather
		// than corrupt the machine.
		m.log.Error().Str("from", string(m.state)).Str("to", string(to)).Msg("illegal session state transition")
		return
	}
	m.log.Debug().Str("from", string(m.state)).Str("to", string(to)).Msg("session state transition")
	m.state = to
}

// Connect establishes the channel, retrying transient failures with
// exponential backoff. Fatal failures (authentication, host identity) abort
// immediately. After the retry budget is exhausted it performs at most one
// hard restart of the instance and runs the full retry sequence once more.
func (m *Manager) Connect(ctx context.Context) error {
	err := m.connectWithRetry(ctx)
	if err == nil {
		return nil
	}
	if ssh.IsAuthError(err) || ctx.Err() != nil {
		m.setState(StateFailed)
		return err
	}

	// Last resort: one hard restart per run, never two, so a genuinely
	// broken target is not masked by endless reboot cycles.
	if m.restarter == nil || m.restartUsed {
		m.setState(StateFailed)
		return err
	}
	m.restartUsed = true

	m.log.Warn().Err(err).Msg("connect budget exhausted, restarting instance")
	if restartErr := m.restarter.RestartInstance(ctx, m.instanceID); restartErr != nil {
		m.setState(StateFailed)
		return fmt.Errorf("instance restart failed: %w (after connect failure: %v)", restartErr, err)
	}
	if waitErr := m.restarter.WaitForInstanceState(ctx, m.instanceID, "running", 5*time.Minute); waitErr != nil {
		m.setState(StateFailed)
		return fmt.Errorf("instance did not come back after restart: %w", waitErr)
	}

	if err := m.connectWithRetry(ctx); err != nil {
		m.setState(StateFailed)
		return fmt.Errorf("connect failed after instance restart: %w", err)
	}
	return nil
}

func (m *Manager) connectWithRetry(ctx context.Context) error {
	var lastErr error

	for attempt := 0; attempt < m.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := m.policy.Backoff(attempt - 1)
			m.log.Debug().Int("attempt", attempt+1).Dur("backoff", backoff).Msg("retrying connect")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		m.setState(StateConnecting)

		attemptCtx, cancel := context.WithTimeout(ctx, m.policy.PerAttemptTimeout)
		err := m.transport.Connect(attemptCtx)
		cancel()

		if err == nil {
			m.mu.Lock()
			m.consecutiveFailures = 0
			m.mu.Unlock()
			m.setState(StateReady)
			return nil
		}

		lastErr = err

		if ssh.IsAuthError(err) {
			m.log.Error().Err(err).Msg("fatal connection failure, not retrying")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.log.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", m.policy.MaxAttempts).Msg("transient connection failure")
	}

	return lastErr
}

// Run executes a command through the channel, tracking consecutive failures
// for degraded-mode detection. A non-zero exit counts as a command outcome,
// not a channel failure, and does not degrade the session.
func (m *Manager) Run(ctx context.Context, cmd ssh.Command) (*ssh.ExecResult, error) {
	if s := m.State(); s == StateFailed {
		return nil, fmt.Errorf("session is failed")
	}

	if m.State() == StateDegraded {
		if err := m.probe(ctx); err != nil {
			return nil, err
		}
	}

	result, err := m.transport.Run(ctx, cmd)
	m.recordCommandOutcome(err)
	return result, err
}

// Put writes content to the remote instance through the channel.
func (m *Manager) Put(ctx context.Context, content []byte, remotePath string, mode os.FileMode) error {
	if s := m.State(); s == StateFailed {
		return fmt.Errorf("session is failed")
	}
	err := m.transport.Put(ctx, content, remotePath, mode)
	m.recordCommandOutcome(err)
	return err
}

// UploadFile streams a local file to the remote instance.
func (m *Manager) UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	if s := m.State(); s == StateFailed {
		return fmt.Errorf("session is failed")
	}
	err := m.transport.UploadFile(ctx, localPath, remotePath, mode)
	m.recordCommandOutcome(err)
	return err
}

// Symlink creates a symlink on the remote instance.
func (m *Manager) Symlink(ctx context.Context, target, linkPath string) error {
	err := m.transport.Symlink(ctx, target, linkPath)
	m.recordCommandOutcome(err)
	return err
}

// Chown changes ownership of a remote path.
func (m *Manager) Chown(ctx context.Context, remotePath, owner string, recursive bool) error {
	err := m.transport.Chown(ctx, remotePath, owner, recursive)
	m.recordCommandOutcome(err)
	return err
}

// recordCommandOutcome updates the consecutive-failure counter. Only
// channel-level failures count; application exits and timeouts are the
// caller's business.
func (m *Manager) recordCommandOutcome(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err == nil || (!ssh.IsTemporary(err) && ssh.ExitCode(err) >= 0) {
		m.consecutiveFailures = 0
		return
	}

	m.consecutiveFailures++
	if m.consecutiveFailures >= m.policy.CommandFailureThreshold && m.state == StateReady {
		m.log.Warn().Int("failures", m.consecutiveFailures).Msg("entering degraded mode")
		m.state = StateDegraded
	}
}

// probe attempts to move a degraded session back to Ready with a health
// check; on failure it burns the restart budget, and with that gone the
// session is failed.
func (m *Manager) probe(ctx context.Context) error {
	if err := m.transport.HealthCheck(ctx); err == nil {
		m.mu.Lock()
		m.consecutiveFailures = 0
		m.mu.Unlock()
		m.setState(StateReady)
		return nil
	}

	if m.restarter != nil && !m.restartUsed {
		m.restartUsed = true
		m.log.Warn().Msg("degraded session probe failed, restarting instance")

		if err := m.restarter.RestartInstance(ctx, m.instanceID); err != nil {
			m.setState(StateFailed)
			return fmt.Errorf("instance restart failed: %w", err)
		}
		if err := m.restarter.WaitForInstanceState(ctx, m.instanceID, "running", 5*time.Minute); err != nil {
			m.setState(StateFailed)
			return fmt.Errorf("instance did not come back after restart: %w", err)
		}

		_ = m.transport.Disconnect()
		attemptCtx, cancel := context.WithTimeout(ctx, m.policy.PerAttemptTimeout)
		err := m.transport.Connect(attemptCtx)
		cancel()
		if err == nil {
			m.mu.Lock()
			m.consecutiveFailures = 0
			m.state = StateReady
			m.mu.Unlock()
			return nil
		}
		m.setState(StateFailed)
		return fmt.Errorf("reconnect after restart failed: %w", err)
	}

	m.setState(StateFailed)
	return fmt.Errorf("session degraded beyond recovery")
}

// Close tears the channel down. The session state is left as-is so callers
// can still report the last state in diagnostics.
func (m *Manager) Close() error {
	return m.transport.Disconnect()
}
