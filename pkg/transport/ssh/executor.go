package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// executor handles command execution over SSH.
type executor struct {
	client *Client
	config *Config
}

// Run executes a command on the remote instance. The body is transmitted
// base64-encoded (see EncodeCommand) and decoded by the remote shell, so
// multi-line scripts never pass through shell argument interpolation.
func (c *Client) Run(ctx context.Context, cmd Command) (*ExecResult, error) {
	return c.executor.run(ctx, cmd)
}

func (e *executor) run(ctx context.Context, cmd Command) (*ExecResult, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = e.config.CommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()

	log.Debug().
		Int("body_len", len(cmd.Body)).
		Bool("sudo", cmd.Sudo).
		Dur("timeout", timeout).
		Msg("executing command")

	sshClient, err := e.client.getClient()
	if err != nil {
		return nil, err
	}

	session, err := sshClient.NewSession()
	if err != nil {
		return nil, &TransportError{
			Op:          "run",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
			ExitCode:    -1,
		}
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf

	var wire string
	if cmd.Sudo && e.config.SudoPassword != "" {
		wire = encodeSudoWithPassword(cmd, e.config.SudoPassword)
	} else {
		wire = EncodeCommand(cmd)
	}

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(wire)
	}()

	var execErr error
	timedOut := false
	select {
	case <-ctx.Done():
		// Deadline or cancellation; try to tear the remote process down.
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = ctx.Err()
		timedOut = errors.Is(execErr, context.DeadlineExceeded)
	case execErr = <-doneChan:
	}

	result := &ExecResult{
		Stdout:     strings.TrimSpace(stdoutBuf.String()),
		Stderr:     strings.TrimSpace(stderrBuf.String()),
		StartedAt:  startTime,
		FinishedAt: time.Now(),
		Duration:   time.Since(startTime),
	}

	log.Debug().
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Err(execErr).
		Msg("command completed")

	if execErr == nil {
		result.ExitCode = 0
		return result, nil
	}

	if timedOut {
		result.ExitCode = -1
		return result, &TransportError{
			Op:          "run",
			Err:         fmt.Errorf("command timed out after %s", timeout),
			IsTemporary: true,
			IsTimeout:   true,
			ExitCode:    -1,
		}
	}

	if errors.Is(execErr, context.Canceled) {
		result.ExitCode = -1
		return result, &TransportError{
			Op:       "run",
			Err:      execErr,
			ExitCode: -1,
		}
	}

	var exitErr *ssh.ExitError
	if errors.As(execErr, &exitErr) {
		// The command ran to completion with a non-zero exit. This is an
		// application-level failure, not a channel failure; it is never
		// auto-retried here.
		result.ExitCode = exitErr.ExitStatus()
		return result, &TransportError{
			Op:       "run",
			Err:      fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), result.Stderr),
			ExitCode: exitErr.ExitStatus(),
		}
	}

	// Anything else is a channel problem (connection dropped mid-command).
	result.ExitCode = -1
	return result, &TransportError{
		Op:          "run",
		Err:         execErr,
		IsTemporary: true,
		ExitCode:    -1,
	}
}
