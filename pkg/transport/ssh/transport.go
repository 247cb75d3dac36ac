// Package ssh provides the SSH control channel to a remote instance:
// command execution and file transfer.
package ssh

import (
	"context"
	"os"
	"time"
)

// Transport defines the control channel to one remote instance.
// Implementations must be safe for sequential use by a single pipeline;
// they are not required to support concurrent callers.
type Transport interface {
	// Connect establishes the channel. A single Connect attempt is made;
	// retry policy lives in the session manager, not here.
	Connect(ctx context.Context) error

	// Disconnect closes the channel and releases all resources.
	Disconnect() error

	// IsConnected returns true if the channel is currently open.
	IsConnected() bool

	// HealthCheck verifies the channel still answers.
	HealthCheck(ctx context.Context) error

	// Run executes a command on the remote instance. The command body is
	// transmitted opaquely (base64) so multi-line scripts survive intact.
	// A deadline overrun yields a timeout-classified TransportError, which
	// callers must treat differently from a non-zero exit.
	Run(ctx context.Context, cmd Command) (*ExecResult, error)

	// Put writes content to a remote path with the given mode.
	Put(ctx context.Context, content []byte, remotePath string, mode os.FileMode) error

	// UploadFile uploads a local file to the remote instance via SFTP.
	UploadFile(ctx context.Context, localPath, remotePath string, mode os.FileMode) error

	// Symlink creates (or replaces) a symlink on the remote instance.
	Symlink(ctx context.Context, target, linkPath string) error

	// Chown changes ownership of a remote path. Requires sudo.
	Chown(ctx context.Context, remotePath, owner string, recursive bool) error
}

// Command describes one remote command invocation.
type Command struct {
	// Body is the full command body. It may span multiple lines and
	// contain arbitrary quoting; it is never interpolated into a shell
	// argument list.
	Body string

	// Sudo runs the body under sudo.
	Sudo bool

	// Timeout bounds the execution. Zero means the transport default.
	Timeout time.Duration
}

// ExecResult is the outcome of a completed remote command.
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// TransportError is an error from the control channel.
type TransportError struct {
	// Op is the operation that failed (e.g. "connect", "run", "put").
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary marks failures worth retrying (timeouts, refused
	// connections, banner-exchange failures).
	IsTemporary bool

	// IsAuthError marks authentication or host-identity rejections.
	// These are never retried.
	IsAuthError bool

	// IsTimeout marks a command that overran its deadline, as opposed to
	// one that completed with a non-zero exit.
	IsTimeout bool

	// ExitCode is set when the remote command completed with a non-zero
	// exit; -1 otherwise.
	ExitCode int
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
