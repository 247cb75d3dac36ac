package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/opengantry/opengantry/pkg/configurator"
	"github.com/opengantry/opengantry/pkg/provision"
	"github.com/opengantry/opengantry/pkg/transport/ssh"
)

// ErrorClass classifies a pipeline failure for retry and reporting logic.
type ErrorClass string

const (
	// ClassTransientConnection is a channel failure worth retrying.
	ClassTransientConnection ErrorClass = "transient-connection"

	// ClassFatalConnection is an authentication or host-identity failure.
	// Retrying cannot help.
	ClassFatalConnection ErrorClass = "fatal-connection"

	// ClassCommandTimeout is a command that exceeded its deadline. The
	// caller decides whether to retry.
	ClassCommandTimeout ErrorClass = "command-timeout"

	// ClassCommandExecution is a non-zero exit, surfaced as-is and never
	// retried blindly.
	ClassCommandExecution ErrorClass = "command-execution"

	// ClassProvision is an external resource failure, fatal for the run.
	ClassProvision ErrorClass = "provision"

	// ClassConfigurationStep is a configurator step failure, tagged with
	// the last completed state.
	ClassConfigurationStep ErrorClass = "configuration-step"

	// ClassHealthCheckExhausted means every probe failed. Warning-level:
	// applied remote state stays in place.
	ClassHealthCheckExhausted ErrorClass = "health-check-exhausted"

	// ClassCancelled is a run cut short by the caller's deadline.
	ClassCancelled ErrorClass = "cancelled"

	// ClassUnknown is anything the taxonomy does not cover.
	ClassUnknown ErrorClass = "unknown"
)

// StageError wraps a failure with the pipeline stage it happened in.
type StageError struct {
	Stage string
	Class ErrorClass
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("[%s] stage %s: %v", e.Class, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Classify maps any error from the pipeline's collaborators onto the
// taxonomy.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCancelled
	}

	var exhausted *HealthCheckExhausted
	if errors.As(err, &exhausted) {
		return ClassHealthCheckExhausted
	}
	var stepErr *configurator.StepError
	if errors.As(err, &stepErr) {
		return ClassConfigurationStep
	}
	var provErr *provision.ProvisionError
	if errors.As(err, &provErr) {
		return ClassProvision
	}

	var transportErr *ssh.TransportError
	if errors.As(err, &transportErr) {
		switch {
		case transportErr.IsAuthError:
			return ClassFatalConnection
		case transportErr.IsTimeout:
			return ClassCommandTimeout
		case transportErr.ExitCode >= 0:
			return ClassCommandExecution
		case transportErr.IsTemporary:
			return ClassTransientConnection
		default:
			return ClassFatalConnection
		}
	}
	return ClassUnknown
}

func stageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Class: Classify(err), Err: err}
}
