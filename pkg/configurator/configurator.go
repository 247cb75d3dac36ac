package configurator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/opengantry/opengantry/pkg/config"
	"github.com/opengantry/opengantry/pkg/transport/ssh"
)

// State tracks how far one configurator invocation got. A failure reports
// the last state actually reached so callers can tell "never unpacked"
// from "installed but failed to start".
type State string

const (
	StateUnconfigured     State = "unconfigured"
	StateFilesPlaced      State = "files-placed"
	StatePermissionsSet   State = "permissions-set"
	StateServiceInstalled State = "service-installed"
	StateServiceStarted   State = "service-started"
	StateVerified         State = "verified"
)

// StepError is fatal for the configurator invocation. It carries the last
// completed state and the step that failed.
type StepError struct {
	LastState State
	Step      string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("configuration step %q failed after reaching %s: %v", e.Step, e.LastState, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Session is the slice of the session manager variants execute through.
type Session interface {
	Run(ctx context.Context, cmd ssh.Command) (*ssh.ExecResult, error)
	Put(ctx context.Context, content []byte, remotePath string, mode os.FileMode) error
	Chown(ctx context.Context, remotePath, owner string, recursive bool) error
}

// Request is one configuration invocation.
type Request struct {
	AppType      config.ApplicationType
	ArtifactPath string // remote path of the uploaded artifact archive
	ServeUser    string
	Port         int

	// Unmanaged skips service-unit creation; the application brings its
	// own supervisor and a second unit would fight it for the port.
	Unmanaged bool

	PostConfigureScript  string
	PostConfigureTimeout time.Duration
}

// Outcome reports the final state of a successful invocation.
type Outcome struct {
	Variant    string
	FinalState State
	AppDir     string
}

// variant is one member of the closed dispatch set. Adding an application
// type means adding a variant here, never special-casing call sites.
type variant interface {
	// Name labels the variant in logs and outcomes.
	Name() string

	// AppDir is the conventional path the artifact unpacks into.
	AppDir() string

	// PlaceCommand unpacks the uploaded archive into AppDir.
	PlaceCommand(req Request) string

	// Service describes the long-running process. ok is false for
	// variants served by an already-present system service with no
	// per-application unit.
	Service(req Request) (svc ServiceSpec, ok bool)
}

// ServiceSpec is either a rendered per-application unit or the name of an
// existing system service to enable and restart.
type ServiceSpec struct {
	Name string
	Unit string // empty means the unit is system-provided
}

// Dispatcher maps an application type onto its configurator variant and
// drives the shared step sequence.
type Dispatcher struct {
	variants map[config.ApplicationType]variant
	log      zerolog.Logger
}

// NewDispatcher builds the dispatcher with the full closed variant set.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		variants: map[config.ApplicationType]variant{
			config.AppWebScript: webScriptVariant{},
			config.AppNode:      nodeVariant{},
			config.AppWSGI:      wsgiVariant{},
			config.AppSPA:       spaVariant{},
			config.AppCompose:   composeVariant{},
			config.AppStatic:    staticVariant{},
		},
		log: log.With().Str("component", "configurator").Logger(),
	}
}

// Configure runs the three-step contract for the declared type. Unknown
// types fail at Unconfigured without touching the instance.
func (d *Dispatcher) Configure(ctx context.Context, sess Session, req Request) (*Outcome, error) {
	v, ok := d.variants[req.AppType]
	if !ok {
		return nil, &StepError{
			LastState: StateUnconfigured,
			Step:      "dispatch",
			Err:       fmt.Errorf("unknown application type %q", req.AppType),
		}
	}

	log := d.log.With().Str("variant", v.Name()).Logger()
	state := StateUnconfigured

	fail := func(step string, err error) (*Outcome, error) {
		return nil, &StepError{LastState: state, Step: step, Err: err}
	}

	// Step 1: place the artifact at the conventional path.
	if err := runStep(ctx, sess, v.PlaceCommand(req), 5*time.Minute); err != nil {
		return fail("place-files", err)
	}
	state = StateFilesPlaced
	log.Info().Str("dir", v.AppDir()).Msg("artifact placed")

	// Step 2: the serving user owns everything under the app dir.
	if err := sess.Chown(ctx, v.AppDir(), req.ServeUser, true); err != nil {
		return fail("set-permissions", err)
	}
	state = StatePermissionsSet

	// Step 3: service unit, unless the caller manages the process itself.
	svc, hasService := v.Service(req)
	switch {
	case req.Unmanaged:
		log.Info().Msg("unmanaged mode, skipping service unit")
	case hasService:
		if err := d.installService(ctx, sess, svc); err != nil {
			return fail("install-service", err)
		}
		state = StateServiceInstalled

		if err := d.startService(ctx, sess, svc.Name); err != nil {
			return fail("start-service", err)
		}
		state = StateServiceStarted
	}

	if req.PostConfigureScript != "" {
		timeout := req.PostConfigureTimeout
		if timeout == 0 {
			timeout = 5 * time.Minute
		}
		if err := runStep(ctx, sess, req.PostConfigureScript, timeout); err != nil {
			return fail("post-configure-script", err)
		}
		log.Info().Msg("post-configure script completed")
	}

	state = StateVerified
	return &Outcome{Variant: v.Name(), FinalState: state, AppDir: v.AppDir()}, nil
}

// installService writes the unit when the variant renders one, then
// reloads and enables it. System-provided services are only enabled.
func (d *Dispatcher) installService(ctx context.Context, sess Session, svc ServiceSpec) error {
	if svc.Unit != "" {
		unitPath := "/etc/systemd/system/" + svc.Name + ".service"
		if err := sess.Put(ctx, []byte(svc.Unit), unitPath, 0o644); err != nil {
			return fmt.Errorf("writing unit %s: %w", unitPath, err)
		}
		if err := runStep(ctx, sess, "systemctl daemon-reload", time.Minute); err != nil {
			return err
		}
	}
	return runStep(ctx, sess, "systemctl enable "+svc.Name, time.Minute)
}

func (d *Dispatcher) startService(ctx context.Context, sess Session, name string) error {
	if err := runStep(ctx, sess, "systemctl restart "+name, 2*time.Minute); err != nil {
		return err
	}
	return runStep(ctx, sess, "systemctl is-active "+name, time.Minute)
}

func runStep(ctx context.Context, sess Session, body string, timeout time.Duration) error {
	res, err := sess.Run(ctx, ssh.Command{Body: body, Sudo: true, Timeout: timeout})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("exit %d: %s", res.ExitCode, firstNonEmpty(res.Stderr, res.Stdout))
	}
	return nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
