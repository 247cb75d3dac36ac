package config

import (
	"time"
)

// ApplicationType selects the configurator variant for a deployment.
type ApplicationType string

const (
	AppWebScript ApplicationType = "webscript"
	AppNode      ApplicationType = "node"
	AppWSGI      ApplicationType = "wsgi"
	AppSPA       ApplicationType = "spa"
	AppCompose   ApplicationType = "compose"
	AppStatic    ApplicationType = "static"
)

// ResourceKind identifies a class of external managed resource.
type ResourceKind string

const (
	ResourceDatabase ResourceKind = "database"
	ResourceBucket   ResourceKind = "bucket"
)

// AccessLevel is the permission grade granted on a bucket.
type AccessLevel string

const (
	AccessReadOnly  AccessLevel = "read-only"
	AccessReadWrite AccessLevel = "read-write"
)

// DeploymentConfig is the root document describing one deployment against one
// target instance.
type DeploymentConfig struct {
	// ApplicationType selects exactly one configurator variant. Unknown
	// values fail validation before any remote work starts.
	ApplicationType ApplicationType `yaml:"applicationType" validate:"required,oneof=webscript node wsgi spa compose static"`

	// Target identifies the remote instance and how to reach it.
	Target TargetSpec `yaml:"target" validate:"required"`

	// Dependencies are installed in declaration order.
	Dependencies []DependencySpec `yaml:"dependencies,omitempty" validate:"dive"`

	// ExternalResources are resolved through the control plane before the
	// artifact is configured.
	ExternalResources []ResourceSpec `yaml:"externalResources,omitempty" validate:"dive"`

	// Artifact describes the thing being deployed.
	Artifact ArtifactSpec `yaml:"artifact" validate:"required"`

	// PreSteps run after provisioning and before the configurator. A
	// pre-step failure is fatal for the run.
	PreSteps []StepSpec `yaml:"preSteps,omitempty" validate:"dive"`

	// PostSteps run after the configurator and before verification.
	PostSteps []StepSpec `yaml:"postSteps,omitempty" validate:"dive"`

	// HealthCheck describes the verification probe.
	HealthCheck HealthCheckSpec `yaml:"healthCheck" validate:"required"`

	// Unmanaged skips service-unit creation for the application process.
	// Set when the application brings its own process supervisor.
	Unmanaged bool `yaml:"unmanaged,omitempty"`

	// PostConfigureScript is an optional script body the configurator runs
	// after its own steps complete.
	PostConfigureScript string `yaml:"postConfigureScript,omitempty"`

	// PostConfigureTimeout bounds the post-configure script.
	PostConfigureTimeout time.Duration `yaml:"postConfigureTimeout,omitempty"`
}

// TargetSpec identifies the remote instance.
type TargetSpec struct {
	// InstanceID is the control-plane identity, used for describe and
	// restart calls.
	InstanceID string `yaml:"instanceId" validate:"required"`

	// Host is the address the control channel connects to.
	Host string `yaml:"host" validate:"required"`

	// Port is the control-channel port.
	Port int `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	// User is the remote login user.
	User string `yaml:"user" validate:"required"`

	// KeyPath is the private-key file for key-pair authentication.
	KeyPath string `yaml:"keyPath,omitempty"`

	// ServeUser owns the deployed files and runs the service. Defaults to
	// User when empty.
	ServeUser string `yaml:"serveUser,omitempty"`
}

// DependencySpec declares one named software dependency.
type DependencySpec struct {
	// Name is the package or runtime name as the installer knows it.
	Name string `yaml:"name" validate:"required"`

	// Enabled gates the install. Disabled specs are recorded as skipped.
	Enabled bool `yaml:"enabled"`

	// External means a managed equivalent is used instead of a local
	// install; only a thin client is installed on the instance.
	External bool `yaml:"external,omitempty"`

	// Version pins a specific version; empty installs the default.
	Version string `yaml:"version,omitempty"`

	// RetryBudget is the number of extra attempts after the first failure.
	// A pointer so an explicit zero survives defaulting: nil means "use the
	// default", 0 means "never retry".
	RetryBudget *int `yaml:"retryBudget,omitempty" validate:"omitempty,min=0"`

	// Required marks the dependency as a hard requirement for later
	// stages; a failed required dependency makes the configurator abort.
	Required bool `yaml:"required,omitempty"`
}

// Retries returns the retry budget, falling back to the default for
// documents that never set one.
func (d DependencySpec) Retries() int {
	if d.RetryBudget == nil {
		return DefaultRetryBudget
	}
	return *d.RetryBudget
}

// ResourceSpec declares one external managed resource.
type ResourceSpec struct {
	// Kind is database or bucket.
	Kind ResourceKind `yaml:"kind" validate:"required,oneof=database bucket"`

	// Name is the resource name on the provider side.
	Name string `yaml:"name" validate:"required"`

	// AccessLevel applies to buckets only.
	AccessLevel AccessLevel `yaml:"accessLevel,omitempty" validate:"omitempty,oneof=read-only read-write"`

	// CreateIfMissing creates the resource when absent instead of failing.
	CreateIfMissing bool `yaml:"createIfMissing,omitempty"`
}

// ArtifactSpec describes the deployable artifact.
type ArtifactSpec struct {
	// LocalPath is the artifact on the orchestrator's filesystem.
	LocalPath string `yaml:"localPath" validate:"required"`

	// RemotePath is where the artifact lands before the configurator
	// unpacks it. Defaults to a staging path under /tmp when empty.
	RemotePath string `yaml:"remotePath,omitempty"`
}

// StepSpec is one pre- or post-step command.
type StepSpec struct {
	// Name labels the step in logs and diagnostics.
	Name string `yaml:"name" validate:"required"`

	// Command is the full command body. Multi-line bodies are fine; the
	// transport ships them opaquely.
	Command string `yaml:"command" validate:"required"`

	// Timeout bounds the step. Zero uses the transport default.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Sudo runs the step with elevated privileges.
	Sudo bool `yaml:"sudo,omitempty"`
}

// HealthCheckSpec describes the verification probe. Port is mandatory and
// never defaulted: probing a conventional port against a service bound
// elsewhere produces false verdicts from authoring errors alone.
type HealthCheckSpec struct {
	// Path is the HTTP path probed, such as "/healthz".
	Path string `yaml:"path" validate:"required"`

	// Port is the port the service actually listens on.
	Port int `yaml:"port" validate:"required,min=1,max=65535"`

	// ExpectedMarker must appear in the response body for a probe to
	// pass. A bare 200 with a default server page does not pass.
	ExpectedMarker string `yaml:"expectedMarker" validate:"required"`

	// InitialDelay is the settling time before the first probe.
	InitialDelay time.Duration `yaml:"initialDelay,omitempty"`

	// Interval between probes.
	Interval time.Duration `yaml:"interval,omitempty"`

	// MaxAttempts bounds the probe loop.
	MaxAttempts int `yaml:"maxAttempts,omitempty" validate:"omitempty,min=1"`
}
