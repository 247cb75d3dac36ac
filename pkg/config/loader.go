package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultRetryBudget is the number of extra install attempts a
	// dependency gets when the document does not say otherwise.
	DefaultRetryBudget = 2

	defaultTargetPort           = 22
	defaultHealthInterval       = 10 * time.Second
	defaultHealthInitialDelay   = 15 * time.Second
	defaultHealthMaxAttempts    = 5
	defaultPostConfigureTimeout = 5 * time.Minute
)

// Loader parses and validates deployment documents.
type Loader struct {
	validator *validator.Validate
}

// NewLoader creates a loader with a fresh validator instance.
func NewLoader() *Loader {
	return &Loader{validator: validator.New()}
}

// LoadFile reads a YAML deployment document from disk.
func (l *Loader) LoadFile(path string) (*DeploymentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading deployment document %s: %w", path, err)
	}
	return l.Load(data)
}

// Load parses a YAML deployment document, applies defaults, and validates it.
// Validation failures name the offending field; healthCheck.port in
// particular is rejected when absent rather than guessed.
func (l *Loader) Load(data []byte) (*DeploymentConfig, error) {
	var cfg DeploymentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing deployment document: %w", err)
	}

	applyDefaults(&cfg)

	if err := l.validator.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid deployment document: %w", err)
	}
	if err := crossValidate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *DeploymentConfig) {
	if cfg.Target.Port == 0 {
		cfg.Target.Port = defaultTargetPort
	}
	if cfg.Target.ServeUser == "" {
		cfg.Target.ServeUser = cfg.Target.User
	}
	for i := range cfg.Dependencies {
		if cfg.Dependencies[i].RetryBudget == nil {
			budget := DefaultRetryBudget
			cfg.Dependencies[i].RetryBudget = &budget
		}
	}
	if cfg.HealthCheck.Path != "" && !strings.HasPrefix(cfg.HealthCheck.Path, "/") {
		cfg.HealthCheck.Path = "/" + cfg.HealthCheck.Path
	}
	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = defaultHealthInterval
	}
	if cfg.HealthCheck.InitialDelay == 0 {
		cfg.HealthCheck.InitialDelay = defaultHealthInitialDelay
	}
	if cfg.HealthCheck.MaxAttempts == 0 {
		cfg.HealthCheck.MaxAttempts = defaultHealthMaxAttempts
	}
	if cfg.PostConfigureScript != "" && cfg.PostConfigureTimeout == 0 {
		cfg.PostConfigureTimeout = defaultPostConfigureTimeout
	}
}

func crossValidate(cfg *DeploymentConfig) error {
	seen := make(map[string]bool, len(cfg.Dependencies))
	for _, d := range cfg.Dependencies {
		if seen[d.Name] {
			return fmt.Errorf("invalid deployment document: duplicate dependency %q", d.Name)
		}
		seen[d.Name] = true
	}
	for _, r := range cfg.ExternalResources {
		if r.Kind == ResourceBucket && r.AccessLevel == "" {
			return fmt.Errorf("invalid deployment document: bucket %q needs an accessLevel", r.Name)
		}
		if r.Kind == ResourceDatabase && r.AccessLevel != "" {
			return fmt.Errorf("invalid deployment document: accessLevel is bucket-only, set on database %q", r.Name)
		}
	}
	return nil
}
