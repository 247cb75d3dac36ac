package config

import (
	"strings"
	"testing"
	"time"
)

const validDoc = `
applicationType: node
target:
  instanceId: i-0abc
  host: 203.0.113.10
  user: deploy
  keyPath: /tmp/key
dependencies:
  - name: nodejs
    enabled: true
    required: true
  - name: pm2
    enabled: true
artifact:
  localPath: ./app.tar.gz
healthCheck:
  path: /healthz
  port: 3000
  expectedMarker: "ok"
`

func TestLoadValidDocument(t *testing.T) {
	cfg, err := NewLoader().Load([]byte(validDoc))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ApplicationType != AppNode {
		t.Errorf("ApplicationType = %q, want node", cfg.ApplicationType)
	}
	if cfg.Target.Port != 22 {
		t.Errorf("Target.Port = %d, want default 22", cfg.Target.Port)
	}
	if cfg.Target.ServeUser != "deploy" {
		t.Errorf("ServeUser = %q, want fallback to User", cfg.Target.ServeUser)
	}
	for _, d := range cfg.Dependencies {
		if d.Retries() != DefaultRetryBudget {
			t.Errorf("dependency %s retry budget = %d, want %d", d.Name, d.Retries(), DefaultRetryBudget)
		}
	}
	if cfg.HealthCheck.Interval != 10*time.Second {
		t.Errorf("HealthCheck.Interval = %v, want 10s default", cfg.HealthCheck.Interval)
	}
	if cfg.HealthCheck.MaxAttempts != 5 {
		t.Errorf("HealthCheck.MaxAttempts = %d, want 5 default", cfg.HealthCheck.MaxAttempts)
	}
}

func TestLoadRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{
			name:    "unknown application type",
			mutate:  func(d string) string { return strings.Replace(d, "applicationType: node", "applicationType: rails", 1) },
			wantErr: "ApplicationType",
		},
		{
			name:    "missing health check port",
			mutate:  func(d string) string { return strings.Replace(d, "  port: 3000\n", "", 1) },
			wantErr: "Port",
		},
		{
			name:    "missing expected marker",
			mutate:  func(d string) string { return strings.Replace(d, "  expectedMarker: \"ok\"\n", "", 1) },
			wantErr: "ExpectedMarker",
		},
		{
			name:    "missing target host",
			mutate:  func(d string) string { return strings.Replace(d, "  host: 203.0.113.10\n", "", 1) },
			wantErr: "Host",
		},
		{
			name:    "duplicate dependency",
			mutate:  func(d string) string { return strings.Replace(d, "name: pm2", "name: nodejs", 1) },
			wantErr: "duplicate dependency",
		},
	}

	loader := NewLoader()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.Load([]byte(tt.mutate(validDoc)))
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadResourceAccessLevelRules(t *testing.T) {
	withResources := validDoc + `
externalResources:
  - kind: bucket
    name: media
  - kind: database
    name: appdb
    createIfMissing: true
`
	_, err := NewLoader().Load([]byte(withResources))
	if err == nil || !strings.Contains(err.Error(), "accessLevel") {
		t.Fatalf("Load() error = %v, want bucket accessLevel complaint", err)
	}

	fixed := strings.Replace(withResources, "name: media", "name: media\n    accessLevel: read-write", 1)
	cfg, err := NewLoader().Load([]byte(fixed))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.ExternalResources) != 2 {
		t.Fatalf("got %d resources, want 2", len(cfg.ExternalResources))
	}
}

func TestLoadKeepsExplicitRetryBudget(t *testing.T) {
	doc := strings.Replace(validDoc, "name: pm2", "name: pm2\n    retryBudget: 5", 1)
	cfg, err := NewLoader().Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Dependencies[1].Retries(); got != 5 {
		t.Errorf("retry budget = %d, want explicit 5", got)
	}
}

func TestLoadKeepsExplicitZeroRetryBudget(t *testing.T) {
	doc := strings.Replace(validDoc, "name: pm2", "name: pm2\n    retryBudget: 0", 1)
	cfg, err := NewLoader().Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.Dependencies[1].Retries(); got != 0 {
		t.Errorf("retry budget = %d, want explicit 0, not the default", got)
	}
	if got := cfg.Dependencies[0].Retries(); got != DefaultRetryBudget {
		t.Errorf("absent retry budget = %d, want default %d", got, DefaultRetryBudget)
	}
}

func TestLoadNormalizesHealthCheckPath(t *testing.T) {
	doc := strings.Replace(validDoc, "path: /healthz", "path: healthz", 1)
	cfg, err := NewLoader().Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HealthCheck.Path != "/healthz" {
		t.Errorf("HealthCheck.Path = %q, want leading slash added", cfg.HealthCheck.Path)
	}
}
