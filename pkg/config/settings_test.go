package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSettingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gantry.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSettingsFromFile(t *testing.T) {
	path := writeSettingsFile(t, `
control_plane:
  endpoint: https://cp.example.com
  token: tok-123
telemetry:
  metrics_addr: ":9321"
`)

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.ControlPlane.Endpoint != "https://cp.example.com" {
		t.Errorf("endpoint = %q", s.ControlPlane.Endpoint)
	}
	if s.ControlPlane.Token != "tok-123" {
		t.Errorf("token = %q", s.ControlPlane.Token)
	}
	if s.Telemetry.MetricsAddr != ":9321" {
		t.Errorf("metrics addr = %q", s.Telemetry.MetricsAddr)
	}
}

func TestLoadSettingsDefaults(t *testing.T) {
	path := writeSettingsFile(t, "{}\n")

	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.ControlPlane.Endpoint != "https://api.gantry.local" {
		t.Errorf("default endpoint = %q", s.ControlPlane.Endpoint)
	}
	if s.Telemetry.MetricsAddr != "" {
		t.Errorf("metrics addr should default empty, got %q", s.Telemetry.MetricsAddr)
	}
}

func TestLoadSettingsExplicitPathMustExist(t *testing.T) {
	if _, err := LoadSettings(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit settings file")
	}
}

func TestLoadSettingsEnvOverride(t *testing.T) {
	t.Setenv("GANTRY_CONTROL_PLANE_TOKEN", "env-token")

	path := writeSettingsFile(t, `
control_plane:
  token: file-token
`)
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if s.ControlPlane.Token != "env-token" {
		t.Errorf("token = %q, want env value to win", s.ControlPlane.Token)
	}
}
