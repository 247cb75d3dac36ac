package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDisabledMetricsAreNoOps(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	// None of these may panic without a registry.
	m.DeployStarted("node")
	m.DeployCompleted("node", "success", time.Second)
	m.StageObserved("install", time.Second)
	m.InstallAttempt("succeeded")
	m.ErrorObserved("provision")

	if m.Handler() != nil {
		t.Error("disabled metrics must not expose a handler")
	}
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "gantry"})
	m.DeployStarted("node")
	m.DeployCompleted("node", "success", 2*time.Second)
	m.InstallAttempt("succeeded")
	m.ErrorObserved("command-timeout")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`gantry_deploys_started_total{app_type="node"} 1`,
		`gantry_deploys_completed_total{app_type="node",outcome="success"} 1`,
		`gantry_install_attempts_total{outcome="succeeded"} 1`,
		`gantry_errors_total{class="command-timeout"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestDisabledTracerStillYieldsSpans(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "gantry", "test")
	if err != nil {
		t.Fatalf("NewTracer() error = %v", err)
	}
	defer tr.Shutdown(context.Background())

	ctx, span := tr.StartStage(context.Background(), "install", "i-1")
	if ctx == nil || span == nil {
		t.Fatal("StartStage returned nil")
	}
	EndStage(span, nil)
}

func TestLoggerLevels(t *testing.T) {
	log, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if log.GetLevel().String() != "warn" {
		t.Errorf("level = %s, want warn", log.GetLevel())
	}

	child := Component(log, "session")
	if child.GetLevel() != log.GetLevel() {
		t.Error("component logger must inherit the level")
	}
}
