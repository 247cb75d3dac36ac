package telemetry

import "time"

// Config groups the observability settings for one orchestrator process.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig controls zerolog construction.
type LoggingConfig struct {
	// Level is trace, debug, info, warn or error.
	Level string `yaml:"level"`

	// Format is json or console.
	Format string `yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Addr is the listen address for the metrics handler, such as
	// ":9090". Empty disables the HTTP endpoint even when metrics are
	// collected.
	Addr string `yaml:"addr"`

	Namespace string `yaml:"namespace"`
}

// TracingConfig controls OTel span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `yaml:"endpoint"`

	SamplingRate  float64       `yaml:"sampling_rate"`
	ExportTimeout time.Duration `yaml:"export_timeout"`
}

// DefaultConfig returns sane operator defaults: json logs to stderr,
// metrics and tracing off until switched on.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stderr"},
		Metrics: MetricsConfig{Namespace: "gantry"},
		Tracing: TracingConfig{Exporter: "none", SamplingRate: 1.0, ExportTimeout: 30 * time.Second},
	}
}
