package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Settings holds orchestrator-level operator configuration, distinct from
// the per-deployment document: where the control plane lives, how to
// authenticate to it, and telemetry knobs.
type Settings struct {
	ControlPlane ControlPlaneSettings `mapstructure:"control_plane"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry"`
}

type ControlPlaneSettings struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

type TelemetrySettings struct {
	MetricsAddr  string `mapstructure:"metrics_addr"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	TraceStdout  bool   `mapstructure:"trace_stdout"`
}

// LoadSettings reads operator settings from the given file (or the default
// search path when empty) merged with GANTRY_-prefixed environment
// variables. Environment wins over file values.
func LoadSettings(path string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("GANTRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("control_plane.endpoint", "https://api.gantry.local")
	v.SetDefault("telemetry.metrics_addr", "")
	v.SetDefault("telemetry.trace_stdout", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("gantry")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/gantry")
		v.AddConfigPath("/etc/gantry")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading settings: %w", err)
		}
		// No settings file anywhere is fine, env and defaults carry it.
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	return &s, nil
}
