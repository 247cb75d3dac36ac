package ssh

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	keyFile := writeTestKey(t)

	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{
			name:      "valid password config",
			mutate:    func(c *Config) {},
			expectErr: false,
		},
		{
			name: "missing host",
			mutate: func(c *Config) {
				c.Host = ""
			},
			expectErr: true,
		},
		{
			name: "invalid port",
			mutate: func(c *Config) {
				c.Port = 70000
			},
			expectErr: true,
		},
		{
			name: "missing user",
			mutate: func(c *Config) {
				c.User = ""
			},
			expectErr: true,
		},
		{
			name: "password auth without password",
			mutate: func(c *Config) {
				c.Password = ""
			},
			expectErr: true,
		},
		{
			name: "key auth with existing key",
			mutate: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = keyFile
			},
			expectErr: false,
		},
		{
			name: "key auth with missing key file",
			mutate: func(c *Config) {
				c.AuthMethod = AuthMethodKey
				c.PrivateKeyPath = "/nonexistent/key"
			},
			expectErr: true,
		},
		{
			name: "unsupported auth method",
			mutate: func(c *Config) {
				c.AuthMethod = "kerberos"
			},
			expectErr: true,
		},
		{
			name: "non-positive connection timeout",
			mutate: func(c *Config) {
				c.ConnectionTimeout = 0
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{
				Host:              "10.0.0.5",
				Port:              22,
				User:              "deploy",
				AuthMethod:        AuthMethodPassword,
				Password:          "secret",
				ConnectionTimeout: 30 * time.Second,
				CommandTimeout:    time.Minute,
			}
			tt.mutate(config)

			err := config.Validate()
			if tt.expectErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigAddress(t *testing.T) {
	config := DefaultConfig("10.0.0.5", "deploy")
	if config.Address() != "10.0.0.5:22" {
		t.Errorf("expected 10.0.0.5:22, got %s", config.Address())
	}

	config.Port = 2222
	if config.Address() != "10.0.0.5:2222" {
		t.Errorf("expected 10.0.0.5:2222, got %s", config.Address())
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig("host.example", "deploy")

	if config.Port != 22 {
		t.Errorf("expected default port 22, got %d", config.Port)
	}
	if config.AuthMethod != AuthMethodKey {
		t.Errorf("expected key auth by default, got %s", config.AuthMethod)
	}
	if !config.StrictHostKeyChecking {
		t.Error("expected strict host key checking by default")
	}
	if config.ConnectionTimeout != 30*time.Second {
		t.Errorf("unexpected connection timeout: %s", config.ConnectionTimeout)
	}
}

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name      string
		msg       string
		temporary bool
		auth      bool
	}{
		{
			name:      "connection refused",
			msg:       "dial tcp 10.0.0.5:22: connect: connection refused",
			temporary: true,
		},
		{
			name:      "io timeout",
			msg:       "dial tcp 10.0.0.5:22: i/o timeout",
			temporary: true,
		},
		{
			name: "auth rejected",
			msg:  "ssh: handshake failed: ssh: unable to authenticate, attempted methods [publickey]",
			auth: true,
		},
		{
			name: "unknown host key",
			msg:  "ssh: handshake failed: knownhosts: key is unknown",
			auth: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyDialError(errString(tt.msg))
			if IsTemporary(err) != tt.temporary {
				t.Errorf("IsTemporary = %v, want %v", IsTemporary(err), tt.temporary)
			}
			if IsAuthError(err) != tt.auth {
				t.Errorf("IsAuthError = %v, want %v", IsAuthError(err), tt.auth)
			}
		})
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func writeTestKey(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "id_test")
	if err := os.WriteFile(path, []byte("not-a-real-key"), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}
