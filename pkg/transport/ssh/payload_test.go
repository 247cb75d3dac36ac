package ssh

import (
	"strings"
	"testing"
)

func TestEncodeCommandRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "simple command",
			body: "apt-get install -y nginx",
		},
		{
			name: "multi-line script",
			body: "set -e\nmkdir -p /srv/app\ncd /srv/app\ntar xzf /tmp/artifact.tar.gz",
		},
		{
			name: "nested quoting",
			body: `psql -c "SELECT 'it''s alive'" && echo "done"`,
		},
		{
			name: "heredoc body",
			body: "cat > /etc/profile.d/app.sh << 'EOF'\nexport APP_ENV=\"prod\"\nEOF",
		},
		{
			name: "shell metacharacters",
			body: "echo $HOME; echo `id -u` | grep -v '^0$' && exit 1",
		},
		{
			name: "empty body",
			body: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := EncodeCommand(Command{Body: tt.body})

			if strings.ContainsAny(wire, "\n") {
				t.Errorf("encoded payload must be a single line, got %q", wire)
			}

			decoded, err := DecodePayload(wire)
			if err != nil {
				t.Fatalf("failed to decode payload: %v", err)
			}
			if decoded != tt.body {
				t.Errorf("round trip corrupted body:\nwant %q\ngot  %q", tt.body, decoded)
			}
		})
	}
}

func TestEncodeCommandSudo(t *testing.T) {
	wire := EncodeCommand(Command{Body: "whoami", Sudo: true})
	if !strings.Contains(wire, "sudo /bin/sh -s") {
		t.Errorf("expected sudo invocation, got %q", wire)
	}

	wire = EncodeCommand(Command{Body: "whoami", Sudo: false})
	if strings.Contains(wire, "sudo") {
		t.Errorf("unexpected sudo invocation, got %q", wire)
	}
}

func TestEncodeSudoWithPassword(t *testing.T) {
	wire := encodeSudoWithPassword(Command{Body: "systemctl restart app"}, "s3cret")
	if !strings.Contains(wire, "sudo -S") {
		t.Errorf("expected sudo -S invocation, got %q", wire)
	}
	if strings.Contains(wire, "systemctl") {
		t.Errorf("command body must not appear in cleartext, got %q", wire)
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	if _, err := DecodePayload("rm -rf /"); err == nil {
		t.Error("expected error for non-payload input")
	}
	if _, err := DecodePayload("echo not-base64!! | /bin/sh -s"); err == nil {
		t.Error("expected error for invalid base64")
	}
}
