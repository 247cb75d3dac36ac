package ssh

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// EncodeCommand turns an arbitrary command body into a single shell line
// that decodes and executes the body remotely. Multi-line scripts with
// nested quoting are a proven source of truncation when interpolated into
// a shell argument list, so the body travels base64-encoded and is piped
// into a shell on the far side.
func EncodeCommand(cmd Command) string {
	enc := base64.StdEncoding.EncodeToString([]byte(cmd.Body))
	if cmd.Sudo {
		return fmt.Sprintf("echo %s | base64 -d | sudo /bin/sh -s", enc)
	}
	return fmt.Sprintf("echo %s | base64 -d | /bin/sh -s", enc)
}

// encodeSudoWithPassword is the password-feeding variant of EncodeCommand.
// The sudo password goes to sudo's stdin via -S; the command body still
// travels base64-encoded and is decoded by the invoked shell itself.
func encodeSudoWithPassword(cmd Command, sudoPassword string) string {
	enc := base64.StdEncoding.EncodeToString([]byte(cmd.Body))
	pw := strings.ReplaceAll(sudoPassword, "'", `'\''`)
	return fmt.Sprintf("echo '%s' | sudo -S -p '' /bin/sh -c 'echo %s | base64 -d | /bin/sh -s'", pw, enc)
}

// DecodePayload reverses EncodeCommand's encoding. Used in tests to assert
// the round trip preserves the body byte for byte.
func DecodePayload(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "echo" {
		return "", fmt.Errorf("not an encoded command payload: %q", line)
	}
	raw, err := base64.StdEncoding.DecodeString(fields[1])
	if err != nil {
		return "", fmt.Errorf("invalid payload encoding: %w", err)
	}
	return string(raw), nil
}
