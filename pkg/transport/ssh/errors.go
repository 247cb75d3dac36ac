package ssh

import "errors"

// IsTemporary reports whether err is a transport error worth retrying.
func IsTemporary(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.IsTemporary
	}
	return false
}

// IsAuthError reports whether err is an authentication or host-identity
// rejection. Such failures abort immediately; retrying cannot help.
func IsAuthError(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.IsAuthError
	}
	return false
}

// IsTimeout reports whether err is a command that overran its deadline.
func IsTimeout(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.IsTimeout
	}
	return false
}

// ExitCode returns the remote exit code carried by err, or -1 when err does
// not carry one (timeouts, connection loss).
func ExitCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.ExitCode
	}
	return -1
}
