package sshx

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies SSH session failures.
type FailureKind string

const (
	FailureAuth     FailureKind = "authentication"
	FailureProtocol FailureKind = "protocol"
	FailureNetwork  FailureKind = "network"
	FailureUnknown  FailureKind = "unknown"
)

type Error struct {
	Kind FailureKind
	Host string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ssh %s: %s: %v", e.Host, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps an ssh/sftp error onto a failure class. The crypto/ssh
// package does not export sentinel errors for these, so the text is probed.
func classify(host string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	kind := FailureUnknown
	switch {
	case strings.Contains(msg, "unable to authenticate"),
		strings.Contains(msg, "no supported methods remain"),
		strings.Contains(msg, "permission denied"):
		kind = FailureAuth
	case strings.Contains(msg, "handshake failed"),
		strings.Contains(msg, "protocol version"),
		strings.Contains(msg, "packet too large"):
		kind = FailureProtocol
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "connection reset"):
		kind = FailureNetwork
	}
	return &Error{Kind: kind, Host: host, Err: err}
}

// KindOf extracts the failure class from an error chain.
func KindOf(err error) FailureKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return FailureUnknown
}
