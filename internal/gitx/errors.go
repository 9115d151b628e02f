package gitx

import (
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies git transport failures so the deployment log can
// tell the operator what to fix instead of echoing a raw transport error.
type FailureKind string

const (
	FailureAuth     FailureKind = "authentication"
	FailureNotFound FailureKind = "not_found"
	FailureHostKey  FailureKind = "host_key"
	FailureNetwork  FailureKind = "network"
	FailureUnknown  FailureKind = "unknown"
)

// Error wraps a git operation failure with its classification.
type Error struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("git %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Hint returns an operator-facing remediation line for the failure class.
func (e *Error) Hint() string {
	switch e.Kind {
	case FailureAuth:
		return "authentication failed, check the project's git credentials"
	case FailureNotFound:
		return "repository or branch not found, check the repository URL and branch name"
	case FailureHostKey:
		return "host key verification failed, check the git server's SSH host key"
	case FailureNetwork:
		return "could not reach the git server, check the network and repository host"
	default:
		return "git operation failed"
	}
}

// classify maps transport error text onto a failure class. go-git surfaces
// most of these only as strings, so substring probes are the practical tool.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	kind := FailureUnknown
	switch {
	case strings.Contains(msg, "authentication required"),
		strings.Contains(msg, "authorization failed"),
		strings.Contains(msg, "invalid credentials"),
		strings.Contains(msg, "invalid auth method"),
		strings.Contains(msg, "permission denied"):
		kind = FailureAuth
	case strings.Contains(msg, "repository not found"),
		strings.Contains(msg, "couldn't find remote ref"),
		strings.Contains(msg, "reference not found"):
		kind = FailureNotFound
	case strings.Contains(msg, "knownhosts"),
		strings.Contains(msg, "host key"):
		kind = FailureHostKey
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "network is unreachable"),
		strings.Contains(msg, "connection reset"):
		kind = FailureNetwork
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the failure class from an error chain.
func KindOf(err error) FailureKind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return FailureUnknown
}
