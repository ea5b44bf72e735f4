package remote

import (
	"fmt"
	"strings"
)

// CommandError wraps a remote command failure with stderr context. It
// implements error and supports unwrapping, so stage code can wrap it under
// a sentinel and the driver can still surface the captured stderr.
type CommandError struct {
	// Command is the command that was executed.
	Command string

	// ExitCode is the remote exit code (-1 if unknown).
	ExitCode int

	// Stderr contains the captured standard error output.
	Stderr string

	// Wrapped is the underlying error.
	Wrapped error
}

// Error returns a formatted message including command, exit code, and
// stderr when available.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap enables errors.Is and errors.As through the chain.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr reports whether stderr output was captured.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

// NewCommandError creates a CommandError. Stderr is trimmed.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}
