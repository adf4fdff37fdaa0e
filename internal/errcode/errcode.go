// Package errcode defines the closed set of operational error kinds
// surfaced by the installer, supervisor and coordinator. The HTTP layer
// maps each kind to a distinct transport status; nothing in this package
// knows about transports.
package errcode

import (
	"errors"
	"fmt"
)

// Kind tags an operational failure. The set is closed: callers switch on
// it exhaustively instead of matching message text.
type Kind string

const (
	InvalidVersion         Kind = "INVALID_VERSION"
	VersionNotFound        Kind = "VERSION_NOT_FOUND"
	ServerAlreadyInstalled Kind = "SERVER_ALREADY_INSTALLED"
	InstallationInProgress Kind = "INSTALLATION_IN_PROGRESS"
	ChecksumMismatch       Kind = "CHECKSUM_MISMATCH"
	InstallationFailed     Kind = "INSTALLATION_FAILED"
	ServerNotInstalled     Kind = "SERVER_NOT_INSTALLED"
	ServerAlreadyRunning   Kind = "SERVER_ALREADY_RUNNING"
	ServerNotRunning       Kind = "SERVER_NOT_RUNNING"
	ServerStartFailed      Kind = "SERVER_START_FAILED"
	ServerStopFailed       Kind = "SERVER_STOP_FAILED"
	UninstallFailed        Kind = "UNINSTALL_FAILED"
)

// Error carries a Kind plus a free-text diagnostic and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with a formatted diagnostic.
func New(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and diagnostic to an underlying cause.
func Wrap(k Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, or "" when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool { return KindOf(err) == k }
