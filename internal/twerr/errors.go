// Package twerr defines the error taxonomy shared by every tw component.
//
// Errors carry a Kind (one of the sentinel values below, usable with
// errors.Is) and a short code in the CODE: message form used throughout the
// CLI output.
package twerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMalformedDescriptor = errors.New("malformed descriptor")
	ErrInvalidAppType      = errors.New("invalid app type")
	ErrRequirementUnmet    = errors.New("requirement unmet")
	ErrConflict            = errors.New("file conflict")
	ErrInstallerFailure    = errors.New("installer failure")
	ErrRollbackFailure     = errors.New("rollback failure")
	ErrChecksumMismatch    = errors.New("checksum mismatch")
	ErrManifestCorruption  = errors.New("manifest corruption")
	ErrLocked              = errors.New("locked")
	ErrNotFound            = errors.New("not found")
	ErrNotInstalled        = errors.New("not installed")
	ErrAlreadyInstalled    = errors.New("already installed")
	ErrUsage               = errors.New("usage")
)

// Exit codes surfaced by the CLI.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
	ExitLocked  = 3
)

type Error struct {
	Kind error
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Code != "" {
		b.WriteString(e.Code)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil {
		if e.Msg != "" {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target != nil && target == e.Kind }

func New(kind error, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind error, code string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrLocked):
		return ExitLocked
	case errors.Is(err, ErrUsage):
		return ExitUsage
	default:
		return ExitFailure
	}
}
