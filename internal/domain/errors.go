package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoActiveProfile is returned by enable when no profile is selected.
var ErrNoActiveProfile = errors.New("no active profile selected")

// ValidationError rejects malformed input before any write or OS mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError reports an unknown id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// UnsupportedPlatformError is returned when no adapter exists for the host OS,
// or the adapter cannot express the requested profile type.
type UnsupportedPlatformError struct {
	Platform  string
	Operation string
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("%s is not supported on %s", e.Operation, e.Platform)
}

// PermissionError means the OS refused a mutation for lack of privilege.
type PermissionError struct {
	Operation string
	Detail    string
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("%s requires administrator privileges", e.Operation)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// RequiresManualActionError marks a declarative success that still needs a
// privileged manual step. Instruction is the exact command to run.
type RequiresManualActionError struct {
	Artifact    string
	Instruction string
}

func (e *RequiresManualActionError) Error() string {
	return fmt.Sprintf("rule written to %s; run: %s", e.Artifact, e.Instruction)
}

// ApplyFailedError wraps a Failed apply result returned by enable.
type ApplyFailedError struct {
	Result *ApplyResult
}

func (e *ApplyFailedError) Error() string {
	if e.Result == nil {
		return "failed to apply proxy"
	}
	if e.Result.Err != nil {
		return fmt.Sprintf("failed to apply proxy: %v", e.Result.Err)
	}
	failures := e.Result.Failures()
	targets := make([]string, 0, len(failures))
	seen := make(map[string]bool)
	for _, f := range failures {
		if !seen[f.Target] {
			seen[f.Target] = true
			targets = append(targets, f.Target)
		}
	}
	return fmt.Sprintf("failed to apply proxy: %d command(s) failed on %s",
		len(failures), strings.Join(targets, ", "))
}

func (e *ApplyFailedError) Unwrap() error {
	if e.Result == nil {
		return nil
	}
	return e.Result.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
