package clone

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMalformedIdentifier   = errors.New("malformed environment identifier")
	ErrNotFound              = errors.New("not found")
	ErrSameEnvironment       = errors.New("source and destination are the same environment")
	ErrEmptySelection        = errors.New("nothing to clone: --no-db, --no-code and --no-files cannot all be set")
	ErrIncompatibleFramework = errors.New("incompatible frameworks")
	ErrFrozenEnvironment     = errors.New("frozen environment")
	ErrBackupFailed          = errors.New("backup failed")
	ErrNoBackupFound         = errors.New("no finished backup found")
	ErrTimeout               = errors.New("timed out waiting for backup")
	ErrCancelled             = errors.New("cancelled")
	ErrTransient             = errors.New("temporary service error")
)

// MalformedIdentifierError reports an identifier not of the form
// `<site>.<environment>`.
type MalformedIdentifierError struct {
	Identifier string
}

func (e *MalformedIdentifierError) Error() string {
	return fmt.Sprintf("%q is not a valid environment identifier, expected <site>.<environment>", e.Identifier)
}

func (e *MalformedIdentifierError) Is(target error) bool { return target == ErrMalformedIdentifier }

// NotFoundError reports an identifier that does not map to a known site and
// environment.
type NotFoundError struct {
	Identifier string
	Err        error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("environment %q not found", e.Identifier)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Unwrap() error { return e.Err }

// SameEnvironmentError reports a clone onto itself.
type SameEnvironmentError struct {
	Environment EnvironmentDescriptor
}

func (e *SameEnvironmentError) Error() string {
	return fmt.Sprintf("refusing to clone %s onto itself", e.Environment.Identifier())
}

func (e *SameEnvironmentError) Is(target error) bool { return target == ErrSameEnvironment }

// IncompatibleFrameworkError reports source and destination running different
// frameworks.
type IncompatibleFrameworkError struct {
	Source      EnvironmentDescriptor
	Destination EnvironmentDescriptor
}

func (e *IncompatibleFrameworkError) Error() string {
	return fmt.Sprintf(
		"cannot clone %s (framework %q) to %s (framework %q): frameworks are incompatible",
		e.Source.Identifier(), e.Source.Framework,
		e.Destination.Identifier(), e.Destination.Framework,
	)
}

func (e *IncompatibleFrameworkError) Is(target error) bool { return target == ErrIncompatibleFramework }

// FrozenEnvironmentError reports a frozen environment, which the platform will not
// back up or restore.
type FrozenEnvironmentError struct {
	Environment EnvironmentDescriptor
}

func (e *FrozenEnvironmentError) Error() string {
	return fmt.Sprintf("%s is frozen; unfreeze the site before cloning", e.Environment.Identifier())
}

func (e *FrozenEnvironmentError) Is(target error) bool { return target == ErrFrozenEnvironment }

// BackupFailedError reports a backup job the platform marked as failed.
type BackupFailedError struct {
	Environment EnvironmentDescriptor
	JobID       string
	Message     string
}

func (e *BackupFailedError) Error() string {
	msg := fmt.Sprintf("backup job %s for %s failed", e.JobID, e.Environment.Identifier())
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *BackupFailedError) Is(target error) bool { return target == ErrBackupFailed }

// TimeoutError reports a backup that did not finish within the maximum wait.
type TimeoutError struct {
	Environment EnvironmentDescriptor
	JobID       string
	Waited      time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"backup job %s for %s did not finish within %s",
		e.JobID, e.Environment.Identifier(), e.Waited.Round(time.Second),
	)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// CancelledError reports polling aborted by the operator.
type CancelledError struct {
	Environment EnvironmentDescriptor
	JobID       string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("stopped waiting for backup job %s for %s", e.JobID, e.Environment.Identifier())
}

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// NoBackupFoundError reports an element with no finished backups.
type NoBackupFoundError struct {
	Element     Element
	Environment EnvironmentDescriptor
}

func (e *NoBackupFoundError) Error() string {
	return fmt.Sprintf(
		"no finished %s backup found for %s; create one with `siteclone backup %s`",
		e.Element, e.Environment.Identifier(), e.Environment.Identifier(),
	)
}

func (e *NoBackupFoundError) Is(target error) bool { return target == ErrNoBackupFound }

// BackupSideError reports which side of the clone a backup error occurred on.
type BackupSideError struct {
	Side        string // "source" or "destination"
	Environment EnvironmentDescriptor
	Err         error
}

func (e *BackupSideError) Error() string {
	return fmt.Sprintf("%s backup of %s: %v", e.Side, e.Environment.Identifier(), e.Err)
}

func (e *BackupSideError) Unwrap() error { return e.Err }

// joinElements renders an element set for messages.
func joinElements(es ElementSet) string {
	s := make([]string, len(es))
	for i, e := range es {
		s[i] = string(e)
	}
	return strings.Join(s, ", ")
}
