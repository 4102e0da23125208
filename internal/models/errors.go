package models

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendDisabled is returned by every operation of the Disabled backend.
	ErrBackendDisabled = errors.New("cloud backend is disabled")
	// ErrNotFound is matched by NotFoundError.
	ErrNotFound = errors.New("not found")
)

// ConfigError reports a configuration that cannot be loaded, validated or saved.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// PathResolutionError reports a save unit whose path does not match its type,
// or a restore target that cannot be found.
type PathResolutionError struct {
	Game   string
	Path   string
	Reason string
}

func (e *PathResolutionError) Error() string {
	return fmt.Sprintf("game %q: resolving %s: %s", e.Game, e.Path, e.Reason)
}

// BackupCreateError reports a snapshot that could not be created. The index is
// left untouched when it is returned.
type BackupCreateError struct {
	Game   string
	Reason string
	Err    error
}

func (e *BackupCreateError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("game %q: creating backup: %s", e.Game, e.Reason)
	}
	return fmt.Sprintf("game %q: creating backup: %s: %v", e.Game, e.Reason, e.Err)
}

func (e *BackupCreateError) Unwrap() error { return e.Err }

// BackupNotFoundError reports an unknown backup date.
type BackupNotFoundError struct {
	Game string
	Date string
}

func (e *BackupNotFoundError) Error() string {
	return fmt.Sprintf("game %q: no backup dated %s", e.Game, e.Date)
}

// ArchiveCorruptError reports an archive that cannot be read back.
type ArchiveCorruptError struct {
	Path string
	Err  error
}

func (e *ArchiveCorruptError) Error() string {
	return fmt.Sprintf("archive %s is corrupt: %v", e.Path, e.Err)
}

func (e *ArchiveCorruptError) Unwrap() error { return e.Err }

// RestoreIOError reports a filesystem failure while applying a backup.
type RestoreIOError struct {
	Game string
	Path string
	Err  error
}

func (e *RestoreIOError) Error() string {
	return fmt.Sprintf("game %q: restoring %s: %v", e.Game, e.Path, e.Err)
}

func (e *RestoreIOError) Unwrap() error { return e.Err }

// PartialRestoreError is returned when some units were applied before a later
// one failed. Applied units are not rolled back.
type PartialRestoreError struct {
	Game    string
	Applied []string
	Err     error
}

func (e *PartialRestoreError) Error() string {
	return fmt.Sprintf("game %q: restore stopped after %d unit(s): %v", e.Game, len(e.Applied), e.Err)
}

func (e *PartialRestoreError) Unwrap() error { return e.Err }

// AuthError reports rejected credentials. It is never retried.
type AuthError struct {
	Backend BackendKind
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %v", e.Backend, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// CredentialError reports malformed key material, detected before any request.
type CredentialError struct {
	Backend BackendKind
	Field   string
	Reason  string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", e.Backend, e.Field, e.Reason)
}

// TransientNetworkError reports a failure that may succeed when retried.
type TransientNetworkError struct {
	Backend BackendKind
	Op      string
	Key     string
	Err     error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// NotFoundError reports a missing remote key.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("remote key %s not found", e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var t *TransientNetworkError
	return errors.As(err, &t)
}

// IsFatalBackend reports whether err must stop a sync run without touching
// the remaining games.
func IsFatalBackend(err error) bool {
	var a *AuthError
	var c *CredentialError
	return errors.As(err, &a) || errors.As(err, &c) || errors.Is(err, ErrBackendDisabled)
}
