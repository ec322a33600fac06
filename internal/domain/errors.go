package domain

import (
	"errors"
	"fmt"
)

// SyncErrorKind classifies synchronization failures. The structural-drift
// kinds (StructureChanged, EpochChanged, VersioningEnabled,
// VersioningDisabled, NotVersionedContentChanged, DomainChanged) are not
// recoverable by retry: the standard remediation is a destructive container
// reset.
type SyncErrorKind string

const (
	KindStructureChanged           SyncErrorKind = "structure_changed"
	KindEpochChanged               SyncErrorKind = "epoch_changed"
	KindVersioningEnabled          SyncErrorKind = "versioning_enabled"
	KindVersioningDisabled         SyncErrorKind = "versioning_disabled"
	KindNotVersionedContentChanged SyncErrorKind = "not_versioned_content_changed"
	KindDomainChanged              SyncErrorKind = "domain_changed"
	KindConflictsNotResolved       SyncErrorKind = "conflicts_not_resolved"
	KindTransport                  SyncErrorKind = "transport"
	KindInvalidAction              SyncErrorKind = "invalid_action"
)

// SyncError is a synchronization failure. It carries a short log message and
// a separate user-facing message so the UI never has to present a raw cause.
type SyncError struct {
	Kind    SyncErrorKind
	Message string
	Detail  string
	Err     error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sync failed (%s): %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("sync failed (%s): %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Err }

// RequiresReset reports whether the error class is documented as requiring a
// destructive local reset.
func (e *SyncError) RequiresReset() bool {
	switch e.Kind {
	case KindStructureChanged, KindEpochChanged, KindVersioningEnabled,
		KindVersioningDisabled, KindNotVersionedContentChanged, KindDomainChanged:
		return true
	}
	return false
}

// UserMessage returns the message to show to the user, with the reset
// remediation appended for structural-drift classes.
func (e *SyncError) UserMessage() string {
	if e.RequiresReset() {
		return e.Message + ". Reset the container to continue synchronizing"
	}
	return e.Message
}

// NewSyncError builds a SyncError wrapping an optional cause.
func NewSyncError(kind SyncErrorKind, err error, format string, args ...interface{}) *SyncError {
	return &SyncError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ContainerError means the local container file is invalid, outdated, or
// otherwise unusable.
type ContainerError struct {
	Path    string
	Message string
	Err     error
}

func (e *ContainerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("container %s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("container %s: %s", e.Path, e.Message)
}

func (e *ContainerError) Unwrap() error { return e.Err }

// DetachedEditingError wraps a failure inside the merge/resolution machinery.
// Resolution-time exceptions are always rewrapped into this type at the
// resolver boundary so callers receive a typed, presentable error.
type DetachedEditingError struct {
	Message string
	Err     error
}

func (e *DetachedEditingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("detached editing: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("detached editing: %s", e.Message)
}

func (e *DetachedEditingError) Unwrap() error { return e.Err }

// WrapDetached wraps err as a DetachedEditingError unless it already is one.
func WrapDetached(message string, err error) error {
	if err == nil {
		return nil
	}
	var dee *DetachedEditingError
	if errors.As(err, &dee) {
		return err
	}
	return &DetachedEditingError{Message: message, Err: err}
}

// NgwError is a remote-side HTTP/API failure.
type NgwError struct {
	StatusCode int
	URL        string
	Message    string
	// Reconnect hints that the connection settings should be re-checked
	// (authorization failures, unreachable host).
	Reconnect bool
}

func (e *NgwError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ngw request failed: %s (HTTP %d, %s)", e.Message, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("ngw request failed: %s (%s)", e.Message, e.URL)
}

// ErrUnsupportedConflict marks a conflict shape the engine does not handle.
// Only update/update, delete/update and update/delete are valid shapes; any
// other combination is an invariant violation upstream.
var ErrUnsupportedConflict = errors.New("unsupported conflict action combination")

// ErrFidNotMapped is returned when an action requires a local<->remote fid
// mapping that does not exist.
var ErrFidNotMapped = errors.New("feature id has no local mapping")
