package models

import "time"

// EventKind is the severity of an Event.
type EventKind string

const (
	EventInfo    EventKind = "Info"
	EventWarning EventKind = "Warning"
	EventError   EventKind = "Error"
	EventSuccess EventKind = "Success"
)

// Event codes. Presentation layers map them to text.
const (
	CodeBackupCreated   = "backup.created"
	CodeBackupApplied   = "backup.applied"
	CodeBackupDeleted   = "backup.deleted"
	CodeBackupFailed    = "backup.failed"
	CodeApplyFailed     = "backup.apply_failed"
	CodeSaveUnitMissing = "backup.unit_missing"
	CodeQuickBackup     = "backup.quick"
	CodeSyncStarted     = "sync.started"
	CodeSyncCompleted   = "sync.completed"
	CodeSyncFailed      = "sync.failed"
	CodeSyncSkipped     = "sync.skipped"
	CodeSyncConflict    = "sync.conflict"
	CodeGamesImported   = "sync.games_imported"
	CodeConfigSaved     = "config.saved"
	CodeConfigUpgraded  = "config.upgraded"
	CodeWakeFailed      = "wol.failed"
)

// Event is a structured notification emitted by the core. It never carries
// user-facing text.
type Event struct {
	Kind    EventKind
	Code    string
	Context map[string]string
	Time    time.Time
}

// NewEvent creates an event stamped with the current time. kv is a list of
// alternating keys and values.
func NewEvent(kind EventKind, code string, kv ...string) Event {
	ctx := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		ctx[kv[i]] = kv[i+1]
	}
	return Event{Kind: kind, Code: code, Context: ctx, Time: time.Now()}
}

// Severity orders kinds from Info (lowest) to Error.
func (k EventKind) Severity() int {
	switch k {
	case EventError:
		return 3
	case EventWarning:
		return 2
	case EventSuccess:
		return 1
	default:
		return 0
	}
}
