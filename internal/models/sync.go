package models

import "time"

// SyncState is the state of the sync engine.
type SyncState string

const (
	SyncDisabled     SyncState = "Disabled"
	SyncIdle         SyncState = "Idle"
	SyncChecking     SyncState = "Checking"
	SyncTransferring SyncState = "Transferring"
	SyncFailed       SyncState = "Failed"
)

// Trigger tells what started a sync run.
type Trigger string

const (
	TriggerManual     Trigger = "Manual"
	TriggerScheduled  Trigger = "Scheduled"
	TriggerAlwaysSync Trigger = "AlwaysSync"
)

// Conflict winners.
const (
	WinnerLocal  = "local"
	WinnerRemote = "remote"
)

// SyncConflict records a key present on both sides with different content.
type SyncConflict struct {
	Game   string
	Date   string
	Winner string // WinnerLocal or WinnerRemote
}

// SyncStatus is a point-in-time view of the engine.
type SyncStatus struct {
	State     SyncState
	LastError error
	LastRun   *SyncReport
}

// SyncReport holds the result of one sync run.
type SyncReport struct {
	Trigger    Trigger
	Skipped    bool // another run was in flight
	Disabled   bool // no backend configured
	Games      []string
	Uploaded   []string // remote keys written
	Downloaded []string // remote keys fetched into the local store
	Conflicts  []SyncConflict
	StartTime  time.Time
	Duration   time.Duration

	GamesImported   []string // game definitions taken from the remote catalog
	CatalogUploaded bool

	// Set when the run failed.
	FailedGame string
	FailedKey  string
	Error      error
}

// Transfers is the number of objects moved in either direction.
func (r *SyncReport) Transfers() int {
	return len(r.Uploaded) + len(r.Downloaded)
}

// CatalogFileName is the remote object below the root path that carries the
// game definitions, so a machine can restore games it never configured.
const CatalogFileName = "games.json"

// GameCatalog is the content of the remote catalog.
type GameCatalog struct {
	Games []Game `json:"games"`
}
