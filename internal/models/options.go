package models

import "time"

// AgentOptions are the process options read from the YAML options file. They
// describe how savekeeper runs on this machine, not the user's games.
type AgentOptions struct {
	ConfigFile string // JSON config path
	Root       string // base for relative save paths without a game path
	Sync       SyncOptions
	Backup     BackupOptions
	Metrics    MetricsOptions
	WOL        *WOLConfig      // nil if not configured
	Telegram   *TelegramConfig // nil if not configured
}

// SyncOptions tunes the sync engine.
type SyncOptions struct {
	BandwidthLimit  int64 // upload bytes per second, 0 = unlimited
	RetryAttempts   int
	RetryInitial    time.Duration
	RetryMaxElapsed time.Duration
	LockFile        string // shared by every process syncing this store, empty = in-process only
}

// BackupOptions tunes the backup store.
type BackupOptions struct {
	MinFreeBytes   uint64 // refuse to create a backup below this much free space
	ExtraBackupMax int    // pre-apply snapshots kept per game
}

// MetricsOptions configures the prometheus listener.
type MetricsOptions struct {
	Listen string // e.g. ":9477", empty disables
}

// WOLConfig holds Wake-on-LAN configuration for the machine hosting the
// remote backend.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	PollURL       string        // URL to poll until target machine is ready
	Timeout       time.Duration // max time to wait for target
	PollInterval  time.Duration // how often to poll the URL
	StabilizeWait time.Duration // wait after target responds
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	MinKind  EventKind // least severe kind forwarded; empty forwards everything
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
