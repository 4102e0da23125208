package models

import (
	"sort"
	"strings"
	"time"
)

// BackupDateLayout is the layout of Backup.Date for backups created by savekeeper.
const BackupDateLayout = time.RFC3339

// legacyDateLayout is the date format of indexes written by earlier releases.
const legacyDateLayout = "2006-01-02_15-04-05"

// ArchiveExt is the extension of backup archives, locally and remotely.
const ArchiveExt = ".zip"

// IndexFileName is the per-game backup index.
const IndexFileName = "Backups.json"

// Backup is one immutable snapshot of a game's save data.
type Backup struct {
	Date      string    `json:"date"`
	Describe  string    `json:"describe"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum,omitempty"`
	Size      int64     `json:"size,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

// BackupsInfo is the backup index of one game.
type BackupsInfo struct {
	Name    string   `json:"name"`
	Backups []Backup `json:"backups"`
}

// Find returns the backup recorded for date.
func (b *BackupsInfo) Find(date string) (Backup, bool) {
	for _, bk := range b.Backups {
		if bk.Date == date {
			return bk, true
		}
	}
	return Backup{}, false
}

// Clone returns a deep copy of the index.
func (b BackupsInfo) Clone() BackupsInfo {
	out := BackupsInfo{Name: b.Name, Backups: make([]Backup, len(b.Backups))}
	copy(out.Backups, b.Backups)
	return out
}

// ParseBackupDate parses both current (RFC3339) and legacy backup dates.
func ParseBackupDate(date string) (time.Time, bool) {
	if t, err := time.Parse(BackupDateLayout, date); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation(legacyDateLayout, date, time.Local); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// FormatBackupDate renders t as a backup date.
func FormatBackupDate(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(BackupDateLayout)
}

// ArchiveFileName maps a backup date to a file name that is valid on every filesystem.
func ArchiveFileName(date string) string {
	return strings.ReplaceAll(date, ":", "-") + ArchiveExt
}

// SortBackupsDesc orders backups newest first. Unparseable dates sort after
// parseable ones and fall back to string order, so the result is deterministic
// whatever order the index was stored in.
func SortBackupsDesc(backups []Backup) {
	sort.SliceStable(backups, func(i, j int) bool {
		ti, okI := ParseBackupDate(backups[i].Date)
		tj, okJ := ParseBackupDate(backups[j].Date)
		switch {
		case okI && okJ && !ti.Equal(tj):
			return ti.After(tj)
		case okI != okJ:
			return okI
		default:
			return backups[i].Date > backups[j].Date
		}
	})
}

// UnitOutcome reports what happened to one save unit during a restore.
type UnitOutcome struct {
	Unit    SaveUnit
	Target  string
	Deleted bool
	Err     error
}

// ApplyResult holds the result of restoring a backup.
type ApplyResult struct {
	Game        string
	Date        string
	Applied     []UnitOutcome
	Skipped     []UnitOutcome
	Failed      *UnitOutcome
	ExtraBackup string // path of the pre-apply safety snapshot, if one was made
	Duration    time.Duration
}

// Partial reports whether some units were applied before a later one failed.
func (r *ApplyResult) Partial() bool {
	return r.Failed != nil && len(r.Applied) > 0
}
