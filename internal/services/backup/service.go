// Package backup owns the on-disk backup store: one folder per game holding
// the archives and a Backups.json index.
package backup

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fgeck/savekeeper/internal/fsutil"
	"github.com/fgeck/savekeeper/internal/metrics"
	"github.com/fgeck/savekeeper/internal/models"
	"github.com/fgeck/savekeeper/internal/services/archive"
	"github.com/fgeck/savekeeper/internal/services/events"
	"github.com/fgeck/savekeeper/internal/services/resolver"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/disk"
)

const (
	lockDir           = ".locks"
	extraBackupDir    = "extra_backup"
	overwritePrefix   = "Overwrite_"
	defaultExtraLimit = 5
)

// Service defines the interface for backup store operations.
type Service interface {
	CreateBackup(ctx context.Context, game models.Game, describe string) (*models.Backup, error)
	CreateOverwriteBackup(ctx context.Context, game models.Game) (string, error)
	ApplyBackup(ctx context.Context, game models.Game, date string) (*models.ApplyResult, error)
	DeleteBackup(ctx context.Context, game, date string) error
	ListBackups(game string) ([]models.Backup, error)
	SetBackupDescribe(game, date, describe string) error
	Snapshot(game string) (models.BackupsInfo, error)
	ReadArchive(game, date string) ([]byte, error)
	ImportBackup(game string, b models.Backup, body []byte) (*models.Backup, error)
	ReplaceBackup(game string, b models.Backup, body []byte) error
	EnsureGame(game string) error
	RemoveGame(game string) error
	Games() ([]string, error)
}

// DiskFreeFunc returns the free bytes of the filesystem holding path.
type DiskFreeFunc func(path string) (uint64, error)

func gopsutilFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Impl implements the backup Service interface.
type Impl struct {
	root     string
	resolver resolver.Service
	events   events.Publisher
	logger   zerolog.Logger

	minFree    uint64
	extraLimit int
	now        func() time.Time
	diskFree   DiskFreeFunc

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a backup store rooted at root (the configured backup_path).
func New(logger zerolog.Logger, root string, res resolver.Service, pub events.Publisher, opts models.BackupOptions) *Impl {
	return NewWithClock(logger, root, res, pub, opts, time.Now, gopsutilFree)
}

// NewWithClock creates a backup store with a custom clock and free-space probe
// (for testing).
func NewWithClock(
	logger zerolog.Logger,
	root string,
	res resolver.Service,
	pub events.Publisher,
	opts models.BackupOptions,
	now func() time.Time,
	diskFree DiskFreeFunc,
) *Impl {
	if pub == nil {
		pub = events.Nop{}
	}
	limit := opts.ExtraBackupMax
	if limit <= 0 {
		limit = defaultExtraLimit
	}
	return &Impl{
		root:       root,
		resolver:   res,
		events:     pub,
		logger:     logger,
		minFree:    opts.MinFreeBytes,
		extraLimit: limit,
		now:        now,
		diskFree:   diskFree,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Root returns the store's root folder.
func (s *Impl) Root() string {
	return s.root
}

// lock serializes index updates of one game, across goroutines through a
// mutex and across processes through a lock file below the store root.
func (s *Impl) lock(game string) (func(), error) {
	s.mu.Lock()
	l, ok := s.locks[game]
	if !ok {
		l = &sync.Mutex{}
		s.locks[game] = l
	}
	s.mu.Unlock()

	l.Lock()
	dir := filepath.Join(s.root, lockDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.Unlock()
		return nil, fmt.Errorf("creating lock folder: %w", err)
	}
	fl := flock.New(filepath.Join(dir, game+".lock"))
	if err := fl.Lock(); err != nil {
		l.Unlock()
		return nil, fmt.Errorf("locking index of %q: %w", game, err)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn().Err(err).Str("game", game).Msg("failed to release index lock")
		}
		l.Unlock()
	}, nil
}

func checkName(game string) error {
	if game == "" || game == "." || game == ".." || strings.ContainsAny(game, `/\`) {
		return fmt.Errorf("invalid game name %q", game)
	}
	return nil
}

func (s *Impl) gameDir(game string) string {
	return filepath.Join(s.root, game)
}

func (s *Impl) indexPath(game string) string {
	return filepath.Join(s.gameDir(game), models.IndexFileName)
}

func (s *Impl) archivePath(game, date string) string {
	return filepath.Join(s.gameDir(game), models.ArchiveFileName(date))
}

// readIndex loads a game's index. A missing index is an empty one.
func (s *Impl) readIndex(game string) (models.BackupsInfo, error) {
	info := models.BackupsInfo{Name: game, Backups: []models.Backup{}}

	data, err := os.ReadFile(s.indexPath(game))
	if errors.Is(err, fs.ErrNotExist) {
		return info, nil
	}
	if err != nil {
		return info, fmt.Errorf("reading index of %q: %w", game, err)
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, fmt.Errorf("parsing index of %q: %w", game, err)
	}
	if info.Backups == nil {
		info.Backups = []models.Backup{}
	}
	info.Name = game
	return info, nil
}

func (s *Impl) writeIndex(info models.BackupsInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding index of %q: %w", info.Name, err)
	}
	if err := fsutil.WriteFile(s.indexPath(info.Name), data, 0o644); err != nil {
		return fmt.Errorf("writing index of %q: %w", info.Name, err)
	}
	return nil
}

// CreateBackup snapshots the game's save units into a new archive and records
// it in the index. On failure the index is unchanged and no archive is left.
func (s *Impl) CreateBackup(ctx context.Context, game models.Game, describe string) (*models.Backup, error) {
	start := time.Now()
	b, err := s.createBackup(ctx, game, describe)
	if err != nil {
		metrics.RecordBackupCreated(0, time.Since(start), false)
		s.events.Publish(models.NewEvent(models.EventError, models.CodeBackupFailed,
			"game", game.Name, "error", err.Error()))
		return nil, err
	}

	metrics.RecordBackupCreated(b.Size, time.Since(start), true)
	s.events.Publish(models.NewEvent(models.EventSuccess, models.CodeBackupCreated,
		"game", game.Name, "date", b.Date))
	return b, nil
}

func (s *Impl) createBackup(ctx context.Context, game models.Game, describe string) (*models.Backup, error) {
	if err := checkName(game.Name); err != nil {
		return nil, &models.BackupCreateError{Game: game.Name, Reason: "invalid game", Err: err}
	}

	unlock, err := s.lock(game.Name)
	if err != nil {
		return nil, &models.BackupCreateError{Game: game.Name, Reason: "locking index", Err: err}
	}
	defer unlock()

	plan, err := s.resolver.Resolve(game)
	if err != nil {
		return nil, &models.BackupCreateError{Game: game.Name, Reason: "resolving save units", Err: err}
	}
	for _, w := range plan.Warnings {
		s.events.Publish(w)
	}
	if len(plan.Units) == 0 {
		return nil, &models.BackupCreateError{Game: game.Name, Reason: "nothing to back up"}
	}

	if err := os.MkdirAll(s.gameDir(game.Name), 0o755); err != nil {
		return nil, &models.BackupCreateError{Game: game.Name, Reason: "creating backup folder", Err: err}
	}
	if err := s.checkFreeSpace(); err != nil {
		return nil, &models.BackupCreateError{Game: game.Name, Reason: "not enough free space", Err: err}
	}

	info, err := s.readIndex(game.Name)
	if err != nil {
		return nil, &models.BackupCreateError{Game: game.Name, Reason: "reading index", Err: err}
	}

	createdAt := s.now()
	date := uniqueDate(info, createdAt)
	path := s.archivePath(game.Name, date)

	checksum, size, err := s.writeArchive(ctx, path, plan, createdAt)
	if err != nil {
		return nil, &models.BackupCreateError{Game: game.Name, Reason: "writing archive", Err: err}
	}

	b := models.Backup{
		Date:      date,
		Describe:  describe,
		Path:      path,
		Checksum:  checksum,
		Size:      size,
		CreatedAt: createdAt.UTC(),
	}
	info.Backups = append(info.Backups, b)
	if err := s.writeIndex(info); err != nil {
		_ = os.Remove(path)
		return nil, &models.BackupCreateError{Game: game.Name, Reason: "writing index", Err: err}
	}

	s.logger.Info().
		Str("game", game.Name).
		Str("date", date).
		Int("units", len(plan.Units)).
		Int("missing", len(plan.Missing)).
		Int64("size", size).
		Msg("backup created")

	return &b, nil
}

// uniqueDate returns the date for t, bumped by a second while it collides.
func uniqueDate(info models.BackupsInfo, t time.Time) string {
	date := models.FormatBackupDate(t)
	for {
		if _, exists := info.Find(date); !exists {
			return date
		}
		t = t.Add(time.Second)
		date = models.FormatBackupDate(t)
	}
}

func (s *Impl) checkFreeSpace() error {
	if s.minFree == 0 || s.diskFree == nil {
		return nil
	}
	free, err := s.diskFree(s.root)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.root).Msg("cannot determine free space, continuing")
		return nil
	}
	if free < s.minFree {
		return fmt.Errorf("%d bytes free, %d required", free, s.minFree)
	}
	return nil
}

// countingWriter counts bytes written through it.
type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}

// writeArchive streams plan into a pending file that replaces path only once
// it is complete, and returns the archive's checksum and size.
func (s *Impl) writeArchive(ctx context.Context, path string, plan *models.ResolvePlan, createdAt time.Time) (string, int64, error) {
	pending, err := fsutil.Create(path, 0o644)
	if err != nil {
		return "", 0, err
	}
	defer pending.Discard()

	h := archive.NewHash()
	counter := &countingWriter{}
	if _, err := archive.Write(ctx, io.MultiWriter(pending, h, counter), plan, createdAt); err != nil {
		return "", 0, err
	}
	if err := pending.Commit(); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), counter.n, nil
}

// CreateOverwriteBackup stores a safety snapshot in the game's extra_backup
// folder, keeping only the newest few. It is not indexed and never synced.
// An empty path means there was nothing on disk to protect.
func (s *Impl) CreateOverwriteBackup(ctx context.Context, game models.Game) (string, error) {
	if err := checkName(game.Name); err != nil {
		return "", &models.BackupCreateError{Game: game.Name, Reason: "invalid game", Err: err}
	}

	unlock, err := s.lock(game.Name)
	if err != nil {
		return "", &models.BackupCreateError{Game: game.Name, Reason: "locking index", Err: err}
	}
	defer unlock()

	plan, err := s.resolver.Resolve(game)
	if err != nil {
		return "", &models.BackupCreateError{Game: game.Name, Reason: "resolving save units", Err: err}
	}
	if len(plan.Units) == 0 {
		return "", nil
	}

	dir := filepath.Join(s.gameDir(game.Name), extraBackupDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &models.BackupCreateError{Game: game.Name, Reason: "creating extra backup folder", Err: err}
	}

	now := s.now()
	path := filepath.Join(dir, overwritePrefix+models.ArchiveFileName(models.FormatBackupDate(now)))
	if _, _, err := s.writeArchive(ctx, path, plan, now); err != nil {
		return "", &models.BackupCreateError{Game: game.Name, Reason: "writing extra backup", Err: err}
	}

	if err := s.pruneExtra(dir); err != nil {
		s.logger.Warn().Err(err).Str("game", game.Name).Msg("failed to prune extra backups")
	}

	s.logger.Info().Str("game", game.Name).Str("path", path).Msg("extra backup created")
	return path, nil
}

func (s *Impl) pruneExtra(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), overwritePrefix) && strings.HasSuffix(e.Name(), models.ArchiveExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for len(names) > s.extraLimit {
		if err := os.Remove(filepath.Join(dir, names[0])); err != nil {
			return err
		}
		s.logger.Debug().Str("file", names[0]).Msg("removed oldest extra backup")
		names = names[1:]
	}
	return nil
}

// ApplyBackup restores the backup dated date over the game's save units, in
// unit order. The first failing unit stops the restore; units already applied
// stay applied and are listed in the result.
func (s *Impl) ApplyBackup(ctx context.Context, game models.Game, date string) (*models.ApplyResult, error) {
	start := time.Now()
	result := &models.ApplyResult{Game: game.Name, Date: date}

	err := s.applyBackup(ctx, game, date, result)
	result.Duration = time.Since(start)
	metrics.RecordBackupApplied(result.Duration, err == nil)

	if err != nil {
		s.events.Publish(models.NewEvent(models.EventError, models.CodeApplyFailed,
			"game", game.Name, "date", date, "error", err.Error()))
		return result, err
	}

	s.events.Publish(models.NewEvent(models.EventSuccess, models.CodeBackupApplied,
		"game", game.Name, "date", date))
	return result, nil
}

//nolint:gocognit,gocyclo // restore walks every unit with per-unit policies
func (s *Impl) applyBackup(ctx context.Context, game models.Game, date string, result *models.ApplyResult) error {
	if err := checkName(game.Name); err != nil {
		return &models.BackupNotFoundError{Game: game.Name, Date: date}
	}

	unlock, err := s.lock(game.Name)
	if err != nil {
		return err
	}
	defer unlock()

	info, err := s.readIndex(game.Name)
	if err != nil {
		return err
	}
	b, ok := info.Find(date)
	if !ok {
		return &models.BackupNotFoundError{Game: game.Name, Date: date}
	}

	path := s.archivePath(game.Name, date)
	if b.Checksum != "" {
		sum, _, err := archive.Checksum(path)
		if err != nil {
			return &models.ArchiveCorruptError{Path: path, Err: err}
		}
		if sum != b.Checksum {
			return &models.ArchiveCorruptError{Path: path, Err: fmt.Errorf("checksum mismatch")}
		}
	}

	r, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	if err := r.Verify(); err != nil {
		return err
	}

	plan, err := s.resolver.ResolveRestore(game)
	if err != nil {
		return err
	}
	deleteFirst := make(map[int]bool, len(plan.DeleteFirst))
	for _, ru := range plan.DeleteFirst {
		deleteFirst[ru.Index] = true
	}

	for _, ru := range plan.Units {
		outcome := models.UnitOutcome{Unit: ru.Unit, Target: ru.AbsPath}

		if err := ctx.Err(); err != nil {
			return s.failUnit(result, outcome, err)
		}

		if !r.HasUnit(ru) {
			if recordedPresent(r.Manifest(), ru.Index) {
				return s.failUnit(result, outcome, &models.PathResolutionError{
					Game: game.Name, Path: ru.AbsPath, Reason: "unit recorded in backup but missing from archive",
				})
			}
			result.Skipped = append(result.Skipped, outcome)
			continue
		}

		if deleteFirst[ru.Index] {
			deleted, err := removeTarget(ru)
			if err != nil {
				return s.failUnit(result, outcome, &models.RestoreIOError{Game: game.Name, Path: ru.AbsPath, Err: err})
			}
			outcome.Deleted = deleted
		}

		if err := r.Extract(ru); err != nil {
			var corrupt *models.ArchiveCorruptError
			if !errors.As(err, &corrupt) {
				err = &models.RestoreIOError{Game: game.Name, Path: ru.AbsPath, Err: err}
			}
			return s.failUnit(result, outcome, err)
		}

		result.Applied = append(result.Applied, outcome)
		s.logger.Debug().
			Str("game", game.Name).
			Str("target", ru.AbsPath).
			Bool("deleted_first", outcome.Deleted).
			Msg("save unit restored")
	}

	s.logger.Info().
		Str("game", game.Name).
		Str("date", date).
		Int("applied", len(result.Applied)).
		Int("skipped", len(result.Skipped)).
		Msg("backup applied")

	return nil
}

// recordedPresent reports whether the manifest says the unit at index was
// captured. Archives without a manifest list every unit they contain, so any
// declared unit is expected.
func recordedPresent(m *archive.Manifest, index int) bool {
	if m == nil {
		return true
	}
	for _, u := range m.Units {
		if u.Index == index {
			return !u.Missing
		}
	}
	return false
}

// failUnit records a failed unit and returns the error to surface.
func (s *Impl) failUnit(result *models.ApplyResult, outcome models.UnitOutcome, err error) error {
	outcome.Err = err
	result.Failed = &outcome

	if len(result.Applied) == 0 {
		return err
	}
	applied := make([]string, 0, len(result.Applied))
	for _, a := range result.Applied {
		applied = append(applied, a.Target)
	}
	return &models.PartialRestoreError{Game: result.Game, Applied: applied, Err: err}
}

// removeTarget deletes the unit's target. A target that is already absent is
// not an error.
func removeTarget(ru models.ResolvedUnit) (bool, error) {
	if _, err := os.Lstat(ru.AbsPath); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	var err error
	if ru.Unit.UnitType == models.SaveUnitFolder {
		err = os.RemoveAll(ru.AbsPath)
	} else {
		err = os.Remove(ru.AbsPath)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteBackup removes the archive and index entry for date. Deleting an
// unknown date succeeds.
func (s *Impl) DeleteBackup(_ context.Context, game, date string) error {
	if err := checkName(game); err != nil {
		return err
	}

	unlock, err := s.lock(game)
	if err != nil {
		return err
	}
	defer unlock()

	info, err := s.readIndex(game)
	if err != nil {
		return err
	}

	if err := os.Remove(s.archivePath(game, date)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing archive %s of %q: %w", date, game, err)
	}

	kept := info.Backups[:0]
	removed := false
	for _, b := range info.Backups {
		if b.Date == date {
			removed = true
			continue
		}
		kept = append(kept, b)
	}
	if !removed {
		return nil
	}
	info.Backups = kept
	if err := s.writeIndex(info); err != nil {
		return err
	}

	s.logger.Info().Str("game", game).Str("date", date).Msg("backup deleted")
	s.events.Publish(models.NewEvent(models.EventSuccess, models.CodeBackupDeleted, "game", game, "date", date))
	return nil
}

// ListBackups returns the game's backups newest first. A game without an index
// has no backups.
func (s *Impl) ListBackups(game string) ([]models.Backup, error) {
	info, err := s.Snapshot(game)
	if err != nil {
		return nil, err
	}
	models.SortBackupsDesc(info.Backups)
	return info.Backups, nil
}

// SetBackupDescribe replaces the description of one backup.
func (s *Impl) SetBackupDescribe(game, date, describe string) error {
	if err := checkName(game); err != nil {
		return &models.BackupNotFoundError{Game: game, Date: date}
	}

	unlock, err := s.lock(game)
	if err != nil {
		return err
	}
	defer unlock()

	info, err := s.readIndex(game)
	if err != nil {
		return err
	}
	for i := range info.Backups {
		if info.Backups[i].Date == date {
			info.Backups[i].Describe = describe
			return s.writeIndex(info)
		}
	}
	return &models.BackupNotFoundError{Game: game, Date: date}
}

// Snapshot returns a copy of the game's index taken under the game lock.
func (s *Impl) Snapshot(game string) (models.BackupsInfo, error) {
	if err := checkName(game); err != nil {
		return models.BackupsInfo{}, err
	}

	unlock, err := s.lock(game)
	if err != nil {
		return models.BackupsInfo{}, err
	}
	defer unlock()

	info, err := s.readIndex(game)
	if err != nil {
		return models.BackupsInfo{}, err
	}
	return info.Clone(), nil
}

// ReadArchive returns the archive bytes of the backup dated date. Archives are
// replaced by rename, so reading needs no lock.
func (s *Impl) ReadArchive(game, date string) ([]byte, error) {
	if err := checkName(game); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.archivePath(game, date))
	if err != nil {
		return nil, fmt.Errorf("reading archive %s of %q: %w", date, game, err)
	}
	return data, nil
}

// ImportBackup stores a downloaded archive and appends b to the index. If the
// date is already recorded nothing changes and the recorded backup is
// returned.
func (s *Impl) ImportBackup(game string, b models.Backup, body []byte) (*models.Backup, error) {
	if err := checkName(game); err != nil {
		return nil, err
	}

	unlock, err := s.lock(game)
	if err != nil {
		return nil, err
	}
	defer unlock()

	info, err := s.readIndex(game)
	if err != nil {
		return nil, err
	}
	if existing, ok := info.Find(b.Date); ok {
		return &existing, nil
	}

	b, err = s.storeArchive(game, b, body)
	if err != nil {
		return nil, err
	}
	info.Backups = append(info.Backups, b)
	if err := s.writeIndex(info); err != nil {
		_ = os.Remove(b.Path)
		return nil, err
	}

	s.logger.Info().Str("game", game).Str("date", b.Date).Msg("backup imported")
	return &b, nil
}

// ReplaceBackup overwrites the archive of an existing backup and updates its
// index entry.
func (s *Impl) ReplaceBackup(game string, b models.Backup, body []byte) error {
	if err := checkName(game); err != nil {
		return err
	}

	unlock, err := s.lock(game)
	if err != nil {
		return err
	}
	defer unlock()

	info, err := s.readIndex(game)
	if err != nil {
		return err
	}
	idx := -1
	for i := range info.Backups {
		if info.Backups[i].Date == b.Date {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &models.BackupNotFoundError{Game: game, Date: b.Date}
	}

	b, err = s.storeArchive(game, b, body)
	if err != nil {
		return err
	}
	info.Backups[idx] = b
	if err := s.writeIndex(info); err != nil {
		return err
	}

	s.logger.Info().Str("game", game).Str("date", b.Date).Msg("backup replaced")
	return nil
}

func (s *Impl) storeArchive(game string, b models.Backup, body []byte) (models.Backup, error) {
	path := s.archivePath(game, b.Date)
	if err := fsutil.WriteFile(path, body, 0o644); err != nil {
		return b, fmt.Errorf("storing archive %s of %q: %w", b.Date, game, err)
	}

	b.Path = path
	b.Checksum = archive.ChecksumBytes(body)
	b.Size = int64(len(body))
	if b.CreatedAt.IsZero() {
		if t, ok := models.ParseBackupDate(b.Date); ok {
			b.CreatedAt = t.UTC()
		}
	}
	return b, nil
}

// EnsureGame creates the game's folder and an empty index if they are missing.
func (s *Impl) EnsureGame(game string) error {
	if err := checkName(game); err != nil {
		return err
	}

	unlock, err := s.lock(game)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := os.Stat(s.indexPath(game)); err == nil {
		return nil
	}
	return s.writeIndex(models.BackupsInfo{Name: game, Backups: []models.Backup{}})
}

// RemoveGame deletes the game's folder with every backup in it.
func (s *Impl) RemoveGame(game string) error {
	if err := checkName(game); err != nil {
		return err
	}

	unlock, err := s.lock(game)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.RemoveAll(s.gameDir(game)); err != nil {
		return fmt.Errorf("removing backups of %q: %w", game, err)
	}
	s.logger.Info().Str("game", game).Msg("backup folder removed")
	return nil
}

// Games lists the games that have an index in the store.
func (s *Impl) Games() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing backup root: %w", err)
	}

	var games []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, e.Name(), models.IndexFileName)); err == nil {
			games = append(games, e.Name())
		}
	}
	sort.Strings(games)
	return games, nil
}
