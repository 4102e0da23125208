// Package syncer reconciles the local backup store with the configured cloud
// backend. At most one run is in flight; triggers arriving meanwhile are
// coalesced into it.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fgeck/savekeeper/internal/metrics"
	"github.com/fgeck/savekeeper/internal/models"
	"github.com/fgeck/savekeeper/internal/services/archive"
	"github.com/fgeck/savekeeper/internal/services/events"
	"github.com/fgeck/savekeeper/internal/services/remote"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryInitial    = 500 * time.Millisecond
	defaultRetryMaxElapsed = 30 * time.Second
)

// Service defines the interface for sync engine operations.
type Service interface {
	SyncNow(ctx context.Context, trigger models.Trigger) (*models.SyncReport, error)
	Status() models.SyncStatus
	Reload(settings models.CloudSettings) error
}

// Store is the part of the backup store the engine reads and writes.
type Store interface {
	Snapshot(game string) (models.BackupsInfo, error)
	ReadArchive(game, date string) ([]byte, error)
	ImportBackup(game string, b models.Backup, body []byte) (*models.Backup, error)
	ReplaceBackup(game string, b models.Backup, body []byte) error
	Games() ([]string, error)
}

// Waker wakes the backend host before a run.
type Waker interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Catalog holds the game definitions shared with other machines.
type Catalog interface {
	GameDefinitions() []models.Game
	MergeGames(games []models.Game) ([]string, error)
}

// AdapterFactory builds the adapter of a backend.
type AdapterFactory func(backend models.Backend) (remote.Adapter, error)

// Impl implements the sync Service interface.
type Impl struct {
	logger     zerolog.Logger
	store      Store
	events     events.Publisher
	opts       models.SyncOptions
	newAdapter AdapterFactory

	waker   Waker
	wakeCfg models.WOLConfig
	catalog Catalog

	// flightMu orders flight with manualWaiting.
	flightMu      sync.Mutex
	flight        *semaphore.Weighted
	manualWaiting bool

	mu        sync.Mutex
	settings  models.CloudSettings
	adapter   remote.Adapter
	configErr error
	state     models.SyncState
	lastErr   error
	lastRun   *models.SyncReport
}

// New creates a sync engine talking to the backend in settings.
func New(logger zerolog.Logger, store Store, pub events.Publisher, settings models.CloudSettings, opts models.SyncOptions) *Impl {
	factory := func(b models.Backend) (remote.Adapter, error) {
		return remote.NewAdapter(b,
			remote.WithLogger(logger),
			remote.WithBandwidthLimit(opts.BandwidthLimit),
		)
	}
	return NewWithFactory(logger, store, pub, settings, opts, factory)
}

// NewWithFactory creates a sync engine with a custom adapter factory (for
// testing). A backend the factory rejects leaves the engine Failed.
func NewWithFactory(
	logger zerolog.Logger,
	store Store,
	pub events.Publisher,
	settings models.CloudSettings,
	opts models.SyncOptions,
	factory AdapterFactory,
) *Impl {
	if pub == nil {
		pub = events.Nop{}
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = defaultRetryAttempts
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = defaultRetryInitial
	}
	if opts.RetryMaxElapsed <= 0 {
		opts.RetryMaxElapsed = defaultRetryMaxElapsed
	}

	s := &Impl{
		logger:     logger,
		store:      store,
		events:     pub,
		opts:       opts,
		newAdapter: factory,
		flight:     semaphore.NewWeighted(1),
	}
	_ = s.Reload(settings)
	return s
}

// SetCatalog makes every run exchange game definitions through the remote.
func (s *Impl) SetCatalog(c Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = c
}

// SetWaker makes every run wake the backend host first.
func (s *Impl) SetWaker(w Waker, cfg models.WOLConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waker = w
	s.wakeCfg = cfg
}

// Reload switches to the backend in settings. A run in flight keeps the
// adapter it started with. A backend whose adapter cannot be built puts the
// engine in Failed until settings that work are loaded.
func (s *Impl) Reload(settings models.CloudSettings) error {
	adapter, err := s.newAdapter(settings.Backend.Get())
	if err != nil {
		adapter = nil
		err = fmt.Errorf("configuring %s backend: %w", settings.Backend.Get().Kind(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	wasBroken := s.configErr != nil
	s.settings = settings
	s.adapter = adapter
	s.configErr = err
	switch {
	case err != nil:
		s.setStateLocked(models.SyncFailed, err)
		s.logger.Error().Err(err).Msg("sync backend unusable")
		return err
	case disabled(settings):
		s.setStateLocked(models.SyncDisabled, nil)
	case s.state == "" || s.state == models.SyncDisabled || wasBroken:
		s.setStateLocked(models.SyncIdle, nil)
	}

	s.logger.Debug().
		Interface("cloud_settings", settings.Sanitized()).
		Msg("sync engine configured")
	return nil
}

// Status returns the current state and the last completed run.
func (s *Impl) Status() models.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SyncStatus{State: s.state, LastError: s.lastErr, LastRun: s.lastRun}
}

func disabled(settings models.CloudSettings) bool {
	return settings.Backend.Get().Kind() == models.BackendDisabled
}

func (s *Impl) setState(state models.SyncState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStateLocked(state, err)
}

func (s *Impl) setStateLocked(state models.SyncState, err error) {
	s.state = state
	if state == models.SyncFailed {
		s.lastErr = err
	} else if state == models.SyncIdle {
		s.lastErr = nil
	}
	metrics.SetSyncState(string(state))
}

type runConfig struct {
	settings  models.CloudSettings
	adapter   remote.Adapter
	configErr error
	waker     Waker
	wakeCfg   models.WOLConfig
	catalog   Catalog
}

func (s *Impl) current() runConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return runConfig{
		settings:  s.settings,
		adapter:   s.adapter,
		configErr: s.configErr,
		waker:     s.waker,
		wakeCfg:   s.wakeCfg,
		catalog:   s.catalog,
	}
}

// acquire takes the run slot, in this process and then across processes
// sharing the lock file. It reports false when another run holds either.
func (s *Impl) acquire(trigger models.Trigger) (func() bool, bool, error) {
	s.flightMu.Lock()
	defer s.flightMu.Unlock()

	if !s.flight.TryAcquire(1) {
		if trigger == models.TriggerManual {
			s.manualWaiting = true
		}
		return nil, false, nil
	}

	var fl *flock.Flock
	if s.opts.LockFile != "" {
		if err := os.MkdirAll(filepath.Dir(s.opts.LockFile), 0o755); err != nil {
			s.flight.Release(1)
			return nil, false, fmt.Errorf("creating sync lock folder: %w", err)
		}
		fl = flock.New(s.opts.LockFile)
		locked, err := fl.TryLock()
		if err != nil {
			s.flight.Release(1)
			return nil, false, fmt.Errorf("taking sync lock: %w", err)
		}
		if !locked {
			s.flight.Release(1)
			return nil, false, nil
		}
	}

	release := func() bool {
		s.flightMu.Lock()
		defer s.flightMu.Unlock()
		if fl != nil {
			if err := fl.Unlock(); err != nil {
				s.logger.Warn().Err(err).Str("path", s.opts.LockFile).Msg("failed to release sync lock")
			}
		}
		s.flight.Release(1)
		waiting := s.manualWaiting
		s.manualWaiting = false
		return waiting
	}
	return release, true, nil
}

// SyncNow runs one reconciliation pass. With the Disabled backend it returns
// at once without any remote call. While another run is in flight it returns
// a report with Skipped set.
func (s *Impl) SyncNow(ctx context.Context, trigger models.Trigger) (*models.SyncReport, error) {
	report := &models.SyncReport{Trigger: trigger, StartTime: time.Now()}
	rc := s.current()

	if disabled(rc.settings) {
		report.Disabled = true
		metrics.RecordSyncRun(string(trigger), "disabled", 0)
		return report, nil
	}

	release, ok, err := s.acquire(trigger)
	if err != nil {
		return report, err
	}
	if !ok {
		report.Skipped = true
		metrics.RecordSyncRun(string(trigger), "skipped", 0)
		s.events.Publish(models.NewEvent(models.EventInfo, models.CodeSyncSkipped, "trigger", string(trigger)))
		s.logger.Debug().Str("trigger", string(trigger)).Msg("sync already running, trigger coalesced")
		return report, nil
	}

	s.setState(models.SyncChecking, nil)
	s.events.Publish(models.NewEvent(models.EventInfo, models.CodeSyncStarted, "trigger", string(trigger)))
	s.logger.Info().Str("trigger", string(trigger)).Msg("sync started")

	err = s.run(ctx, rc, report)
	report.Duration = time.Since(report.StartTime)
	report.Error = err
	s.finish(report, err)
	waiting := release()

	metrics.RecordSyncTransfers(len(report.Uploaded), len(report.Downloaded))

	if err != nil {
		metrics.RecordSyncRun(string(trigger), "failed", report.Duration)
		s.events.Publish(models.NewEvent(models.EventError, models.CodeSyncFailed,
			"trigger", string(trigger),
			"game", report.FailedGame,
			"key", report.FailedKey,
			"error", err.Error(),
			"manual_waiting", strconv.FormatBool(waiting)))
		s.logger.Error().
			Err(err).
			Str("game", report.FailedGame).
			Str("key", report.FailedKey).
			Msg("sync failed")
		return report, err
	}

	metrics.RecordSyncRun(string(trigger), "success", report.Duration)
	s.events.Publish(models.NewEvent(models.EventSuccess, models.CodeSyncCompleted,
		"trigger", string(trigger),
		"uploaded", strconv.Itoa(len(report.Uploaded)),
		"downloaded", strconv.Itoa(len(report.Downloaded)),
		"conflicts", strconv.Itoa(len(report.Conflicts)),
		"duration", report.Duration.Round(time.Millisecond).String(),
		"manual_waiting", strconv.FormatBool(waiting)))
	s.logger.Info().
		Int("uploaded", len(report.Uploaded)).
		Int("downloaded", len(report.Downloaded)).
		Int("conflicts", len(report.Conflicts)).
		Dur("duration", report.Duration).
		Msg("sync completed")
	return report, nil
}

func (s *Impl) finish(report *models.SyncReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = report
	switch {
	case err != nil:
		s.setStateLocked(models.SyncFailed, err)
	case disabled(s.settings):
		s.setStateLocked(models.SyncDisabled, nil)
	default:
		s.setStateLocked(models.SyncIdle, nil)
	}
}

func (s *Impl) run(ctx context.Context, rc runConfig, report *models.SyncReport) error {
	if rc.configErr != nil {
		return rc.configErr
	}
	if rc.waker != nil {
		res, err := rc.waker.Wake(ctx, rc.wakeCfg)
		if err == nil && res != nil {
			err = res.Error
		}
		if err != nil {
			s.events.Publish(models.NewEvent(models.EventWarning, models.CodeWakeFailed, "error", err.Error()))
			s.logger.Warn().Err(err).Msg("backend host did not wake up, trying anyway")
		}
	}

	if err := s.retry(ctx, func() error { return rc.adapter.Check(ctx) }); err != nil {
		return err
	}

	root := rc.settings.RootPath
	rootPrefix := remote.RootPrefix(root)
	var objects []models.RemoteObject
	err := s.retry(ctx, func() error {
		var lerr error
		objects, lerr = rc.adapter.List(ctx, rootPrefix)
		return lerr
	})
	if err != nil {
		report.FailedKey = rootPrefix
		return err
	}

	remoteByGame := make(map[string][]models.RemoteObject)
	catalogKey := remote.CatalogKey(root)
	hasCatalog := false
	for _, obj := range objects {
		if obj.Key == catalogKey {
			hasCatalog = true
			continue
		}
		if game, ok := remote.GameFromKey(root, obj.Key); ok {
			remoteByGame[game] = append(remoteByGame[game], obj)
		}
	}

	var firstErr error
	if rc.catalog != nil {
		if err := s.syncCatalog(ctx, rc, catalogKey, hasCatalog, report); err != nil {
			report.FailedKey = catalogKey
			if models.IsFatalBackend(err) || isContextErr(err) {
				return err
			}
			firstErr = err
			s.logger.Warn().Err(err).Str("key", catalogKey).Msg("game catalog not synced")
		}
	}

	games, err := s.gameList(remoteByGame)
	if err != nil {
		return err
	}

	for _, game := range games {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Games = append(report.Games, game)

		key, err := s.reconcile(ctx, rc, game, remoteByGame[game], report)
		if err == nil {
			continue
		}
		if firstErr == nil {
			report.FailedGame = game
			report.FailedKey = key
			firstErr = err
		}
		if models.IsFatalBackend(err) || isContextErr(err) {
			return err
		}
		s.logger.Warn().Err(err).Str("game", game).Str("key", key).Msg("game reconciliation aborted")
	}
	return firstErr
}

// syncCatalog adds the remote game definitions missing here, then uploads
// the union when the remote lacks any local game. Definitions are never
// removed or overwritten on either side.
func (s *Impl) syncCatalog(ctx context.Context, rc runConfig, key string, exists bool, report *models.SyncReport) error {
	var remoteGames []models.Game
	if exists {
		body, _, err := s.fetch(ctx, rc.adapter, key)
		if err != nil {
			return err
		}
		var cat models.GameCatalog
		if err := json.Unmarshal(body, &cat); err != nil {
			return fmt.Errorf("parsing %s: %w", key, err)
		}
		remoteGames = cat.Games

		added, err := rc.catalog.MergeGames(cat.Games)
		if err != nil {
			return err
		}
		if len(added) > 0 {
			report.GamesImported = added
			s.events.Publish(models.NewEvent(models.EventInfo, models.CodeGamesImported,
				"games", strconv.Itoa(len(added))))
			s.logger.Info().Strs("games", added).Msg("game definitions imported")
		}
	}

	merged, changed := unionGames(remoteGames, rc.catalog.GameDefinitions())
	if !changed {
		return nil
	}
	body, err := json.MarshalIndent(models.GameCatalog{Games: merged}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding game catalog: %w", err)
	}
	meta := models.ObjectMeta{
		Checksum:  archive.ChecksumBytes(body),
		Origin:    remote.Origin(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err := s.retry(ctx, func() error { return rc.adapter.Put(ctx, key, body, meta) }); err != nil {
		return err
	}
	report.CatalogUploaded = true
	s.logger.Info().Int("games", len(merged)).Msg("game catalog uploaded")
	return nil
}

// unionGames appends the local games missing from base, sorted by name. It
// reports whether anything was added.
func unionGames(base, local []models.Game) ([]models.Game, bool) {
	seen := make(map[string]bool, len(base))
	out := make([]models.Game, 0, len(base)+len(local))
	for _, g := range base {
		if !seen[g.Name] {
			seen[g.Name] = true
			out = append(out, g)
		}
	}
	changed := false
	for _, g := range local {
		if !seen[g.Name] {
			seen[g.Name] = true
			out = append(out, g)
			changed = true
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, changed
}

// gameList is every game with a local index or at least one remote key.
func (s *Impl) gameList(remoteByGame map[string][]models.RemoteObject) ([]string, error) {
	local, err := s.store.Games()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(local)+len(remoteByGame))
	games := make([]string, 0, len(local)+len(remoteByGame))
	for _, g := range local {
		if !seen[g] {
			seen[g] = true
			games = append(games, g)
		}
	}
	for g := range remoteByGame {
		if !seen[g] {
			seen[g] = true
			games = append(games, g)
		}
	}
	sort.Strings(games)
	return games, nil
}

// reconcile brings one game to the union of both sides. Deletions are never
// propagated. On failure it returns the key being transferred.
//
//nolint:gocognit // upload, conflict and download passes share the loop state
func (s *Impl) reconcile(
	ctx context.Context,
	rc runConfig,
	game string,
	objects []models.RemoteObject,
	report *models.SyncReport,
) (string, error) {
	local, err := s.store.Snapshot(game)
	if err != nil {
		return "", err
	}

	prefix := remote.GamePrefix(rc.settings.RootPath, game)
	remoteDates := make(map[string]bool, len(objects))
	for _, obj := range objects {
		if date, ok := remote.ParseObjectKey(prefix, obj.Key); ok {
			remoteDates[date] = true
		}
	}

	for _, b := range local.Backups {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		key := remote.ObjectKey(rc.settings.RootPath, game, b.Date)

		if !remoteDates[b.Date] {
			uploaded, err := s.upload(ctx, rc.adapter, game, key, b)
			if err != nil {
				return key, err
			}
			if uploaded {
				report.Uploaded = append(report.Uploaded, key)
			}
			continue
		}

		if err := s.resolve(ctx, rc.adapter, game, key, b, report); err != nil {
			return key, err
		}
	}

	var missing []string
	for date := range remoteDates {
		if _, ok := local.Find(date); !ok {
			missing = append(missing, date)
		}
	}
	sort.Strings(missing)

	for _, date := range missing {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		key := remote.ObjectKey(rc.settings.RootPath, game, date)
		if err := s.download(ctx, rc.adapter, game, key, date); err != nil {
			return key, err
		}
		report.Downloaded = append(report.Downloaded, key)
	}
	return "", nil
}

func (s *Impl) upload(ctx context.Context, adapter remote.Adapter, game, key string, b models.Backup) (bool, error) {
	body, err := s.store.ReadArchive(game, b.Date)
	if errors.Is(err, fs.ErrNotExist) {
		// Deleted after the index was copied.
		s.logger.Debug().Str("game", game).Str("date", b.Date).Msg("backup vanished before upload, skipping")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	checksum := b.Checksum
	if checksum == "" {
		checksum = archive.ChecksumBytes(body)
	}
	meta := models.ObjectMeta{
		Describe: b.Describe,
		Checksum: checksum,
		Origin:   remote.Origin(),
	}
	if !b.CreatedAt.IsZero() {
		meta.CreatedAt = b.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	s.setState(models.SyncTransferring, nil)
	if err := s.retry(ctx, func() error { return adapter.Put(ctx, key, body, meta) }); err != nil {
		return false, err
	}
	s.logger.Info().Str("game", game).Str("key", key).Int("bytes", len(body)).Msg("backup uploaded")
	return true, nil
}

func (s *Impl) fetch(ctx context.Context, adapter remote.Adapter, key string) ([]byte, models.ObjectMeta, error) {
	var (
		body []byte
		meta models.ObjectMeta
	)
	s.setState(models.SyncTransferring, nil)
	err := s.retry(ctx, func() error {
		var gerr error
		body, meta, gerr = adapter.Get(ctx, key)
		return gerr
	})
	if err != nil {
		return nil, meta, err
	}
	if meta.Checksum != "" && archive.ChecksumBytes(body) != meta.Checksum {
		return nil, meta, &models.ArchiveCorruptError{Path: key, Err: errors.New("checksum does not match remote metadata")}
	}
	return body, meta, nil
}

func remoteBackup(date string, meta models.ObjectMeta) models.Backup {
	b := models.Backup{Date: date, Describe: meta.Describe}
	if t, err := time.Parse(time.RFC3339Nano, meta.CreatedAt); err == nil {
		b.CreatedAt = t
	}
	return b
}

func (s *Impl) download(ctx context.Context, adapter remote.Adapter, game, key, date string) error {
	body, meta, err := s.fetch(ctx, adapter, key)
	if err != nil {
		return err
	}
	if _, err := s.store.ImportBackup(game, remoteBackup(date, meta), body); err != nil {
		return err
	}
	s.logger.Info().Str("game", game).Str("key", key).Int("bytes", len(body)).Msg("backup downloaded")
	return nil
}

// resolve handles a date present on both sides. Matching or unknown
// checksums need nothing; otherwise the later created_at wins and an exact
// tie goes to the greater checksum.
func (s *Impl) resolve(
	ctx context.Context,
	adapter remote.Adapter,
	game, key string,
	local models.Backup,
	report *models.SyncReport,
) error {
	if local.Checksum == "" {
		return nil
	}

	var meta models.ObjectMeta
	err := s.retry(ctx, func() error {
		var serr error
		meta, serr = adapter.Stat(ctx, key)
		return serr
	})
	if err != nil {
		return err
	}
	if meta.Checksum == "" || meta.Checksum == local.Checksum {
		return nil
	}

	winner := models.WinnerLocal
	if remoteWins(local, meta) {
		winner = models.WinnerRemote
	}
	s.logger.Warn().
		Str("game", game).
		Str("date", local.Date).
		Str("winner", winner).
		Msg("same backup date with different content")

	if winner == models.WinnerRemote {
		body, meta, err := s.fetch(ctx, adapter, key)
		if err != nil {
			return err
		}
		if err := s.store.ReplaceBackup(game, remoteBackup(local.Date, meta), body); err != nil {
			return err
		}
		report.Downloaded = append(report.Downloaded, key)
	} else {
		uploaded, err := s.upload(ctx, adapter, game, key, local)
		if err != nil {
			return err
		}
		if uploaded {
			report.Uploaded = append(report.Uploaded, key)
		}
	}

	report.Conflicts = append(report.Conflicts, models.SyncConflict{Game: game, Date: local.Date, Winner: winner})
	metrics.RecordSyncConflict(winner)
	s.events.Publish(models.NewEvent(models.EventWarning, models.CodeSyncConflict,
		"game", game, "date", local.Date, "winner", winner))
	return nil
}

func remoteWins(local models.Backup, meta models.ObjectMeta) bool {
	var remoteAt time.Time
	if t, err := time.Parse(time.RFC3339Nano, meta.CreatedAt); err == nil {
		remoteAt = t
	}
	switch {
	case remoteAt.After(local.CreatedAt):
		return true
	case remoteAt.Before(local.CreatedAt):
		return false
	default:
		return meta.Checksum > local.Checksum
	}
}

// retry runs op until it succeeds, fails with a non-transient error or the
// attempt budget is spent.
func (s *Impl) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.RetryInitial
	b.MaxElapsedTime = s.opts.RetryMaxElapsed

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.opts.RetryAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if attempt > 1 {
			metrics.RecordRemoteRetry()
		}
		err := op()
		switch {
		case err == nil:
			return nil
		case models.IsTransient(err):
			s.logger.Debug().Err(err).Int("attempt", attempt).Msg("transient remote error")
			return err
		default:
			return backoff.Permanent(err)
		}
	}, policy)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
