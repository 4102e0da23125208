// Package manager is the application context. It owns the loaded Config,
// wires the services together and implements the user actions.
package manager

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fgeck/savekeeper/internal/config"
	"github.com/fgeck/savekeeper/internal/favorites"
	"github.com/fgeck/savekeeper/internal/models"
	"github.com/fgeck/savekeeper/internal/services/backup"
	"github.com/fgeck/savekeeper/internal/services/events"
	"github.com/fgeck/savekeeper/internal/services/remote"
	"github.com/fgeck/savekeeper/internal/services/resolver"
	"github.com/fgeck/savekeeper/internal/services/scheduler"
	"github.com/fgeck/savekeeper/internal/services/syncer"
	"github.com/fgeck/savekeeper/internal/services/telegram"
	"github.com/fgeck/savekeeper/internal/services/wol"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownGame is returned for game names missing from the config.
	ErrUnknownGame = errors.New("unknown game")
	// ErrNoQuickActionGame is returned by quick actions when no game is selected.
	ErrNoQuickActionGame = errors.New("no quick action game selected")
	// ErrNoBackups is returned when a game has nothing to restore.
	ErrNoBackups = errors.New("no backup available")
)

// syncLockFile below backup_path keeps runs of separate processes apart.
const syncLockFile = ".sync.lock"

// Describes of backups created without user input.
const (
	DescribeBackupAll   = "Backup all"
	DescribeQuickBackup = "Quick Backup"
)

// Service defines the user actions.
type Service interface {
	Config() (*models.Config, error)
	AddGame(game models.Game) error
	DeleteGame(name string) error
	CreateBackup(ctx context.Context, name, describe string) (*models.Backup, error)
	ApplyBackup(ctx context.Context, name, date string) (*models.ApplyResult, error)
	DeleteBackup(ctx context.Context, name, date string) error
	ListBackups(name string) ([]models.Backup, error)
	SetBackupDescribe(name, date, describe string) error
	BackupAll(ctx context.Context) ([]models.Backup, error)
	ApplyAll(ctx context.Context) ([]*models.ApplyResult, error)
	QuickBackup(ctx context.Context) (*models.Backup, error)
	QuickApply(ctx context.Context) (*models.ApplyResult, error)
	SyncNow(ctx context.Context, trigger models.Trigger) (*models.SyncReport, error)
	SyncStatus() models.SyncStatus
	CheckBackend(ctx context.Context, backend models.Backend) error
	SaveConfig(cfg *models.Config) error
	ResetSettings() error
	Favorites() (*favorites.Tree, error)
	SetFavorites(tree *favorites.Tree) error
}

// ConfigStore persists the Config.
type ConfigStore interface {
	Save(cfg *models.Config) error
}

// Impl implements the manager Service interface.
type Impl struct {
	logger    zerolog.Logger
	store     ConfigStore
	backups   backup.Service
	syncer    syncer.Service
	scheduler scheduler.Service
	events    events.Publisher

	mu  sync.RWMutex
	cfg *models.Config

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func()
}

// New loads the config named in opts and builds every service around it.
// Close releases what New started.
func New(logger zerolog.Logger, opts *models.AgentOptions) (*Impl, error) {
	store := config.NewStore(opts.ConfigFile, logger)
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(logger, 256)
	bus.AddSink(events.NewLogSink(logger))
	if opts.Telegram != nil {
		bus.AddSink(telegram.New(logger, *opts.Telegram))
	}

	backups := backup.New(logger, cfg.BackupPath, resolver.New(logger, opts.Root), bus, opts.Backup)

	syncOpts := opts.Sync
	if syncOpts.LockFile == "" {
		syncOpts.LockFile = filepath.Join(cfg.BackupPath, syncLockFile)
	}
	engine := syncer.New(logger, backups, bus, cfg.Settings.CloudSettings, syncOpts)
	if opts.WOL != nil {
		engine.SetWaker(wol.New(logger), *opts.WOL)
	}

	m := NewWithServices(logger, cfg, store, backups, engine, bus)
	engine.SetCatalog(m)

	sched := scheduler.New(logger, engine, m)
	sched.Reload(*cfg)
	m.scheduler = sched

	busCtx, stopBus := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	go func() {
		bus.Run(busCtx)
		close(busDone)
	}()
	m.closers = append(m.closers, func() {
		bus.Close()
		<-busDone
		stopBus()
	})

	return m, nil
}

// NewWithServices creates a manager around existing services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	cfg *models.Config,
	store ConfigStore,
	backups backup.Service,
	engine syncer.Service,
	pub events.Publisher,
) *Impl {
	if pub == nil {
		pub = events.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Impl{
		logger:  logger,
		store:   store,
		backups: backups,
		syncer:  engine,
		events:  pub,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetScheduler attaches the scheduler reloaded on every config change.
func (s *Impl) SetScheduler(sched scheduler.Service) {
	s.scheduler = sched
}

// StartScheduler runs the interval jobs until ctx is done or Close is called.
func (s *Impl) StartScheduler(ctx context.Context) {
	if s.scheduler == nil {
		return
	}
	s.scheduler.Start(ctx)
	s.closers = append([]func(){s.scheduler.Stop}, s.closers...)
}

// Wait blocks until background syncs started by user actions are done.
func (s *Impl) Wait() {
	s.wg.Wait()
}

// Close waits for background work and stops everything New started.
func (s *Impl) Close() {
	s.Wait()
	s.cancel()
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}

// Config returns a copy of the current config.
func (s *Impl) Config() (*models.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return config.Clone(s.cfg)
}

func (s *Impl) game(name string) (models.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.cfg.FindGame(name)
	if !ok {
		return models.Game{}, fmt.Errorf("%w: %q", ErrUnknownGame, name)
	}
	return *g, nil
}

func (s *Impl) settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Settings
}

// update applies fn to a copy of the config, saves it and swaps it in. The
// in-memory config is untouched when fn or the save fails.
func (s *Impl) update(fn func(cfg *models.Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := config.Clone(s.cfg)
	if err != nil {
		return err
	}
	if err := fn(next); err != nil {
		return err
	}
	if err := s.store.Save(next); err != nil {
		return err
	}
	s.cfg = next
	return nil
}

// AddGame registers game and creates its backup folder.
func (s *Impl) AddGame(game models.Game) error {
	err := s.update(func(cfg *models.Config) error {
		if _, ok := cfg.FindGame(game.Name); ok {
			return &models.ConfigError{Err: fmt.Errorf("game %q already exists", game.Name)}
		}
		cfg.Games = append(cfg.Games, game)

		if cfg.Settings.AddNewToFavorites {
			tree, err := favorites.FromModel(cfg.Favorites)
			if err != nil {
				return err
			}
			if _, err := tree.AddGame("", game.Name); err != nil {
				return err
			}
			cfg.Favorites = tree.ToModel()
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.backups.EnsureGame(game.Name); err != nil {
		return err
	}
	s.logger.Info().Str("game", game.Name).Int("save_paths", len(game.SavePaths)).Msg("game added")
	return nil
}

// DeleteGame removes the game, its favorites leaves and its local backups.
// Remote copies are kept.
func (s *Impl) DeleteGame(name string) error {
	err := s.update(func(cfg *models.Config) error {
		idx := -1
		for i := range cfg.Games {
			if cfg.Games[i].Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%w: %q", ErrUnknownGame, name)
		}
		cfg.Games = append(cfg.Games[:idx], cfg.Games[idx+1:]...)

		tree, err := favorites.FromModel(cfg.Favorites)
		if err != nil {
			return err
		}
		if tree.RemoveGame(name) > 0 {
			cfg.Favorites = tree.ToModel()
		}

		if q := cfg.QuickAction.QuickActionGame; q != nil && q.Name == name {
			cfg.QuickAction.QuickActionGame = nil
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.backups.RemoveGame(name); err != nil {
		return err
	}
	s.logger.Info().Str("game", name).Msg("game deleted")
	return nil
}

// CreateBackup snapshots the named game.
func (s *Impl) CreateBackup(ctx context.Context, name, describe string) (*models.Backup, error) {
	game, err := s.game(name)
	if err != nil {
		return nil, err
	}
	b, err := s.backups.CreateBackup(ctx, game, describe)
	if err != nil {
		return nil, err
	}
	s.alwaysSync()
	return b, nil
}

// ApplyBackup restores a backup. When extra_backup_when_apply is set the
// current saves are snapshotted first.
func (s *Impl) ApplyBackup(ctx context.Context, name, date string) (*models.ApplyResult, error) {
	game, err := s.game(name)
	if err != nil {
		return nil, err
	}

	var extra string
	if s.settings().ExtraBackupWhenApply {
		extra, err = s.backups.CreateOverwriteBackup(ctx, game)
		if err != nil {
			return nil, fmt.Errorf("creating safety backup before restore: %w", err)
		}
	}

	result, err := s.backups.ApplyBackup(ctx, game, date)
	if result != nil {
		result.ExtraBackup = extra
	}
	return result, err
}

// DeleteBackup removes a local backup. The remote copy is kept.
func (s *Impl) DeleteBackup(ctx context.Context, name, date string) error {
	if _, err := s.game(name); err != nil {
		return err
	}
	if err := s.backups.DeleteBackup(ctx, name, date); err != nil {
		return err
	}
	s.alwaysSync()
	return nil
}

// ListBackups returns the game's backups, newest first.
func (s *Impl) ListBackups(name string) ([]models.Backup, error) {
	if _, err := s.game(name); err != nil {
		return nil, err
	}
	return s.backups.ListBackups(name)
}

// SetBackupDescribe changes the description of one backup.
func (s *Impl) SetBackupDescribe(name, date, describe string) error {
	if _, err := s.game(name); err != nil {
		return err
	}
	return s.backups.SetBackupDescribe(name, date, describe)
}

// BackupAll snapshots every game. Games that fail do not stop the others;
// their errors are joined.
func (s *Impl) BackupAll(ctx context.Context) ([]models.Backup, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}

	var (
		created []models.Backup
		errs    []error
	)
	for _, game := range cfg.Games {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		b, err := s.backups.CreateBackup(ctx, game, DescribeBackupAll)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		created = append(created, *b)
	}

	if len(created) > 0 {
		s.alwaysSync()
	}
	return created, errors.Join(errs...)
}

// ApplyAll restores the newest backup of every game that has one.
func (s *Impl) ApplyAll(ctx context.Context) ([]*models.ApplyResult, error) {
	cfg, err := s.Config()
	if err != nil {
		return nil, err
	}

	var (
		results []*models.ApplyResult
		errs    []error
	)
	for _, game := range cfg.Games {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		list, err := s.backups.ListBackups(game.Name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(list) == 0 {
			continue
		}
		result, err := s.ApplyBackup(ctx, game.Name, list[0].Date)
		if err != nil {
			errs = append(errs, err)
		}
		if result != nil {
			results = append(results, result)
		}
	}
	return results, errors.Join(errs...)
}

func (s *Impl) quickGame() (models.Game, error) {
	s.mu.RLock()
	q := s.cfg.QuickAction.QuickActionGame
	s.mu.RUnlock()
	if q == nil {
		return models.Game{}, ErrNoQuickActionGame
	}
	// The config copy of the game is authoritative over the embedded one.
	return s.game(q.Name)
}

// QuickBackup snapshots the quick action game.
func (s *Impl) QuickBackup(ctx context.Context) (*models.Backup, error) {
	game, err := s.quickGame()
	if err != nil {
		return nil, err
	}
	b, err := s.CreateBackup(ctx, game.Name, DescribeQuickBackup)
	if err != nil {
		return nil, err
	}
	kind := models.EventInfo
	if s.settings().PromptWhenAutoBackup {
		kind = models.EventSuccess
	}
	s.events.Publish(models.NewEvent(kind, models.CodeQuickBackup, "game", game.Name, "date", b.Date))
	return b, nil
}

// QuickApply restores the newest backup of the quick action game.
func (s *Impl) QuickApply(ctx context.Context) (*models.ApplyResult, error) {
	game, err := s.quickGame()
	if err != nil {
		return nil, err
	}
	list, err := s.backups.ListBackups(game.Name)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoBackups, game.Name)
	}
	return s.ApplyBackup(ctx, game.Name, list[0].Date)
}

// SyncNow runs a sync pass.
func (s *Impl) SyncNow(ctx context.Context, trigger models.Trigger) (*models.SyncReport, error) {
	return s.syncer.SyncNow(ctx, trigger)
}

// SyncStatus returns the sync engine state.
func (s *Impl) SyncStatus() models.SyncStatus {
	return s.syncer.Status()
}

// CheckBackend verifies that backend is reachable with its credentials.
func (s *Impl) CheckBackend(ctx context.Context, backend models.Backend) error {
	adapter, err := remote.NewAdapter(backend, remote.WithLogger(s.logger), remote.WithTimeout(30*time.Second))
	if err != nil {
		return err
	}
	return adapter.Check(ctx)
}

// alwaysSync starts a background sync when always_sync is on. Concurrent
// requests collapse into the running sync.
func (s *Impl) alwaysSync() {
	cloud := s.settings().CloudSettings
	if !cloud.AlwaysSync || cloud.Backend.Get().Kind() == models.BackendDisabled {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.syncer.SyncNow(s.ctx, models.TriggerAlwaysSync); err != nil {
			s.logger.Warn().Err(err).Msg("background sync failed")
		}
	}()
}

// SaveConfig replaces the whole config, then reconfigures the sync engine and
// the scheduler.
func (s *Impl) SaveConfig(cfg *models.Config) error {
	next, err := config.Clone(cfg)
	if err != nil {
		return err
	}

	var oldPath string
	if err := s.update(func(c *models.Config) error {
		if err := s.checkBackendConfig(next.Settings.CloudSettings.Backend.Get()); err != nil {
			return err
		}
		oldPath = c.BackupPath
		*c = *next
		return nil
	}); err != nil {
		return err
	}
	return s.applied(oldPath)
}

// checkBackendConfig builds the backend's adapter without contacting it, so
// settings that can never work are refused before they are saved.
func (s *Impl) checkBackendConfig(backend models.Backend) error {
	if _, err := remote.NewAdapter(backend, remote.WithLogger(s.logger)); err != nil {
		return fmt.Errorf("configuring %s backend: %w", backend.Kind(), err)
	}
	return nil
}

// ResetSettings restores the default settings. Games and favorites are kept.
func (s *Impl) ResetSettings() error {
	var oldPath string
	if err := s.update(func(c *models.Config) error {
		oldPath = c.BackupPath
		c.Settings = config.DefaultSettings()
		return nil
	}); err != nil {
		return err
	}
	return s.applied(oldPath)
}

func (s *Impl) applied(oldBackupPath string) error {
	cfg, err := s.Config()
	if err != nil {
		return err
	}

	if cfg.BackupPath != oldBackupPath {
		s.logger.Warn().
			Str("from", oldBackupPath).
			Str("to", cfg.BackupPath).
			Msg("backup_path changed, restart to use the new location")
	}
	if err := s.syncer.Reload(cfg.Settings.CloudSettings); err != nil {
		return err
	}
	if s.scheduler != nil {
		s.scheduler.Reload(*cfg)
	}
	s.events.Publish(models.NewEvent(models.EventInfo, models.CodeConfigSaved))
	return nil
}

// Favorites returns the favorites tree.
func (s *Impl) Favorites() (*favorites.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return favorites.FromModel(s.cfg.Favorites)
}

// SetFavorites saves tree as the favorites.
func (s *Impl) SetFavorites(tree *favorites.Tree) error {
	return s.update(func(cfg *models.Config) error {
		cfg.Favorites = tree.ToModel()
		return nil
	})
}

// GameDefinitions returns a copy of the configured games.
func (s *Impl) GameDefinitions() []models.Game {
	cfg, err := s.Config()
	if err != nil {
		return nil
	}
	return cfg.Games
}

// MergeGames adds the games whose names are not configured yet and returns
// their names. Known games keep their local definition.
func (s *Impl) MergeGames(games []models.Game) ([]string, error) {
	var added []string
	err := s.update(func(cfg *models.Config) error {
		added = nil
		for _, g := range games {
			if !validGameName(g.Name) {
				s.logger.Warn().Str("game", g.Name).Msg("ignoring shared game with an invalid name")
				continue
			}
			if _, ok := cfg.FindGame(g.Name); ok {
				continue
			}
			cfg.Games = append(cfg.Games, g)
			added = append(added, g.Name)
		}
		if len(added) == 0 {
			return errNothingMerged
		}
		return nil
	})
	if errors.Is(err, errNothingMerged) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	for _, name := range added {
		if err := s.backups.EnsureGame(name); err != nil {
			return added, err
		}
	}
	s.logger.Info().Strs("games", added).Msg("games added from the remote catalog")
	return added, nil
}

var errNothingMerged = errors.New("no new games")

func validGameName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}
