// Package scheduler fires the interval-driven jobs: automatic cloud sync and
// the timed quick backup.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job names.
const (
	JobAutoSync    = "auto_sync"
	JobQuickBackup = "quick_backup"
)

// Service defines the interface for the scheduler.
type Service interface {
	Start(ctx context.Context)
	Stop()
	Reload(cfg models.Config)
	Jobs() map[string]time.Duration
}

// Syncer runs sync passes.
type Syncer interface {
	SyncNow(ctx context.Context, trigger models.Trigger) (*models.SyncReport, error)
}

// QuickBackuper backs up the quick action game.
type QuickBackuper interface {
	QuickBackup(ctx context.Context) (*models.Backup, error)
}

// Impl implements the scheduler Service interface on top of robfig/cron.
type Impl struct {
	logger zerolog.Logger
	cron   *cron.Cron
	syncer Syncer
	quick  QuickBackuper

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
	every   map[string]time.Duration
}

// New creates a scheduler. Jobs are added by Reload.
func New(logger zerolog.Logger, syncer Syncer, quick QuickBackuper) *Impl {
	cl := cronLogger{logger: logger}
	return &Impl{
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		syncer:  syncer,
		quick:   quick,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
		every:   make(map[string]time.Duration),
	}
}

// Start runs the jobs in the background. Jobs receive ctx.
func (s *Impl) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Debug().Msg("scheduler started")
}

// Stop halts the scheduler and waits for running jobs.
func (s *Impl) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Debug().Msg("scheduler stopped")
}

// Reload replaces the jobs with the ones cfg asks for. The auto sync job is
// only scheduled when a backend is configured.
func (s *Impl) Reload(cfg models.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
		delete(s.every, name)
	}

	cloud := cfg.Settings.CloudSettings
	if cloud.AutoSyncInterval > 0 && cloud.Backend.Get().Kind() != models.BackendDisabled {
		s.add(JobAutoSync, time.Duration(cloud.AutoSyncInterval)*time.Minute, s.runSync)
	}

	quick := cfg.QuickAction
	if quick.AutoBackupInterval > 0 && quick.QuickActionGame != nil {
		s.add(JobQuickBackup, time.Duration(quick.AutoBackupInterval)*time.Minute, s.runQuickBackup)
	}
}

func (s *Impl) add(name string, every time.Duration, job func()) {
	s.entries[name] = s.cron.Schedule(cron.Every(every), cron.FuncJob(job))
	s.every[name] = every
	s.logger.Info().Str("job", name).Dur("every", every).Msg("job scheduled")
}

// Jobs returns the interval of every scheduled job.
func (s *Impl) Jobs() map[string]time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Duration, len(s.every))
	for k, v := range s.every {
		out[k] = v
	}
	return out
}

func (s *Impl) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

func (s *Impl) runSync() {
	report, err := s.syncer.SyncNow(s.jobContext(), models.TriggerScheduled)
	if err != nil {
		// The engine reports failures through events.
		return
	}
	if report.Skipped {
		s.logger.Debug().Msg("scheduled sync coalesced into running sync")
	}
}

func (s *Impl) runQuickBackup() {
	b, err := s.quick.QuickBackup(s.jobContext())
	if err != nil {
		s.logger.Warn().Err(err).Msg("timed quick backup failed")
		return
	}
	if b != nil {
		s.logger.Info().Str("date", b.Date).Msg("timed quick backup created")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
