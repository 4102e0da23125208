package manager

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/savekeeper/internal/config"
	"github.com/fgeck/savekeeper/internal/favorites"
	"github.com/fgeck/savekeeper/internal/models"
	"github.com/fgeck/savekeeper/internal/services/backup"
	"github.com/fgeck/savekeeper/internal/services/resolver"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xwebdav "golang.org/x/net/webdav"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type fakeSyncer struct {
	mu       sync.Mutex
	triggers []models.Trigger
	reloads  []models.CloudSettings
	syncErr  error
}

func (f *fakeSyncer) SyncNow(_ context.Context, trigger models.Trigger) (*models.SyncReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	return &models.SyncReport{Trigger: trigger}, f.syncErr
}

func (f *fakeSyncer) Status() models.SyncStatus {
	return models.SyncStatus{State: models.SyncIdle}
}

func (f *fakeSyncer) Reload(settings models.CloudSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads = append(f.reloads, settings)
	return nil
}

func (f *fakeSyncer) seen() []models.Trigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Trigger(nil), f.triggers...)
}

type mockScheduler struct {
	reloads []models.Config
}

func (m *mockScheduler) Start(context.Context)          {}
func (m *mockScheduler) Stop()                          {}
func (m *mockScheduler) Reload(cfg models.Config)       { m.reloads = append(m.reloads, cfg) }
func (m *mockScheduler) Jobs() map[string]time.Duration { return nil }

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *recordingPublisher) Publish(ev models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) find(code string) *models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.events {
		if p.events[i].Code == code {
			return &p.events[i]
		}
	}
	return nil
}

type fixture struct {
	m      *Impl
	store  *config.Store
	saves  string
	syncer *fakeSyncer
	sched  *mockScheduler
	pub    *recordingPublisher
}

func newFixture(t *testing.T, mutate func(cfg *models.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		store:  config.NewStore(filepath.Join(dir, "GameSaveManager.config.json"), testLogger()),
		saves:  t.TempDir(),
		syncer: &fakeSyncer{},
		sched:  &mockScheduler{},
		pub:    &recordingPublisher{},
	}

	cfg := config.Default()
	cfg.BackupPath = filepath.Join(dir, "save_data")
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, f.store.Save(cfg))

	next := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		now := next
		next = next.Add(time.Second)
		return now
	}
	backups := backup.NewWithClock(testLogger(), cfg.BackupPath, resolver.New(testLogger(), f.saves), f.pub,
		models.BackupOptions{}, clock, func(string) (uint64, error) { return 1 << 40, nil })

	f.m = NewWithServices(testLogger(), cfg, f.store, backups, f.syncer, f.pub)
	f.m.SetScheduler(f.sched)
	t.Cleanup(f.m.Close)
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(f.saves, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.saves, rel))
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) onDisk(t *testing.T) *models.Config {
	t.Helper()
	cfg, err := f.store.Load()
	require.NoError(t, err)
	return cfg
}

func game(name string) models.Game {
	return models.Game{
		Name:      name,
		SavePaths: []models.SaveUnit{{UnitType: models.SaveUnitFile, Path: name + ".sav"}},
	}
}

func withGames(names ...string) func(cfg *models.Config) {
	return func(cfg *models.Config) {
		for _, n := range names {
			cfg.Games = append(cfg.Games, game(n))
		}
	}
}

func webdav() models.BackendConfig {
	return models.BackendConfig{Backend: models.WebDAVBackend{
		Endpoint: "http://nas.local:5005/dav", Username: "u", Password: "p",
	}}
}

func TestAddGame(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) {
		cfg.Settings.AddNewToFavorites = true
	})

	require.NoError(t, f.m.AddGame(game("Foo")))

	cfg := f.onDisk(t)
	require.Len(t, cfg.Games, 1)
	assert.Equal(t, "Foo", cfg.Games[0].Name)
	require.Len(t, cfg.Favorites, 1)
	assert.Equal(t, "Foo", cfg.Favorites[0].Label)
	assert.True(t, cfg.Favorites[0].IsLeaf)
	assert.DirExists(t, filepath.Join(cfg.BackupPath, "Foo"))
}

func TestAddGame_Duplicate(t *testing.T) {
	f := newFixture(t, withGames("Foo"))

	err := f.m.AddGame(game("Foo"))

	var cfgErr *models.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	current, err := f.m.Config()
	require.NoError(t, err)
	assert.Len(t, current.Games, 1)
}

func TestAddGame_InvalidNameLeavesConfigUntouched(t *testing.T) {
	f := newFixture(t, nil)

	err := f.m.AddGame(game("bad/name"))

	require.Error(t, err)
	current, err := f.m.Config()
	require.NoError(t, err)
	assert.Empty(t, current.Games)
	assert.Empty(t, f.onDisk(t).Games)
}

func TestDeleteGame(t *testing.T) {
	foo := game("Foo")
	f := newFixture(t, func(cfg *models.Config) {
		withGames("Foo", "Bar")(cfg)
		tree := favorites.New()
		_, err := tree.AddGame("", "Foo")
		require.NoError(t, err)
		cfg.Favorites = tree.ToModel()
		cfg.QuickAction.QuickActionGame = &foo
	})
	f.write(t, "Foo.sav", "one")
	b, err := f.m.CreateBackup(context.Background(), "Foo", "")
	require.NoError(t, err)

	require.NoError(t, f.m.DeleteGame("Foo"))

	cfg := f.onDisk(t)
	require.Len(t, cfg.Games, 1)
	assert.Equal(t, "Bar", cfg.Games[0].Name)
	assert.Empty(t, cfg.Favorites)
	assert.Nil(t, cfg.QuickAction.QuickActionGame)
	assert.NoFileExists(t, b.Path)
}

func TestDeleteGame_Unknown(t *testing.T) {
	f := newFixture(t, nil)

	err := f.m.DeleteGame("Nope")

	assert.ErrorIs(t, err, ErrUnknownGame)
}

func TestCreateBackup_UnknownGame(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.m.CreateBackup(context.Background(), "Nope", "")

	assert.ErrorIs(t, err, ErrUnknownGame)
}

func TestCreateBackup_AlwaysSync(t *testing.T) {
	tests := []struct {
		name    string
		always  bool
		backend models.BackendConfig
		want    []models.Trigger
	}{
		{name: "enabled", always: true, backend: webdav(), want: []models.Trigger{models.TriggerAlwaysSync}},
		{name: "switched off", always: false, backend: webdav(), want: nil},
		{name: "no backend", always: true, backend: models.BackendConfig{}, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(cfg *models.Config) {
				withGames("Foo")(cfg)
				cfg.Settings.CloudSettings.AlwaysSync = tt.always
				cfg.Settings.CloudSettings.Backend = tt.backend
			})
			f.write(t, "Foo.sav", "one")

			_, err := f.m.CreateBackup(context.Background(), "Foo", "manual")
			require.NoError(t, err)
			f.m.Wait()

			assert.Equal(t, tt.want, f.syncer.seen())
		})
	}
}

func TestAlwaysSync_FailureDoesNotFailBackup(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) {
		withGames("Foo")(cfg)
		cfg.Settings.CloudSettings.AlwaysSync = true
		cfg.Settings.CloudSettings.Backend = webdav()
	})
	f.syncer.syncErr = errors.New("offline")
	f.write(t, "Foo.sav", "one")

	b, err := f.m.CreateBackup(context.Background(), "Foo", "")
	f.m.Wait()

	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestApplyBackup(t *testing.T) {
	tests := []struct {
		name      string
		extra     bool
		wantExtra bool
	}{
		{name: "with safety backup", extra: true, wantExtra: true},
		{name: "without safety backup", extra: false, wantExtra: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(cfg *models.Config) {
				withGames("Foo")(cfg)
				cfg.Settings.ExtraBackupWhenApply = tt.extra
			})
			f.write(t, "Foo.sav", "checkpoint")
			b, err := f.m.CreateBackup(context.Background(), "Foo", "")
			require.NoError(t, err)
			f.write(t, "Foo.sav", "died")

			result, err := f.m.ApplyBackup(context.Background(), "Foo", b.Date)

			require.NoError(t, err)
			assert.Equal(t, "checkpoint", f.read(t, "Foo.sav"))
			if tt.wantExtra {
				assert.FileExists(t, result.ExtraBackup)
			} else {
				assert.Empty(t, result.ExtraBackup)
			}
		})
	}
}

func TestDeleteBackup(t *testing.T) {
	f := newFixture(t, withGames("Foo"))
	f.write(t, "Foo.sav", "one")
	b, err := f.m.CreateBackup(context.Background(), "Foo", "")
	require.NoError(t, err)

	require.NoError(t, f.m.DeleteBackup(context.Background(), "Foo", b.Date))

	list, err := f.m.ListBackups("Foo")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSetBackupDescribe(t *testing.T) {
	f := newFixture(t, withGames("Foo"))
	f.write(t, "Foo.sav", "one")
	b, err := f.m.CreateBackup(context.Background(), "Foo", "")
	require.NoError(t, err)

	require.NoError(t, f.m.SetBackupDescribe("Foo", b.Date, "after boss"))

	list, err := f.m.ListBackups("Foo")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "after boss", list[0].Describe)
}

func TestBackupAllAndApplyAll(t *testing.T) {
	f := newFixture(t, withGames("Foo", "Bar"))
	f.write(t, "Foo.sav", "foo v1")
	f.write(t, "Bar.sav", "bar v1")

	created, err := f.m.BackupAll(context.Background())
	require.NoError(t, err)
	require.Len(t, created, 2)
	for _, b := range created {
		assert.Equal(t, DescribeBackupAll, b.Describe)
	}

	f.write(t, "Foo.sav", "foo v2")
	f.write(t, "Bar.sav", "bar v2")

	results, err := f.m.ApplyAll(context.Background())

	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "foo v1", f.read(t, "Foo.sav"))
	assert.Equal(t, "bar v1", f.read(t, "Bar.sav"))
}

func TestBackupAll_Cancelled(t *testing.T) {
	f := newFixture(t, withGames("Foo", "Bar"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	created, err := f.m.BackupAll(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, created)
}

func TestQuickActions_NoGame(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.m.QuickBackup(context.Background())
	assert.ErrorIs(t, err, ErrNoQuickActionGame)

	_, err = f.m.QuickApply(context.Background())
	assert.ErrorIs(t, err, ErrNoQuickActionGame)
}

func TestQuickBackupAndApply(t *testing.T) {
	foo := game("Foo")
	f := newFixture(t, func(cfg *models.Config) {
		withGames("Foo")(cfg)
		cfg.QuickAction.QuickActionGame = &foo
		cfg.Settings.ExtraBackupWhenApply = false
	})

	_, err := f.m.QuickApply(context.Background())
	require.ErrorIs(t, err, ErrNoBackups)

	f.write(t, "Foo.sav", "old")
	_, err = f.m.QuickBackup(context.Background())
	require.NoError(t, err)
	f.write(t, "Foo.sav", "new")
	b, err := f.m.QuickBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DescribeQuickBackup, b.Describe)

	ev := f.pub.find(models.CodeQuickBackup)
	require.NotNil(t, ev)
	assert.Equal(t, "Foo", ev.Context["game"])

	f.write(t, "Foo.sav", "broken")
	result, err := f.m.QuickApply(context.Background())

	require.NoError(t, err)
	assert.Equal(t, b.Date, result.Date)
	assert.Equal(t, "new", f.read(t, "Foo.sav"))
}

func TestSyncNowDelegates(t *testing.T) {
	f := newFixture(t, nil)

	report, err := f.m.SyncNow(context.Background(), models.TriggerManual)

	require.NoError(t, err)
	assert.Equal(t, models.TriggerManual, report.Trigger)
	assert.Equal(t, models.SyncIdle, f.m.SyncStatus().State)
}

func TestSaveConfig(t *testing.T) {
	f := newFixture(t, nil)
	cfg, err := f.m.Config()
	require.NoError(t, err)
	cfg.Settings.CloudSettings.Backend = webdav()
	cfg.Settings.CloudSettings.AutoSyncInterval = 15
	cfg.Games = append(cfg.Games, game("Foo"))

	require.NoError(t, f.m.SaveConfig(cfg))

	onDisk := f.onDisk(t)
	assert.Equal(t, models.BackendWebDAV, onDisk.Settings.CloudSettings.Backend.Get().Kind())
	require.Len(t, f.syncer.reloads, 1)
	assert.Equal(t, uint64(15), f.syncer.reloads[0].AutoSyncInterval)
	require.Len(t, f.sched.reloads, 1)
	assert.Len(t, f.sched.reloads[0].Games, 1)
	assert.NotNil(t, f.pub.find(models.CodeConfigSaved))
}

func TestSaveConfig_InvalidIsRejected(t *testing.T) {
	f := newFixture(t, withGames("Foo"))
	cfg, err := f.m.Config()
	require.NoError(t, err)
	cfg.Games = append(cfg.Games, game("Foo"))

	err = f.m.SaveConfig(cfg)

	require.Error(t, err)
	assert.Empty(t, f.syncer.reloads)
	current, err := f.m.Config()
	require.NoError(t, err)
	assert.Len(t, current.Games, 1)
}

func TestResetSettings(t *testing.T) {
	f := newFixture(t, func(cfg *models.Config) {
		withGames("Foo")(cfg)
		cfg.Settings.Locale = "en_US"
		cfg.Settings.CloudSettings.Backend = webdav()
	})

	require.NoError(t, f.m.ResetSettings())

	cfg := f.onDisk(t)
	assert.Equal(t, config.DefaultSettings().Locale, cfg.Settings.Locale)
	assert.Equal(t, models.BackendDisabled, cfg.Settings.CloudSettings.Backend.Get().Kind())
	assert.Len(t, cfg.Games, 1)
	assert.Len(t, f.syncer.reloads, 1)
}

func TestFavorites(t *testing.T) {
	f := newFixture(t, withGames("Foo"))
	tree, err := f.m.Favorites()
	require.NoError(t, err)
	folder, err := tree.AddFolder("", "RPG")
	require.NoError(t, err)
	_, err = tree.AddGame(folder, "Foo")
	require.NoError(t, err)

	require.NoError(t, f.m.SetFavorites(tree))

	cfg := f.onDisk(t)
	require.Len(t, cfg.Favorites, 1)
	assert.Equal(t, "RPG", cfg.Favorites[0].Label)
	require.NotNil(t, cfg.Favorites[0].Children)
	assert.Len(t, *cfg.Favorites[0].Children, 1)
}

func TestCheckBackend_RejectsBadCredentials(t *testing.T) {
	f := newFixture(t, nil)

	err := f.m.CheckBackend(context.Background(), models.S3Backend{Bucket: "saves"})

	assert.True(t, models.IsFatalBackend(err))
}

func badS3() models.S3Backend {
	return models.S3Backend{Bucket: "saves", Region: "eu-central-1", AccessKeyID: "AKIA BAD", SecretAccessKey: "secret"}
}

func TestSaveConfig_UnusableBackendIsNotSaved(t *testing.T) {
	f := newFixture(t, nil)
	cfg, err := f.m.Config()
	require.NoError(t, err)
	cfg.Settings.CloudSettings.Backend = models.BackendConfig{Backend: badS3()}

	err = f.m.SaveConfig(cfg)

	var credErr *models.CredentialError
	require.ErrorAs(t, err, &credErr)
	assert.Equal(t, "access_key_id", credErr.Field)
	assert.Equal(t, models.BackendDisabled, f.onDisk(t).Settings.CloudSettings.Backend.Get().Kind())
	current, err := f.m.Config()
	require.NoError(t, err)
	assert.Equal(t, models.BackendDisabled, current.Settings.CloudSettings.Backend.Get().Kind())
	assert.Empty(t, f.syncer.reloads)
}

func TestNew_UnusableBackendOnDiskKeepsLocalActionsWorking(t *testing.T) {
	dir := t.TempDir()
	saves := t.TempDir()
	path := filepath.Join(dir, "GameSaveManager.config.json")
	cfg := config.Default()
	cfg.BackupPath = filepath.Join(dir, "save_data")
	cfg.Games = []models.Game{game("Foo")}
	cfg.Settings.CloudSettings.Backend = models.BackendConfig{Backend: badS3()}
	require.NoError(t, config.NewStore(path, testLogger()).Save(cfg))

	m, err := New(testLogger(), &models.AgentOptions{ConfigFile: path, Root: saves})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	status := m.SyncStatus()
	assert.Equal(t, models.SyncFailed, status.State)
	assert.True(t, models.IsFatalBackend(status.LastError))

	require.NoError(t, os.WriteFile(filepath.Join(saves, "Foo.sav"), []byte("one"), 0o644))
	b, err := m.CreateBackup(context.Background(), "Foo", "")
	require.NoError(t, err)
	_, err = m.ApplyBackup(context.Background(), "Foo", b.Date)
	require.NoError(t, err)

	_, err = m.SyncNow(context.Background(), models.TriggerManual)
	assert.True(t, models.IsFatalBackend(err))

	fixed, err := m.Config()
	require.NoError(t, err)
	fixed.Settings.CloudSettings.Backend = models.BackendConfig{Backend: models.DisabledBackend{}}
	require.NoError(t, m.SaveConfig(fixed))
	assert.Equal(t, models.SyncDisabled, m.SyncStatus().State)
}

func TestMergeGames(t *testing.T) {
	f := newFixture(t, withGames("Foo"))
	remoteFoo := game("Foo")
	remoteFoo.SavePaths[0].Path = "elsewhere.sav"

	added, err := f.m.MergeGames([]models.Game{remoteFoo, game("Bar"), game("bad/name")})

	require.NoError(t, err)
	assert.Equal(t, []string{"Bar"}, added)
	cfg := f.onDisk(t)
	require.Len(t, cfg.Games, 2)
	assert.Equal(t, "Foo.sav", cfg.Games[0].SavePaths[0].Path, "known games keep their local definition")
	assert.DirExists(t, filepath.Join(cfg.BackupPath, "Bar"))

	added, err = f.m.MergeGames([]models.Game{game("Bar")})
	require.NoError(t, err)
	assert.Empty(t, added)
}

// newMachine builds a manager the way the CLI does, pointed at davURL.
func newMachine(t *testing.T, davURL string, games ...models.Game) (*Impl, string) {
	t.Helper()
	dir := t.TempDir()
	saves := t.TempDir()
	path := filepath.Join(dir, "GameSaveManager.config.json")

	cfg := config.Default()
	cfg.BackupPath = filepath.Join(dir, "save_data")
	cfg.Games = append([]models.Game{}, games...)
	cfg.Settings.ExtraBackupWhenApply = false
	cfg.Settings.CloudSettings.AlwaysSync = false
	cfg.Settings.CloudSettings.Backend = models.BackendConfig{Backend: models.WebDAVBackend{
		Endpoint: davURL, Username: "sync", Password: "secret",
	}}
	require.NoError(t, config.NewStore(path, testLogger()).Save(cfg))

	m, err := New(testLogger(), &models.AgentOptions{
		ConfigFile: path,
		Root:       saves,
		Sync:       models.SyncOptions{RetryAttempts: 1},
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, saves
}

func TestSync_SecondMachineRestoresGameItNeverConfigured(t *testing.T) {
	dav := &xwebdav.Handler{FileSystem: xwebdav.NewMemFS(), LockSystem: xwebdav.NewMemLS()}
	nas := httptest.NewServer(dav)
	t.Cleanup(nas.Close)
	ctx := context.Background()

	hk := models.Game{
		Name:      "Hollow Knight",
		SavePaths: []models.SaveUnit{{UnitType: models.SaveUnitFolder, Path: "hk"}},
	}
	desktop, desktopSaves := newMachine(t, nas.URL, hk)
	laptop, laptopSaves := newMachine(t, nas.URL)

	require.NoError(t, os.MkdirAll(filepath.Join(desktopSaves, "hk"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(desktopSaves, "hk", "user1.dat"), []byte("greenpath"), 0o644))
	b, err := desktop.CreateBackup(ctx, "Hollow Knight", "before hornet")
	require.NoError(t, err)

	report, err := desktop.SyncNow(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Len(t, report.Uploaded, 1)
	assert.True(t, report.CatalogUploaded)

	report, err = laptop.SyncNow(ctx, models.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hollow Knight"}, report.GamesImported)
	assert.Len(t, report.Downloaded, 1)
	assert.False(t, report.CatalogUploaded)

	list, err := laptop.ListBackups("Hollow Knight")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "before hornet", list[0].Describe)

	_, err = laptop.ApplyBackup(ctx, "Hollow Knight", b.Date)
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(laptopSaves, "hk", "user1.dat"))
	require.NoError(t, err)
	assert.Equal(t, "greenpath", string(data))

	cfg, err := laptop.Config()
	require.NoError(t, err)
	require.Len(t, cfg.Games, 1)
	assert.Equal(t, hk.SavePaths, cfg.Games[0].SavePaths)
}
