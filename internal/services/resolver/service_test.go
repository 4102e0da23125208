package resolver

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "saves", "slot1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "saves", "slot1", "data.sav"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "settings.ini"), []byte("y"), 0o644))
	return root
}

func TestResolve_RelativeAndAbsolute(t *testing.T) {
	root := setupTree(t)
	svc := New(testLogger(), root)

	game := models.Game{
		Name: "Foo",
		SavePaths: []models.SaveUnit{
			{UnitType: models.SaveUnitFolder, Path: "saves"},
			{UnitType: models.SaveUnitFile, Path: filepath.Join(root, "settings.ini")},
		},
	}

	plan, err := svc.Resolve(game)

	require.NoError(t, err)
	require.Len(t, plan.Units, 2)
	assert.Empty(t, plan.Missing)
	assert.Equal(t, filepath.Join(root, "saves"), plan.Units[0].AbsPath)
	assert.Equal(t, "0_saves", plan.Units[0].EntryName)
	assert.Equal(t, filepath.Join(root, "settings.ini"), plan.Units[1].AbsPath)
	assert.Equal(t, "1_settings.ini", plan.Units[1].EntryName)
}

func TestResolve_RelativeToGamePath(t *testing.T) {
	root := setupTree(t)
	svc := New(testLogger(), "/nonexistent")
	exe := filepath.Join(root, "game.exe")

	game := models.Game{
		Name:      "Foo",
		GamePath:  &exe,
		SavePaths: []models.SaveUnit{{UnitType: models.SaveUnitFile, Path: "settings.ini"}},
	}

	plan, err := svc.Resolve(game)

	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, filepath.Join(root, "settings.ini"), plan.Units[0].AbsPath)
}

func TestResolve_ExpandsEnv(t *testing.T) {
	root := setupTree(t)
	t.Setenv("FOO_SAVE_ROOT", root)
	svc := New(testLogger(), "/nonexistent")

	game := models.Game{
		Name:      "Foo",
		SavePaths: []models.SaveUnit{{UnitType: models.SaveUnitFolder, Path: "$FOO_SAVE_ROOT/saves"}},
	}

	plan, err := svc.Resolve(game)

	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, filepath.Join(root, "saves"), plan.Units[0].AbsPath)
}

func TestResolve_MissingIsSoftWarning(t *testing.T) {
	root := setupTree(t)
	svc := New(testLogger(), root)

	game := models.Game{
		Name: "Foo",
		SavePaths: []models.SaveUnit{
			{UnitType: models.SaveUnitFolder, Path: "gone"},
			{UnitType: models.SaveUnitFile, Path: "settings.ini"},
		},
	}

	plan, err := svc.Resolve(game)

	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	require.Len(t, plan.Missing, 1)
	assert.Equal(t, 0, plan.Missing[0].Index)
	assert.Equal(t, 1, plan.Units[0].Index)
	require.Len(t, plan.Warnings, 1)
	assert.Equal(t, models.CodeSaveUnitMissing, plan.Warnings[0].Code)
	assert.Equal(t, models.EventWarning, plan.Warnings[0].Kind)
}

func TestResolve_TypeMismatch(t *testing.T) {
	root := setupTree(t)
	svc := New(testLogger(), root)

	tests := []struct {
		name string
		unit models.SaveUnit
	}{
		{"file unit is a directory", models.SaveUnit{UnitType: models.SaveUnitFile, Path: "saves"}},
		{"folder unit is a file", models.SaveUnit{UnitType: models.SaveUnitFolder, Path: "settings.ini"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Resolve(models.Game{Name: "Foo", SavePaths: []models.SaveUnit{tt.unit}})

			var perr *models.PathResolutionError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "Foo", perr.Game)
		})
	}
}

func TestResolve_StatError(t *testing.T) {
	svc := NewWithStat(testLogger(), "/games", func(string) (fs.FileInfo, error) {
		return nil, fs.ErrPermission
	})

	_, err := svc.Resolve(models.Game{Name: "Foo", SavePaths: []models.SaveUnit{{UnitType: models.SaveUnitFile, Path: "a"}}})

	var perr *models.PathResolutionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, filepath.Join("/games", "a"), perr.Path)
}

func TestResolveRestore(t *testing.T) {
	root := setupTree(t)
	svc := New(testLogger(), root)

	game := models.Game{
		Name: "Foo",
		SavePaths: []models.SaveUnit{
			{UnitType: models.SaveUnitFolder, Path: "saves", DeleteBeforeApply: true},
			{UnitType: models.SaveUnitFile, Path: "not-yet-there.ini"},
		},
	}

	plan, err := svc.ResolveRestore(game)

	require.NoError(t, err)
	assert.Len(t, plan.Units, 2)
	require.Len(t, plan.DeleteFirst, 1)
	assert.Equal(t, filepath.Join(root, "saves"), plan.DeleteFirst[0].AbsPath)
}

func TestResolveRestore_TypeMismatch(t *testing.T) {
	root := setupTree(t)
	svc := New(testLogger(), root)

	_, err := svc.ResolveRestore(models.Game{
		Name:      "Foo",
		SavePaths: []models.SaveUnit{{UnitType: models.SaveUnitFile, Path: "saves"}},
	})

	var perr *models.PathResolutionError
	assert.True(t, errors.As(err, &perr))
}

func TestEntryName_RoundTrip(t *testing.T) {
	name := EntryName(12, "/home/u/My Saves")
	assert.Equal(t, "12_My Saves", name)

	i, ok := ParseEntryName(name)
	assert.True(t, ok)
	assert.Equal(t, 12, i)

	_, ok = ParseEntryName("manifest.json")
	assert.False(t, ok)
	_, ok = ParseEntryName("x_file")
	assert.False(t, ok)
}
