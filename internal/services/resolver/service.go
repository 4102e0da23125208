// Package resolver maps a game's declared save units to paths on disk.
package resolver

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for save unit resolution.
type Service interface {
	Resolve(game models.Game) (*models.ResolvePlan, error)
	ResolveRestore(game models.Game) (*models.RestorePlan, error)
}

// StatFunc allows mocking filesystem lookups.
type StatFunc func(name string) (fs.FileInfo, error)

// Impl implements the resolver Service interface.
type Impl struct {
	root   string
	stat   StatFunc
	logger zerolog.Logger
}

// New creates a resolver. Relative save paths of games without a game path
// are resolved against root.
func New(logger zerolog.Logger, root string) *Impl {
	return &Impl{root: root, stat: os.Stat, logger: logger}
}

// NewWithStat creates a resolver with a custom stat function (for testing).
func NewWithStat(logger zerolog.Logger, root string, stat StatFunc) *Impl {
	return &Impl{root: root, stat: stat, logger: logger}
}

// Resolve plans a snapshot of game. Units whose source is missing are listed
// in plan.Missing and skipped; a unit whose type does not match what is on
// disk fails the whole plan.
func (s *Impl) Resolve(game models.Game) (*models.ResolvePlan, error) {
	plan := &models.ResolvePlan{Game: game.Name}

	for i, unit := range game.SavePaths {
		ru := s.resolveUnit(game, i, unit)

		info, err := s.stat(ru.AbsPath)
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().
				Str("game", game.Name).
				Str("path", ru.AbsPath).
				Msg("save unit not found, skipping")
			plan.Missing = append(plan.Missing, ru)
			plan.Warnings = append(plan.Warnings, models.NewEvent(models.EventWarning, models.CodeSaveUnitMissing,
				"game", game.Name, "path", ru.AbsPath))
			continue
		}
		if err != nil {
			return nil, &models.PathResolutionError{Game: game.Name, Path: ru.AbsPath, Reason: err.Error()}
		}
		if err := checkType(game.Name, ru, info); err != nil {
			return nil, err
		}

		plan.Units = append(plan.Units, ru)
	}

	s.logger.Debug().
		Str("game", game.Name).
		Int("units", len(plan.Units)).
		Int("missing", len(plan.Missing)).
		Msg("save units resolved")

	return plan, nil
}

// ResolveRestore plans the targets of a restore. Targets need not exist yet;
// those that exist must match their unit type.
func (s *Impl) ResolveRestore(game models.Game) (*models.RestorePlan, error) {
	plan := &models.RestorePlan{Game: game.Name}

	for i, unit := range game.SavePaths {
		ru := s.resolveUnit(game, i, unit)

		info, err := s.stat(ru.AbsPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, &models.PathResolutionError{Game: game.Name, Path: ru.AbsPath, Reason: err.Error()}
		default:
			if err := checkType(game.Name, ru, info); err != nil {
				return nil, err
			}
		}

		plan.Units = append(plan.Units, ru)
		if unit.DeleteBeforeApply {
			plan.DeleteFirst = append(plan.DeleteFirst, ru)
		}
	}

	return plan, nil
}

func (s *Impl) resolveUnit(game models.Game, index int, unit models.SaveUnit) models.ResolvedUnit {
	abs := s.absPath(game, unit.Path)
	return models.ResolvedUnit{
		Index:     index,
		Unit:      unit,
		AbsPath:   abs,
		EntryName: EntryName(index, abs),
	}
}

func (s *Impl) absPath(game models.Game, p string) string {
	p = expandHome(os.ExpandEnv(p))
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	base := s.root
	if game.GamePath != nil && *game.GamePath != "" {
		base = filepath.Dir(expandHome(os.ExpandEnv(*game.GamePath)))
	}
	return filepath.Join(base, p)
}

func checkType(game string, ru models.ResolvedUnit, info fs.FileInfo) error {
	switch {
	case ru.Unit.UnitType == models.SaveUnitFile && info.IsDir():
		return &models.PathResolutionError{Game: game, Path: ru.AbsPath, Reason: "declared as file but is a directory"}
	case ru.Unit.UnitType == models.SaveUnitFolder && !info.IsDir():
		return &models.PathResolutionError{Game: game, Path: ru.AbsPath, Reason: "declared as folder but is not a directory"}
	}
	return nil
}

// EntryName is the archive name of the unit at index. The index prefix keeps
// units with the same base name apart.
func EntryName(index int, absPath string) string {
	base := filepath.Base(absPath)
	if base == string(filepath.Separator) || base == "." {
		base = "root"
	}
	return fmt.Sprintf("%d_%s", index, base)
}

// ParseEntryName returns the unit index encoded in an archive entry name.
func ParseEntryName(name string) (int, bool) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(prefix)
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
