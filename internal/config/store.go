package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/fgeck/savekeeper/internal/fsutil"
	"github.com/fgeck/savekeeper/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog"
)

// Store loads and saves the JSON application config.
type Store struct {
	path     string
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewStore creates a store for the config file at path.
func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:     path,
		validate: newValidator(),
		logger:   logger,
	}
}

// Path returns the config file location.
func (s *Store) Path() string {
	return s.path
}

// Default returns a config with every default applied.
func Default() *models.Config {
	cfg := &models.Config{}
	if err := defaults.Set(cfg); err != nil {
		// Only malformed default tags can fail here.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	cfg.Games = []models.Game{}
	cfg.Favorites = []models.FavoriteTreeNode{}
	cfg.Settings.CloudSettings.Backend = models.BackendConfig{Backend: models.DisabledBackend{}}
	return cfg
}

// DefaultSettings returns the default user settings.
func DefaultSettings() models.Settings {
	return Default().Settings
}

// Load reads the config file, creating it with defaults when missing. A config
// written by another version is copied to <path>.bak and rewritten with the
// current version.
func (s *Store) Load() (*models.Config, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info().Str("file", s.path).Msg("config file not found, creating default")
		cfg := Default()
		if err := s.Save(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, &models.ConfigError{Path: s.path, Err: err}
	}

	cfg, err := s.Decode(data)
	if err != nil {
		return nil, err
	}

	if cfg.Version != models.ConfigVersion {
		s.logger.Warn().
			Str("from", cfg.Version).
			Str("to", models.ConfigVersion).
			Msg("config version changed, keeping a backup of the old file")

		if err := fsutil.CopyFile(s.path, s.path+".bak"); err != nil {
			return nil, &models.ConfigError{Path: s.path, Err: err}
		}
		cfg.Version = models.ConfigVersion
		if err := s.Save(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Decode parses and validates config JSON. Missing fields take their defaults.
func (s *Store) Decode(data []byte) (*models.Config, error) {
	cfg := &models.Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, &models.ConfigError{Path: s.path, Err: fmt.Errorf("applying defaults: %w", err)}
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, &models.ConfigError{Path: s.path, Err: fmt.Errorf("parsing: %w", err)}
	}
	if cfg.Games == nil {
		cfg.Games = []models.Game{}
	}
	if cfg.Favorites == nil {
		cfg.Favorites = []models.FavoriteTreeNode{}
	}
	if err := s.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save validates cfg and replaces the file atomically. An invalid config is
// never written.
func (s *Store) Save(cfg *models.Config) error {
	if err := s.Validate(cfg); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return &models.ConfigError{Path: s.path, Err: fmt.Errorf("encoding: %w", err)}
	}

	if err := fsutil.WriteFile(s.path, data, 0o600); err != nil {
		return &models.ConfigError{Path: s.path, Err: err}
	}

	s.logger.Debug().
		Str("file", s.path).
		Int("games", len(cfg.Games)).
		Interface("cloud", cfg.Settings.CloudSettings.Sanitized()).
		Msg("config saved")

	return nil
}

// Validate checks cfg, including that the configured backend carries every
// field its type requires.
func (s *Store) Validate(cfg *models.Config) error {
	if cfg == nil {
		return &models.ConfigError{Path: s.path, Err: fmt.Errorf("configuration is nil")}
	}

	if err := s.validate.Struct(cfg); err != nil {
		return &models.ConfigError{Path: s.path, Err: describe(err)}
	}

	backend := cfg.Settings.CloudSettings.Backend.Get()
	if err := s.validate.Struct(backend); err != nil {
		return &models.ConfigError{
			Path: s.path,
			Err:  fmt.Errorf("backend %s: %w", backend.Kind(), describe(err)),
		}
	}

	if cfg.QuickAction.QuickActionGame != nil {
		if _, ok := cfg.FindGame(cfg.QuickAction.QuickActionGame.Name); !ok {
			return &models.ConfigError{
				Path: s.path,
				Err:  fmt.Errorf("quick_action.quick_action_game: unknown game %q", cfg.QuickAction.QuickActionGame.Name),
			}
		}
	}

	return nil
}

// Clone returns a deep copy of cfg.
func Clone(cfg *models.Config) (*models.Config, error) {
	out := &models.Config{}
	if err := copier.CopyWithOption(out, cfg, copier.Option{DeepCopy: true}); err != nil {
		return nil, fmt.Errorf("copying config: %w", err)
	}
	out.Settings.CloudSettings.Backend = cfg.Settings.CloudSettings.Backend
	return out, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		node := sl.Current().Interface().(models.FavoriteTreeNode)
		if node.IsLeaf != (node.Children == nil) {
			sl.ReportError(node.Children, "children", "Children", "leaf_children", "")
		}
	}, models.FavoriteTreeNode{})

	v.RegisterStructValidation(func(sl validator.StructLevel) {
		cfg := sl.Current().Interface().(models.Config)
		seen := make(map[string]struct{})
		var walk func(nodes []models.FavoriteTreeNode) bool
		walk = func(nodes []models.FavoriteTreeNode) bool {
			for _, n := range nodes {
				if _, dup := seen[n.NodeID]; dup {
					return false
				}
				seen[n.NodeID] = struct{}{}
				if n.Children != nil && !walk(*n.Children) {
					return false
				}
			}
			return true
		}
		if !walk(cfg.Favorites) {
			sl.ReportError(cfg.Favorites, "favorites", "Favorites", "unique_node_id", "")
		}
	}, models.Config{})

	return v
}

// describe flattens validator errors into one readable error.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
