package models

// ConfigVersion is the version written into new configuration files.
const ConfigVersion = "1.3.2"

// Config is the persisted application state: games, settings and favorites.
// It is loaded once at startup, mutated in memory and saved explicitly.
type Config struct {
	Version     string              `json:"version" default:"1.3.2" validate:"required"`
	BackupPath  string              `json:"backup_path" default:"./save_data" validate:"required"`
	Games       []Game              `json:"games" validate:"unique=Name,dive"`
	Settings    Settings            `json:"settings"`
	Favorites   []FavoriteTreeNode  `json:"favorites" validate:"dive"`
	QuickAction QuickActionSettings `json:"quick_action"`
}

// FindGame returns the game named name.
func (c *Config) FindGame(name string) (*Game, bool) {
	for i := range c.Games {
		if c.Games[i].Name == name {
			return &c.Games[i], true
		}
	}
	return nil, false
}

// Sanitized returns a shallow copy with cloud credentials masked.
func (c Config) Sanitized() Config {
	c.Settings.CloudSettings = c.Settings.CloudSettings.Sanitized()
	return c
}

// Settings holds user preferences.
type Settings struct {
	PromptWhenNotDescribed     bool          `json:"prompt_when_not_described"`
	ExtraBackupWhenApply       bool          `json:"extra_backup_when_apply" default:"true"`
	ShowEditButton             bool          `json:"show_edit_button"`
	PromptWhenAutoBackup       bool          `json:"prompt_when_auto_backup" default:"true"`
	CloudSettings              CloudSettings `json:"cloud_settings"`
	ExitToTray                 bool          `json:"exit_to_tray" default:"true"`
	Locale                     string        `json:"locale" default:"zh_SIMPLIFIED"`
	DefaultDeleteBeforeApply   bool          `json:"default_delete_before_apply"`
	DefaultExpendFavoritesTree bool          `json:"default_expend_favorites_tree"`
	HomePage                   string        `json:"home_page" default:"/home"`
	LogToFile                  bool          `json:"log_to_file" default:"true"`
	AddNewToFavorites          bool          `json:"add_new_to_favorites"`
}

// QuickAction names what a hotkey does.
type QuickAction string

const (
	QuickActionApply  QuickAction = "Apply"
	QuickActionBackup QuickAction = "Backup"
)

// QuickActionSettings configures the one-click backup of a chosen game.
type QuickActionSettings struct {
	QuickActionGame    *Game       `json:"quick_action_game"`
	Hotkeys            [][2]string `json:"hotkeys"`              // [key, QuickAction]
	AutoBackupInterval uint32      `json:"auto_backup_interval"` // minutes, 0 disables
}

// FavoriteTreeNode is the on-disk shape of the favorites tree.
// A leaf has no children; a folder always has a (possibly empty) list.
type FavoriteTreeNode struct {
	NodeID   string              `json:"node_id"`
	Label    string              `json:"label"`
	IsLeaf   bool                `json:"is_leaf"`
	Children *[]FavoriteTreeNode `json:"children" validate:"omitempty,dive"`
}
