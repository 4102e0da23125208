// Package config loads the agent options file and persists the application
// Config.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/spf13/viper"
)

// DefaultConfigFile is used when the options do not name a config file.
const DefaultConfigFile = "./GameSaveManager.config.json"

// Parser handles agent options parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new options parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SAVEKEEPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Parser{v: v}
}

// LoadFile loads options from a file path.
func (p *Parser) LoadFile(path string) (*models.AgentOptions, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading options file: %w", err)
	}

	return p.parse()
}

// LoadReader loads options from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AgentOptions, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading options: %w", err)
	}

	return p.parse()
}

// LoadDefaults returns the options used when no options file is given.
// Environment variables (SAVEKEEPER_SYNC_BANDWIDTH_LIMIT, ...) still apply.
func (p *Parser) LoadDefaults() (*models.AgentOptions, error) {
	return p.parse()
}

//nolint:gocognit,gocyclo // parsing options requires checking many fields
func (p *Parser) parse() (*models.AgentOptions, error) {
	opts := &models.AgentOptions{
		ConfigFile: p.expandEnv(p.v.GetString("config_file")),
		Root:       p.expandEnv(p.v.GetString("root")),
	}

	if opts.ConfigFile == "" {
		opts.ConfigFile = DefaultConfigFile
	}
	if opts.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		opts.Root = wd
	}

	// Parse sync options.
	opts.Sync = models.SyncOptions{
		BandwidthLimit:  p.v.GetInt64("sync.bandwidth_limit"),
		RetryAttempts:   p.v.GetInt("sync.retry_attempts"),
		RetryInitial:    p.v.GetDuration("sync.retry_initial"),
		RetryMaxElapsed: p.v.GetDuration("sync.retry_max_elapsed"),
	}

	if opts.Sync.BandwidthLimit < 0 {
		return nil, fmt.Errorf("sync.bandwidth_limit must not be negative")
	}
	if opts.Sync.RetryAttempts < 0 {
		return nil, fmt.Errorf("sync.retry_attempts must not be negative")
	}
	if opts.Sync.RetryAttempts == 0 {
		opts.Sync.RetryAttempts = 3
	}
	if opts.Sync.RetryInitial == 0 {
		opts.Sync.RetryInitial = 500 * time.Millisecond
	}
	if opts.Sync.RetryMaxElapsed == 0 {
		opts.Sync.RetryMaxElapsed = time.Minute
	}

	// Parse backup options.
	opts.Backup = models.BackupOptions{
		MinFreeBytes:   p.v.GetUint64("backup.min_free_bytes"),
		ExtraBackupMax: p.v.GetInt("backup.extra_backup_max"),
	}
	if opts.Backup.ExtraBackupMax <= 0 {
		opts.Backup.ExtraBackupMax = 5
	}

	opts.Metrics = models.MetricsOptions{
		Listen: p.v.GetString("metrics.listen"),
	}

	// Parse optional WOL config.
	if p.v.IsSet("wol") { //nolint:nestif // config parsing with defaults
		opts.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			PollURL:       p.v.GetString("wol.poll_url"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if opts.WOL.MACAddress == "" {
			return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
		}

		if opts.WOL.BroadcastIP == "" {
			opts.WOL.BroadcastIP = "255.255.255.255"
		}
		if opts.WOL.Timeout == 0 {
			opts.WOL.Timeout = 5 * time.Minute
		}
		if opts.WOL.PollInterval == 0 {
			opts.WOL.PollInterval = 10 * time.Second
		}
		if opts.WOL.StabilizeWait == 0 {
			opts.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("telegram") {
		opts.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
			MinKind:  models.EventKind(p.v.GetString("telegram.min_kind")),
		}

		if opts.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if opts.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
		switch opts.Telegram.MinKind {
		case "", models.EventInfo, models.EventSuccess, models.EventWarning, models.EventError:
		default:
			return nil, fmt.Errorf("telegram.min_kind must be one of: Info, Success, Warning, Error")
		}
	}

	return opts, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}
