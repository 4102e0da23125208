package main

import (
	"fmt"
	"os"

	"github.com/fgeck/savekeeper/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the options and config files",
	Long:  `Validate the options file and the config file without touching any backup.`,
	Args:  cobra.NoArgs,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	opts, err := loadOptions()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(opts.ConfigFile)
	if err != nil {
		log.Error().Err(err).Str("file", opts.ConfigFile).Msg("failed to read config")
		return err
	}

	// Decode validates; nothing is written back.
	cfg, err := config.NewStore(opts.ConfigFile, log.Logger).Decode(data)
	if err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	out := cmd.OutOrStdout()
	cloud := cfg.Settings.CloudSettings
	fmt.Fprintln(out, "Configuration is valid!")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Summary:")
	fmt.Fprintf(out, "  Config: %s (version %s)\n", opts.ConfigFile, cfg.Version)
	fmt.Fprintf(out, "  Backup path: %s\n", cfg.BackupPath)
	fmt.Fprintf(out, "  Games: %d\n", len(cfg.Games))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Cloud:")
	fmt.Fprintf(out, "  Backend: %s\n", cloud.Backend.Get().Kind())
	fmt.Fprintf(out, "  Root path: %s\n", cloud.RootPath)
	fmt.Fprintf(out, "  Always sync: %v\n", cloud.AlwaysSync)
	fmt.Fprintf(out, "  Auto sync interval: %d minute(s)\n", cloud.AutoSyncInterval)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Optional Features:")
	fmt.Fprintf(out, "  Wake-on-LAN: %v\n", opts.WOL != nil)
	fmt.Fprintf(out, "  Telegram: %v\n", opts.Telegram != nil)
	fmt.Fprintf(out, "  Metrics: %v\n", opts.Metrics.Listen != "")
	if q := cfg.QuickAction.QuickActionGame; q != nil {
		fmt.Fprintf(out, "  Quick action game: %s (every %d minute(s))\n", q.Name, cfg.QuickAction.AutoBackupInterval)
	}

	if opts.WOL != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "WOL Configuration:")
		fmt.Fprintf(out, "  MAC Address: %s\n", opts.WOL.MACAddress)
		fmt.Fprintf(out, "  Broadcast IP: %s\n", opts.WOL.BroadcastIP)
		if opts.WOL.PollURL != "" {
			fmt.Fprintf(out, "  Poll URL: %s\n", opts.WOL.PollURL)
		}
	}

	if opts.Telegram != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Telegram Configuration:")
		fmt.Fprintf(out, "  Chat ID: %s\n", opts.Telegram.ChatID)
		fmt.Fprintf(out, "  Bot Token: (configured)\n")
	}

	return nil
}
