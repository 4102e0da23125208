package main

import (
	"os"
	"strings"

	"github.com/fgeck/savekeeper/internal/config"
	"github.com/fgeck/savekeeper/internal/models"
	"github.com/fgeck/savekeeper/internal/services/manager"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Global flags.
	optionsFile string
	configPath  string
	verbose     bool
	quiet       bool
	jsonOutput  bool
)

var rootCmd = &cobra.Command{
	Use:   "savekeeper",
	Short: "Back up game saves and sync them to WebDAV or S3",
	Long: `savekeeper keeps versioned snapshots of your game saves and mirrors them
to a remote backend:
  - Zip snapshots per game with a Backups.json index
  - Restore with an optional safety snapshot of the current saves
  - Additive sync to WebDAV or S3-compatible storage
  - Scheduled auto sync and timed quick backups (daemon)
  - Wake-on-LAN for a sleeping NAS, Telegram notifications

Use the subcommands for one-shot actions or "daemon" to keep running.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage: true,
	Version:      Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&optionsFile, "options", "o", "", "agent options file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (JSON), overrides the options file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(gameCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(quickCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadOptions reads the options file, or the defaults when none is given.
func loadOptions() (*models.AgentOptions, error) {
	parser := config.NewParser()

	var (
		opts *models.AgentOptions
		err  error
	)
	if optionsFile != "" {
		opts, err = parser.LoadFile(optionsFile)
	} else {
		opts, err = parser.LoadDefaults()
	}
	if err != nil {
		log.Error().Err(err).Str("file", optionsFile).Msg("failed to load options")
		return nil, err
	}

	if configPath != "" {
		opts.ConfigFile = configPath
	}
	return opts, nil
}

// openManager loads the options and the config and wires the services.
// The caller must Close the manager.
func openManager() (*manager.Impl, *models.AgentOptions, error) {
	opts, err := loadOptions()
	if err != nil {
		return nil, nil, err
	}

	m, err := manager.New(log.Logger, opts)
	if err != nil {
		log.Error().Err(err).Str("config", opts.ConfigFile).Msg("failed to load config")
		return nil, nil, err
	}
	return m, opts, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
