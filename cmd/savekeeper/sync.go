package main

import (
	"fmt"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync backups with the cloud backend",
}

var syncNowCmd = &cobra.Command{
	Use:   "now",
	Short: "Run one sync pass",
	Long: `Run one sync pass. Sync is additive: backups missing on either side are
copied over, conflicting copies are resolved by creation time, and nothing is
ever deleted.`,
	Args: cobra.NoArgs,
	RunE: syncNow,
}

var syncCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the configured backend is reachable",
	Args:  cobra.NoArgs,
	RunE:  syncCheck,
}

var syncConfigureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Set the cloud backend and sync options",
	Args:  cobra.NoArgs,
	RunE:  syncConfigure,
}

var backendFlags struct {
	kind            string
	endpoint        string
	username        string
	password        string
	bucket          string
	region          string
	accessKeyID     string
	secretAccessKey string
	root            string
	alwaysSync      bool
	interval        uint64
	skipCheck       bool
}

func init() {
	f := syncConfigureCmd.Flags()
	f.StringVar(&backendFlags.kind, "type", "", "backend type: Disabled, WebDAV or S3")
	f.StringVar(&backendFlags.endpoint, "endpoint", "", "WebDAV URL or S3 endpoint")
	f.StringVar(&backendFlags.username, "username", "", "WebDAV username")
	f.StringVar(&backendFlags.password, "password", "", "WebDAV password")
	f.StringVar(&backendFlags.bucket, "bucket", "", "S3 bucket")
	f.StringVar(&backendFlags.region, "region", "", "S3 region")
	f.StringVar(&backendFlags.accessKeyID, "access-key-id", "", "S3 access key ID")
	f.StringVar(&backendFlags.secretAccessKey, "secret-access-key", "", "S3 secret access key")
	f.StringVar(&backendFlags.root, "root", "", "remote folder holding the backups")
	f.BoolVar(&backendFlags.alwaysSync, "always", false, "sync after every backup change")
	f.Uint64Var(&backendFlags.interval, "interval", 0, "minutes between automatic syncs in daemon mode, 0 disables")
	f.BoolVar(&backendFlags.skipCheck, "skip-check", false, "save without checking the backend")

	syncCmd.AddCommand(syncNowCmd, syncCheckCmd, syncConfigureCmd)
}

func syncNow(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := signalContext()
	defer cancel()

	report, err := m.SyncNow(ctx, models.TriggerManual)
	if err != nil {
		log.Error().
			Err(err).
			Str("game", report.FailedGame).
			Str("key", report.FailedKey).
			Msg("sync failed")
		return err
	}
	if report.Disabled {
		fmt.Fprintln(cmd.OutOrStdout(), "cloud backend is disabled")
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "uploaded:   %d\n", len(report.Uploaded))
	fmt.Fprintf(out, "downloaded: %d\n", len(report.Downloaded))
	for _, c := range report.Conflicts {
		fmt.Fprintf(out, "conflict:   %s %s (%s copy kept)\n", c.Game, c.Date, c.Winner)
	}
	return nil
}

func syncCheck(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	cfg, err := m.Config()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	backend := cfg.Settings.CloudSettings.Backend.Get()
	if err := m.CheckBackend(ctx, backend); err != nil {
		log.Error().Err(err).Str("backend", string(backend.Kind())).Msg("backend check failed")
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s backend is reachable\n", backend.Kind())
	return nil
}

func buildBackend(cmd *cobra.Command, current models.Backend) (models.Backend, error) {
	if !cmd.Flags().Changed("type") {
		return current, nil
	}
	switch models.BackendKind(backendFlags.kind) {
	case models.BackendDisabled:
		return models.DisabledBackend{}, nil
	case models.BackendWebDAV:
		return models.WebDAVBackend{
			Endpoint: backendFlags.endpoint,
			Username: backendFlags.username,
			Password: backendFlags.password,
		}, nil
	case models.BackendS3:
		return models.S3Backend{
			Endpoint:        backendFlags.endpoint,
			Bucket:          backendFlags.bucket,
			Region:          backendFlags.region,
			AccessKeyID:     backendFlags.accessKeyID,
			SecretAccessKey: backendFlags.secretAccessKey,
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend type %q", backendFlags.kind)
	}
}

func syncConfigure(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	cfg, err := m.Config()
	if err != nil {
		return err
	}
	cloud := &cfg.Settings.CloudSettings

	backend, err := buildBackend(cmd, cloud.Backend.Get())
	if err != nil {
		return err
	}
	cloud.Backend = models.BackendConfig{Backend: backend}

	flags := cmd.Flags()
	if flags.Changed("root") {
		cloud.RootPath = backendFlags.root
	}
	if flags.Changed("always") {
		cloud.AlwaysSync = backendFlags.alwaysSync
	}
	if flags.Changed("interval") {
		cloud.AutoSyncInterval = backendFlags.interval
	}

	if !backendFlags.skipCheck && backend.Kind() != models.BackendDisabled {
		ctx, cancel := signalContext()
		defer cancel()
		if err := m.CheckBackend(ctx, backend); err != nil {
			log.Error().Err(err).Msg("backend check failed, use --skip-check to save anyway")
			return err
		}
	}

	if err := m.SaveConfig(cfg); err != nil {
		log.Error().Err(err).Msg("failed to save config")
		return err
	}
	log.Info().Interface("cloud_settings", cloud.Sanitized()).Msg("cloud settings saved")
	return nil
}
