package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var quickCmd = &cobra.Command{
	Use:   "quick",
	Short: "Quick actions on the selected quick action game",
}

var quickBackupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot the quick action game",
	Args:  cobra.NoArgs,
	RunE:  quickBackup,
}

var quickApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Restore the newest backup of the quick action game",
	Args:  cobra.NoArgs,
	RunE:  quickApply,
}

var quickSelectCmd = &cobra.Command{
	Use:   "select GAME",
	Short: "Choose the quick action game",
	Args:  cobra.ExactArgs(1),
	RunE:  quickSelect,
}

var quickInterval uint32

func init() {
	quickSelectCmd.Flags().Uint32Var(&quickInterval, "interval", 0,
		"minutes between timed quick backups in daemon mode, 0 disables")

	quickCmd.AddCommand(quickBackupCmd, quickApplyCmd, quickSelectCmd)
}

func quickBackup(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := signalContext()
	defer cancel()

	b, err := m.QuickBackup(ctx)
	if err != nil {
		log.Error().Err(err).Msg("quick backup failed")
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), b.Date)
	return nil
}

func quickApply(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := m.QuickApply(ctx)
	if err != nil {
		log.Error().Err(err).Msg("quick apply failed")
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", result.Date)
	return nil
}

func quickSelect(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	cfg, err := m.Config()
	if err != nil {
		return err
	}
	game, ok := cfg.FindGame(args[0])
	if !ok {
		return fmt.Errorf("unknown game %q", args[0])
	}
	selected := *game
	cfg.QuickAction.QuickActionGame = &selected
	if cmd.Flags().Changed("interval") {
		cfg.QuickAction.AutoBackupInterval = quickInterval
	}
	return m.SaveConfig(cfg)
}
