package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var backupDescribe string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list, restore and delete backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create GAME",
	Short: "Snapshot a game's saves",
	Args:  cobra.ExactArgs(1),
	RunE:  createBackup,
}

var backupListCmd = &cobra.Command{
	Use:   "list GAME",
	Short: "List a game's backups, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  listBackups,
}

var backupApplyCmd = &cobra.Command{
	Use:   "apply GAME DATE",
	Short: "Restore a backup over the game's saves",
	Args:  cobra.ExactArgs(2),
	RunE:  applyBackup,
}

var backupDeleteCmd = &cobra.Command{
	Use:   "delete GAME DATE",
	Short: "Delete a local backup (the remote copy is kept)",
	Args:  cobra.ExactArgs(2),
	RunE:  deleteBackup,
}

var backupDescribeCmd = &cobra.Command{
	Use:   "describe GAME DATE TEXT",
	Short: "Change a backup's description",
	Args:  cobra.ExactArgs(3),
	RunE:  describeBackup,
}

var backupAllCmd = &cobra.Command{
	Use:   "all",
	Short: "Snapshot every game",
	Args:  cobra.NoArgs,
	RunE:  backupAll,
}

var backupApplyAllCmd = &cobra.Command{
	Use:   "apply-all",
	Short: "Restore the newest backup of every game",
	Args:  cobra.NoArgs,
	RunE:  applyAll,
}

func init() {
	backupCreateCmd.Flags().StringVarP(&backupDescribe, "describe", "d", "", "backup description")

	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupApplyCmd, backupDeleteCmd,
		backupDescribeCmd, backupAllCmd, backupApplyAllCmd)
}

func createBackup(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := signalContext()
	defer cancel()

	b, err := m.CreateBackup(ctx, args[0], backupDescribe)
	if err != nil {
		log.Error().Err(err).Str("game", args[0]).Msg("backup failed")
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), b.Date)
	return nil
}

func listBackups(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	list, err := m.ListBackups(args[0])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tSIZE\tDESCRIBE")
	for _, b := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\n", b.Date, b.Size, b.Describe)
	}
	return w.Flush()
}

func applyBackup(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := signalContext()
	defer cancel()

	result, err := m.ApplyBackup(ctx, args[0], args[1])
	if result != nil {
		for _, u := range result.Applied {
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", u.Target)
		}
		if result.ExtraBackup != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "previous saves kept in %s\n", result.ExtraBackup)
		}
	}
	if err != nil {
		log.Error().Err(err).Str("game", args[0]).Str("date", args[1]).Msg("restore failed")
		return err
	}
	return nil
}

func deleteBackup(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := signalContext()
	defer cancel()

	return m.DeleteBackup(ctx, args[0], args[1])
}

func describeBackup(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	return m.SetBackupDescribe(args[0], args[1], args[2])
}

func backupAll(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := signalContext()
	defer cancel()

	created, err := m.BackupAll(ctx)
	for _, b := range created {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.Date, b.Path)
	}
	if err != nil {
		log.Error().Err(err).Msg("some backups failed")
	}
	return err
}

func applyAll(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := signalContext()
	defer cancel()

	results, err := m.ApplyAll(ctx)
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.Game, r.Date)
	}
	if err != nil {
		log.Error().Err(err).Msg("some restores failed")
	}
	return err
}
