package main

import (
	"fmt"

	"github.com/fgeck/savekeeper/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	gameFiles        []string
	gameFolders      []string
	gamePath         string
	gameDeleteBefore bool
)

var gameCmd = &cobra.Command{
	Use:   "game",
	Short: "Manage the games whose saves are backed up",
}

var gameAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Register a game and its save files or folders",
	Long: `Register a game. Relative save paths are resolved against the game path
when one is given, otherwise against the root from the options file.`,
	Args: cobra.ExactArgs(1),
	RunE: addGame,
}

var gameDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Remove a game and its local backups (remote copies are kept)",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteGame,
}

var gameListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered games",
	Args:  cobra.NoArgs,
	RunE:  listGames,
}

func init() {
	gameAddCmd.Flags().StringSliceVar(&gameFiles, "file", nil, "save file (repeatable)")
	gameAddCmd.Flags().StringSliceVar(&gameFolders, "folder", nil, "save folder (repeatable)")
	gameAddCmd.Flags().StringVar(&gamePath, "game-path", "", "game install folder")
	gameAddCmd.Flags().BoolVar(&gameDeleteBefore, "delete-before-apply", false,
		"clear save units before restoring")

	gameCmd.AddCommand(gameAddCmd, gameDeleteCmd, gameListCmd)
}

func addGame(cmd *cobra.Command, args []string) error {
	game := models.Game{Name: args[0]}
	for _, p := range gameFiles {
		game.SavePaths = append(game.SavePaths, models.SaveUnit{
			UnitType: models.SaveUnitFile, Path: p, DeleteBeforeApply: gameDeleteBefore,
		})
	}
	for _, p := range gameFolders {
		game.SavePaths = append(game.SavePaths, models.SaveUnit{
			UnitType: models.SaveUnitFolder, Path: p, DeleteBeforeApply: gameDeleteBefore,
		})
	}
	if len(game.SavePaths) == 0 {
		return fmt.Errorf("at least one --file or --folder is required")
	}
	if gamePath != "" {
		game.GamePath = &gamePath
	}

	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.AddGame(game); err != nil {
		log.Error().Err(err).Str("game", game.Name).Msg("failed to add game")
		return err
	}
	return nil
}

func deleteGame(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.DeleteGame(args[0]); err != nil {
		log.Error().Err(err).Str("game", args[0]).Msg("failed to delete game")
		return err
	}
	return nil
}

func listGames(cmd *cobra.Command, args []string) error {
	m, _, err := openManager()
	if err != nil {
		return err
	}
	defer m.Close()

	cfg, err := m.Config()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, g := range cfg.Games {
		fmt.Fprintf(out, "%s\n", g.Name)
		if g.GamePath != nil {
			fmt.Fprintf(out, "  game path: %s\n", *g.GamePath)
		}
		for _, u := range g.SavePaths {
			fmt.Fprintf(out, "  %-6s %s\n", u.UnitType, u.Path)
		}
	}
	return nil
}
