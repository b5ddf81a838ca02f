package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/pipeline"
	"github.com/kozaktomas/album-curator/internal/stages"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

var stageCmd = &cobra.Command{
	Use:    "stage <name>",
	Short:  "Run one curation stage against an album workspace",
	Long:   "Run one curation stage (" + strings.Join(stages.Names(), ", ") + ") against an album workspace. Used by the server to isolate heavy work in a child process.",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE:   runStage,
}

func init() {
	rootCmd.AddCommand(stageCmd)

	stageCmd.Flags().String("album", "", "Album id")
	stageCmd.Flags().String("data-dir", "", "Root of album workspaces (default from DATA_DIR)")
	stageCmd.Flags().Bool("force", false, "Recompute even when outputs are current")
	_ = stageCmd.MarkFlagRequired("album")
}

func runStage(cmd *cobra.Command, args []string) error {
	name := args[0]
	if !stages.Valid(name) {
		return fmt.Errorf("%w: %q", stages.ErrUnknownStage, name)
	}
	albumID := mustGetString(cmd, "album")
	if err := pipeline.ValidateAlbumID(albumID); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dataDir := mustGetString(cmd, "data-dir")
	if dataDir == "" {
		dataDir = cfg.Server.DataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	e := b.executor(workspace.New(dataDir, albumID))
	if err := e.Run(ctx, name, mustGetBool(cmd, "force")); err != nil {
		return err
	}
	b.usage()
	return nil
}
