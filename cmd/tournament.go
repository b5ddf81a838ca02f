package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/pipeline"
	"github.com/kozaktomas/album-curator/internal/tournament"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

var tournamentCmd = &cobra.Command{
	Use:   "tournament",
	Short: "Inspect album tournaments",
}

var tournamentReplayCmd = &cobra.Command{
	Use:   "replay <album-id>",
	Short: "Rebuild a tournament state from its match log",
	Long: `Rebuild the tournament of an album from its seeds and recorded matches
and report whether the derived ratings, quotas and stop state agree with
the stored document. Use --write to replace the stored state.`,
	Args: cobra.ExactArgs(1),
	RunE: runTournamentReplay,
}

func init() {
	rootCmd.AddCommand(tournamentCmd)
	tournamentCmd.AddCommand(tournamentReplayCmd)

	tournamentReplayCmd.Flags().String("data-dir", "", "Root of album workspaces (default from DATA_DIR)")
	tournamentReplayCmd.Flags().Bool("write", false, "Replace the stored state with the replayed one")
}

func runTournamentReplay(cmd *cobra.Command, args []string) error {
	albumID := args[0]
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
	l := workspace.New(dataDir, albumID)

	stored, err := tournament.Load(l.TournamentState())
	if err != nil {
		return fmt.Errorf("load tournament: %w", err)
	}
	replayed, err := tournament.Replay(stored)
	if err != nil {
		return err
	}

	diffs := diffStates(stored, replayed)
	fmt.Printf("Replayed %d matches over %d clusters\n", replayed.TotalMatches, len(replayed.Clusters))
	if replayed.Done {
		fmt.Printf("Tournament done: %s\n", replayed.StopReason)
	}
	if len(diffs) == 0 {
		fmt.Println("Stored state matches the replay")
	} else {
		fmt.Printf("%d differences:\n", len(diffs))
		for _, d := range diffs {
			fmt.Printf("  %s\n", d)
		}
	}

	if mustGetBool(cmd, "write") && len(diffs) > 0 {
		if err := tournament.Save(l.TournamentState(), replayed); err != nil {
			return err
		}
		fmt.Printf("State written to %s\n", l.TournamentState())
	}
	return nil
}

// diffStates lists the derived fields that disagree between two states of
// the same seeds.
func diffStates(a, b *tournament.State) []string {
	var diffs []string
	if a.Done != b.Done || a.StopReason != b.StopReason {
		diffs = append(diffs, fmt.Sprintf("stop: stored %v %q, replay %v %q", a.Done, a.StopReason, b.Done, b.StopReason))
	}
	if a.TotalKeepActual != b.TotalKeepActual {
		diffs = append(diffs, fmt.Sprintf("total keep: stored %d, replay %d", a.TotalKeepActual, b.TotalKeepActual))
	}
	for _, rc := range b.Clusters {
		sc, ok := a.Cluster(rc.ClusterID)
		if !ok {
			diffs = append(diffs, fmt.Sprintf("cluster %d missing from stored state", rc.ClusterID))
			continue
		}
		if diff := sc.Elo - rc.Elo; diff > 1e-6 || diff < -1e-6 {
			diffs = append(diffs, fmt.Sprintf("cluster %d elo: stored %.3f, replay %.3f", rc.ClusterID, sc.Elo, rc.Elo))
		}
		if sc.Wins != rc.Wins || sc.Losses != rc.Losses {
			diffs = append(diffs, fmt.Sprintf("cluster %d record: stored %d-%d, replay %d-%d",
				rc.ClusterID, sc.Wins, sc.Losses, rc.Wins, rc.Losses))
		}
		if sc.KeepCount != rc.KeepCount {
			diffs = append(diffs, fmt.Sprintf("cluster %d keep: stored %d, replay %d", rc.ClusterID, sc.KeepCount, rc.KeepCount))
		}
	}
	return diffs
}
