package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/objectstore"
	"github.com/kozaktomas/album-curator/internal/pipeline"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

var runCmd = &cobra.Command{
	Use:   "run <photo-dir>",
	Short: "Curate a local directory of photos",
	Long: `Run the curation pipeline on the images of a local directory.

Without --moods the run stops after clustering and lists the available
moods. Pass one or two moods to score styles and seed the tournament.

Examples:
  album-curator run ./trip --album rome-2024
  album-curator run ./trip --album rome-2024 --moods "Classic & Timeless,Artistic Eye"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("album", "", "Album id (defaults to the directory name)")
	runCmd.Flags().String("data-dir", "", "Root of album workspaces (default from DATA_DIR)")
	runCmd.Flags().StringSlice("moods", nil, "One or two moods for style scoring")
	runCmd.Flags().Bool("force", false, "Recompute every stage")
	runCmd.Flags().Bool("export", false, "Export the curated selection when done")
}

// localUploads lists the images of dir as uploads of a local store rooted there.
func localUploads(dir string) ([]pipeline.UploadedFile, error) {
	paths, err := workspace.ListImages(dir)
	if err != nil {
		return nil, err
	}
	files := make([]pipeline.UploadedFile, len(paths))
	for i, p := range paths {
		name := filepath.Base(p)
		files[i] = pipeline.UploadedFile{Key: name, Name: name}
	}
	return files, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	albumID := mustGetString(cmd, "album")
	if albumID == "" {
		albumID = filepath.Base(dir)
	}
	if err := pipeline.ValidateAlbumID(albumID); err != nil {
		return err
	}
	moods := mustGetStringSlice(cmd, "moods")
	force := mustGetBool(cmd, "force")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if d := mustGetString(cmd, "data-dir"); d != "" {
		cfg.Server.DataDir = d
	}

	files, err := localUploads(dir)
	if err != nil {
		return fmt.Errorf("list photos: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", dir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	b.describe()

	orch := pipeline.New(pipeline.Options{
		DataDir: cfg.Server.DataDir,
		Catalog: &cfg.Curation,
		Store:   objectstore.NewLocalStore(dir),
		Runner:  &pipeline.InProcessRunner{NewExecutor: b.executor},
		Retry:   objectstore.RetryPolicy{MaxAttempts: 1},
	})
	go func() {
		<-ctx.Done()
		orch.Shutdown()
	}()

	fmt.Printf("Curating %d photos from %s as album %s\n", len(files), dir, albumID)

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("queued"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
	events := orch.Events().AddListener(albumID)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for ev := range events {
			if ev.Data == nil {
				continue
			}
			bar.Describe(string(ev.Data.Status))
			_ = bar.Set(int(ev.Data.Progress * 100))
		}
	}()

	_, err = orch.Start(ctx, albumID, files, force)
	if err == nil && len(moods) > 0 {
		_, err = orch.SubmitPreferences(ctx, albumID, moods, force)
	}
	orch.Wait()
	orch.Events().RemoveListener(albumID, events)
	<-drained
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	st, err := orch.Status(albumID)
	if err != nil {
		return err
	}
	printJobSummary(st)

	switch st.Status {
	case pipeline.StatusError:
		return fmt.Errorf("album %s failed: %s", albumID, st.Error)
	case pipeline.StatusWaitingForMoods:
		fmt.Println("\nPick one or two moods and rerun with --moods:")
		for _, m := range cfg.Curation.Moods {
			fmt.Printf("  %-24s %s\n", m.Name, m.Short)
		}
		return nil
	}

	if err := printClusters(orch, albumID); err != nil {
		return err
	}
	if mustGetBool(cmd, "export") {
		res, err := orch.Export(ctx, albumID, pipeline.ExportOptions{})
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		l, _ := orch.Layout(albumID)
		fmt.Printf("\nExported %d photos to %s\n", res.Count, l.Export())
	}
	return nil
}

func printJobSummary(st pipeline.JobState) {
	fmt.Printf("Status:       %s\n", st.Status)
	fmt.Printf("Workspace:    %s\n", st.Workspace)
	fmt.Printf("Staged:       %d\n", st.Counts[pipeline.CountStaged])
	fmt.Printf("Reduced pool: %d (%d groups)\n", st.Counts[pipeline.CountReducedPool], st.Counts[pipeline.CountGroups])
	if n := st.Counts[pipeline.CountClusters]; n > 0 {
		fmt.Printf("Clusters:     %d over %d images\n", n, st.Counts[pipeline.CountClusterImages])
	}
}

func printClusters(orch *pipeline.Orchestrator, albumID string) error {
	s, err := orch.Tournament(albumID)
	if err != nil {
		return err
	}
	fmt.Printf("\n%-4s %-40s %5s %7s %5s\n", "ID", "CLUSTER", "SIZE", "ELO", "KEEP")
	for _, id := range s.Ranking() {
		c, _ := s.Cluster(id)
		fmt.Printf("%-4d %-40s %5d %7.1f %5d\n", c.ClusterID, truncate(c.Name, 40), c.Size, c.Elo, c.KeepCount)
	}
	fmt.Printf("\nKeeping %d of %d images across %d clusters\n", s.TotalKeepActual, s.TotalImages, len(s.Clusters))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
