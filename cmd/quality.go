package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/dedup"
	"github.com/kozaktomas/album-curator/internal/quality"
	"github.com/kozaktomas/album-curator/internal/stages"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

var qualityCmd = &cobra.Command{
	Use:   "quality <photo-dir>",
	Short: "Assess sharpness and exposure of a directory of photos",
	Long: `Compute the sharpness and exposure metrics of every image in a directory
and report which photos would be flagged or rejected. Nothing is moved.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuality,
}

func init() {
	rootCmd.AddCommand(qualityCmd)

	qualityCmd.Flags().String("out", "", "Write records as JSONL to this file")
	qualityCmd.Flags().Bool("rejected-only", false, "Only list rejected photos")
	qualityCmd.Flags().Int("workers", 0, "Parallel workers (default from DEDUPE_WORKERS)")
}

// newProgressBar returns the progress bar used by the lab commands.
func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
}

// analyzeDir decodes every image of dir once, reporting progress on a bar.
func analyzeDir(ctx context.Context, dir string, workers int, th quality.Thresholds) (*dedup.Analysis, error) {
	files, err := workspace.ListImages(dir)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	inputs := make([]dedup.Input, len(files))
	for i, f := range files {
		inputs[i] = dedup.Input{Path: filepath.Base(f), File: f}
	}

	bar := newProgressBar(len(inputs), "Analyzing photos")
	analysis, err := dedup.Analyze(ctx, inputs, workers, th, func() { _ = bar.Add(1) })
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		return nil, err
	}
	for _, f := range analysis.Failures {
		fmt.Printf("Warning: %v\n", f)
	}
	return analysis, nil
}

func labWorkers(cmd *cobra.Command, cfg *config.Config) int {
	if n := mustGetInt(cmd, "workers"); n > 0 {
		return n
	}
	return cfg.Server.Workers
}

func runQuality(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	th := stages.QualityThresholds(&cfg.Curation)
	analysis, err := analyzeDir(ctx, args[0], labWorkers(cmd, cfg), th)
	if err != nil {
		return err
	}

	records := append([]quality.Record(nil), analysis.Quality...)
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })

	rejectedOnly := mustGetBool(cmd, "rejected-only")
	var rejected, blurry, under, over int
	fmt.Printf("%-40s %9s %7s %6s %6s  %s\n", "PHOTO", "SHARPNESS", "MEAN", "LOW", "HIGH", "VERDICT")
	for _, r := range records {
		if r.Rejected {
			rejected++
		}
		if r.Blurry {
			blurry++
		}
		if r.Underexposed {
			under++
		}
		if r.Overexposed {
			over++
		}
		if rejectedOnly && !r.Rejected {
			continue
		}
		fmt.Printf("%-40s %9.1f %7.1f %6.3f %6.3f  %s\n",
			truncate(r.Path, 40), r.Sharpness, r.Mean, r.PctLow, r.PctHigh, verdict(r))
	}
	fmt.Printf("\n%d photos: %d rejected, %d blurry, %d underexposed, %d overexposed\n",
		len(records), rejected, blurry, under, over)

	if out := mustGetString(cmd, "out"); out != "" {
		if err := quality.WriteRecords(out, records); err != nil {
			return err
		}
		fmt.Printf("Records written to %s\n", out)
	}
	return nil
}

func verdict(r quality.Record) string {
	if r.Rejected {
		return "rejected (" + r.RejectReason + ")"
	}
	var flags []string
	if r.Blurry {
		flags = append(flags, "blurry")
	}
	if r.Underexposed {
		flags = append(flags, "dark")
	}
	if r.Overexposed {
		flags = append(flags, "bright")
	}
	if len(flags) == 0 {
		return "ok"
	}
	return strings.Join(flags, ", ")
}
