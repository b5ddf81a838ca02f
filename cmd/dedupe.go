package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/dedup"
	"github.com/kozaktomas/album-curator/internal/quality"
	"github.com/kozaktomas/album-curator/internal/stages"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe <photo-dir>",
	Short: "Find near-duplicate photos in a directory",
	Long: `Group near-duplicate photos of a directory by perceptual hash, verify
candidate pairs and print each group with its elected representative.
Thresholds default to the curation catalog and can be overridden.`,
	Args: cobra.ExactArgs(1),
	RunE: runDedupe,
}

func init() {
	rootCmd.AddCommand(dedupeCmd)

	dedupeCmd.Flags().Int("phash", 0, "pHash Hamming threshold (0 = catalog default)")
	dedupeCmd.Flags().Int("dhash", -1, "dHash Hamming threshold (-1 = catalog default)")
	dedupeCmd.Flags().Int("whash", -1, "wHash Hamming threshold (-1 = catalog default)")
	dedupeCmd.Flags().Float64("ssim", -1, "SSIM verification threshold (-1 = catalog default)")
	dedupeCmd.Flags().Bool("no-verify", false, "Skip SSIM verification")
	dedupeCmd.Flags().String("out", "", "Write dedupe records as JSONL to this file")
	dedupeCmd.Flags().Bool("all", false, "Also list photos without duplicates")
	dedupeCmd.Flags().Int("workers", 0, "Parallel workers (default from DEDUPE_WORKERS)")
}

// dedupeConfig applies flag overrides on top of the catalog defaults.
func dedupeConfig(cmd *cobra.Command, cfg *config.Config) (dedup.Config, error) {
	c := stages.DedupConfig(&cfg.Curation, labWorkers(cmd, cfg))
	if v := mustGetInt(cmd, "phash"); v > 0 {
		c.PHashThreshold = v
	}
	if v := mustGetInt(cmd, "dhash"); v >= 0 {
		c.DHashThreshold = &v
	}
	if v := mustGetInt(cmd, "whash"); v >= 0 {
		c.WHashThreshold = &v
	}
	if v := mustGetFloat64(cmd, "ssim"); v >= 0 {
		c.SSIMThreshold = &v
	}
	if mustGetBool(cmd, "no-verify") {
		c.SSIMThreshold = nil
		c.UseHistogram = false
	}
	return c, c.Validate()
}

func runDedupe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	dcfg, err := dedupeConfig(cmd, cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	analysis, err := analyzeDir(ctx, args[0], dcfg.Workers, stages.QualityThresholds(&cfg.Curation))
	if err != nil {
		return err
	}
	byPath := make(map[string]quality.Record, len(analysis.Quality))
	for _, r := range analysis.Quality {
		byPath[r.Path] = r
	}

	var verifier dedup.Verifier
	if v := dedup.NewImageVerifier(dcfg); v != nil {
		verifier = v
	}
	res, err := dedup.Run(ctx, analysis.Assets, byPath, dcfg, verifier)
	if err != nil {
		return err
	}

	all := mustGetBool(cmd, "all")
	for gid, members := range res.Groups {
		if len(members) < 2 && !all {
			continue
		}
		rep := res.Representatives[gid]
		fmt.Printf("Group %d (%d photos)\n", gid, len(members))
		for _, i := range dedup.RankMembers(members, rep, analysis.Assets, byPath) {
			marker := " "
			if i == rep {
				marker = "*"
			}
			q := byPath[analysis.Assets[i].Path]
			fmt.Printf("  %s %-40s sharpness %8.1f  %s\n", marker, truncate(analysis.Assets[i].Path, 40), q.Sharpness, verdict(q))
		}
	}

	st := res.Stats
	fmt.Printf("\n%d photos in %d groups (%d duplicate sets)\n", st.Assets, st.Groups, st.DuplicateSets)
	fmt.Printf("Candidate pairs: %d, verified: %d, rejected by verification: %d\n",
		st.CandidatePairs, st.VerifiedPairs, st.RejectedPairs)

	if out := mustGetString(cmd, "out"); out != "" {
		if err := dedup.WriteRecords(out, res.Records); err != nil {
			return err
		}
		fmt.Printf("Records written to %s\n", out)
	}
	return nil
}
