package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "album-curator",
	Short: "Curate a travel album from a pile of uploaded photos",
	Long: `Album Curator reduces an album upload to its best distinct photos,
groups what is left into style clusters and lets a human decide how much
of each cluster to keep through a short pairwise tournament.

Run "serve" for the HTTP API or "run" to curate a local directory.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
