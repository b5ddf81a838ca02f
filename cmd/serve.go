package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/objectstore"
	"github.com/kozaktomas/album-curator/internal/photoprism"
	"github.com/kozaktomas/album-curator/internal/pipeline"
	"github.com/kozaktomas/album-curator/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the curation HTTP API",
	Long: `Start the HTTP API that accepts album uploads, runs the curation
stages in the background and serves results and the tournament.

Stages run as child processes of this binary unless STAGE_RUNNER=inprocess.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "Port to listen on (default from WEB_PORT or 8085)")
	serveCmd.Flags().String("host", "", "Host to bind to (default from WEB_HOST or 0.0.0.0)")
	serveCmd.Flags().String("data-dir", "", "Root of album workspaces (default from DATA_DIR)")
}

// applyServeFlags lets explicit flags override the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port != 0 {
		cfg.Server.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Server.Host = host
	}
	if dir := mustGetString(cmd, "data-dir"); dir != "" {
		cfg.Server.DataDir = dir
	}
}

// newStageRunner picks how stages are executed.
func newStageRunner(ctx context.Context, cfg *config.Config) (pipeline.StageRunner, func(), error) {
	switch cfg.Server.StageRunner {
	case "", "exec":
		fmt.Printf("Stages run as child processes\n")
		return &pipeline.ExecRunner{DataDir: cfg.Server.DataDir}, func() {}, nil
	case "inprocess":
		b, err := openBackends(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		b.describe()
		fmt.Printf("Stages run in-process\n")
		return &pipeline.InProcessRunner{NewExecutor: b.executor}, b.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown STAGE_RUNNER %q (use exec or inprocess)", cfg.Server.StageRunner)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyServeFlags(cmd, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := objectstore.New(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize object store: %w", err)
	}
	fmt.Printf("Object store: %s\n", store.Name())

	runner, closeRunner, err := newStageRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRunner()

	opts := pipeline.Options{
		DataDir:      cfg.Server.DataDir,
		Catalog:      &cfg.Curation,
		Store:        store,
		Runner:       runner,
		Retry:        objectstore.DefaultRetryPolicy(),
		ExportPrefix: cfg.Server.ExportPrefix,
	}
	opts.Retry.MaxAttempts = cfg.Storage.MaxAttempts
	if cfg.PhotoPrism.Enabled() {
		opts.Publisher = &photoprism.Publisher{
			URL:      cfg.PhotoPrism.URL,
			Username: cfg.PhotoPrism.Username,
			Password: cfg.PhotoPrism.Password,
		}
		fmt.Printf("Publishing to PhotoPrism at %s\n", cfg.PhotoPrism.URL)
	}
	orch := pipeline.New(opts)
	server := web.NewServer(cfg, orch)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Album Curator API on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
