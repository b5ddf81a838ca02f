package cmd

import (
	"context"
	"fmt"

	"github.com/kozaktomas/album-curator/internal/ai"
	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/database/postgres"
	"github.com/kozaktomas/album-curator/internal/embedding"
	"github.com/kozaktomas/album-curator/internal/stages"
	"github.com/kozaktomas/album-curator/internal/workspace"
)

// backends holds the collaborators shared by every stage executor.
type backends struct {
	cfg     *config.Config
	cluster embedding.Provider
	style   embedding.Provider
	namer   ai.Namer
	pool    *postgres.Pool
}

// openBackends connects the embedding server, the optional shared vector
// store and the optional cluster namer.
func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{cfg: cfg}

	var cluster, style embedding.Provider
	cluster = embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.ClusterModel, cfg.Embedding.BatchSize)
	style = embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.StyleModel, cfg.Embedding.BatchSize)

	if cfg.Database.URL != "" {
		pool, err := postgres.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		b.pool = pool
		repo := postgres.NewEmbeddingRepository(pool)
		cluster = embedding.NewStoreProvider(cluster, repo)
		style = embedding.NewStoreProvider(style, repo)
	}
	b.cluster = cluster
	b.style = style

	namer, err := ai.NewNamer(ctx, &cfg.LLM)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.namer = namer
	return b, nil
}

// executor returns a stage executor for one album workspace.
func (b *backends) executor(l workspace.Layout) *stages.Executor {
	e := &stages.Executor{
		Layout:          l,
		Catalog:         &b.cfg.Curation,
		Workers:         b.cfg.Server.Workers,
		ClusterProvider: b.cluster,
		StyleProvider:   b.style,
	}
	if b.namer != nil {
		e.Namer = b.namer
	}
	return e
}

// describe prints which optional backends are active.
func (b *backends) describe() {
	fmt.Printf("Embedding server: %s (cluster %s, style %s)\n",
		b.cfg.Embedding.URL, b.cfg.Embedding.ClusterModel, b.cfg.Embedding.StyleModel)
	if b.pool != nil {
		fmt.Printf("Shared embedding store enabled (PostgreSQL)\n")
	}
	if b.namer != nil {
		fmt.Printf("Cluster names refined by %s\n", b.namer.Name())
	}
}

// usage prints the tokens the namer spent, if any.
func (b *backends) usage() {
	if b.namer == nil {
		return
	}
	if u := b.namer.GetUsage(); u != nil && (u.InputTokens > 0 || u.OutputTokens > 0) {
		fmt.Printf("%s usage: %d input tokens, %d output tokens\n", b.namer.Name(), u.InputTokens, u.OutputTokens)
	}
}

func (b *backends) Close() {
	if b.pool != nil {
		if err := b.pool.Close(); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
	}
}
