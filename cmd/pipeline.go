package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/face-finder/internal/analysis"
	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database/postgres"
	"github.com/kozaktomas/face-finder/internal/faces"
	"github.com/kozaktomas/face-finder/internal/faces/dlib"
	"github.com/kozaktomas/face-finder/internal/video"
)

// pipeline bundles the components an analysis needs.
type pipeline struct {
	registry *faces.Registry
	embedder *faces.Embedder
	analyzer *analysis.Analyzer
}

// newLoader selects the model backend named by the configuration.
func newLoader(cfg *config.Config, logger *slog.Logger) (faces.Loader, error) {
	switch cfg.Models.Backend {
	case config.BackendDlib:
		return &dlib.Loader{Dir: cfg.Models.Dir, CNN: cfg.Models.CNN, Logger: logger}, nil
	case config.BackendRemote:
		return faces.NewRemoteLoader(cfg.Models.EmbeddingURL, nil), nil
	default:
		return nil, fmt.Errorf("unknown models backend %q", cfg.Models.Backend)
	}
}

// newPipeline wires the registry, embedder, sampler and analyzer. The models
// are not loaded yet.
func newPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline, error) {
	loader, err := newLoader(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := faces.NewRegistry(loader, logger)
	embedder := faces.NewEmbedder(registry, cfg.Analysis.MaxImageSize)
	sampler := video.NewSampler(cfg.Analysis.FFmpegPath, cfg.Analysis.FFprobePath, logger)

	analyzer := analysis.New(embedder, sampler, analysis.Config{
		Interval:  cfg.Analysis.SampleInterval,
		Threshold: cfg.Analysis.MatchThreshold,
		Timeout:   cfg.Analysis.Timeout,
		Workers:   cfg.Analysis.Workers,
		TempDir:   cfg.Analysis.TempDir,
	}, logger)

	return &pipeline{registry: registry, embedder: embedder, analyzer: analyzer}, nil
}

// openHistory connects to the run history database. It returns nil values
// when DATABASE_URL is not set.
func openHistory(ctx context.Context, cfg *config.Config) (*postgres.Pool, *postgres.RunRepository, error) {
	if cfg.Database.URL == "" {
		return nil, nil, nil
	}
	pool, err := postgres.Open(ctx, &cfg.Database, newLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return pool, postgres.NewRunRepository(pool), nil
}
