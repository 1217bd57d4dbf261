package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"myroom/config"
	"myroom/internal/adapter/analyzer"
	"myroom/internal/adapter/blob"
	"myroom/internal/adapter/broker"
	"myroom/internal/adapter/cache"
	"myroom/internal/adapter/embedding"
	"myroom/internal/adapter/fetch"
	"myroom/internal/adapter/generation"
	"myroom/internal/adapter/quality"
	"myroom/internal/adapter/retriever"
	"myroom/internal/adapter/store"
	"myroom/internal/metrics"
	"myroom/internal/port"
	"myroom/internal/usecase"
)

func openRepository(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*store.Repository, error) {
	repo, err := store.NewRepository(cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	repo.SetMetrics(m)
	return repo, nil
}

// openEmbedder returns the configured embedder, wrapped in a text-query
// cache when search.cache_size is positive.
func openEmbedder(cfg *config.Config) (port.Embedder, error) {
	e, err := embedding.New(cfg.Embedding, cfg.Store.Dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	if cfg.Search.CacheSize > 0 {
		return cache.NewCachedEmbedder(e, cache.NewEmbeddingCache(cfg.Search.CacheSize, cfg.Search.CacheTTL)), nil
	}
	return e, nil
}

func newEngine(cfg *config.Config, repo *store.Repository, embedder port.Embedder, logger *slog.Logger, m *metrics.Metrics) *retriever.Engine {
	return retriever.NewEngine(repo, embedder, logger,
		retriever.WithTopK(cfg.Search.DefaultTopK, cfg.Search.MaxTopK),
		retriever.WithMetrics(m),
	)
}

func newOrchestrator(ctx context.Context, cfg *config.Config, repo *store.Repository, channel port.MessageChannel,
	embedder port.Embedder, logger *slog.Logger, m *metrics.Metrics) (*usecase.GenerationOrchestrator, error) {
	gate, err := quality.New(cfg.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to create quality gate: %w", err)
	}
	blobs, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob store: %w", err)
	}

	deps := usecase.GenerationDeps{
		Fetcher:  fetch.NewHTTPFetcher(cfg.Fetch),
		Gate:     gate,
		Jobs:     generation.NewHTTPClient(cfg.Generation, logger),
		Blobs:    blobs,
		Embedder: embedder,
		Catalog:  repo,
		Channel:  channel,
	}
	return usecase.NewGenerationOrchestrator(deps, cfg, logger, m), nil
}

// newRecommender wires the room analyzer to text search. channel may be nil
// when only the REST endpoint uses the recommender.
func newRecommender(cfg *config.Config, searcher usecase.TextSearcher, channel port.MessageChannel,
	logger *slog.Logger, m *metrics.Metrics) (*usecase.Recommender, error) {
	a, err := analyzer.New(cfg.Analyzer, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create room analyzer: %w", err)
	}
	deps := usecase.RecommendationDeps{
		Fetcher:  fetch.NewHTTPFetcher(cfg.Fetch),
		Analyzer: a,
		Searcher: searcher,
		Channel:  channel,
	}
	return usecase.NewRecommender(deps, cfg, logger, m), nil
}

// newWorkers builds one worker per inbound queue. Queues not named in only
// are skipped unless only is empty.
func newWorkers(ctx context.Context, cfg *config.Config, repo *store.Repository, channel port.MessageChannel,
	embedder port.Embedder, logger *slog.Logger, m *metrics.Metrics, only []string) ([]*usecase.Worker, error) {
	orchestrator, err := newOrchestrator(ctx, cfg, repo, channel, embedder, logger, m)
	if err != nil {
		return nil, err
	}
	recommender, err := newRecommender(cfg, newEngine(cfg, repo, embedder, logger, m), channel, logger, m)
	if err != nil {
		return nil, err
	}

	handlers := []struct {
		name    string
		queue   string
		handler usecase.Handler
	}{
		{"generation", cfg.Broker.Generation.Queue, orchestrator},
		{"metadata_update", cfg.Broker.MetadataUpdate.Queue, usecase.NewMetadataUpdateHandler(repo, logger)},
		{"delete", cfg.Broker.Delete.Queue, usecase.NewDeleteHandler(repo, logger)},
		{"recommendation", cfg.Broker.Recommendation.Queue, recommender},
	}

	selected := map[string]bool{}
	for _, name := range only {
		selected[name] = true
	}

	var workers []*usecase.Worker
	for _, h := range handlers {
		if len(selected) > 0 && !selected[h.name] && !selected[h.queue] {
			continue
		}
		workers = append(workers, usecase.NewWorker(channel, h.queue, h.handler, logger, m))
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("no worker matches %v", only)
	}
	return workers, nil
}

var errDeliveriesClosed = errors.New("delivery stream closed")

// runWorkers runs every worker until ctx is done. The first worker to fail
// stops the others.
func runWorkers(ctx context.Context, workers []*usecase.Worker, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			err := w.Run(gctx)
			if gctx.Err() != nil {
				return nil
			}
			if err == nil {
				err = errDeliveriesClosed
			}
			logger.Error("worker failed", "queue", w.Queue(), "error", err)
			return fmt.Errorf("worker %s stopped: %w", w.Queue(), err)
		})
	}
	return g.Wait()
}

func openChannel(cfg *config.Config, logger *slog.Logger) (port.MessageChannel, error) {
	ch, err := broker.New(cfg.Broker, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	return ch, nil
}
