package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myroom/config"
	"myroom/internal/adapter/broker"
	"myroom/internal/adapter/cache"
	"myroom/internal/port"
	"myroom/internal/usecase"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.Store.Dir = filepath.Join(dir, "catalog")
	cfg.Store.Dimension = 8
	cfg.Store.AdvisoryLock = false
	cfg.Embedding.Provider = "mock"
	cfg.Quality.Enabled = false
	cfg.Analyzer.Provider = "mock"
	cfg.Blob.Local.Dir = filepath.Join(dir, "assets")
	cfg.Broker.Transport = "memory"
	return cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenEmbedder_WrapsCache(t *testing.T) {
	cfg := testConfig(t)

	e, err := openEmbedder(cfg)
	require.NoError(t, err)
	_, cached := e.(*cache.CachedEmbedder)
	assert.True(t, cached)

	cfg.Search.CacheSize = 0
	e, err = openEmbedder(cfg)
	require.NoError(t, err)
	_, cached = e.(*cache.CachedEmbedder)
	assert.False(t, cached)
	assert.Equal(t, 8, e.Dimension())
}

func TestNewWorkers_Selection(t *testing.T) {
	cfg := testConfig(t)
	logger := discard()
	repo, err := openRepository(cfg, logger, nil)
	require.NoError(t, err)
	embedder, err := openEmbedder(cfg)
	require.NoError(t, err)
	channel := broker.NewMemory(broker.Bindings(cfg.Broker))
	defer channel.Close()

	ctx := context.Background()
	all, err := newWorkers(ctx, cfg, repo, channel, embedder, logger, nil, nil)
	require.NoError(t, err)
	queues := make([]string, 0, len(all))
	for _, w := range all {
		queues = append(queues, w.Queue())
	}
	assert.Equal(t, []string{
		cfg.Broker.Generation.Queue,
		cfg.Broker.MetadataUpdate.Queue,
		cfg.Broker.Delete.Queue,
		cfg.Broker.Recommendation.Queue,
	}, queues)

	some, err := newWorkers(ctx, cfg, repo, channel, embedder, logger, nil, []string{"delete", cfg.Broker.MetadataUpdate.Queue})
	require.NoError(t, err)
	assert.Len(t, some, 2)

	_, err = newWorkers(ctx, cfg, repo, channel, embedder, logger, nil, []string{"thumbnails"})
	assert.Error(t, err)
}

func TestRunWorkers_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	logger := discard()
	repo, err := openRepository(cfg, logger, nil)
	require.NoError(t, err)
	embedder, err := openEmbedder(cfg)
	require.NoError(t, err)
	channel := broker.NewMemory(broker.Bindings(cfg.Broker))
	defer channel.Close()

	workers, err := newWorkers(context.Background(), cfg, repo, channel, embedder, logger, nil, []string{"delete"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runWorkers(ctx, workers, logger) }()

	require.NoError(t, channel.Publish(ctx, cfg.Broker.Delete.RoutingKey, []byte(`{"catalog_ids":[404]}`)))
	require.Eventually(t, func() bool { return channel.Depth(cfg.Broker.Delete.Queue) == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestRunWorkers_ClosedChannelFails(t *testing.T) {
	cfg := testConfig(t)
	logger := discard()
	channel := broker.NewMemory(broker.Bindings(cfg.Broker))

	ack := usecase.HandlerFunc(func(context.Context, port.Delivery) error { return nil })
	w := usecase.NewWorker(channel, cfg.Broker.Delete.Queue, ack, logger, nil)

	done := make(chan error, 1)
	go func() { done <- runWorkers(context.Background(), []*usecase.Worker{w}, logger) }()
	require.NoError(t, channel.Close())

	select {
	case err := <-done:
		assert.Error(t, err, "a worker whose broker goes away is a failure")
	case <-time.After(2 * time.Second):
		t.Fatal("runWorkers did not return")
	}
}

func TestReadRequests(t *testing.T) {
	dir := t.TempDir()
	single := filepath.Join(dir, "one.json")
	require.NoError(t, os.WriteFile(single, []byte(
		`{"source_image_url":"https://cdn.example.com/a.jpg","owner_id":7,"catalog_id":101,"category":"chair"}`), 0o644))
	many := filepath.Join(dir, "many.json")
	require.NoError(t, os.WriteFile(many, []byte(`[
		{"source_image_url":"https://cdn.example.com/b.jpg","owner_id":7,"catalog_id":102},
		{"source_image_url":"https://cdn.example.com/c.jpg","owner_id":7,"catalog_id":103}
	]`), 0o644))
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"owner_id":7,"catalog_id":104}]`), 0o644))

	items, err := readRequests(single)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(101), items[0].req.CatalogID)
	assert.Equal(t, "chair", items[0].req.Category)

	items, err = readRequests(many)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.JSONEq(t,
		`{"source_image_url":"https://cdn.example.com/c.jpg","owner_id":7,"catalog_id":103}`,
		string(items[1].body))

	_, err = readRequests(bad)
	assert.ErrorContains(t, err, "request 0")
}
