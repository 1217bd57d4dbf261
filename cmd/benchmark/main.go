package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"myroom/config"
	"myroom/internal/adapter/embedding"
	"myroom/internal/adapter/retriever"
	"myroom/internal/adapter/store"
	"myroom/internal/domain"
	"myroom/internal/port"
)

var categories = []string{"chair", "table", "sofa", "lamp", "bed", "desk", "shelf", "cabinet"}

func main() {
	dir := flag.String("dir", ".", "directory holding myroom.yaml")
	synthetic := flag.Int("synthetic", 0, "benchmark a temporary catalog of this many mock entries instead of the configured one")
	dim := flag.Int("dim", 512, "embedding dimension for -synthetic")
	query := flag.String("q", "oak dining chair", "text query")
	category := flag.String("category", "", "category filter")
	topK := flag.Int("k", 10, "number of results")
	iterations := flag.Int("n", 200, "searches per mode")
	flag.Parse()

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	var embedder port.Embedder
	if *synthetic > 0 {
		tmp, err := os.MkdirTemp("", "myroom-bench-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating temp dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)

		cfg.Store.Dir = tmp
		cfg.Store.Dimension = *dim
		cfg.Store.AdvisoryLock = false
		embedder = embedding.NewMockEmbedder(*dim)
	} else {
		embedder, err = embedding.New(cfg.Embedding, cfg.Store.Dimension)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Embedder init failed: %v\n", err)
			os.Exit(1)
		}
	}

	repo, err := store.NewRepository(cfg.Store, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening catalog: %v\n", err)
		os.Exit(1)
	}

	if *synthetic > 0 {
		start := time.Now()
		if err := populate(ctx, repo, embedder, *synthetic); err != nil {
			fmt.Fprintf(os.Stderr, "Error building synthetic catalog: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Built synthetic catalog of %d entries in %s\n\n", *synthetic, time.Since(start).Round(time.Millisecond))
	}

	snap, err := repo.Snapshot(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading catalog: %v\n", err)
		os.Exit(1)
	}
	stats := snap.Stats()
	if stats.LiveItems == 0 {
		fmt.Fprintln(os.Stderr, "Catalog is empty; use -synthetic N to benchmark a generated one")
		os.Exit(1)
	}

	engine := retriever.NewEngine(repo, embedder, logger, retriever.WithTopK(*topK, *topK))
	image := []byte(*query)

	fmt.Println("SEARCH LATENCY BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Entries: %d live / %d slots (generation %d)\n", stats.LiveItems, stats.TotalSlots, stats.Generation)
	fmt.Printf("Model: %s, dimension %d\n", embedder.ModelName(), embedder.Dimension())
	fmt.Printf("Query: %q  category: %q  k: %d  iterations: %d\n", *query, *category, *topK, *iterations)
	fmt.Println(strings.Repeat("-", 70))

	modes := []struct {
		name string
		run  func() domain.SearchResponse
	}{
		{"text", func() domain.SearchResponse { return engine.SearchByText(ctx, *query, *topK, *category) }},
		{"image", func() domain.SearchResponse { return engine.SearchByImage(ctx, image, *topK, *category) }},
		{"hybrid", func() domain.SearchResponse { return engine.HybridSearch(ctx, *query, image, *topK, *category) }},
	}

	for _, m := range modes {
		durations := make([]time.Duration, 0, *iterations)
		var last domain.SearchResponse
		for i := 0; i < *iterations; i++ {
			start := time.Now()
			last = m.run()
			durations = append(durations, time.Since(start))
		}
		if last.Status == domain.SearchWarning {
			fmt.Printf("%-7s warning: %s\n", m.name, last.Warning)
			continue
		}

		top := 0.0
		if len(last.Results) > 0 {
			top = last.Results[0].Score
		}
		fmt.Printf("%-7s p50 %-10s p95 %-10s p99 %-10s results %d  top %.3f\n",
			m.name,
			percentile(durations, 50), percentile(durations, 95), percentile(durations, 99),
			len(last.Results), top)
	}
	fmt.Println(strings.Repeat("=", 70))
}

// populate inserts n mock entries in one persisted generation.
func populate(ctx context.Context, repo *store.Repository, embedder port.Embedder, n int) error {
	rng := rand.New(rand.NewSource(1))
	return repo.Mutate(ctx, "benchmark", func(s *store.CatalogStore) (bool, error) {
		for i := 1; i <= n; i++ {
			category := categories[rng.Intn(len(categories))]
			ref := fmt.Sprintf("https://cdn.example.com/%s/%06d.jpg", category, i)
			vec, err := embedder.EmbedImage(ctx, []byte(ref))
			if err != nil {
				return false, err
			}
			meta := domain.EntryMeta{
				CatalogID:      int64(i),
				SourceImageRef: ref,
				DisplayName:    fmt.Sprintf("%06d.jpg", i),
				OwnerID:        int64(1 + rng.Intn(50)),
				Visible:        rng.Intn(10) > 0,
			}
			if _, err := s.Insert(vec, category, meta); err != nil {
				return false, err
			}
		}
		return true, nil
	})
}

func percentile(ds []time.Duration, p int) time.Duration {
	sorted := append([]time.Duration(nil), ds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := (len(sorted)*p + 99) / 100
	if idx > 0 {
		idx--
	}
	return sorted[idx].Round(time.Microsecond)
}
