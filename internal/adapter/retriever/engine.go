package retriever

import (
	"context"
	"log/slog"
	"strings"

	"myroom/internal/adapter/store"
	"myroom/internal/domain"
	"myroom/internal/metrics"
	"myroom/internal/port"
)

// SnapshotSource yields the latest persisted catalog. Callers treat the
// returned store as read-only.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*store.CatalogStore, error)
}

// Engine answers text, image and hybrid similarity queries against the
// current catalog snapshot. Failures degrade to an empty warning response.
type Engine struct {
	source   SnapshotSource
	embedder port.Embedder
	defaultK int
	maxK     int
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type EngineOption func(*Engine)

func WithTopK(defaultK, maxK int) EngineOption {
	return func(e *Engine) {
		if defaultK > 0 {
			e.defaultK = defaultK
		}
		if maxK > 0 {
			e.maxK = maxK
		}
	}
}

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(source SnapshotSource, embedder port.Embedder, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		source:   source,
		embedder: embedder,
		defaultK: 5,
		maxK:     100,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) clampK(k int) int {
	if k <= 0 {
		return e.defaultK
	}
	if k > e.maxK {
		return e.maxK
	}
	return k
}

func (e *Engine) SearchByText(ctx context.Context, text string, k int, category string) domain.SearchResponse {
	k = e.clampK(k)
	if strings.TrimSpace(text) == "" {
		return e.finish("text", warningResponse("query text is empty"))
	}

	found, warn := e.search(ctx, func(ctx context.Context) ([]float32, error) {
		return e.embedder.EmbedText(ctx, text)
	}, "text", k, category)
	if warn != "" {
		return e.finish("text", warningResponse(warn))
	}
	return e.finish("text", okResponse(rank(found, k)))
}

func (e *Engine) SearchByImage(ctx context.Context, image []byte, k int, category string) domain.SearchResponse {
	k = e.clampK(k)
	if len(image) == 0 {
		return e.finish("image", warningResponse("query image is empty"))
	}

	found, warn := e.search(ctx, func(ctx context.Context) ([]float32, error) {
		return e.embedder.EmbedImage(ctx, image)
	}, "image", k, category)
	if warn != "" {
		return e.finish("image", warningResponse(warn))
	}

	live := found[:0]
	for _, se := range found {
		if !se.Entry.Deleted {
			live = append(live, se)
		}
	}
	return e.finish("image", okResponse(rank(live, k)))
}

// search loads the snapshot, embeds the query and runs the filtered index
// search. A non-empty warning means the caller must return no results.
func (e *Engine) search(ctx context.Context, embed func(context.Context) ([]float32, error), mode string, k int, category string) ([]domain.ScoredEntry, string) {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		e.logger.Warn("catalog snapshot unavailable", "mode", mode, "error", err)
		return nil, "catalog is unavailable"
	}
	if snap.Len() == 0 {
		return nil, "catalog is empty"
	}

	vec, err := embed(ctx)
	if err != nil {
		e.logger.Warn("query embedding failed", "mode", mode, "error", err)
		return nil, "failed to embed " + mode + " query"
	}

	found, err := snap.Search(vec, k, category)
	if err != nil {
		e.logger.Warn("index search failed", "mode", mode, "error", err)
		return nil, "search failed"
	}
	return found, ""
}

func (e *Engine) finish(mode string, resp domain.SearchResponse) domain.SearchResponse {
	e.metrics.ObserveSearch(mode, string(resp.Status))
	return resp
}

// Categories counts non-deleted entries per category.
func (e *Engine) Categories(ctx context.Context) (map[string]int, error) {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Categories(), nil
}

// CategoryItems lists the non-deleted entries of one category in insertion
// order. Hits carry a zero score.
func (e *Engine) CategoryItems(ctx context.Context, category string) ([]domain.Hit, error) {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return listing(snap.ByCategory(category)), nil
}

// OwnerItems lists one owner's non-deleted entries, hidden ones included,
// newest first. Hits carry a zero score.
func (e *Engine) OwnerItems(ctx context.Context, ownerID int64) ([]domain.Hit, error) {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return listing(snap.ByOwner(ownerID)), nil
}

// Latest lists up to n searchable entries, newest first.
func (e *Engine) Latest(ctx context.Context, n int) ([]domain.Hit, error) {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return listing(snap.Latest(e.clampK(n))), nil
}

func listing(entries []domain.Entry) []domain.Hit {
	hits := make([]domain.Hit, 0, len(entries))
	for i, entry := range entries {
		hits = append(hits, domain.NewHit(i+1, 0, entry))
	}
	return hits
}

func (e *Engine) Statistics(ctx context.Context) (domain.Statistics, error) {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return domain.Statistics{}, err
	}
	stats := snap.Stats()
	e.metrics.SetCatalog(stats.LiveItems, stats.DeletedItems, stats.HiddenItems)
	return stats, nil
}

// Lookup returns the entry for catalogID, including soft-deleted ones.
func (e *Engine) Lookup(ctx context.Context, catalogID int64) (domain.Entry, bool, error) {
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return domain.Entry{}, false, err
	}
	entry, found := snap.FindByCatalogID(catalogID)
	return entry, found, nil
}

func rank(found []domain.ScoredEntry, k int) []domain.Hit {
	if len(found) > k {
		found = found[:k]
	}
	hits := make([]domain.Hit, 0, len(found))
	for i, se := range found {
		hits = append(hits, domain.NewHit(i+1, se.Score, se.Entry))
	}
	return hits
}

func okResponse(hits []domain.Hit) domain.SearchResponse {
	return domain.SearchResponse{Status: domain.SearchOK, Results: hits}
}

func warningResponse(msg string) domain.SearchResponse {
	return domain.SearchResponse{Status: domain.SearchWarning, Warning: msg, Results: []domain.Hit{}}
}
