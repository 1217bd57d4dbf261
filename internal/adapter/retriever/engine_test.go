package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myroom/internal/adapter/store"
	"myroom/internal/domain"
	"myroom/internal/metrics"
)

type staticSource struct {
	snap *store.CatalogStore
	err  error
}

func (s staticSource) Snapshot(context.Context) (*store.CatalogStore, error) {
	return s.snap, s.err
}

// keyedEmbedder returns fixed vectors per text query or image payload.
type keyedEmbedder struct {
	text  map[string][]float32
	image map[string][]float32
	fail  bool
}

func (e keyedEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedding service unavailable")
	}
	v, found := e.text[text]
	if !found {
		return nil, errors.New("unknown text")
	}
	return v, nil
}

func (e keyedEmbedder) EmbedImage(_ context.Context, image []byte) ([]float32, error) {
	if e.fail {
		return nil, errors.New("embedding service unavailable")
	}
	v, found := e.image[string(image)]
	if !found {
		return nil, errors.New("unknown image")
	}
	return v, nil
}

func (e keyedEmbedder) Dimension() int    { return 4 }
func (e keyedEmbedder) ModelName() string { return "keyed" }

var (
	xAxis = []float32{1, 0, 0, 0}
	yAxis = []float32{0, 1, 0, 0}
	zAxis = []float32{0, 0, 1, 0}
)

func testEmbedder() keyedEmbedder {
	return keyedEmbedder{
		text: map[string][]float32{
			"chair": xAxis,
			"table": yAxis,
			"lamp":  zAxis,
		},
		image: map[string][]float32{
			"chair.jpg": xAxis,
			"table.jpg": yAxis,
		},
	}
}

// newCatalog holds a chair (1), a table (2), a hidden chair (3) and a
// deleted lamp (4).
func newCatalog(t *testing.T) *store.CatalogStore {
	t.Helper()
	s := store.New(4)
	insert := func(vec []float32, category string, meta domain.EntryMeta) {
		_, err := s.Insert(vec, category, meta)
		require.NoError(t, err)
	}
	insert(xAxis, "chair", domain.EntryMeta{CatalogID: 1, SourceImageRef: "a.jpg", DisplayName: "Oak chair", Visible: true})
	insert(yAxis, "table", domain.EntryMeta{CatalogID: 2, SourceImageRef: "b.jpg", DisplayName: "Glass table", Visible: true})
	insert([]float32{0.9, 0.1, 0, 0}, "chair", domain.EntryMeta{CatalogID: 3, SourceImageRef: "c.jpg", Visible: false})
	insert(zAxis, "lamp", domain.EntryMeta{CatalogID: 4, SourceImageRef: "d.jpg", Visible: true})
	require.True(t, s.SoftDelete(4))
	return s
}

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	return NewEngine(staticSource{snap: newCatalog(t)}, testEmbedder(), nil, opts...)
}

func TestEngine_SearchByText(t *testing.T) {
	e := newTestEngine(t)

	resp := e.SearchByText(context.Background(), "chair", 5, "")
	require.Equal(t, domain.SearchOK, resp.Status)
	require.Len(t, resp.Results, 2, "hidden and deleted entries are filtered")

	top := resp.Results[0]
	assert.Equal(t, 1, top.Rank)
	assert.Equal(t, int64(1), top.CatalogID)
	assert.InDelta(t, 1.0, top.Score, 1e-6)
	assert.Equal(t, "Oak chair", top.DisplayName)
	assert.Equal(t, 2, resp.Results[1].Rank)
}

func TestEngine_SearchByText_Category(t *testing.T) {
	e := newTestEngine(t)

	resp := e.SearchByText(context.Background(), "chair", 5, "table")
	require.Equal(t, domain.SearchOK, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(2), resp.Results[0].CatalogID)

	resp = e.SearchByText(context.Background(), "lamp", 5, "lamp")
	assert.Equal(t, domain.SearchOK, resp.Status)
	assert.Empty(t, resp.Results)
}

func TestEngine_SearchByImage(t *testing.T) {
	e := newTestEngine(t)

	resp := e.SearchByImage(context.Background(), []byte("table.jpg"), 1, "")
	require.Equal(t, domain.SearchOK, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(2), resp.Results[0].CatalogID)
}

func TestEngine_DegradesToWarning(t *testing.T) {
	ctx := context.Background()

	failing := testEmbedder()
	failing.fail = true
	e := NewEngine(staticSource{snap: newCatalog(t)}, failing, nil)
	resp := e.SearchByText(ctx, "chair", 5, "")
	assert.Equal(t, domain.SearchWarning, resp.Status)
	assert.NotEmpty(t, resp.Warning)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)

	e = NewEngine(staticSource{snap: store.New(4)}, testEmbedder(), nil)
	resp = e.SearchByImage(ctx, []byte("chair.jpg"), 5, "")
	assert.Equal(t, domain.SearchWarning, resp.Status)
	assert.Equal(t, "catalog is empty", resp.Warning)

	e = NewEngine(staticSource{err: errors.New("disk gone")}, testEmbedder(), nil)
	resp = e.HybridSearch(ctx, "chair", nil, 5, "")
	assert.Equal(t, domain.SearchWarning, resp.Status)
	assert.Empty(t, resp.Results)

	resp = newTestEngine(t).SearchByText(ctx, "   ", 5, "")
	assert.Equal(t, domain.SearchWarning, resp.Status)
}

func TestEngine_ClampsK(t *testing.T) {
	e := newTestEngine(t, WithTopK(1, 2))

	resp := e.SearchByText(context.Background(), "chair", 0, "")
	assert.Len(t, resp.Results, 1, "k <= 0 uses the default")

	resp = e.SearchByText(context.Background(), "chair", 50, "")
	assert.Len(t, resp.Results, 2, "k is capped")
}

func TestFuse_MeanWithMissingScores(t *testing.T) {
	a := domain.Entry{CatalogID: 1, SourceImageRef: "a.jpg"}
	b := domain.Entry{CatalogID: 2, SourceImageRef: "b.jpg"}

	fused := fuse(
		[]domain.ScoredEntry{{Position: 0, Score: 0.9, Entry: a}},
		[]domain.ScoredEntry{{Position: 1, Score: 0.8, Entry: b}},
		true,
	)
	require.Len(t, fused, 2)
	assert.Equal(t, int64(1), fused[0].entry.CatalogID)
	assert.InDelta(t, 0.45, fused[0].combined, 1e-9)
	assert.Nil(t, fused[0].imageScore)
	assert.Equal(t, int64(2), fused[1].entry.CatalogID)
	assert.InDelta(t, 0.40, fused[1].combined, 1e-9)
	assert.Nil(t, fused[1].textScore)
}

func TestFuse_MergesBySourceImage(t *testing.T) {
	a := domain.Entry{CatalogID: 1, SourceImageRef: "a.jpg"}
	b := domain.Entry{CatalogID: 2, SourceImageRef: "b.jpg"}

	fused := fuse(
		[]domain.ScoredEntry{{Position: 0, Score: 0.6, Entry: a}, {Position: 1, Score: 0.5, Entry: b}},
		[]domain.ScoredEntry{{Position: 1, Score: 0.9, Entry: b}, {Position: 0, Score: 0.2, Entry: a}},
		true,
	)
	require.Len(t, fused, 2)
	assert.Equal(t, int64(2), fused[0].entry.CatalogID)
	assert.InDelta(t, 0.7, fused[0].combined, 1e-9)
	assert.InDelta(t, 0.4, fused[1].combined, 1e-9)
}

func TestFuse_TextOnlyAndTies(t *testing.T) {
	a := domain.Entry{CatalogID: 1, SourceImageRef: "a.jpg"}
	b := domain.Entry{CatalogID: 2, SourceImageRef: "b.jpg"}

	fused := fuse(
		[]domain.ScoredEntry{{Position: 0, Score: 0.5, Entry: a}, {Position: 1, Score: 0.5, Entry: b}},
		nil,
		false,
	)
	require.Len(t, fused, 2)
	assert.InDelta(t, 0.5, fused[0].combined, 1e-9, "text score is used as is")
	assert.Equal(t, int64(1), fused[0].entry.CatalogID, "ties keep first-seen order")
}

func TestEngine_HybridSearch(t *testing.T) {
	e := newTestEngine(t)

	resp := e.HybridSearch(context.Background(), "chair", []byte("table.jpg"), 2, "")
	require.Equal(t, domain.SearchOK, resp.Status)
	require.Len(t, resp.Results, 2)

	// chair: text 1.0, image 0.0; table: text 0.0, image 1.0
	first, second := resp.Results[0], resp.Results[1]
	assert.Equal(t, int64(1), first.CatalogID)
	assert.InDelta(t, 0.5, first.Score, 1e-6)
	require.NotNil(t, first.TextScore)
	require.NotNil(t, first.ImageScore)
	assert.Equal(t, int64(2), second.CatalogID)
	assert.InDelta(t, 0.5, second.Score, 1e-6)
	assert.Equal(t, 2, second.Rank)
}

func TestEngine_HybridSearch_PartialFailure(t *testing.T) {
	e := newTestEngine(t)

	resp := e.HybridSearch(context.Background(), "chair", []byte("unknown.jpg"), 2, "")
	assert.Equal(t, domain.SearchWarning, resp.Status)
	require.NotEmpty(t, resp.Results, "text results survive a failed image embedding")
	assert.Equal(t, int64(1), resp.Results[0].CatalogID)
	assert.InDelta(t, 0.5, resp.Results[0].Score, 1e-6)
}

func TestEngine_Browse(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	cats, err := e.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"chair": 2, "table": 1}, cats)

	items, err := e.CategoryItems(ctx, "chair")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(3), items[1].CatalogID)

	entry, found, err := e.Lookup(ctx, 4)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, entry.Deleted)

	_, found, err = e.Lookup(ctx, 99)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEngine_OwnerItemsAndLatest(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	ids := func(hits []domain.Hit) []int64 {
		out := make([]int64, 0, len(hits))
		for _, h := range hits {
			out = append(out, h.CatalogID)
		}
		return out
	}

	items, err := e.OwnerItems(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, ids(items))
	assert.Equal(t, 1, items[0].Rank)

	items, err = e.OwnerItems(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, items)

	latest, err := e.Latest(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids(latest))

	latest, err = e.Latest(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, ids(latest))

	failing := NewEngine(staticSource{err: errors.New("disk gone")}, testEmbedder(), nil)
	_, err = failing.OwnerItems(ctx, 1)
	assert.Error(t, err)
}

func TestEngine_StatisticsAndMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	e := newTestEngine(t, WithMetrics(m))
	ctx := context.Background()

	stats, err := e.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalSlots)
	assert.Equal(t, 1, stats.DeletedItems)
	assert.Equal(t, 2, stats.LiveItems)
	assert.Equal(t, 1, stats.HiddenItems)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CatalogEntries.WithLabelValues("live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CatalogEntries.WithLabelValues("hidden")))

	e.SearchByText(ctx, "chair", 1, "")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchRequests.WithLabelValues("text", "ok")))
}
