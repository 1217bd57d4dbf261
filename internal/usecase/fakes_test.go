package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"myroom/config"
	"myroom/internal/adapter/broker"
	"myroom/internal/adapter/embedding"
	"myroom/internal/adapter/store"
	"myroom/internal/domain"
	"myroom/internal/port"
)

const testDim = 8

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeFetcher struct {
	images map[string][]byte
	err    error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	img, ok := f.images[url]
	if !ok {
		return nil, domain.Terminal("fetch image", errors.New("404 not found"))
	}
	return img, nil
}

type fakeGate struct {
	report domain.QualityReport
	err    error
}

func (g *fakeGate) Assess(context.Context, []byte) (domain.QualityReport, error) {
	return g.report, g.err
}

// fakeJobs completes after pollsUntilDone polls, or reports finalState.
type fakeJobs struct {
	mu             sync.Mutex
	submitted      []domain.GenerationParams
	polls          int
	pollsUntilDone int
	finalState     domain.JobState
	failMessage    string
	submitErr      error
	pollErrs       int
	model          []byte
}

func (j *fakeJobs) Submit(_ context.Context, _ []byte, params domain.GenerationParams) (domain.JobHandle, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.submitErr != nil {
		return domain.JobHandle{}, j.submitErr
	}
	j.submitted = append(j.submitted, params)
	return domain.JobHandle{ID: "job-1", SubmittedAt: time.Now()}, nil
}

func (j *fakeJobs) Poll(context.Context, domain.JobHandle) (domain.JobStatus, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.polls++
	if j.pollErrs > 0 {
		j.pollErrs--
		return domain.JobStatus{}, errors.New("status endpoint busy")
	}
	if j.polls < j.pollsUntilDone {
		return domain.JobStatus{State: domain.JobRunning, Progress: 50}, nil
	}
	state := j.finalState
	if state == "" {
		state = domain.JobComplete
	}
	return domain.JobStatus{State: state, Message: j.failMessage}, nil
}

func (j *fakeJobs) FetchResult(context.Context, domain.JobHandle) ([]byte, error) {
	if j.model == nil {
		return []byte("glTF"), nil
	}
	return j.model, nil
}

type fakeBlobs struct {
	keys []string
}

func (b *fakeBlobs) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	b.keys = append(b.keys, key)
	return "https://assets.example.com/" + key, nil
}

// failingPublisher wraps a channel and refuses every publish.
type failingPublisher struct {
	port.MessageChannel
}

func (failingPublisher) Publish(context.Context, string, []byte) error {
	return errors.New("publish not confirmed")
}

// fixedEmbedder returns the same vector for every input.
type fixedEmbedder struct {
	vec []float32
	dim int
}

func (e fixedEmbedder) EmbedImage(context.Context, []byte) ([]float32, error) { return e.vec, nil }
func (e fixedEmbedder) EmbedText(context.Context, string) ([]float32, error) { return e.vec, nil }
func (e fixedEmbedder) Dimension() int { return e.dim }
func (e fixedEmbedder) ModelName() string { return "fixed" }

type harness struct {
	cfg      *config.Config
	repo     *store.Repository
	channel  *broker.Memory
	fetcher  *fakeFetcher
	gate     *fakeGate
	jobs     *fakeJobs
	blobs    *fakeBlobs
	embedder port.Embedder
	orch     *GenerationOrchestrator
}

const chairURL = "https://cdn.example.com/uploads/oak_chair.jpg"

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Store.Dir = filepath.Join(t.TempDir(), "catalog")
	cfg.Store.Dimension = testDim
	cfg.Store.AdvisoryLock = false
	cfg.Generation.PollInterval = time.Millisecond
	cfg.Generation.MaxWait = time.Second

	repo, err := store.NewRepository(cfg.Store, discard)
	require.NoError(t, err)

	mem := broker.NewMemory(broker.Bindings(cfg.Broker))
	t.Cleanup(func() { mem.Close() })

	h := &harness{
		cfg:      cfg,
		repo:     repo,
		channel:  mem,
		fetcher:  &fakeFetcher{images: map[string][]byte{chairURL: []byte("chair-photo")}},
		gate:     &fakeGate{report: domain.QualityReport{Score: 72, Tier: domain.TierStandard, CanProceed: true}},
		jobs:     &fakeJobs{pollsUntilDone: 2},
		blobs:    &fakeBlobs{},
		embedder: embedding.NewMockEmbedder(testDim),
	}
	h.build()
	return h
}

// build (re)creates the orchestrator so tests can swap collaborators.
func (h *harness) build() {
	h.orch = NewGenerationOrchestrator(GenerationDeps{
		Fetcher:  h.fetcher,
		Gate:     h.gate,
		Jobs:     h.jobs,
		Blobs:    h.blobs,
		Embedder: h.embedder,
		Catalog:  h.repo,
		Channel:  h.channel,
	}, h.cfg, discard, nil)
	h.orch.now = func() time.Time { return time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC) }
}

func (h *harness) entries(t *testing.T) []domain.Entry {
	t.Helper()
	s, err := h.repo.Snapshot(context.Background())
	require.NoError(t, err)
	return s.Entries()
}

// responses drains the response queue.
func (h *harness) responses(t *testing.T) []domain.GenerationResponse {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := h.cfg.Broker.Response.Queue
	n := h.channel.Depth(queue)
	if n == 0 {
		return nil
	}
	deliveries, err := h.channel.Consume(ctx, queue)
	require.NoError(t, err)

	var out []domain.GenerationResponse
	for i := 0; i < n; i++ {
		d := <-deliveries
		var resp domain.GenerationResponse
		require.NoError(t, json.Unmarshal(d.Body, &resp))
		require.NoError(t, d.Ack(ctx))
		out = append(out, resp)
	}
	return out
}

func request(visible bool) domain.GenerationRequest {
	return domain.GenerationRequest{
		SourceImageURL: chairURL,
		OwnerID:        7,
		CatalogID:      101,
		Category:       "chair",
		Visible:        &visible,
	}
}

func delivery(t *testing.T, v any) port.Delivery {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return port.Delivery{ID: "d1", Body: body}
}
