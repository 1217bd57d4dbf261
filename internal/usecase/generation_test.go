package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myroom/internal/domain"
)

func TestGeneration_Success(t *testing.T) {
	h := newHarness(t)

	run, err := h.orch.Run(context.Background(), request(true))
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeSuccess, run.Outcome)
	assert.Equal(t, domain.StateResponded, run.State)
	assert.Equal(t, "RECEIVED>IMAGE_FETCHED>QUALITY_CHECKED>PARAMS_SELECTED>GENERATING>GENERATED>CATALOG_UPDATED>RESPONDED", run.path())

	require.Len(t, h.jobs.submitted, 1)
	params := h.jobs.submitted[0]
	assert.Equal(t, 512, params.TextureSize)
	assert.Equal(t, 20, params.SparseSteps)
	assert.Equal(t, 42, params.Seed)
	assert.Equal(t, 7.5, params.LatentGuidance)

	assert.Equal(t, []string{"models/7/101_20260501_093000.glb"}, h.blobs.keys)

	entries := h.entries(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, int64(101), e.CatalogID)
	assert.Equal(t, "chair", e.Category)
	assert.Equal(t, "oak_chair.jpg", e.DisplayName)
	assert.Equal(t, chairURL, e.SourceImageRef)
	assert.Equal(t, "https://assets.example.com/models/7/101_20260501_093000.glb", e.AssetURL)
	assert.True(t, e.Visible)

	responses := h.responses(t)
	require.Len(t, responses, 1)
	resp := responses[0]
	assert.Equal(t, domain.StatusSuccess, resp.Status)
	assert.Equal(t, e.AssetURL, resp.AssetURL)
	assert.Equal(t, chairURL, resp.ThumbnailURL)
	assert.Equal(t, domain.TierStandard, resp.QualityTier)
	assert.Equal(t, 72.0, resp.QualityScore)
	assert.NotEmpty(t, resp.MessageID)
}

func TestGeneration_TierSelectsPreset(t *testing.T) {
	cases := []struct {
		tier    domain.Tier
		texture int
		steps   int
	}{
		{domain.TierPremium, 1024, 30},
		{domain.TierStandard, 512, 20},
		{domain.TierBasic, 256, 12},
		{domain.Tier("gold"), 512, 20},
	}
	h := newHarness(t)
	for _, tc := range cases {
		p := h.orch.paramsFor(tc.tier)
		assert.Equal(t, tc.texture, p.TextureSize, tc.tier)
		assert.Equal(t, tc.steps, p.LatentSteps, tc.tier)
		assert.Equal(t, "glb", p.OutputFormat)
	}
}

func TestGeneration_QualityRejected(t *testing.T) {
	h := newHarness(t)
	h.gate.report = domain.QualityReport{Score: 20, Tier: domain.TierRejected, Issues: []string{"image is too blurry", "object is cut off"}}

	run, err := h.orch.Run(context.Background(), request(true))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeRejected, run.Outcome)
	assert.Empty(t, h.jobs.submitted)
	assert.Empty(t, h.entries(t))

	responses := h.responses(t)
	require.Len(t, responses, 1)
	assert.Equal(t, domain.StatusFailed, responses[0].Status)
	assert.Equal(t, "image is too blurry; object is cut off", responses[0].Reason)
	assert.Equal(t, domain.TierRejected, responses[0].QualityTier)
}

func TestGeneration_FetchFailures(t *testing.T) {
	t.Run("terminal", func(t *testing.T) {
		h := newHarness(t)
		req := request(true)
		req.SourceImageURL = "https://cdn.example.com/missing.jpg"

		run, err := h.orch.Run(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "RECEIVED>GENERATION_FAILED>RESPONDED", run.path())

		responses := h.responses(t)
		require.Len(t, responses, 1)
		assert.Equal(t, domain.StatusFailed, responses[0].Status)
		assert.Contains(t, responses[0].Reason, "failed to fetch source image")
	})

	t.Run("transient", func(t *testing.T) {
		h := newHarness(t)
		h.fetcher.err = domain.Transient("fetch image", errors.New("connection reset"))

		_, err := h.orch.Run(context.Background(), request(true))
		require.Error(t, err)
		assert.True(t, domain.Retryable(err))
		assert.Empty(t, h.responses(t))
	})
}

func TestGeneration_GateAndSubmitErrorsAreTransient(t *testing.T) {
	h := newHarness(t)
	h.gate.err = errors.New("quality service down")
	_, err := h.orch.Run(context.Background(), request(true))
	assert.Equal(t, domain.ClassTransient, domain.ClassOf(err))

	h = newHarness(t)
	h.jobs.submitErr = errors.New("generation service down")
	_, err = h.orch.Run(context.Background(), request(true))
	assert.Equal(t, domain.ClassTransient, domain.ClassOf(err))
	assert.Empty(t, h.responses(t))
}

func TestGeneration_JobFailed(t *testing.T) {
	h := newHarness(t)
	h.jobs.finalState = domain.JobFailed
	h.jobs.failMessage = "CUDA out of memory"

	run, err := h.orch.Run(context.Background(), request(true))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, run.Outcome)

	responses := h.responses(t)
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Reason, "CUDA out of memory")
	assert.Empty(t, h.entries(t))
}

func TestGeneration_UnusableEmbeddingFailsTerminally(t *testing.T) {
	for name, emb := range map[string]fixedEmbedder{
		"wrong dimension": {vec: []float32{1, 0, 0}, dim: 3},
		"zero vector":     {vec: make([]float32, testDim), dim: testDim},
		"missing":         {dim: testDim},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			h.embedder = emb
			h.build()

			err := h.orch.Handle(context.Background(), delivery(t, request(true)))
			require.NoError(t, err, "the request is acknowledged")

			responses := h.responses(t)
			require.Len(t, responses, 1)
			assert.Equal(t, domain.StatusFailed, responses[0].Status)
			assert.Contains(t, responses[0].Reason, "embedding unusable")
			assert.Empty(t, h.entries(t))
		})
	}
}

func TestGeneration_PollErrorsKeepPolling(t *testing.T) {
	h := newHarness(t)
	h.jobs.pollErrs = 3

	run, err := h.orch.Run(context.Background(), request(false))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSuccess, run.Outcome)
	assert.Equal(t, 4, h.jobs.polls, "three failed polls, then complete")

	entries := h.entries(t)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Visible)
}

func TestGeneration_Timeout(t *testing.T) {
	h := newHarness(t)
	h.cfg.Generation.PollInterval = 5 * time.Millisecond
	h.cfg.Generation.MaxWait = 40 * time.Millisecond
	h.jobs.pollsUntilDone = 1 << 30
	h.build()

	run, err := h.orch.Run(context.Background(), request(true))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFailed, run.Outcome)

	responses := h.responses(t)
	require.Len(t, responses, 1)
	assert.Contains(t, responses[0].Reason, "timed out")
}

func TestGeneration_ParentCancelIsTransient(t *testing.T) {
	h := newHarness(t)
	h.jobs.pollsUntilDone = 1 << 30
	h.cfg.Generation.MaxWait = time.Minute
	h.build()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := h.orch.Run(ctx, request(true))
	require.Error(t, err)
	assert.True(t, domain.Retryable(err))
}

func TestGeneration_PublishFailureRequeues(t *testing.T) {
	h := newHarness(t)
	h.orch.deps.Channel = failingPublisher{h.channel}

	run, err := h.orch.Run(context.Background(), request(true))
	require.Error(t, err)
	assert.True(t, domain.Retryable(err))
	assert.Equal(t, domain.StateCatalogUpdated, run.State)

	// A redelivered request supersedes the earlier entry.
	h.orch.deps.Channel = h.channel
	_, err = h.orch.Run(context.Background(), request(true))
	require.NoError(t, err)

	entries := h.entries(t)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Deleted)
	assert.False(t, entries[1].Deleted)
}

func TestGeneration_HandleRejectsInvalidMessages(t *testing.T) {
	h := newHarness(t)

	err := h.orch.Handle(context.Background(), delivery(t, map[string]any{"owner_id": 7, "catalog_id": 1}))
	assert.Equal(t, domain.ClassValidation, domain.ClassOf(err))

	err = h.orch.Handle(context.Background(), delivery(t, "not an object"))
	assert.Equal(t, domain.ClassValidation, domain.ClassOf(err))

	err = h.orch.Handle(context.Background(), delivery(t, request(true)))
	assert.NoError(t, err)
}
