package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"myroom/config"
	"myroom/internal/adapter/blob"
	"myroom/internal/adapter/store"
	"myroom/internal/domain"
	"myroom/internal/metrics"
	"myroom/internal/port"
)

// GenerationDeps are the collaborators of the generation workflow.
type GenerationDeps struct {
	Fetcher  port.ImageFetcher
	Gate     port.QualityGate
	Jobs     port.GenerationJobs
	Blobs    port.BlobStore
	Embedder port.Embedder
	Catalog  CatalogWriter
	Channel  port.MessageChannel
}

// GenerationOrchestrator turns an uploaded photo into a 3D asset, indexes
// it and publishes the result.
type GenerationOrchestrator struct {
	deps        GenerationDeps
	gen         config.GenerationConfig
	blobPrefix  string
	responseKey string
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewGenerationOrchestrator(deps GenerationDeps, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *GenerationOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationOrchestrator{
		deps:        deps,
		gen:         cfg.Generation,
		blobPrefix:  cfg.Blob.Prefix,
		responseKey: cfg.Broker.Response.RoutingKey,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}
}

// StateChange records when a run entered a state.
type StateChange struct {
	State domain.GenerationState
	At    time.Time
}

// GenerationRun is the state of one request moving through the workflow.
type GenerationRun struct {
	Request  domain.GenerationRequest
	State    domain.GenerationState
	History  []StateChange
	Quality  domain.QualityReport
	Params   domain.GenerationParams
	Job      domain.JobHandle
	AssetURL string
	Outcome  domain.Outcome
	Reason   string
	Started  time.Time
}

func (r *GenerationRun) advance(to domain.GenerationState, at time.Time) {
	if !domain.CanTransition(r.State, to) {
		panic(fmt.Sprintf("invalid generation transition %s -> %s", r.State, to))
	}
	r.State = to
	r.History = append(r.History, StateChange{State: to, At: at})
}

func (r *GenerationRun) path() string {
	names := make([]string, len(r.History))
	for i, h := range r.History {
		names[i] = string(h.State)
	}
	return strings.Join(names, ">")
}

// errJobFailed carries the failure message reported by the generation service.
type errJobFailed struct{ msg string }

func (e errJobFailed) Error() string { return "generation job failed: " + e.msg }

var errJobRunning = errors.New("generation job still running")

// Handle runs the workflow for one generation request. Terminal outcomes are
// answered on the response queue and acknowledged; transient failures return
// an error so the request is redelivered.
func (o *GenerationOrchestrator) Handle(ctx context.Context, d port.Delivery) error {
	req, err := DecodeGenerationRequest(d.Body)
	if err != nil {
		return err
	}

	_, err = o.Run(ctx, req)
	return err
}

// Run executes the workflow and returns the run record.
func (o *GenerationOrchestrator) Run(ctx context.Context, req domain.GenerationRequest) (*GenerationRun, error) {
	start := o.now()
	run := &GenerationRun{
		Request: req,
		State:   domain.StateReceived,
		History: []StateChange{{State: domain.StateReceived, At: start}},
		Started: start,
	}
	log := o.logger.With("catalog_id", req.CatalogID, "owner_id", req.OwnerID)

	err := o.execute(ctx, run, log)
	if err != nil {
		log.Warn("generation interrupted", "state", run.State, "class", domain.ClassOf(err).String(), "error", err)
		return run, err
	}

	elapsed := o.now().Sub(start)
	o.metrics.ObserveGeneration(string(run.Outcome), elapsed)
	log.Info("generation finished",
		"outcome", run.Outcome,
		"reason", run.Reason,
		"tier", run.Quality.Tier,
		"path", run.path(),
		"duration", elapsed.Round(time.Millisecond),
	)
	return run, nil
}

func (o *GenerationOrchestrator) execute(ctx context.Context, run *GenerationRun, log *slog.Logger) error {
	req := run.Request

	image, err := o.deps.Fetcher.Fetch(ctx, req.SourceImageURL)
	if err != nil {
		if domain.Retryable(err) {
			return domain.Transient("fetch image", err)
		}
		return o.fail(ctx, run, domain.StateGenerationFailed, fmt.Sprintf("failed to fetch source image: %v", err))
	}
	run.advance(domain.StateImageFetched, o.now())

	report, err := o.deps.Gate.Assess(ctx, image)
	if err != nil {
		return domain.Transient("assess quality", err)
	}
	run.Quality = report
	run.advance(domain.StateQualityChecked, o.now())
	log.Info("quality assessed", "score", report.Score, "tier", report.Tier, "can_proceed", report.CanProceed)

	if !report.CanProceed {
		reason := "image quality too low for 3D generation"
		if len(report.Issues) > 0 {
			reason = strings.Join(report.Issues, "; ")
		}
		return o.fail(ctx, run, domain.StateRejected, reason)
	}

	run.Params = o.paramsFor(report.Tier)
	run.advance(domain.StateParamsSelected, o.now())

	job, err := o.deps.Jobs.Submit(ctx, image, run.Params)
	if err != nil {
		return domain.Transient("submit generation job", err)
	}
	run.Job = job
	run.advance(domain.StateGenerating, o.now())
	log.Info("generation job submitted", "job_id", job.ID, "texture_size", run.Params.TextureSize)

	if err := o.waitForJob(ctx, job, log); err != nil {
		var failed errJobFailed
		switch {
		case errors.As(err, &failed):
			return o.fail(ctx, run, domain.StateGenerationFailed, failed.Error())
		case ctx.Err() != nil:
			return domain.Transient("wait for generation job", ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			return o.fail(ctx, run, domain.StateGenerationFailed,
				fmt.Sprintf("generation timed out after %s", o.gen.MaxWait))
		default:
			return domain.Transient("wait for generation job", err)
		}
	}

	model, err := o.deps.Jobs.FetchResult(ctx, job)
	if err != nil {
		return domain.Transient("download model", err)
	}
	key := blob.AssetKey(o.blobPrefix, req.OwnerID, req.CatalogID, o.now(), o.gen.OutputFormat)
	assetURL, err := o.deps.Blobs.Put(ctx, key, model, blob.ModelContentType)
	if err != nil {
		return domain.Transient("upload model", err)
	}
	run.AssetURL = assetURL
	run.advance(domain.StateGenerated, o.now())

	embedding, err := o.deps.Embedder.EmbedImage(ctx, image)
	if err != nil {
		return domain.Transient("embed source image", err)
	}
	meta := domain.EntryMeta{
		CatalogID:      req.CatalogID,
		SourceImageRef: req.SourceImageURL,
		DisplayName:    displayName(req.SourceImageURL),
		AssetURL:       assetURL,
		OwnerID:        req.OwnerID,
		Visible:        req.Visible != nil && *req.Visible,
	}
	err = o.deps.Catalog.Mutate(ctx, "index generated asset", func(s *store.CatalogStore) (bool, error) {
		return s.Insert(embedding, req.Category, meta)
	})
	if unusableEmbedding(err) {
		return o.fail(ctx, run, domain.StateGenerationFailed, fmt.Sprintf("source image embedding unusable: %v", err))
	}
	if err != nil {
		return domain.Transient("index generated asset", err)
	}
	run.advance(domain.StateCatalogUpdated, o.now())

	run.Outcome = domain.OutcomeSuccess
	return o.respond(ctx, run)
}

// unusableEmbedding reports whether the store refused the embedding itself.
// Retrying the same image yields the same vector, so these are terminal.
func unusableEmbedding(err error) bool {
	return errors.Is(err, store.ErrNoEmbedding) ||
		errors.Is(err, store.ErrDimensionMismatch) ||
		errors.Is(err, store.ErrZeroVector)
}

// fail moves run into a terminal state and publishes a failed response.
func (o *GenerationOrchestrator) fail(ctx context.Context, run *GenerationRun, state domain.GenerationState, reason string) error {
	run.advance(state, o.now())
	run.Reason = reason
	run.Outcome = domain.OutcomeFailed
	if state == domain.StateRejected {
		run.Outcome = domain.OutcomeRejected
	}
	return o.respond(ctx, run)
}

func (o *GenerationOrchestrator) respond(ctx context.Context, run *GenerationRun) error {
	now := o.now()
	resp := domain.GenerationResponse{
		MessageID:             uuid.NewString(),
		OwnerID:               run.Request.OwnerID,
		CatalogID:             run.Request.CatalogID,
		SourceImageURL:        run.Request.SourceImageURL,
		AssetURL:              run.AssetURL,
		ThumbnailURL:          run.Request.SourceImageURL,
		Status:                domain.StatusSuccess,
		Reason:                run.Reason,
		QualityScore:          run.Quality.Score,
		QualityTier:           run.Quality.Tier,
		Timestamp:             now.UnixMilli(),
		ProcessingTimeSeconds: now.Sub(run.Started).Seconds(),
	}
	if run.Outcome != domain.OutcomeSuccess {
		resp.Status = domain.StatusFailed
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := o.deps.Channel.Publish(ctx, o.responseKey, body); err != nil {
		return domain.Transient("publish response", err)
	}
	run.advance(domain.StateResponded, now)
	return nil
}

// paramsFor maps a quality tier to generation parameters. Unknown tiers use
// the standard preset.
func (o *GenerationOrchestrator) paramsFor(tier domain.Tier) domain.GenerationParams {
	preset, ok := o.gen.Presets[string(tier)]
	if !ok {
		preset, ok = o.gen.Presets[string(domain.TierStandard)]
	}
	if !ok {
		preset = config.DefaultPresets()[string(domain.TierStandard)]
	}
	return domain.GenerationParams{
		Seed:           o.gen.Seed,
		SparseGuidance: o.gen.Guidance,
		SparseSteps:    preset.SparseSteps,
		LatentGuidance: o.gen.Guidance,
		LatentSteps:    preset.LatentSteps,
		SimplifyRatio:  preset.SimplifyRatio,
		TextureSize:    preset.TextureSize,
		OutputFormat:   o.gen.OutputFormat,
	}
}

// waitForJob polls the job at a fixed interval until it completes, fails or
// generation.max_wait elapses. Poll errors are logged and polling continues.
func (o *GenerationOrchestrator) waitForJob(ctx context.Context, job domain.JobHandle, log *slog.Logger) error {
	pollCtx, cancel := context.WithTimeout(ctx, o.gen.MaxWait)
	defer cancel()

	operation := func() error {
		status, err := o.deps.Jobs.Poll(pollCtx, job)
		if err != nil {
			log.Warn("failed to poll generation job", "job_id", job.ID, "error", err)
			return err
		}
		switch status.State {
		case domain.JobComplete:
			return nil
		case domain.JobFailed:
			msg := status.Message
			if msg == "" {
				msg = "unknown error"
			}
			return backoff.Permanent(errJobFailed{msg: msg})
		default:
			log.Debug("generation in progress", "job_id", job.ID, "progress", status.Progress)
			return errJobRunning
		}
	}

	return backoff.Retry(operation, backoff.WithContext(backoff.NewConstantBackOff(o.gen.PollInterval), pollCtx))
}

// displayName is the file name of the source image.
func displayName(sourceURL string) string {
	if u, err := url.Parse(sourceURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(sourceURL)
}
