package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"myroom/config"
	"myroom/internal/domain"
	"myroom/internal/metrics"
	"myroom/internal/port"
)

// TextSearcher runs a text query against the catalog.
type TextSearcher interface {
	SearchByText(ctx context.Context, text string, k int, category string) domain.SearchResponse
}

// RecommendationDeps are the collaborators of the recommendation workflow.
type RecommendationDeps struct {
	Fetcher  port.ImageFetcher
	Analyzer port.RoomAnalyzer
	Searcher TextSearcher
	Channel  port.MessageChannel
}

// Recommender analyses a room photo and searches the catalog for furniture
// that suits it.
type Recommender struct {
	deps        RecommendationDeps
	responseKey string
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewRecommender(deps RecommendationDeps, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Recommender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recommender{
		deps:        deps,
		responseKey: cfg.Broker.RecommendationResponse.RoutingKey,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
	}
}

// Recommend analyses image and runs the derived text query restricted to
// category. Analyzer errors keep their class.
func (r *Recommender) Recommend(ctx context.Context, image []byte, category string, k int) (domain.RoomAnalysis, domain.Recommendation, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		category = domain.DefaultRecommendationCategory
	}

	start := r.now()
	analysis, err := r.deps.Analyzer.Analyze(ctx, image, category)
	if err != nil {
		r.metrics.ObserveAnalysis("failed", r.now().Sub(start))
		return domain.RoomAnalysis{}, domain.Recommendation{}, err
	}
	r.metrics.ObserveAnalysis("success", r.now().Sub(start))

	query := analysis.Query(category)
	resp := r.deps.Searcher.SearchByText(ctx, query, k, category)
	return analysis, domain.NewRecommendation(category, analysis, query, resp), nil
}

// Handle answers one recommendation request on the response queue. Requests
// that can never succeed are answered with a failed response and acked;
// transient failures return an error so the request is redelivered.
func (r *Recommender) Handle(ctx context.Context, d port.Delivery) error {
	const op = "recommend"

	var req domain.RecommendationRequest
	if err := decode(op, d.Body, &req); err != nil {
		return err
	}
	log := r.logger.With("owner_id", req.OwnerID, "category", req.Category)

	image, err := r.deps.Fetcher.Fetch(ctx, req.ImageURL)
	if err != nil {
		if domain.Retryable(err) {
			return domain.Transient("fetch room image", err)
		}
		log.Warn("room image unavailable", "error", err)
		return r.respond(ctx, req, fmt.Sprintf("failed to fetch room image: %v", err), nil, nil)
	}

	analysis, rec, err := r.Recommend(ctx, image, req.Category, req.TopK)
	if err != nil {
		if domain.Retryable(err) {
			return domain.Transient("analyze room", err)
		}
		log.Warn("room analysis rejected", "error", err)
		return r.respond(ctx, req, fmt.Sprintf("room analysis failed: %v", err), nil, nil)
	}

	log.Info("recommendation ready",
		"query", rec.SearchQuery,
		"results", rec.ResultCount,
		"detected", analysis.DetectedCount,
	)
	return r.respond(ctx, req, "", &analysis, &rec)
}

func (r *Recommender) respond(ctx context.Context, req domain.RecommendationRequest, reason string, analysis *domain.RoomAnalysis, rec *domain.Recommendation) error {
	resp := domain.RecommendationResponse{
		MessageID:      uuid.NewString(),
		OwnerID:        req.OwnerID,
		ImageURL:       req.ImageURL,
		Status:         domain.StatusSuccess,
		Reason:         reason,
		Analysis:       analysis,
		Recommendation: rec,
		Timestamp:      r.now().UnixMilli(),
	}
	switch {
	case rec == nil:
		resp.Status = domain.StatusFailed
	case rec.Status == domain.SearchWarning:
		resp.Status = domain.StatusWarning
		resp.Reason = rec.Warning
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := r.deps.Channel.Publish(ctx, r.responseKey, body); err != nil {
		return domain.Transient("publish recommendation", err)
	}
	return nil
}
