package analyzer

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"myroom/config"
	"myroom/internal/domain"
	"myroom/internal/port"
)

// StatusError is returned when the analysis service answers with a non-200
// status.
type StatusError struct {
	Model      string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analysis API returned status %d for model %s: %s", e.StatusCode, e.Model, e.Body)
}

// HTTPAnalyzer asks the room analysis service to describe a photo and
// suggest a search query. Models are tried in order until one answers.
type HTTPAnalyzer struct {
	baseURL string
	models  []string
	client  *http.Client
	logger  *slog.Logger
}

type analyzeRequest struct {
	ImageBase64    string `json:"image_base64"`
	TargetCategory string `json:"target_category"`
	Model          string `json:"model,omitempty"`
}

type analyzeResponse struct {
	Style             string   `json:"style"`
	Color             string   `json:"color"`
	Material          string   `json:"material"`
	DetectedFurniture []string `json:"detected_furniture"`
	DetectedCount     int      `json:"detected_count"`
	Reasoning         string   `json:"reasoning"`
	SearchQuery       string   `json:"search_query"`
}

func NewHTTPAnalyzer(cfg config.AnalyzerConfig, logger *slog.Logger) *HTTPAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	models := []string{cfg.Model}
	for _, m := range cfg.FallbackModels {
		if m != "" && m != cfg.Model {
			models = append(models, m)
		}
	}
	return &HTTPAnalyzer{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		models:  models,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (a *HTTPAnalyzer) ModelName() string { return a.models[0] }

// Analyze returns the first successful analysis. A 4xx answer stops the
// fallback chain and is terminal; other failures try the next model.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, image []byte, targetCategory string) (domain.RoomAnalysis, error) {
	const op = "analyze room"
	if len(image) == 0 {
		return domain.RoomAnalysis{}, domain.Terminal(op, errors.New("empty image"))
	}
	encoded := base64.StdEncoding.EncodeToString(image)

	var lastErr error
	for i, model := range a.models {
		analysis, err := a.call(ctx, analyzeRequest{
			ImageBase64:    encoded,
			TargetCategory: targetCategory,
			Model:          model,
		})
		if err == nil {
			return analysis, nil
		}
		if ctx.Err() != nil {
			return domain.RoomAnalysis{}, domain.Transient(op, ctx.Err())
		}

		var se *StatusError
		if errors.As(err, &se) && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests {
			return domain.RoomAnalysis{}, domain.Terminal(op, err)
		}
		a.logger.Warn("room analysis failed", "model", model, "attempt", i+1, "models", len(a.models), "error", err)
		lastErr = err
	}
	return domain.RoomAnalysis{}, domain.Transient(op, lastErr)
}

func (a *HTTPAnalyzer) call(ctx context.Context, ar analyzeRequest) (domain.RoomAnalysis, error) {
	payload, err := json.Marshal(ar)
	if err != nil {
		return domain.RoomAnalysis{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/analyze", bytes.NewReader(payload))
	if err != nil {
		return domain.RoomAnalysis{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return domain.RoomAnalysis{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.RoomAnalysis{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s := string(body)
		if len(s) > 200 {
			s = s[:200]
		}
		return domain.RoomAnalysis{}, &StatusError{Model: ar.Model, StatusCode: resp.StatusCode, Body: s}
	}

	var r analyzeResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return domain.RoomAnalysis{}, fmt.Errorf("failed to parse response: %w", err)
	}
	if r.DetectedCount == 0 {
		r.DetectedCount = len(r.DetectedFurniture)
	}
	return domain.RoomAnalysis{
		Style:             r.Style,
		Color:             r.Color,
		Material:          r.Material,
		DetectedFurniture: r.DetectedFurniture,
		DetectedCount:     r.DetectedCount,
		Reasoning:         r.Reasoning,
		SearchQuery:       strings.TrimSpace(r.SearchQuery),
	}, nil
}

// Static answers every image with the same neutral analysis. It stands in
// for the service in local runs and tests.
type Static struct {
	Style string
}

func (s Static) Analyze(_ context.Context, image []byte, targetCategory string) (domain.RoomAnalysis, error) {
	if len(image) == 0 {
		return domain.RoomAnalysis{}, domain.Terminal("analyze room", errors.New("empty image"))
	}
	style := s.Style
	if style == "" {
		style = "Modern"
	}
	return domain.RoomAnalysis{
		Style:             style,
		Color:             "Neutral",
		Material:          "Mixed",
		DetectedFurniture: []string{},
		Reasoning:         "Matches the overall style of the room",
		SearchQuery:       strings.ToLower(style) + " " + targetCategory,
	}, nil
}

func (Static) ModelName() string { return "static" }

// New returns the analyzer selected by cfg.Provider.
func New(cfg config.AnalyzerConfig, logger *slog.Logger) (port.RoomAnalyzer, error) {
	switch cfg.Provider {
	case "mock":
		return Static{}, nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("analyzer.base_url must be set for the http provider")
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("analyzer.model must be set for the http provider")
		}
		return NewHTTPAnalyzer(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown analyzer provider %q", cfg.Provider)
	}
}
