package quality

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"myroom/config"
	"myroom/internal/domain"
	"myroom/internal/port"
)

// HTTPGate asks the image quality service whether a source image is good
// enough for 3D generation.
type HTTPGate struct {
	baseURL string
	client  *http.Client
}

type scoreRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type scoreResponse struct {
	Score       float64  `json:"score"`
	QualityTier string   `json:"quality_tier"`
	CanProceed  bool     `json:"can_proceed"`
	Issues      []string `json:"issues"`
}

// StatusError is returned when the quality service answers with a non-200
// status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("quality API returned status %d: %s", e.StatusCode, e.Body)
}

func NewHTTPGate(cfg config.QualityConfig) *HTTPGate {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGate{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGate) Assess(ctx context.Context, image []byte) (domain.QualityReport, error) {
	if len(image) == 0 {
		return domain.QualityReport{}, fmt.Errorf("empty image")
	}

	payload, err := json.Marshal(scoreRequest{ImageBase64: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return domain.QualityReport{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/quality/score", bytes.NewReader(payload))
	if err != nil {
		return domain.QualityReport{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.QualityReport{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.QualityReport{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s := string(body)
		if len(s) > 200 {
			s = s[:200]
		}
		return domain.QualityReport{}, &StatusError{StatusCode: resp.StatusCode, Body: s}
	}

	var sr scoreResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return domain.QualityReport{}, fmt.Errorf("failed to parse response: %w", err)
	}

	return domain.QualityReport{
		Score:      sr.Score,
		Tier:       domain.Tier(strings.ToLower(sr.QualityTier)),
		CanProceed: sr.CanProceed,
		Issues:     sr.Issues,
	}, nil
}

// PassThrough approves every image with a fixed tier. It stands in for the
// gate when quality checking is disabled.
type PassThrough struct {
	tier domain.Tier
}

func NewPassThrough(tier string) PassThrough {
	if tier == "" {
		tier = string(domain.TierStandard)
	}
	return PassThrough{tier: domain.Tier(tier)}
}

func (p PassThrough) Assess(context.Context, []byte) (domain.QualityReport, error) {
	return domain.QualityReport{Score: 100, Tier: p.tier, CanProceed: true}, nil
}

// New returns the gate selected by cfg.Enabled.
func New(cfg config.QualityConfig) (port.QualityGate, error) {
	if !cfg.Enabled {
		return NewPassThrough(cfg.DefaultTier), nil
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("quality.base_url must be set when the quality gate is enabled")
	}
	return NewHTTPGate(cfg), nil
}
