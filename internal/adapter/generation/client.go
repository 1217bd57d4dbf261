package generation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"myroom/config"
	"myroom/internal/domain"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("generation service unavailable")

// StatusError is returned when the generation service answers with a
// non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generation API returned status %d: %s", e.StatusCode, e.Body)
}

// HTTPClient drives the image-to-3D service. The service runs one job at a
// time, so status and download calls refer to the most recent submission.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
	now     func() time.Time
}

func NewHTTPClient(cfg config.GenerationConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "generation",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		now:     time.Now,
	}
}

// Submit starts a job. The returned handle carries a locally assigned id for
// logging and correlation.
func (c *HTTPClient) Submit(ctx context.Context, image []byte, params domain.GenerationParams) (domain.JobHandle, error) {
	if len(image) == 0 {
		return domain.JobHandle{}, fmt.Errorf("empty image")
	}

	form := url.Values{}
	form.Set("image_base64", base64.StdEncoding.EncodeToString(image))
	form.Set("seed", strconv.Itoa(params.Seed))
	form.Set("ss_guidance_strength", formatFloat(params.SparseGuidance))
	form.Set("ss_sampling_steps", strconv.Itoa(params.SparseSteps))
	form.Set("slat_guidance_strength", formatFloat(params.LatentGuidance))
	form.Set("slat_sampling_steps", strconv.Itoa(params.LatentSteps))
	form.Set("mesh_simplify_ratio", formatFloat(params.SimplifyRatio))
	form.Set("texture_size", strconv.Itoa(params.TextureSize))
	form.Set("output_format", params.OutputFormat)

	handle := domain.JobHandle{ID: uuid.NewString(), SubmittedAt: c.now().UTC()}
	_, err := c.do(ctx, http.MethodPost, "/generate_no_preview", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return domain.JobHandle{}, fmt.Errorf("failed to submit generation job: %w", err)
	}

	c.logger.Info("generation job submitted", "job_id", handle.ID, "texture_size", params.TextureSize)
	return handle, nil
}

func (c *HTTPClient) Poll(ctx context.Context, job domain.JobHandle) (domain.JobStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/status", nil, "")
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("failed to poll job %s: %w", job.ID, err)
	}

	var status domain.JobStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return domain.JobStatus{}, fmt.Errorf("failed to parse job status: %w", err)
	}
	status.State = domain.JobState(strings.ToUpper(string(status.State)))
	return status, nil
}

func (c *HTTPClient) FetchResult(ctx context.Context, job domain.JobHandle) ([]byte, error) {
	body, err := c.do(ctx, http.MethodGet, "/download/model", nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to download model for job %s: %w", job.ID, err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("generation service returned an empty model for job %s", job.ID)
	}
	return body, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			s := string(data)
			if len(s) > 200 {
				s = s[:200]
			}
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: s}
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
