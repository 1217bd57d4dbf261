package embedding

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
	"myroom/internal/port"
)

// ClipEmbedder calls an HTTP embedding service that maps images and text into
// one CLIP space.
type ClipEmbedder struct {
	model     string
	baseURL   string
	dimension int
	client    *http.Client
}

type imageRequest struct {
	ImageBase64 string `json:"image_base64"`
	Model       string `json:"model,omitempty"`
}

type textRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model,omitempty"`
	Error     *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// StatusError is returned when the embedding service answers with a non-200
// status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("embedding API returned status %d: %s", e.StatusCode, e.Body)
}

func NewClipEmbedder(cfg config.EmbeddingConfig, dimension int) *ClipEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ClipEmbedder{
		model:     cfg.Model,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		dimension: dimension,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (e *ClipEmbedder) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return e.post(ctx, "/embed/image", imageRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(image),
		Model:       e.model,
	})
}

func (e *ClipEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty text")
	}
	return e.post(ctx, "/embed/text", textRequest{Text: text, Model: e.model})
}

func (e *ClipEmbedder) post(ctx context.Context, path string, payload any) ([]float32, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: preview(body)}
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", preview(body), err)
	}
	if embResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", embResp.Error.Message)
	}
	if len(embResp.Embedding) != e.dimension {
		return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimension, len(embResp.Embedding))
	}

	return embResp.Embedding, nil
}

func (e *ClipEmbedder) Dimension() int {
	return e.dimension
}

func (e *ClipEmbedder) ModelName() string {
	return e.model
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// New returns the embedder selected by cfg.Provider.
func New(cfg config.EmbeddingConfig, dimension int) (port.Embedder, error) {
	switch cfg.Provider {
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("embedding.base_url must be set for the http provider")
		}
		return NewClipEmbedder(cfg, dimension), nil
	case "mock":
		return NewMockEmbedder(dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}
}
