package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"myroom/config"
	"myroom/internal/domain"
)

var ErrTooLarge = errors.New("image exceeds size limit")

// HTTPFetcher downloads source images. Client errors and oversized bodies
// are terminal; network failures and server errors are transient.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPFetcher(cfg config.FetchConfig) *HTTPFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	const op = "fetch image"

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, domain.Terminal(op, fmt.Errorf("invalid image url: %w", err))
	}

	switch u.Scheme {
	case "http", "https":
	case "file":
		return f.readFile(u.Path)
	default:
		return nil, domain.Terminal(op, fmt.Errorf("unsupported image url scheme %q", u.Scheme))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, domain.Terminal(op, fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, domain.Transient(op, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.Transient(op, fmt.Errorf("image server returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, domain.Terminal(op, fmt.Errorf("image server returned status %d", resp.StatusCode))
	}
	if resp.ContentLength > f.maxBytes {
		return nil, domain.Terminal(op, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, domain.Transient(op, fmt.Errorf("failed to read image: %w", err))
	}
	return f.check(op, data)
}

func (f *HTTPFetcher) readFile(path string) ([]byte, error) {
	const op = "read image"

	info, err := os.Stat(path)
	if err != nil {
		return nil, domain.Terminal(op, err)
	}
	if info.Size() > f.maxBytes {
		return nil, domain.Terminal(op, fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size()))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.Transient(op, err)
	}
	return f.check(op, data)
}

func (f *HTTPFetcher) check(op string, data []byte) ([]byte, error) {
	if int64(len(data)) > f.maxBytes {
		return nil, domain.Terminal(op, ErrTooLarge)
	}
	if len(data) == 0 {
		return nil, domain.Terminal(op, errors.New("image is empty"))
	}
	return data, nil
}
