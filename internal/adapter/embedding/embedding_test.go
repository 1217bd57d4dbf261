package embedding

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myroom/config"
)

func newTestServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/embed/text", func(w http.ResponseWriter, r *http.Request) {
		var req textRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Text == "boom" {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
			return
		}
		v := make([]float32, dim)
		v[0] = 1
		_ = json.NewEncoder(w).Encode(embeddingResponse{Embedding: v})
	})
	mux.HandleFunc("/embed/image", func(w http.ResponseWriter, r *http.Request) {
		var req imageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		assert.NoError(t, err)
		assert.Equal(t, "clip-test", req.Model)
		v := make([]float32, dim)
		v[1] = float32(len(raw))
		_ = json.NewEncoder(w).Encode(embeddingResponse{Embedding: v})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(url string) config.EmbeddingConfig {
	return config.EmbeddingConfig{Provider: "http", BaseURL: url + "/", Model: "clip-test", Timeout: 5 * time.Second}
}

func TestClipEmbedder_EmbedText(t *testing.T) {
	srv := newTestServer(t, 8)
	e := NewClipEmbedder(testConfig(srv.URL), 8)

	v, err := e.EmbedText(context.Background(), "oak dining chair")
	require.NoError(t, err)
	assert.Len(t, v, 8)
	assert.Equal(t, float32(1), v[0])
	assert.Equal(t, "clip-test", e.ModelName())
	assert.Equal(t, 8, e.Dimension())
}

func TestClipEmbedder_EmbedImage(t *testing.T) {
	srv := newTestServer(t, 8)
	e := NewClipEmbedder(testConfig(srv.URL), 8)

	v, err := e.EmbedImage(context.Background(), []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	assert.Equal(t, float32(3), v[1])

	_, err = e.EmbedImage(context.Background(), nil)
	assert.Error(t, err)
}

func TestClipEmbedder_StatusError(t *testing.T) {
	srv := newTestServer(t, 8)
	e := NewClipEmbedder(testConfig(srv.URL), 8)

	_, err := e.EmbedText(context.Background(), "boom")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
}

func TestClipEmbedder_DimensionMismatch(t *testing.T) {
	srv := newTestServer(t, 4)
	e := NewClipEmbedder(testConfig(srv.URL), 8)

	_, err := e.EmbedText(context.Background(), "chair")
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestClipEmbedder_ContextCanceled(t *testing.T) {
	srv := newTestServer(t, 8)
	e := NewClipEmbedder(testConfig(srv.URL), 8)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.EmbedText(ctx, "chair")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockEmbedder(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()

	a, err := e.EmbedText(ctx, "Wooden  Chair")
	require.NoError(t, err)
	b, err := e.EmbedText(ctx, "wooden chair")
	require.NoError(t, err)
	c, err := e.EmbedText(ctx, "glass table")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var norm float64
	for _, f := range a {
		norm += float64(f) * float64(f)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)

	img, err := e.EmbedImage(ctx, []byte("wooden chair"))
	require.NoError(t, err)
	assert.NotEqual(t, a, img, "images and text use separate seeds")
}

func TestNew(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "mock"}, 4)
	require.NoError(t, err)
	assert.Equal(t, "mock", e.ModelName())

	_, err = New(config.EmbeddingConfig{Provider: "http"}, 4)
	assert.Error(t, err)

	_, err = New(config.EmbeddingConfig{Provider: "onnx"}, 4)
	assert.Error(t, err)
}
