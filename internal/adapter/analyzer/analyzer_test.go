package analyzer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"myroom/config"
	"myroom/internal/domain"
)

// newAnalysisServer answers per model: "busy" fails with 503, "strict"
// refuses the image with 422, anything else analyses it.
func newAnalysisServer(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var models []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyze", r.URL.Path)
		var req analyzeRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.ImageBase64)
		assert.NoError(t, err)
		assert.Equal(t, "room", string(raw))

		mu.Lock()
		models = append(models, req.Model)
		mu.Unlock()

		switch req.Model {
		case "busy":
			http.Error(w, "quota exhausted", http.StatusServiceUnavailable)
		case "strict":
			http.Error(w, "not a room", http.StatusUnprocessableEntity)
		default:
			_ = json.NewEncoder(w).Encode(analyzeResponse{
				Style:             "Scandinavian",
				Color:             "White",
				Material:          "Wood",
				DetectedFurniture: []string{"sofa", "rug"},
				Reasoning:         "a light " + req.TargetCategory + " keeps the room airy",
				SearchQuery:       "  white wooden " + req.TargetCategory + " ",
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &models
}

func TestHTTPAnalyzer_Analyze(t *testing.T) {
	srv, models := newAnalysisServer(t)
	a := NewHTTPAnalyzer(config.AnalyzerConfig{BaseURL: srv.URL, Model: "flash", Timeout: time.Second}, nil)

	got, err := a.Analyze(context.Background(), []byte("room"), "chair")
	require.NoError(t, err)
	assert.Equal(t, "Scandinavian", got.Style)
	assert.Equal(t, 2, got.DetectedCount, "count defaults to the detected list")
	assert.Equal(t, "white wooden chair", got.SearchQuery)
	assert.Equal(t, []string{"flash"}, *models)
	assert.Equal(t, "flash", a.ModelName())
}

func TestHTTPAnalyzer_FallsBackOnServerErrors(t *testing.T) {
	srv, models := newAnalysisServer(t)
	a := NewHTTPAnalyzer(config.AnalyzerConfig{
		BaseURL:        srv.URL,
		Model:          "busy",
		FallbackModels: []string{"busy", "pro"},
	}, nil)

	got, err := a.Analyze(context.Background(), []byte("room"), "lamp")
	require.NoError(t, err)
	assert.Equal(t, "white wooden lamp", got.SearchQuery)
	assert.Equal(t, []string{"busy", "pro"}, *models, "duplicate fallback is skipped")
}

func TestHTTPAnalyzer_Errors(t *testing.T) {
	srv, models := newAnalysisServer(t)

	a := NewHTTPAnalyzer(config.AnalyzerConfig{BaseURL: srv.URL, Model: "strict", FallbackModels: []string{"pro"}}, nil)
	_, err := a.Analyze(context.Background(), []byte("room"), "chair")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.Equal(t, domain.ClassTerminal, domain.ClassOf(err))
	assert.Equal(t, []string{"strict"}, *models, "client errors stop the fallback chain")

	a = NewHTTPAnalyzer(config.AnalyzerConfig{BaseURL: srv.URL, Model: "busy"}, nil)
	_, err = a.Analyze(context.Background(), []byte("room"), "chair")
	require.ErrorAs(t, err, &se)
	assert.True(t, domain.Retryable(err))

	_, err = a.Analyze(context.Background(), nil, "chair")
	assert.Equal(t, domain.ClassTerminal, domain.ClassOf(err))
}

func TestStatic(t *testing.T) {
	got, err := Static{}.Analyze(context.Background(), []byte("room"), "sofa")
	require.NoError(t, err)
	assert.Equal(t, "modern sofa", got.SearchQuery)
	assert.Equal(t, "modern sofa", got.Query("sofa"))
}

func TestNew(t *testing.T) {
	a, err := New(config.AnalyzerConfig{Provider: "mock"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "static", a.ModelName())

	_, err = New(config.AnalyzerConfig{Provider: "http"}, nil)
	assert.Error(t, err)

	a, err = New(config.AnalyzerConfig{Provider: "http", BaseURL: "http://localhost:8003", Model: "flash"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "flash", a.ModelName())

	_, err = New(config.AnalyzerConfig{Provider: "vision"}, nil)
	assert.Error(t, err)
}
