// Package server exposes catalog search over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"myroom/config"
	"myroom/internal/domain"
	"myroom/internal/metrics"
)

// Searcher is the read side of the catalog.
type Searcher interface {
	SearchByText(ctx context.Context, text string, k int, category string) domain.SearchResponse
	SearchByImage(ctx context.Context, image []byte, k int, category string) domain.SearchResponse
	HybridSearch(ctx context.Context, text string, image []byte, k int, category string) domain.SearchResponse
	Categories(ctx context.Context) (map[string]int, error)
	CategoryItems(ctx context.Context, category string) ([]domain.Hit, error)
	Statistics(ctx context.Context) (domain.Statistics, error)
	Lookup(ctx context.Context, catalogID int64) (domain.Entry, bool, error)
	OwnerItems(ctx context.Context, ownerID int64) ([]domain.Hit, error)
	Latest(ctx context.Context, n int) ([]domain.Hit, error)
}

// RoomRecommender analyses a room photo and recommends catalog furniture.
type RoomRecommender interface {
	Recommend(ctx context.Context, image []byte, category string, k int) (domain.RoomAnalysis, domain.Recommendation, error)
}

type Server struct {
	search    Searcher
	recommend RoomRecommender
	cfg       config.ServerConfig
	assetsDir string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	started   time.Time
}

type Option func(*Server)

// WithAssets serves files under dir at /assets.
func WithAssets(dir string) Option {
	return func(s *Server) { s.assetsDir = dir }
}

// WithRecommender enables POST /recommendation/analyze.
func WithRecommender(r RoomRecommender) Option {
	return func(s *Server) { s.recommend = r }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func New(search Searcher, cfg config.ServerConfig, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		search:  search,
		cfg:     cfg,
		logger:  logger,
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with all routes and middleware.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	if s.cfg.MaxUploadBytes > 0 {
		r.MaxMultipartMemory = s.cfg.MaxUploadBytes
	}

	r.GET("/health", s.health)
	if reg := s.metrics.Registry(); reg != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	if s.assetsDir != "" {
		r.Static("/assets", s.assetsDir)
	}

	api := r.Group("/recommendation", rateLimiter(s.cfg.RateLimit, s.cfg.Burst))
	api.GET("/health", s.health)
	api.GET("/categories", s.categories)
	api.GET("/categories/:category", s.categoryItems)
	api.GET("/statistics", s.statistics)
	api.GET("/items/:catalog_id", s.lookup)
	api.GET("/owners/:owner_id/items", s.ownerItems)
	api.GET("/latest", s.latest)
	api.POST("/search/text", s.searchText)
	api.POST("/search/image", s.searchImage)
	api.POST("/search/hybrid", s.searchHybrid)
	if s.recommend != nil {
		api.POST("/analyze", s.analyze)
	}

	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
