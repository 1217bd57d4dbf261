package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"myroom/config"
	"myroom/internal/domain"
	"myroom/internal/metrics"
)

// MutateFunc changes a freshly loaded store and reports whether anything
// changed. Unchanged stores are not written back.
type MutateFunc func(s *CatalogStore) (changed bool, err error)

// Repository owns the persisted catalog in one directory. Every mutation
// reloads the latest snapshot, applies the change and saves a new one.
type Repository struct {
	dir         string
	dim         int
	opts        []Option
	lockEnabled bool
	lockTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu          sync.Mutex
	cached      *CatalogStore
	cachedFiles string
	cachedInit  bool
}

// NewRepository creates a repository for the configured store directory.
func NewRepository(cfg config.StoreConfig, logger *slog.Logger, opts ...Option) (*Repository, error) {
	if err := config.EnsureStoreDir(cfg.Dir); err != nil {
		return nil, fmt.Errorf("failed to create store dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	base := []Option{WithOverFetch(cfg.OverFetch), WithKeepGenerations(cfg.KeepGenerations)}
	return &Repository{
		dir:         cfg.Dir,
		dim:         cfg.Dimension,
		opts:        append(base, opts...),
		lockEnabled: cfg.AdvisoryLock,
		lockTimeout: cfg.LockTimeout,
		logger:      logger.With("component", "catalog_repository"),
	}, nil
}

// SetMetrics records persist durations and catalog sizes on m.
func (r *Repository) SetMetrics(m *metrics.Metrics) { r.metrics = m }

func (r *Repository) Dir() string { return r.dir }

func (r *Repository) Dimension() int { return r.dim }

// Load returns a fresh copy of the latest snapshot, or an empty store when
// nothing has been saved yet.
func (r *Repository) Load(ctx context.Context) (*CatalogStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := Load(r.dir, r.dim, r.opts...)
	if errors.Is(err, ErrNoSnapshot) {
		return New(r.dim, r.opts...), nil
	}
	return s, err
}

// Snapshot returns the latest persisted store for read-only use. The same
// store is shared between callers until the manifest names other files.
func (r *Repository) Snapshot(ctx context.Context) (*CatalogStore, error) {
	m, err := ReadManifest(r.dir)
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cachedInit && r.cachedFiles == m.files() {
		return r.cached, nil
	}

	s, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	r.cached = s
	r.cachedFiles = s.files
	r.cachedInit = true
	return s, nil
}

// Generation returns the generation named by the manifest, 0 if none.
func (r *Repository) Generation() (uint64, error) {
	m, err := ReadManifest(r.dir)
	if errors.Is(err, ErrNoSnapshot) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return m.Generation, nil
}

// Mutate runs one reload-mutate-persist cycle. Load and save failures are
// transient; errors returned by fn are passed through unchanged.
func (r *Repository) Mutate(ctx context.Context, op string, fn MutateFunc) error {
	unlock, err := r.acquire(ctx)
	if err != nil {
		return domain.Transient(op, err)
	}
	defer unlock()

	s, err := r.Load(ctx)
	if err != nil {
		return domain.Transient(op, fmt.Errorf("failed to reload catalog: %w", err))
	}

	changed, err := fn(s)
	if err != nil {
		return err
	}
	if !changed {
		r.logger.Debug("catalog unchanged, skipping persist", "op", op, "generation", s.Generation())
		return nil
	}

	start := time.Now()
	if err := s.Save(r.dir); err != nil {
		return domain.Transient(op, fmt.Errorf("failed to persist catalog: %w", err))
	}
	r.metrics.ObservePersist(time.Since(start))
	stats := s.Stats()
	r.metrics.SetCatalog(stats.LiveItems, stats.DeletedItems, stats.HiddenItems)
	r.logger.Info("catalog persisted",
		"op", op,
		"generation", s.Generation(),
		"entries", s.Len(),
		"duration", time.Since(start))
	return nil
}

// Reset persists an empty store as the new current generation. The
// previous snapshot is not read, so a corrupt or outdated one can be
// replaced.
func (r *Repository) Reset(ctx context.Context) error {
	unlock, err := r.acquire(ctx)
	if err != nil {
		return domain.Transient("reset", err)
	}
	defer unlock()

	s := New(r.dim, r.opts...)
	if err := s.Save(r.dir); err != nil {
		return domain.Transient("reset", fmt.Errorf("failed to persist catalog: %w", err))
	}
	r.metrics.SetCatalog(0, 0, 0)
	r.logger.Info("catalog reset", "generation", s.Generation())
	return nil
}

// acquire takes the advisory lock when enabled. Each call opens its own
// lock file descriptor so goroutines of one process exclude each other too.
func (r *Repository) acquire(ctx context.Context) (func(), error) {
	if !r.lockEnabled {
		return func() {}, nil
	}

	lockPath := config.LockPath(r.dir)
	l := flock.New(lockPath)

	timeout := r.lockTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := l.TryLockContext(lockCtx, 20*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("cannot acquire catalog lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("catalog lock %s is held by another writer", lockPath)
	}
	return func() {
		if err := l.Unlock(); err != nil && !errors.Is(err, os.ErrClosed) {
			r.logger.Warn("failed to release catalog lock", "path", lockPath, "error", err)
		}
	}, nil
}
