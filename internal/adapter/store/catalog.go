package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"myroom/internal/domain"
)

var ErrNoEmbedding = errors.New("no embedding supplied")

// CatalogStore pairs the flat index with position-aligned entry metadata.
// It is not safe for concurrent mutation; readers may share a store that
// nobody mutates.
type CatalogStore struct {
	index     *FlatIndex
	entries   []domain.Entry
	overFetch int
	keep      int
	now       func() time.Time

	generation uint64 // snapshot this store was loaded from or last saved as
	savedAt    time.Time
	files      string // index and metadata file names of that snapshot
}

type Option func(*CatalogStore)

// WithOverFetch sets how many index candidates are examined per requested
// result before filtering.
func WithOverFetch(n int) Option {
	return func(s *CatalogStore) {
		if n > 0 {
			s.overFetch = n
		}
	}
}

// WithKeepGenerations sets how many superseded snapshots Save leaves on disk.
func WithKeepGenerations(n int) Option {
	return func(s *CatalogStore) {
		if n >= 0 {
			s.keep = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *CatalogStore) { s.now = now }
}

// New creates an empty store for embeddings of the given dimension.
func New(dim int, opts ...Option) *CatalogStore {
	s := &CatalogStore{
		index:     NewFlatIndex(dim),
		overFetch: 3,
		keep:      1,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CatalogStore) Dimension() int { return s.index.Dimension() }

// Len returns the number of slots, deleted ones included.
func (s *CatalogStore) Len() int { return len(s.entries) }

func (s *CatalogStore) Generation() uint64 { return s.generation }

func (s *CatalogStore) SavedAt() time.Time { return s.savedAt }

// Entries returns a copy of all entries in position order.
func (s *CatalogStore) Entries() []domain.Entry {
	out := make([]domain.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Insert appends an entry and its embedding. It returns false and appends
// nothing when the embedding is missing or unusable. A live entry with the
// same catalog id is soft-deleted first so the new one supersedes it.
func (s *CatalogStore) Insert(embedding []float32, category string, meta domain.EntryMeta) (bool, error) {
	if embedding == nil {
		return false, ErrNoEmbedding
	}
	if len(embedding) != s.index.Dimension() {
		return false, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, s.index.Dimension(), len(embedding))
	}
	vec, err := NormalizeL2(embedding)
	if err != nil {
		return false, err
	}

	now := s.now().UTC()
	if meta.CatalogID != 0 {
		if pos := s.livePosition(meta.CatalogID); pos >= 0 {
			s.entries[pos].Deleted = true
			s.entries[pos].UpdatedAt = now
		}
	}
	if category == "" {
		category = domain.UnknownCategory
	}

	if _, err := s.index.Add(vec); err != nil {
		return false, err
	}
	s.entries = append(s.entries, domain.Entry{
		CatalogID:      meta.CatalogID,
		Category:       category,
		SourceImageRef: meta.SourceImageRef,
		DisplayName:    meta.DisplayName,
		AssetURL:       meta.AssetURL,
		OwnerID:        meta.OwnerID,
		Visible:        meta.Visible,
		CreatedAt:      now,
	})
	return true, nil
}

// FindByCatalogID scans all entries, deleted ones included. The live entry
// wins; otherwise the most recent deleted one is returned.
func (s *CatalogStore) FindByCatalogID(id int64) (domain.Entry, bool) {
	pos := s.locate(id)
	if pos < 0 {
		return domain.Entry{}, false
	}
	return s.entries[pos], true
}

// UpdateMetadata applies patch in place. found is false when no entry has
// the id; changed is false when the patch matches the current values.
func (s *CatalogStore) UpdateMetadata(id int64, patch domain.MetadataPatch) (found, changed bool) {
	pos := s.locate(id)
	if pos < 0 {
		return false, false
	}

	e := &s.entries[pos]
	if patch.Name != nil && *patch.Name != e.Name {
		e.Name = *patch.Name
		changed = true
	}
	if patch.Description != nil && *patch.Description != e.Description {
		e.Description = *patch.Description
		changed = true
	}
	if patch.Visible != nil && *patch.Visible != e.Visible {
		e.Visible = *patch.Visible
		changed = true
	}
	if changed {
		e.UpdatedAt = s.now().UTC()
	}
	return true, changed
}

// SoftDelete marks the entry deleted. It reports whether an entry with the
// id exists, so repeated calls keep returning true without changing state.
func (s *CatalogStore) SoftDelete(id int64) bool {
	pos := s.locate(id)
	if pos < 0 {
		return false
	}
	if !s.entries[pos].Deleted {
		s.entries[pos].Deleted = true
		s.entries[pos].UpdatedAt = s.now().UTC()
	}
	return true
}

// SoftDeleteMany deletes every id and reports which were newly deleted,
// which were already deleted and which do not exist.
func (s *CatalogStore) SoftDeleteMany(ids []int64) domain.DeleteResult {
	res := domain.DeleteResult{
		Deleted:        []int64{},
		AlreadyDeleted: []int64{},
		NotFound:       []int64{},
	}
	for _, id := range ids {
		pos := s.locate(id)
		switch {
		case pos < 0:
			res.NotFound = append(res.NotFound, id)
		case s.entries[pos].Deleted:
			res.AlreadyDeleted = append(res.AlreadyDeleted, id)
		default:
			s.entries[pos].Deleted = true
			s.entries[pos].UpdatedAt = s.now().UTC()
			res.Deleted = append(res.Deleted, id)
		}
	}
	return res
}

// Search returns up to k visible, non-deleted entries closest to query,
// optionally restricted to one category. Only overFetch*k index candidates
// are examined, so heavy filtering can yield fewer than k results.
func (s *CatalogStore) Search(query []float32, k int, category string) ([]domain.ScoredEntry, error) {
	if k <= 0 || len(s.entries) == 0 {
		return nil, nil
	}
	q, err := NormalizeL2(query)
	if err != nil {
		return nil, err
	}

	candidates := k * s.overFetch
	if candidates > len(s.entries) {
		candidates = len(s.entries)
	}
	neighbors, err := s.index.Search(q, candidates)
	if err != nil {
		return nil, err
	}

	results := make([]domain.ScoredEntry, 0, k)
	for _, n := range neighbors {
		e := s.entries[n.Position]
		if !e.Live() {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		results = append(results, domain.ScoredEntry{Position: n.Position, Score: n.Score, Entry: e})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Categories counts non-deleted entries per category.
func (s *CatalogStore) Categories() map[string]int {
	counts := make(map[string]int)
	for _, e := range s.entries {
		if !e.Deleted {
			counts[e.Category]++
		}
	}
	return counts
}

// ByCategory returns the non-deleted entries of one category in position order.
func (s *CatalogStore) ByCategory(category string) []domain.Entry {
	var out []domain.Entry
	for _, e := range s.entries {
		if !e.Deleted && e.Category == category {
			out = append(out, e)
		}
	}
	return out
}

// ByOwner returns the non-deleted entries of one owner, hidden ones
// included, newest first.
func (s *CatalogStore) ByOwner(ownerID int64) []domain.Entry {
	var out []domain.Entry
	for _, e := range s.entries {
		if !e.Deleted && e.OwnerID == ownerID {
			out = append(out, e)
		}
	}
	newestFirst(out)
	return out
}

// Latest returns up to n live entries, newest first.
func (s *CatalogStore) Latest(n int) []domain.Entry {
	if n <= 0 {
		return nil
	}
	var out []domain.Entry
	for _, e := range s.entries {
		if e.Live() {
			out = append(out, e)
		}
	}
	newestFirst(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// newestFirst orders entries by creation time, later insertions first on ties.
func newestFirst(entries []domain.Entry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
}

func (s *CatalogStore) Stats() domain.Statistics {
	st := domain.Statistics{
		TotalSlots: len(s.entries),
		Categories: s.Categories(),
		Dimension:  s.index.Dimension(),
		Generation: s.generation,
		SavedAt:    s.savedAt,
	}
	for _, e := range s.entries {
		switch {
		case e.Deleted:
			st.DeletedItems++
		case !e.Visible:
			st.HiddenItems++
		default:
			st.LiveItems++
		}
	}
	st.TotalCategories = len(st.Categories)
	return st
}

// Reset clears the index and all metadata.
func (s *CatalogStore) Reset() {
	s.index.Reset()
	s.entries = nil
}

func (s *CatalogStore) locate(id int64) int {
	if id == 0 {
		return -1
	}
	last := -1
	for i, e := range s.entries {
		if e.CatalogID != id {
			continue
		}
		if !e.Deleted {
			return i
		}
		last = i
	}
	return last
}

func (s *CatalogStore) livePosition(id int64) int {
	for i, e := range s.entries {
		if e.CatalogID == id && !e.Deleted {
			return i
		}
	}
	return -1
}
