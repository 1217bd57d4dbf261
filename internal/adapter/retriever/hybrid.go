package retriever

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"myroom/internal/domain"
)

type fusedHit struct {
	entry      domain.Entry
	textScore  *float64
	imageScore *float64
	combined   float64
}

// HybridSearch runs a text search and, when image is non-empty, an image
// search, each over 2k candidates, and merges them by source image.
//
// With an image query the combined score is the mean of both sub-scores, a
// missing sub-score counting as 0. Without one it is the text score. If only
// one sub-search fails the other's results are returned with a warning.
func (e *Engine) HybridSearch(ctx context.Context, text string, image []byte, k int, category string) domain.SearchResponse {
	k = e.clampK(k)
	withText := strings.TrimSpace(text) != ""
	withImage := len(image) > 0
	if !withText && !withImage {
		return e.finish("hybrid", warningResponse("query text and image are both empty"))
	}

	var textFound, imageFound []domain.ScoredEntry
	var warnings []string

	if withText {
		found, warn := e.search(ctx, func(ctx context.Context) ([]float32, error) {
			return e.embedder.EmbedText(ctx, text)
		}, "text", 2*k, category)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		textFound = found
	}
	if withImage {
		found, warn := e.search(ctx, func(ctx context.Context) ([]float32, error) {
			return e.embedder.EmbedImage(ctx, image)
		}, "image", 2*k, category)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		imageFound = found
	}

	fused := fuse(textFound, imageFound, withImage)
	if len(fused) > k {
		fused = fused[:k]
	}

	hits := make([]domain.Hit, 0, len(fused))
	for i, f := range fused {
		hit := domain.NewHit(i+1, f.combined, f.entry)
		hit.TextScore = f.textScore
		hit.ImageScore = f.imageScore
		hits = append(hits, hit)
	}

	if len(warnings) > 0 {
		resp := warningResponse(strings.Join(dedupe(warnings), "; "))
		resp.Results = hits
		return e.finish("hybrid", resp)
	}
	return e.finish("hybrid", okResponse(hits))
}

// fuse merges the two result lists keyed by source image reference. Entries
// without one are keyed by index position. Ties keep first-seen order, text
// results first.
func fuse(textFound, imageFound []domain.ScoredEntry, withImage bool) []fusedHit {
	byKey := make(map[string]int)
	var fused []fusedHit

	slot := func(se domain.ScoredEntry) *fusedHit {
		key := se.Entry.SourceImageRef
		if key == "" {
			key = "#" + strconv.Itoa(se.Position)
		}
		if i, seen := byKey[key]; seen {
			return &fused[i]
		}
		byKey[key] = len(fused)
		fused = append(fused, fusedHit{entry: se.Entry})
		return &fused[len(fused)-1]
	}

	for _, se := range textFound {
		score := se.Score
		slot(se).textScore = &score
	}
	for _, se := range imageFound {
		if se.Entry.Deleted {
			continue
		}
		score := se.Score
		slot(se).imageScore = &score
	}

	for i := range fused {
		f := &fused[i]
		textScore := valueOr(f.textScore)
		if withImage {
			f.combined = (textScore + valueOr(f.imageScore)) / 2
		} else {
			f.combined = textScore
		}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].combined > fused[j].combined
	})
	return fused
}

func valueOr(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
