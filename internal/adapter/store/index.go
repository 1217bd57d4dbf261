package store

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrZeroVector        = errors.New("vector has zero norm")
)

// FlatIndex is an append-only exact inner-product index. Vectors are stored
// contiguously; a vector's position never changes once added.
type FlatIndex struct {
	dim  int
	data []float32
}

// Neighbor is one search hit: the position of the stored vector and its inner
// product with the query.
type Neighbor struct {
	Position int
	Score    float64
}

func NewFlatIndex(dim int) *FlatIndex {
	return &FlatIndex{dim: dim}
}

func (x *FlatIndex) Dimension() int { return x.dim }

// Len returns the number of stored vectors.
func (x *FlatIndex) Len() int {
	if x.dim == 0 {
		return 0
	}
	return len(x.data) / x.dim
}

// Add appends a vector and returns its position.
func (x *FlatIndex) Add(vec []float32) (int, error) {
	if len(vec) != x.dim {
		return -1, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, x.dim, len(vec))
	}
	pos := x.Len()
	x.data = append(x.data, vec...)
	return pos, nil
}

// Vector returns a copy of the vector stored at pos.
func (x *FlatIndex) Vector(pos int) []float32 {
	out := make([]float32, x.dim)
	copy(out, x.data[pos*x.dim:(pos+1)*x.dim])
	return out
}

// Search returns the k stored vectors with the highest inner product against
// query, highest first. Equal scores keep position order.
func (x *FlatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, x.dim, len(query))
	}
	n := x.Len()
	if k <= 0 || n == 0 {
		return nil, nil
	}

	scores := make([]Neighbor, n)
	for i := 0; i < n; i++ {
		scores[i] = Neighbor{Position: i, Score: dot(query, x.data[i*x.dim:(i+1)*x.dim])}
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})

	if k > n {
		k = n
	}
	return scores[:k], nil
}

// Reset drops every stored vector.
func (x *FlatIndex) Reset() {
	x.data = nil
}

func (x *FlatIndex) raw() []float32 { return x.data }

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// NormalizeL2 returns a unit-length copy of v.
func NormalizeL2(v []float32) ([]float32, error) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, ErrZeroVector
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) * inv)
	}
	return out, nil
}
