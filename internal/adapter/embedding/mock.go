package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand"
	"strings"
)

// MockEmbedder derives a deterministic unit vector from the input bytes.
// Equal inputs embed identically; text is case- and space-insensitive.
type MockEmbedder struct {
	dimension int
}

func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{dimension: dimension}
}

func (e *MockEmbedder) EmbedImage(_ context.Context, image []byte) ([]float32, error) {
	return e.vector(append([]byte("image:"), image...)), nil
}

func (e *MockEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return e.vector([]byte("text:" + norm)), nil
}

func (e *MockEmbedder) vector(seed []byte) []float32 {
	sum := sha256.Sum256(seed)
	rng := rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(sum[:8]))))

	v := make([]float32, e.dimension)
	var norm float64
	for i := range v {
		f := rng.NormFloat64()
		v[i] = float32(f)
		norm += f * f
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= inv
	}
	return v
}

func (e *MockEmbedder) Dimension() int {
	return e.dimension
}

func (e *MockEmbedder) ModelName() string {
	return "mock"
}
