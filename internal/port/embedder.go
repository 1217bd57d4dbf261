package port

import (
	"context"

	"myroom/internal/domain"
)

// Embedder maps images and text into the shared embedding space.
type Embedder interface {
	// EmbedImage embeds encoded image bytes (JPEG, PNG, ...).
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)

	// EmbedText embeds a natural-language query.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// ModelName returns the name of the embedding model.
	ModelName() string
}

// QualityGate scores a source image and decides whether generation may proceed.
type QualityGate interface {
	Assess(ctx context.Context, image []byte) (domain.QualityReport, error)
}

// GenerationJobs drives the external image-to-3D job API.
type GenerationJobs interface {
	Submit(ctx context.Context, image []byte, params domain.GenerationParams) (domain.JobHandle, error)
	Poll(ctx context.Context, job domain.JobHandle) (domain.JobStatus, error)
	FetchResult(ctx context.Context, job domain.JobHandle) ([]byte, error)
}

// BlobStore stores generated assets and returns their public URL.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ImageFetcher downloads a source image.
type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}
