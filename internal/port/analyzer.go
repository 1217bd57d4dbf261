package port

import (
	"context"

	"myroom/internal/domain"
)

// RoomAnalyzer reads a room photo and proposes a furniture search query for
// the target category.
type RoomAnalyzer interface {
	// Analyze describes the room in image and derives the query.
	Analyze(ctx context.Context, image []byte, targetCategory string) (domain.RoomAnalysis, error)

	// ModelName returns the name of the model behind the analysis.
	ModelName() string
}
