package domain

import "strings"

// DefaultRecommendationCategory is recommended when a request names none.
const DefaultRecommendationCategory = "chair"

// RoomAnalysis describes a room photo and the furniture query derived from it.
type RoomAnalysis struct {
	Style             string   `json:"style"`
	Color             string   `json:"color"`
	Material          string   `json:"material"`
	DetectedFurniture []string `json:"detected_furniture"`
	DetectedCount     int      `json:"detected_count"`
	Reasoning         string   `json:"reasoning"`
	SearchQuery       string   `json:"search_query"`
}

// Query returns the text to search the catalog with. An analysis without a
// query falls back to the room style and the target category.
func (a RoomAnalysis) Query(category string) string {
	if q := strings.TrimSpace(a.SearchQuery); q != "" {
		return q
	}
	style := strings.TrimSpace(a.Style)
	if style == "" {
		style = "modern"
	}
	return strings.ToLower(style) + " " + category
}

// Recommendation is the catalog search run for an analysed room.
type Recommendation struct {
	TargetCategory string       `json:"target_category"`
	Reasoning      string       `json:"reasoning,omitempty"`
	SearchQuery    string       `json:"search_query"`
	Status         SearchStatus `json:"status"`
	Warning        string       `json:"warning,omitempty"`
	Results        []Hit        `json:"results"`
	ResultCount    int          `json:"result_count"`
}

// NewRecommendation wraps a search response for the given analysis.
func NewRecommendation(category string, a RoomAnalysis, query string, resp SearchResponse) Recommendation {
	return Recommendation{
		TargetCategory: category,
		Reasoning:      a.Reasoning,
		SearchQuery:    query,
		Status:         resp.Status,
		Warning:        resp.Warning,
		Results:        resp.Results,
		ResultCount:    len(resp.Results),
	}
}
