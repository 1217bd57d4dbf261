package domain

type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusFailed  ResponseStatus = "failed"
	StatusWarning ResponseStatus = "warning"
)

// GenerationRequest asks for a 3D asset to be generated from an uploaded photo.
type GenerationRequest struct {
	SourceImageURL string `json:"source_image_url" validate:"required"`
	OwnerID        int64  `json:"owner_id" validate:"required,gt=0"`
	CatalogID      int64  `json:"catalog_id" validate:"required,gt=0"`
	Category       string `json:"category"`
	Visible        *bool  `json:"visible"`
	Timestamp      int64  `json:"timestamp"`
}

// GenerationResponse is published once per handled generation request.
type GenerationResponse struct {
	MessageID             string         `json:"message_id"`
	OwnerID               int64          `json:"owner_id"`
	CatalogID             int64          `json:"catalog_id"`
	SourceImageURL        string         `json:"source_image_url"`
	AssetURL              string         `json:"asset_url,omitempty"`
	ThumbnailURL          string         `json:"thumbnail_url,omitempty"`
	Status                ResponseStatus `json:"status"`
	Reason                string         `json:"reason,omitempty"`
	QualityScore          float64        `json:"quality_score,omitempty"`
	QualityTier           Tier           `json:"quality_tier,omitempty"`
	Timestamp             int64          `json:"timestamp"`
	ProcessingTimeSeconds float64        `json:"processing_time_seconds"`
}

// MetadataUpdateRequest changes descriptive fields of an existing entry.
type MetadataUpdateRequest struct {
	CatalogID   int64   `json:"catalog_id" validate:"required,gt=0"`
	OwnerID     int64   `json:"owner_id"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Visible     *bool   `json:"visible"`
	Timestamp   int64   `json:"timestamp"`
}

// Patch returns the store-level patch carried by the request.
func (r MetadataUpdateRequest) Patch() MetadataPatch {
	return MetadataPatch{Name: r.Name, Description: r.Description, Visible: r.Visible}
}

// DeleteRequest soft-deletes one or more entries.
type DeleteRequest struct {
	CatalogIDs []int64 `json:"catalog_ids" validate:"required,min=1,dive,gt=0"`
	OwnerID    int64   `json:"owner_id"`
	Timestamp  int64   `json:"timestamp"`
}

// RecommendationRequest asks for furniture that suits a room photo.
type RecommendationRequest struct {
	OwnerID   int64  `json:"owner_id" validate:"required,gt=0"`
	ImageURL  string `json:"image_url" validate:"required"`
	Category  string `json:"category"`
	TopK      int    `json:"top_k" validate:"gte=0"`
	Timestamp int64  `json:"timestamp"`
}

// RecommendationResponse is published once per handled recommendation
// request. Analysis and Recommendation are set only on success.
type RecommendationResponse struct {
	MessageID      string          `json:"message_id"`
	OwnerID        int64           `json:"owner_id"`
	ImageURL       string          `json:"image_url"`
	Status         ResponseStatus  `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	Analysis       *RoomAnalysis   `json:"room_analysis,omitempty"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	Timestamp      int64           `json:"timestamp"`
}
