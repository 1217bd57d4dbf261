package domain

import "time"

// UnknownCategory is stored when an inbound request carries no category.
const UnknownCategory = "unknown"

// Entry is one catalog slot. Its position matches the position of its
// embedding in the index.
type Entry struct {
	CatalogID      int64     `json:"catalog_id"` // 0 until assigned by the owning backend
	Category       string    `json:"category"`
	SourceImageRef string    `json:"source_image_ref"`
	DisplayName    string    `json:"display_name"`
	Name           string    `json:"name,omitempty"`
	Description    string    `json:"description,omitempty"`
	AssetURL       string    `json:"asset_url,omitempty"`
	OwnerID        int64     `json:"owner_id"`
	Visible        bool      `json:"visible"`
	Deleted        bool      `json:"deleted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// Live reports whether the entry can appear in search results.
func (e Entry) Live() bool {
	return e.Visible && !e.Deleted
}

// EntryMeta is the metadata supplied when an entry is inserted.
type EntryMeta struct {
	CatalogID      int64
	SourceImageRef string
	DisplayName    string
	AssetURL       string
	OwnerID        int64
	Visible        bool
}

// MetadataPatch is a partial update. Nil fields are left unchanged.
type MetadataPatch struct {
	Name        *string
	Description *string
	Visible     *bool
}

// Empty reports whether the patch changes nothing.
func (p MetadataPatch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.Visible == nil
}

type ScoredEntry struct {
	Position int
	Score    float64
	Entry    Entry
}

// DeleteResult splits requested ids by what a soft delete found.
type DeleteResult struct {
	Deleted        []int64 `json:"deleted"`
	AlreadyDeleted []int64 `json:"already_deleted"`
	NotFound       []int64 `json:"not_found"`
}

// Changed reports whether any entry was newly marked deleted.
func (r DeleteResult) Changed() bool {
	return len(r.Deleted) > 0
}

// Hit is a search result as returned to callers.
type Hit struct {
	Rank           int         `json:"rank"`
	Score          float64     `json:"score"`
	TextScore      *float64    `json:"text_score,omitempty"`
	ImageScore     *float64    `json:"image_score,omitempty"`
	CatalogID      int64       `json:"catalog_id"`
	Category       string      `json:"category"`
	SourceImageRef string      `json:"source_image_ref"`
	DisplayName    string      `json:"display_name"`
	Metadata       HitMetadata `json:"metadata"`
}

// HitMetadata is the caller-facing subset of an entry.
type HitMetadata struct {
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	AssetURL    string    `json:"asset_url,omitempty"`
	OwnerID     int64     `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewHit builds a hit from a stored entry.
func NewHit(rank int, score float64, e Entry) Hit {
	return Hit{
		Rank:           rank,
		Score:          score,
		CatalogID:      e.CatalogID,
		Category:       e.Category,
		SourceImageRef: e.SourceImageRef,
		DisplayName:    e.DisplayName,
		Metadata: HitMetadata{
			Name:        e.Name,
			Description: e.Description,
			AssetURL:    e.AssetURL,
			OwnerID:     e.OwnerID,
			CreatedAt:   e.CreatedAt,
		},
	}
}

type SearchStatus string

const (
	SearchOK      SearchStatus = "ok"
	SearchWarning SearchStatus = "warning"
)

type SearchResponse struct {
	Status  SearchStatus `json:"status"`
	Warning string       `json:"warning,omitempty"`
	Results []Hit        `json:"results"`
}

type Statistics struct {
	TotalSlots      int            `json:"total_slots"`
	LiveItems       int            `json:"live_items"`
	DeletedItems    int            `json:"deleted_items"`
	HiddenItems     int            `json:"hidden_items"`
	TotalCategories int            `json:"total_categories"`
	Categories      map[string]int `json:"categories"`
	Dimension       int            `json:"dimension"`
	Generation      uint64         `json:"generation"`
	SavedAt         time.Time      `json:"saved_at,omitempty"`
}
