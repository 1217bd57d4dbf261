package store

import (
	"encoding/json"
	"fmt"
	"time"

	"myroom/internal/domain"
)

// CurrentSchemaVersion is the version of the entry encoding written by Save.
// Increment this when making breaking changes to the metadata format and add
// a step to entryMigrations.
const CurrentSchemaVersion = 2

// SchemaInfo is the header record of a metadata file.
type SchemaInfo struct {
	Version       int       `json:"version"`
	Dimension     int       `json:"dimension"`
	Count         int       `json:"count"`
	IndexChecksum string    `json:"index_checksum"`
	Generation    uint64    `json:"generation"`
	SavedAt       time.Time `json:"saved_at"`
}

// MigrationResult describes whether a snapshot can be read as is.
type MigrationResult struct {
	NeedsMigration bool
	NeedsRebuild   bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

// CheckMigration compares a snapshot header against this build.
func CheckMigration(info SchemaInfo, dim int) MigrationResult {
	result := MigrationResult{
		OldVersion: info.Version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case info.Version <= 0:
		result.NeedsRebuild = true
		result.Reason = "missing schema version"
	case info.Version < CurrentSchemaVersion:
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", info.Version, CurrentSchemaVersion)
	case info.Version > CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("snapshot written by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
	}

	if !result.NeedsRebuild && info.Dimension != dim {
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("embedding dimension changed (%d -> %d)", info.Dimension, dim)
	}
	return result
}

// entryMigrations[v] rewrites an entry encoded at version v into version v+1.
var entryMigrations = map[int]func([]byte) ([]byte, error){
	1: migrateEntryV1,
}

// decodeEntry decodes an entry stored at the given schema version, running
// every migration step up to CurrentSchemaVersion.
func decodeEntry(version int, data []byte) (domain.Entry, error) {
	var e domain.Entry
	for v := version; v < CurrentSchemaVersion; v++ {
		step, ok := entryMigrations[v]
		if !ok {
			return e, fmt.Errorf("no migration from v%d", v)
		}
		var err error
		if data, err = step(data); err != nil {
			return e, fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
	}
	if err := json.Unmarshal(data, &e); err != nil {
		return e, err
	}
	return e, nil
}

// legacyEntry is the v1 layout written by the first catalog service.
type legacyEntry struct {
	Model3DID     *int64 `json:"model3d_id"`
	FurnitureType string `json:"furniture_type"`
	ImagePath     string `json:"image_path"`
	Filename      string `json:"filename"`
	IsShared      *bool  `json:"is_shared"`
	MemberID      *int64 `json:"member_id"`
	Model3DPath   string `json:"model3d_path"`
	CreatedAt     string `json:"created_at"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Deleted       bool   `json:"_deleted"`
}

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

func migrateEntryV1(data []byte) ([]byte, error) {
	var old legacyEntry
	if err := json.Unmarshal(data, &old); err != nil {
		return nil, err
	}

	e := domain.Entry{
		Category:       old.FurnitureType,
		SourceImageRef: old.ImagePath,
		DisplayName:    old.Filename,
		Name:           old.Name,
		Description:    old.Description,
		AssetURL:       old.Model3DPath,
		Visible:        true,
		Deleted:        old.Deleted,
	}
	if old.Model3DID != nil {
		e.CatalogID = *old.Model3DID
	}
	if old.MemberID != nil {
		e.OwnerID = *old.MemberID
	}
	if old.IsShared != nil {
		e.Visible = *old.IsShared
	}
	if e.Category == "" {
		e.Category = domain.UnknownCategory
	}
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, old.CreatedAt); err == nil {
			e.CreatedAt = t.UTC()
			break
		}
	}

	return json.Marshal(e)
}
