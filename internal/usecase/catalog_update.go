package usecase

import (
	"context"
	"log/slog"

	"myroom/internal/adapter/store"
	"myroom/internal/domain"
	"myroom/internal/port"
)

// MetadataUpdateHandler applies metadata changes to existing entries.
type MetadataUpdateHandler struct {
	catalog CatalogWriter
	logger  *slog.Logger
}

func NewMetadataUpdateHandler(catalog CatalogWriter, logger *slog.Logger) *MetadataUpdateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetadataUpdateHandler{catalog: catalog, logger: logger}
}

// Handle updates one entry. An unknown catalog id is acknowledged without
// touching the persisted catalog.
func (h *MetadataUpdateHandler) Handle(ctx context.Context, d port.Delivery) error {
	const op = "update metadata"

	var req domain.MetadataUpdateRequest
	if err := decode(op, d.Body, &req); err != nil {
		return err
	}

	patch := req.Patch()
	if patch.Empty() {
		h.logger.Info("metadata update carries no changes", "catalog_id", req.CatalogID)
		return nil
	}

	var found, changed bool
	err := h.catalog.Mutate(ctx, op, func(s *store.CatalogStore) (bool, error) {
		found, changed = s.UpdateMetadata(req.CatalogID, patch)
		return changed, nil
	})
	if err != nil {
		return err
	}

	switch {
	case !found:
		h.logger.Warn("metadata update for unknown entry", "catalog_id", req.CatalogID)
	case !changed:
		h.logger.Info("metadata already up to date", "catalog_id", req.CatalogID)
	default:
		h.logger.Info("metadata updated", "catalog_id", req.CatalogID, "owner_id", req.OwnerID)
	}
	return nil
}

// DeleteHandler soft-deletes entries. Already deleted and unknown ids are
// reported in the log and never retried.
type DeleteHandler struct {
	catalog CatalogWriter
	logger  *slog.Logger
}

func NewDeleteHandler(catalog CatalogWriter, logger *slog.Logger) *DeleteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeleteHandler{catalog: catalog, logger: logger}
}

func (h *DeleteHandler) Handle(ctx context.Context, d port.Delivery) error {
	const op = "delete entries"

	var req domain.DeleteRequest
	if err := decode(op, d.Body, &req); err != nil {
		return err
	}

	var result domain.DeleteResult
	err := h.catalog.Mutate(ctx, op, func(s *store.CatalogStore) (bool, error) {
		result = s.SoftDeleteMany(req.CatalogIDs)
		return result.Changed(), nil
	})
	if err != nil {
		return err
	}

	h.logger.Info("delete processed",
		"owner_id", req.OwnerID,
		"deleted", result.Deleted,
		"already_deleted", result.AlreadyDeleted,
		"not_found", result.NotFound,
	)
	return nil
}
