// Package blob stores generated 3D assets and hands back their public URL.
package blob

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"time"

	"myroom/config"
	"myroom/internal/port"
)

const ModelContentType = "model/gltf-binary"

// AssetKey builds <prefix>/<owner_id>/<catalog_id>_<yyyymmdd_hhmmss>.<ext>.
func AssetKey(prefix string, ownerID, catalogID int64, at time.Time, ext string) string {
	if ext == "" {
		ext = "glb"
	}
	name := strconv.FormatInt(catalogID, 10) + "_" + at.UTC().Format("20060102_150405") + "." + ext
	return path.Join(prefix, strconv.FormatInt(ownerID, 10), name)
}

// New returns the store selected by cfg.Provider.
func New(ctx context.Context, cfg config.BlobConfig) (port.BlobStore, error) {
	switch cfg.Provider {
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	case "local", "":
		return NewLocalStore(cfg.Local)
	default:
		return nil, fmt.Errorf("unknown blob provider: %s", cfg.Provider)
	}
}
