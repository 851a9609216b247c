package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrLayerNotFound   = errors.New("layer not found")
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrLayerDuplicated = errors.New("layer slug already exists")
	ErrLayerProtected  = errors.New("layer is protected")
	ErrDbAccessFailed  = errors.New("db access failed")
)

func GetLayer(layerId uuid.UUID, db *gorm.DB) (Layer, error) {
	var layer Layer

	result := db.First(&layer, "id = ?", layerId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return layer, ErrLayerNotFound
		}
		slog.Error("sql error in get layer", "layer_id", layerId, "error", result.Error)
		return layer, ErrDbAccessFailed
	}

	return layer, nil
}

// GetLayerByIdOrSlug resolves the {layer} url segment, which may carry either
// the layer id or its slug.
func GetLayerByIdOrSlug(idOrSlug string, db *gorm.DB) (Layer, error) {
	if id, err := uuid.Parse(idOrSlug); err == nil {
		return GetLayer(id, db)
	}

	var layer Layer
	result := db.First(&layer, "slug = ?", idOrSlug)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return layer, ErrLayerNotFound
		}
		slog.Error("sql error in get layer by slug", "slug", idOrSlug, "error", result.Error)
		return layer, ErrDbAccessFailed
	}

	return layer, nil
}
