// Package store is the persistence layer for layers. It is the only package
// that composes gorm queries from the compiled filter/sort/page clauses, and
// the sole arbiter of concurrent writes: slug uniqueness is enforced here by
// a unique index, not by the orchestrator's probe loop.
package store

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"layer_service/layer_registry/query"
	"layer_service/layer_registry/schema"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type LayerStore struct {
	db *gorm.DB
}

func NewLayerStore(db *gorm.DB) *LayerStore {
	return &LayerStore{db: db}
}

// isDuplicateKey detects a unique-constraint violation across the postgres
// and sqlite drivers. Surfaced to callers as ErrLayerDuplicated so the slug
// suffix loop can treat it as a retry signal.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func (s *LayerStore) Create(layer *schema.Layer) error {
	result := s.db.Create(layer)
	if result.Error != nil {
		if isDuplicateKey(result.Error) {
			return schema.ErrLayerDuplicated
		}
		slog.Error("sql error creating layer", "layer_id", layer.Id, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func (s *LayerStore) Save(layer *schema.Layer) error {
	result := s.db.Save(layer)
	if result.Error != nil {
		slog.Error("sql error saving layer", "layer_id", layer.Id, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func (s *LayerStore) Delete(layer *schema.Layer) error {
	result := s.db.Delete(layer)
	if result.Error != nil {
		slog.Error("sql error deleting layer", "layer_id", layer.Id, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

func (s *LayerStore) Get(layerId uuid.UUID) (schema.Layer, error) {
	return schema.GetLayer(layerId, s.db)
}

func (s *LayerStore) GetByIdOrSlug(idOrSlug string) (schema.Layer, error) {
	return schema.GetLayerByIdOrSlug(idOrSlug, s.db)
}

// SlugExists is the uniqueness probe for slug generation. The probe is not
// atomic with the subsequent insert; Create reports duplicates for the retry
// path.
func (s *LayerStore) SlugExists(slug string) (bool, error) {
	var count int64
	result := s.db.Model(&schema.Layer{}).Where("slug = ?", slug).Count(&count)
	if result.Error != nil {
		slog.Error("sql error probing slug", "slug", slug, "error", result.Error)
		return false, schema.ErrDbAccessFailed
	}
	return count > 0, nil
}

// List runs a filtered, sorted, paginated query and reports the unpaginated
// total for the response metadata.
func (s *LayerStore) List(filter *query.Filter, sort *query.Sort, page query.Page) ([]schema.Layer, int64, error) {
	var total int64
	counted := filter.Apply(s.db.Model(&schema.Layer{}))
	if result := counted.Count(&total); result.Error != nil {
		slog.Error("sql error counting layers", "error", result.Error)
		return nil, 0, schema.ErrDbAccessFailed
	}

	var layers []schema.Layer
	q := filter.Apply(s.db.Model(&schema.Layer{}))
	q = sort.Apply(q)
	q = page.Apply(q)
	if result := q.Find(&layers); result.Error != nil {
		slog.Error("sql error listing layers", "error", result.Error)
		return nil, 0, schema.ErrDbAccessFailed
	}

	return layers, total, nil
}

// FindByIds fetches layers for an explicit id list, optionally restricted to
// a comma-separated env union ("all" disables the restriction).
func (s *LayerStore) FindByIds(ids []string, env string) ([]schema.Layer, error) {
	q := s.db.Where("id IN ?", ids)
	if env != "" && env != "all" {
		envs := []string{}
		for _, e := range strings.Split(env, ",") {
			if e = strings.TrimSpace(e); e != "" {
				envs = append(envs, e)
			}
		}
		if len(envs) > 0 {
			q = q.Where("env IN ?", envs)
		}
	}

	var layers []schema.Layer
	if result := q.Find(&layers); result.Error != nil {
		slog.Error("sql error finding layers by ids", "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return layers, nil
}

// ByDataset fetches every layer of a dataset across all envs.
func (s *LayerStore) ByDataset(dataset string) ([]schema.Layer, error) {
	var layers []schema.Layer
	if result := s.db.Where("dataset = ?", dataset).Find(&layers); result.Error != nil {
		slog.Error("sql error listing layers by dataset", "dataset", dataset, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return layers, nil
}

// ByUser fetches every layer owned by a user across all envs.
func (s *LayerStore) ByUser(userId string) ([]schema.Layer, error) {
	var layers []schema.Layer
	if result := s.db.Where("user_id = ?", userId).Find(&layers); result.Error != nil {
		slog.Error("sql error listing layers by user", "user_id", userId, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return layers, nil
}

// MigrateEnv bulk-overwrites the env of every layer of a dataset, returning
// the pre-migration snapshot for cache-invalidation bookkeeping.
func (s *LayerStore) MigrateEnv(dataset, env string) ([]schema.Layer, error) {
	snapshot, err := s.ByDataset(dataset)
	if err != nil {
		return nil, err
	}

	result := s.db.Model(&schema.Layer{}).
		Where("dataset = ?", dataset).
		Updates(map[string]interface{}{"env": env, "updated_at": time.Now()})
	if result.Error != nil {
		slog.Error("sql error migrating layer env", "dataset", dataset, "env", env, "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}

	return snapshot, nil
}

// SetThumbnail records the rendered thumbnail URL. Written from the
// background task after create/update; an empty URL records a generation
// failure.
func (s *LayerStore) SetThumbnail(layerId uuid.UUID, url string) error {
	result := s.db.Model(&schema.Layer{}).Where("id = ?", layerId).UpdateColumn("thumbnail_url", url)
	if result.Error != nil {
		slog.Error("sql error setting layer thumbnail", "layer_id", layerId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

// ClearUserSortFields blanks the denormalized user columns on every layer,
// the first step of the sort-by-user pre-pass.
func (s *LayerStore) ClearUserSortFields() error {
	result := s.db.Model(&schema.Layer{}).
		Where("user_role <> '' OR user_name <> ''").
		UpdateColumns(map[string]interface{}{"user_role": "", "user_name": ""})
	if result.Error != nil {
		slog.Error("sql error clearing user sort fields", "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}

// DistinctUserIds returns the owner id of every layer in the collection.
func (s *LayerStore) DistinctUserIds() ([]string, error) {
	var ids []string
	result := s.db.Model(&schema.Layer{}).Distinct("user_id").Pluck("user_id", &ids)
	if result.Error != nil {
		slog.Error("sql error listing distinct layer owners", "error", result.Error)
		return nil, schema.ErrDbAccessFailed
	}
	return ids, nil
}

// SetUserSortFields writes the lower-cased role/name of one owner onto all of
// their layers.
func (s *LayerStore) SetUserSortFields(userId, role, name string) error {
	result := s.db.Model(&schema.Layer{}).
		Where("user_id = ?", userId).
		UpdateColumns(map[string]interface{}{
			"user_role": strings.ToLower(role),
			"user_name": strings.ToLower(name),
		})
	if result.Error != nil {
		slog.Error("sql error setting user sort fields", "user_id", userId, "error", result.Error)
		return schema.ErrDbAccessFailed
	}
	return nil
}
