package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"layer_service/layer_registry/auth"
	"layer_service/layer_registry/clients"
	"layer_service/layer_registry/jobs"
	"layer_service/layer_registry/providers"
	"layer_service/layer_registry/schema"
	"layer_service/layer_registry/store"
	"layer_service/utils"
	"layer_service/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxSlugAttempts bounds the uniqueness suffix loop, including the retries
// taken when the store reports a duplicate at insert time.
const maxSlugAttempts = 100

type LayerService struct {
	store   *store.LayerStore
	clients clients.Bundle
	tasks   *jobs.Runner

	// stagingMode skips graph-node registration entirely.
	stagingMode bool
}

func (s *LayerService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/layer", s.List)
	r.Post("/layer/find-by-ids", s.FindByIds)
	r.Get("/layer/{layer}", s.Get)
	r.Delete("/layer/{layer}/expire-cache", s.ExpireCache)

	r.Delete("/layer/by-user/{userId}", s.DeleteByUser)

	r.Group(func(r chi.Router) {
		r.Use(auth.MicroserviceOnly())
		r.Patch("/layer/change-environment/{dataset}/{env}", s.MigrateEnv)
		r.Delete("/dataset/{dataset}/layer", s.DeleteByDataset)
	})

	r.Get("/dataset/{dataset}/layer", s.List)
	r.Post("/dataset/{dataset}/layer", s.Create)
	r.Get("/dataset/{dataset}/layer/{layer}", s.Get)
	r.Patch("/dataset/{dataset}/layer/{layer}", s.Update)
	r.Delete("/dataset/{dataset}/layer/{layer}", s.Delete)

	return r
}

// LayerInfo is the public representation of a layer. The denormalized user
// sort columns are deliberately absent.
type LayerInfo struct {
	Id          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Dataset     string    `json:"dataset"`
	Description string    `json:"description"`

	Application []string `json:"application"`
	Iso         []string `json:"iso"`

	Provider string `json:"provider"`
	Type     string `json:"type"`

	UserId string `json:"userId"`

	Default   bool `json:"default"`
	Protected bool `json:"protected"`
	Published bool `json:"published"`

	Env string `json:"env"`

	LayerConfig       schema.JSONMap `json:"layerConfig"`
	LegendConfig      schema.JSONMap `json:"legendConfig"`
	ApplicationConfig schema.JSONMap `json:"applicationConfig"`
	InteractionConfig schema.JSONMap `json:"interactionConfig"`
	StaticImageConfig schema.JSONMap `json:"staticImageConfig"`

	ThumbnailUrl string `json:"thumbnailUrl"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Vocabulary []map[string]interface{} `json:"vocabulary,omitempty"`
	User       *LayerUser               `json:"user,omitempty"`
}

type LayerUser struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

func orEmpty(list schema.StringList) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func orEmptyMap(m schema.JSONMap) schema.JSONMap {
	if m == nil {
		return schema.JSONMap{}
	}
	return m
}

func convertToLayerInfo(layer schema.Layer) LayerInfo {
	return LayerInfo{
		Id:                layer.Id,
		Name:              layer.Name,
		Slug:              layer.Slug,
		Dataset:           layer.Dataset,
		Description:       layer.Description,
		Application:       orEmpty(layer.Application),
		Iso:               orEmpty(layer.Iso),
		Provider:          layer.Provider,
		Type:              layer.Type,
		UserId:            layer.UserId,
		Default:           layer.Default,
		Protected:         layer.Protected,
		Published:         layer.Published,
		Env:               layer.Env,
		LayerConfig:       orEmptyMap(layer.LayerConfig),
		LegendConfig:      orEmptyMap(layer.LegendConfig),
		ApplicationConfig: orEmptyMap(layer.ApplicationConfig),
		InteractionConfig: orEmptyMap(layer.InteractionConfig),
		StaticImageConfig: orEmptyMap(layer.StaticImageConfig),
		ThumbnailUrl:      layer.ThumbnailUrl,
		CreatedAt:         layer.CreatedAt,
		UpdatedAt:         layer.UpdatedAt,
	}
}

type layerInput struct {
	Name              string         `json:"name"`
	Description       string         `json:"description"`
	Application       []string       `json:"application"`
	Iso               []string       `json:"iso"`
	Provider          string         `json:"provider"`
	Type              string         `json:"type"`
	Env               string         `json:"env"`
	Default           *bool          `json:"default"`
	Protected         *bool          `json:"protected"`
	Published         *bool          `json:"published"`
	LayerConfig       schema.JSONMap `json:"layerConfig"`
	LegendConfig      schema.JSONMap `json:"legendConfig"`
	ApplicationConfig schema.JSONMap `json:"applicationConfig"`
	InteractionConfig schema.JSONMap `json:"interactionConfig"`
	StaticImageConfig schema.JSONMap `json:"staticImageConfig"`
}

func validateCreate(input *layerInput) error {
	verr := &validationError{}

	if input.Name == "" {
		verr.add("name", "name can not be empty")
	}
	if len(input.Application) == 0 {
		verr.add("application", "must belong to at least one application")
	}
	if input.Provider != "" && !providers.IsValid(input.Provider) {
		verr.add("provider", fmt.Sprintf("must be one of the registered providers, got '%v'", input.Provider))
	} else if err := providers.CheckType(input.Provider, input.Type); err != nil {
		verr.add("type", err.Error())
	}

	if verr.ok() {
		return nil
	}
	return CodedError(verr, http.StatusBadRequest)
}

func (s *LayerService) queueThumbnail(layerId uuid.UUID) {
	s.tasks.Submit(jobs.Task{
		Name: "thumbnail",
		Run: func() error {
			url, err := s.clients.Thumbnail.GenerateThumbnail(layerId)
			if err != nil {
				// a failed render leaves the thumbnail blank
				if storeErr := s.store.SetThumbnail(layerId, ""); storeErr != nil {
					return storeErr
				}
				slog.Error("thumbnail generation failed", "layer_id", layerId, "error", err, "code", logging.TASK_THUMBNAIL)
				return nil
			}
			return s.store.SetThumbnail(layerId, url)
		},
	})
}

func (s *LayerService) queueCacheExpiration(layerId uuid.UUID) {
	s.tasks.Submit(jobs.Task{
		Name: "expire_cache",
		Run: func() error {
			return s.clients.Cache.ExpireCache(layerId)
		},
	})
}

func (s *LayerService) Create(w http.ResponseWriter, r *http.Request) {
	dataset, err := utils.URLParam(r, "dataset")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var input layerInput
	if !utils.ParseRequestBody(w, r, &input) {
		return
	}

	if err := validateCreate(&input); err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	principal := auth.PrincipalFromContext(r)
	if err := auth.CheckCreate(principal, input.Application); err != nil {
		httpAuthError(w, err)
		return
	}

	if err := s.clients.Dataset.CheckExists(dataset); err != nil {
		http.Error(w, fmt.Sprintf("dataset %v not found", dataset), http.StatusNotFound)
		return
	}

	env := input.Env
	if env == "" {
		env = "production"
	}

	published := true
	if input.Published != nil {
		published = *input.Published
	}

	layer := schema.Layer{
		Id:                uuid.New(),
		Name:              input.Name,
		Dataset:           dataset,
		Description:       input.Description,
		Application:       input.Application,
		Iso:               input.Iso,
		Provider:          input.Provider,
		Type:              input.Type,
		UserId:            principal.Id,
		Default:           input.Default != nil && *input.Default,
		Protected:         input.Protected != nil && *input.Protected,
		Published:         published,
		Env:               env,
		LayerConfig:       input.LayerConfig,
		LegendConfig:      input.LegendConfig,
		ApplicationConfig: input.ApplicationConfig,
		InteractionConfig: input.InteractionConfig,
		StaticImageConfig: input.StaticImageConfig,
	}

	if err := s.persistWithUniqueSlug(&layer); err != nil {
		http.Error(w, fmt.Sprintf("error creating layer: %v", err), GetResponseCode(err))
		return
	}

	if !s.stagingMode {
		if err := s.clients.Graph.CreateLayerNode(dataset, layer.Id); err != nil {
			// graph registration is the one fatal side effect: compensate by
			// removing the record we just persisted
			slog.Error("graph registration failed, rolling back layer", "layer_id", layer.Id, "error", err, "code", logging.LAYER_CREATE)
			if delErr := s.store.Delete(&layer); delErr != nil {
				slog.Error("compensating delete failed", "layer_id", layer.Id, "error", delErr, "code", logging.LAYER_CREATE)
			}
			http.Error(w, "error registering layer in graph", http.StatusInternalServerError)
			return
		}
	}

	s.queueThumbnail(layer.Id)

	slog.Info("created layer", "layer_id", layer.Id, "slug", layer.Slug, "dataset", dataset, "code", logging.LAYER_CREATE)

	utils.WriteJsonResponse(w, convertToLayerInfo(layer))
}

// persistWithUniqueSlug runs the probe-then-insert loop. The probe is racy by
// construction, so a duplicate reported by the store at insert time advances
// the suffix and retries.
func (s *LayerService) persistWithUniqueSlug(layer *schema.Layer) error {
	base := slugify(layer.Name)
	if base == "" {
		verr := &validationError{}
		verr.add("name", "name must contain at least one alphanumeric character")
		return CodedError(verr, http.StatusBadRequest)
	}

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		slug := nextSlug(base, attempt)

		exists, err := s.store.SlugExists(slug)
		if err != nil {
			return CodedError(err, http.StatusInternalServerError)
		}
		if exists {
			continue
		}

		layer.Slug = slug
		err = s.store.Create(layer)
		if err == nil {
			return nil
		}
		if errors.Is(err, schema.ErrLayerDuplicated) {
			continue
		}
		return CodedError(err, http.StatusInternalServerError)
	}

	return CodedError(schema.ErrLayerDuplicated, http.StatusConflict)
}

// fetchForDataset resolves the {layer} segment and, when the route carries a
// {dataset} segment, checks the layer actually belongs to it.
func (s *LayerService) fetchForDataset(r *http.Request) (schema.Layer, error) {
	idOrSlug, err := utils.URLParam(r, "layer")
	if err != nil {
		return schema.Layer{}, CodedError(err, http.StatusBadRequest)
	}

	layer, err := s.store.GetByIdOrSlug(idOrSlug)
	if err != nil {
		if errors.Is(err, schema.ErrLayerNotFound) {
			return schema.Layer{}, CodedError(err, http.StatusNotFound)
		}
		return schema.Layer{}, CodedError(err, http.StatusInternalServerError)
	}

	if dataset := chi.URLParam(r, "dataset"); dataset != "" && layer.Dataset != dataset {
		return schema.Layer{}, CodedError(schema.ErrLayerNotFound, http.StatusNotFound)
	}

	return layer, nil
}

func (s *LayerService) Get(w http.ResponseWriter, r *http.Request) {
	layer, err := s.fetchForDataset(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	infos := s.enrich([]schema.Layer{layer}, r)
	utils.WriteJsonResponse(w, infos[0])
}

func (s *LayerService) Update(w http.ResponseWriter, r *http.Request) {
	var input layerInput
	if !utils.ParseRequestBody(w, r, &input) {
		return
	}

	layer, err := s.fetchForDataset(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	principal := auth.PrincipalFromContext(r)
	if err := auth.CheckManage(principal, &layer); err != nil {
		httpAuthError(w, err)
		return
	}

	provider := layer.Provider
	if input.Provider != "" {
		provider = input.Provider
	}
	layerType := layer.Type
	if input.Type != "" {
		layerType = input.Type
	}

	verr := &validationError{}
	if provider != "" && !providers.IsValid(provider) {
		verr.add("provider", fmt.Sprintf("must be one of the registered providers, got '%v'", provider))
	} else if err := providers.CheckType(provider, layerType); err != nil {
		verr.add("type", err.Error())
	}
	if !verr.ok() {
		http.Error(w, verr.Error(), http.StatusBadRequest)
		return
	}

	// Only provided fields overwrite. Booleans distinguish "provided false"
	// from "not provided"; other fields use presence, so an empty string or
	// list cannot clear a field through update.
	if input.Name != "" {
		layer.Name = input.Name
	}
	if input.Description != "" {
		layer.Description = input.Description
	}
	if len(input.Application) > 0 {
		layer.Application = input.Application
	}
	if len(input.Iso) > 0 {
		layer.Iso = input.Iso
	}
	layer.Provider = provider
	layer.Type = layerType
	if input.Env != "" {
		layer.Env = input.Env
	}
	if input.Default != nil {
		layer.Default = *input.Default
	}
	if input.Protected != nil {
		layer.Protected = *input.Protected
	}
	if input.Published != nil {
		layer.Published = *input.Published
	}
	if input.LayerConfig != nil {
		layer.LayerConfig = input.LayerConfig
	}
	if input.LegendConfig != nil {
		layer.LegendConfig = input.LegendConfig
	}
	if input.ApplicationConfig != nil {
		layer.ApplicationConfig = input.ApplicationConfig
	}
	if input.InteractionConfig != nil {
		layer.InteractionConfig = input.InteractionConfig
	}
	if input.StaticImageConfig != nil {
		layer.StaticImageConfig = input.StaticImageConfig
	}

	layer.UpdatedAt = time.Now()

	if err := s.store.Save(&layer); err != nil {
		http.Error(w, fmt.Sprintf("error updating layer: %v", err), http.StatusInternalServerError)
		return
	}

	s.queueThumbnail(layer.Id)
	s.queueCacheExpiration(layer.Id)

	slog.Info("updated layer", "layer_id", layer.Id, "code", logging.LAYER_UPDATE)

	utils.WriteJsonResponse(w, convertToLayerInfo(layer))
}

// deleteSideEffects removes the graph node, expires the downstream cache and
// deletes downstream metadata. Each call is independently best-effort.
func (s *LayerService) deleteSideEffects(layer *schema.Layer) {
	s.bestEffortGraphDelete(layer)
	bestEffort("cache", func() error {
		return s.clients.Cache.ExpireCache(layer.Id)
	})
	bestEffort("metadata", func() error {
		return s.clients.Metadata.DeleteMetadata(layer.Dataset, layer.Id)
	})
}

func (s *LayerService) bestEffortGraphDelete(layer *schema.Layer) {
	if s.stagingMode {
		return
	}
	bestEffort("graph", func() error {
		return s.clients.Graph.DeleteLayerNode(layer.Id)
	})
}

func (s *LayerService) Delete(w http.ResponseWriter, r *http.Request) {
	layer, err := s.fetchForDataset(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	principal := auth.PrincipalFromContext(r)
	if err := auth.CheckManage(principal, &layer); err != nil {
		httpAuthError(w, err)
		return
	}

	if layer.Protected {
		http.Error(w, schema.ErrLayerProtected.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.Delete(&layer); err != nil {
		http.Error(w, fmt.Sprintf("error deleting layer: %v", err), http.StatusInternalServerError)
		return
	}

	s.deleteSideEffects(&layer)

	slog.Info("deleted layer", "layer_id", layer.Id, "code", logging.LAYER_DELETE)

	utils.WriteJsonResponse(w, convertToLayerInfo(layer))
}

func (s *LayerService) DeleteByDataset(w http.ResponseWriter, r *http.Request) {
	dataset, err := utils.URLParam(r, "dataset")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	layers, err := s.store.ByDataset(dataset)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing layers for dataset: %v", err), http.StatusInternalServerError)
		return
	}

	deleted := make([]LayerInfo, 0, len(layers))
	for _, layer := range layers {
		// each layer is processed fully before moving to the next; one
		// layer's downstream failures never block the rest
		if err := s.store.Delete(&layer); err != nil {
			slog.Error("error deleting layer in bulk dataset delete", "layer_id", layer.Id, "error", err, "code", logging.LAYER_DELETE)
			continue
		}
		s.bestEffortGraphDelete(&layer)
		bestEffort("metadata", func() error {
			return s.clients.Metadata.DeleteMetadata(layer.Dataset, layer.Id)
		})
		bestEffort("cache", func() error {
			return s.clients.Cache.ExpireCache(layer.Id)
		})
		deleted = append(deleted, convertToLayerInfo(layer))
	}

	utils.WriteJsonResponse(w, map[string]interface{}{"data": deleted})
}

type deleteByUserResponse struct {
	DeletedLayers   []LayerInfo `json:"deletedLayers"`
	ProtectedLayers []LayerInfo `json:"protectedLayers"`
}

func (s *LayerService) DeleteByUser(w http.ResponseWriter, r *http.Request) {
	userId, err := utils.URLParam(r, "userId")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	principal := auth.PrincipalFromContext(r)
	if err := auth.CheckDeleteByUser(principal, userId); err != nil {
		httpAuthError(w, err)
		return
	}

	layers, err := s.store.ByUser(userId)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing layers for user: %v", err), http.StatusInternalServerError)
		return
	}

	var unprotected, protected []schema.Layer
	for _, layer := range layers {
		if layer.Protected {
			protected = append(protected, layer)
		} else {
			unprotected = append(unprotected, layer)
		}
	}

	// each deletion targets a disjoint record, so the fan-out shares no state
	var wg sync.WaitGroup
	deleted := make([]bool, len(unprotected))
	for i := range unprotected {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			layer := &unprotected[i]
			if err := s.store.Delete(layer); err != nil {
				slog.Error("error deleting layer in bulk user delete", "layer_id", layer.Id, "error", err, "code", logging.LAYER_DELETE)
				return
			}
			s.deleteSideEffects(layer)
			deleted[i] = true
		}(i)
	}
	wg.Wait()

	res := deleteByUserResponse{DeletedLayers: []LayerInfo{}, ProtectedLayers: []LayerInfo{}}
	for i, layer := range unprotected {
		if deleted[i] {
			res.DeletedLayers = append(res.DeletedLayers, convertToLayerInfo(layer))
		}
	}
	for _, layer := range protected {
		res.ProtectedLayers = append(res.ProtectedLayers, convertToLayerInfo(layer))
	}

	utils.WriteJsonResponse(w, res)
}

func (s *LayerService) MigrateEnv(w http.ResponseWriter, r *http.Request) {
	dataset, err := utils.URLParam(r, "dataset")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	env, err := utils.URLParam(r, "env")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snapshot, err := s.store.MigrateEnv(dataset, schema.NormalizeEnv(env))
	if err != nil {
		http.Error(w, fmt.Sprintf("error migrating layer environment: %v", err), http.StatusInternalServerError)
		return
	}

	infos := make([]LayerInfo, 0, len(snapshot))
	for _, layer := range snapshot {
		infos = append(infos, convertToLayerInfo(layer))
	}

	slog.Info("migrated layer environment", "dataset", dataset, "env", schema.NormalizeEnv(env), "layers", len(infos), "code", logging.LAYER_MIGRATE)

	utils.WriteJsonResponse(w, map[string]interface{}{"data": infos})
}

func (s *LayerService) ExpireCache(w http.ResponseWriter, r *http.Request) {
	layer, err := s.fetchForDataset(r)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	if !providers.SupportsExpireCache(layer.Provider) {
		http.Error(w, fmt.Sprintf("layer with provider '%v' does not support cache expiration", layer.Provider), http.StatusBadRequest)
		return
	}

	status, body, err := s.clients.Cache.ProxyExpireCache(layer.Id)
	if err != nil {
		slog.Error("error proxying cache expiration", "layer_id", layer.Id, "error", err, "code", logging.TASK_EXPIRE_CACHE)
		http.Error(w, "error expiring layer cache", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		slog.Error("error writing proxied cache response", "layer_id", layer.Id, "error", err)
	}
}

type findByIdsRequest struct {
	Ids []string `json:"ids"`
	Env string   `json:"env"`
}

func (s *LayerService) FindByIds(w http.ResponseWriter, r *http.Request) {
	var req findByIdsRequest
	if !utils.ParseRequestBody(w, r, &req) {
		return
	}

	if len(req.Ids) == 0 {
		http.Error(w, "ids: must provide at least one layer id", http.StatusBadRequest)
		return
	}

	layers, err := s.store.FindByIds(req.Ids, req.Env)
	if err != nil {
		http.Error(w, fmt.Sprintf("error finding layers: %v", err), http.StatusInternalServerError)
		return
	}

	infos := make([]LayerInfo, 0, len(layers))
	for _, layer := range layers {
		infos = append(infos, convertToLayerInfo(layer))
	}

	utils.WriteJsonResponse(w, map[string]interface{}{"data": infos})
}

func httpAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrNotAuthenticated) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	http.Error(w, "Forbidden", http.StatusForbidden)
}
