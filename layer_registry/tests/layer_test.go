package tests

import (
	"testing"

	"layer_service/layer_registry/auth"
	"layer_service/layer_registry/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLayerRoundTrip(t *testing.T) {
	env := setupTestEnv(t)
	c := env.as(userPrincipal("manager1", auth.RoleManager, "rw"))

	created, err := c.createLayer("ds1", map[string]interface{}{
		"name":        "Carto DB Layer - X",
		"description": "water coverage",
		"application": []string{"rw"},
		"iso":         []string{"ESP", "BRA"},
		"provider":    "cartodb",
		"type":        "tileLayer",
		"layerConfig": map[string]interface{}{"account": "wri", "body": map[string]interface{}{"maxzoom": 18.0}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Carto DB Layer - X", created.Name)
	assert.Equal(t, "Carto-DB-Layer-X", created.Slug)
	assert.Equal(t, "ds1", created.Dataset)
	assert.Equal(t, "manager1", created.UserId)
	assert.Equal(t, "production", created.Env)
	assert.False(t, created.Default)
	assert.False(t, created.Protected)
	assert.True(t, created.Published)
	assert.Equal(t, []string{"rw"}, created.Application)
	assert.Equal(t, []string{"ESP", "BRA"}, created.Iso)

	// config blobs round-trip as objects, absent blobs serialize as {}
	assert.Equal(t, "wri", created.LayerConfig["account"])
	assert.NotNil(t, created.LegendConfig)
	assert.Empty(t, created.LegendConfig)

	fetched, err := c.getLayer("ds1", created.Id.String())
	require.NoError(t, err)
	assert.Equal(t, created.Id, fetched.Id)

	bySlug, err := c.getLayerDirect("Carto-DB-Layer-X")
	require.NoError(t, err)
	assert.Equal(t, created.Id, bySlug.Id)

	// graph node is registered synchronously on create
	assert.Contains(t, env.stubs.graphCreatedIds(), created.Id)

	// thumbnail generation runs on the task queue
	waitFor(t, func() bool {
		layer, err := env.store.Get(created.Id)
		return err == nil && layer.ThumbnailUrl != ""
	})
}

func TestCreateValidation(t *testing.T) {
	env := setupTestEnv(t)
	c := env.as(userPrincipal("manager1", auth.RoleManager, "rw"))

	_, err := c.createLayer("ds1", map[string]interface{}{
		"application": []string{"rw"},
	})
	assert.ErrorIs(t, err, ErrBadRequest, "name is required")

	_, err = c.createLayer("ds1", map[string]interface{}{
		"name": "no apps",
	})
	assert.ErrorIs(t, err, ErrBadRequest, "application is required")

	_, err = c.createLayer("ds1", map[string]interface{}{
		"name":        "bad provider",
		"application": []string{"rw"},
		"provider":    "postgis",
	})
	assert.ErrorIs(t, err, ErrBadRequest, "provider must be registered")

	_, err = c.createLayer("ds1", map[string]interface{}{
		"name":        "bad type",
		"application": []string{"rw"},
		"provider":    "cartodb",
		"type":        "raster",
	})
	assert.ErrorIs(t, err, ErrBadRequest, "type must be valid for the provider")

	_, err = c.createLayer("ds1", map[string]interface{}{
		"name":        "🌍🌍🌍",
		"application": []string{"rw"},
	})
	assert.ErrorIs(t, err, ErrBadRequest, "name must produce a non-empty slug")
}

func TestCreateMissingDataset(t *testing.T) {
	env := setupTestEnv(t)
	env.stubs.missingDatasets["ghost"] = true

	c := env.as(userPrincipal("manager1", auth.RoleManager, "rw"))

	_, err := c.createLayer("ghost", map[string]interface{}{
		"name":        "orphan",
		"application": []string{"rw"},
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateSlugSuffixes(t *testing.T) {
	env := setupTestEnv(t)
	c := env.as(userPrincipal("manager1", auth.RoleManager, "rw"))

	body := map[string]interface{}{"name": "Duplicate Name", "application": []string{"rw"}}

	first, err := c.createLayer("ds1", body)
	require.NoError(t, err)
	assert.Equal(t, "Duplicate-Name", first.Slug)

	second, err := c.createLayer("ds1", body)
	require.NoError(t, err)
	assert.Equal(t, "Duplicate-Name_1", second.Slug)

	third, err := c.createLayer("ds1", body)
	require.NoError(t, err)
	assert.Equal(t, "Duplicate-Name_2", third.Slug)
}

func TestCreateThumbnailFailureLeavesUrlEmpty(t *testing.T) {
	env := setupTestEnv(t)
	env.stubs.failThumbnail = true

	c := env.as(userPrincipal("manager1", auth.RoleManager, "rw"))

	created, err := c.createLayer("ds1", map[string]interface{}{
		"name":        "Unrenderable",
		"application": []string{"rw"},
	})
	require.NoError(t, err, "a failed render never fails the create")

	waitFor(t, func() bool {
		return env.stubs.thumbnailAttempts() > 0
	})

	layer, err := env.store.Get(created.Id)
	require.NoError(t, err)
	assert.Equal(t, "", layer.ThumbnailUrl)
}

func TestUpdateLayer(t *testing.T) {
	env := setupTestEnv(t)
	c := env.as(userPrincipal("manager1", auth.RoleManager, "rw"))

	created, err := c.createLayer("ds1", map[string]interface{}{
		"name":        "Original",
		"description": "original description",
		"application": []string{"rw"},
		"iso":         []string{"ESP"},
		"provider":    "gee",
		"type":        "raster",
	})
	require.NoError(t, err)

	updated, err := c.updateLayer("ds1", created.Id.String(), map[string]interface{}{
		"description": "new description",
		"published":   false,
		"legendConfig": map[string]interface{}{
			"type": "basic",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "new description", updated.Description)
	assert.False(t, updated.Published)
	assert.Equal(t, "basic", updated.LegendConfig["type"])

	// untouched fields survive, the slug never changes on update
	assert.Equal(t, "Original", updated.Name)
	assert.Equal(t, created.Slug, updated.Slug)
	assert.Equal(t, []string{"ESP"}, updated.Iso)

	// the downstream cache is expired after an update
	waitFor(t, func() bool {
		for _, id := range env.stubs.cacheExpiredIds() {
			if id == created.Id {
				return true
			}
		}
		return false
	})
}

func TestUpdateCannotClearFieldsWithEmptyValues(t *testing.T) {
	env := setupTestEnv(t)
	c := env.as(userPrincipal("manager1", auth.RoleManager, "rw"))

	created, err := c.createLayer("ds1", map[string]interface{}{
		"name":        "Sticky",
		"description": "kept",
		"application": []string{"rw"},
		"iso":         []string{"ESP"},
	})
	require.NoError(t, err)

	updated, err := c.updateLayer("ds1", created.Id.String(), map[string]interface{}{
		"description": "",
		"iso":         []string{},
	})
	require.NoError(t, err)

	assert.Equal(t, "kept", updated.Description)
	assert.Equal(t, []string{"ESP"}, updated.Iso)
}

func TestUpdateInvalidProviderType(t *testing.T) {
	env := setupTestEnv(t)
	c := env.as(userPrincipal("manager1", auth.RoleManager, "rw"))

	created, err := c.createLayer("ds1", map[string]interface{}{
		"name":        "Typed",
		"application": []string{"rw"},
		"provider":    "cartodb",
		"type":        "tileLayer",
	})
	require.NoError(t, err)

	// the merged provider/type pair is validated, not just the changed field
	_, err = c.updateLayer("ds1", created.Id.String(), map[string]interface{}{
		"type": "raster",
	})
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestGetLayerDatasetMismatch(t *testing.T) {
	env := setupTestEnv(t)
	c := env.as(userPrincipal("manager1", auth.RoleManager, "rw"))

	created, err := c.createLayer("ds1", map[string]interface{}{
		"name":        "Scoped",
		"application": []string{"rw"},
	})
	require.NoError(t, err)

	_, err = c.getLayer("other-dataset", created.Id.String())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.getLayerDirect("no-such-layer")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindByIds(t *testing.T) {
	env := setupTestEnv(t)
	c := env.as(userPrincipal("manager1", auth.RoleManager, "rw"))

	prod, err := c.createLayer("ds1", map[string]interface{}{
		"name":        "Prod Layer",
		"application": []string{"rw"},
	})
	require.NoError(t, err)

	staging, err := c.createLayer("ds1", map[string]interface{}{
		"name":        "Staging Layer",
		"application": []string{"rw"},
		"env":         "staging",
	})
	require.NoError(t, err)

	ids := []string{prod.Id.String(), staging.Id.String()}

	// no env restriction: both are returned
	found, err := c.findByIds(ids, "")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = c.findByIds(ids, "staging")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, staging.Id, found[0].Id)

	found, err = c.findByIds(ids, "production,staging")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = c.findByIds(ids, "all")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	_, err = c.findByIds(nil, "")
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestLayerConfigsStoredNullWhenAbsent(t *testing.T) {
	env := setupTestEnv(t)
	c := env.as(userPrincipal("manager1", auth.RoleManager, "rw"))

	created, err := c.createLayer("ds1", map[string]interface{}{
		"name":        "No Configs",
		"application": []string{"rw"},
	})
	require.NoError(t, err)

	stored, err := env.store.Get(created.Id)
	require.NoError(t, err)
	assert.Nil(t, stored.LayerConfig, "absent blob is stored as NULL")
	assert.Equal(t, schema.JSONMap{}, created.LayerConfig, "but serializes as an empty object")
}
