package tests

import (
	"testing"

	"layer_service/layer_registry/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAuthorization(t *testing.T) {
	env := setupTestEnv(t)

	body := map[string]interface{}{
		"name":        "Contested",
		"application": []string{"rw"},
	}

	_, err := env.anonymous().createLayer("ds1", body)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// any valid role may create as long as the applications overlap
	plainUser := env.as(userPrincipal("u1", auth.RoleUser, "rw"))
	_, err = plainUser.createLayer("ds1", body)
	assert.NoError(t, err)

	noOverlap := env.as(userPrincipal("u2", auth.RoleAdmin, "gfw"))
	_, err = noOverlap.createLayer("ds1", body)
	assert.ErrorIs(t, err, ErrForbidden)

	invalidRole := env.as(userPrincipal("u3", "OWNER", "rw"))
	_, err = invalidRole.createLayer("ds1", body)
	assert.ErrorIs(t, err, ErrForbidden)

	micro := env.as(microservicePrincipal())
	_, err = micro.createLayer("ds1", map[string]interface{}{
		"name":        "Service Owned",
		"application": []string{"anything"},
	})
	assert.NoError(t, err)
}

func TestManageAuthorization(t *testing.T) {
	env := setupTestEnv(t)

	owner := env.as(userPrincipal("owner1", auth.RoleManager, "rw"))
	created, err := owner.createLayer("ds1", map[string]interface{}{
		"name":        "Managed",
		"application": []string{"rw"},
	})
	require.NoError(t, err)

	patch := map[string]interface{}{"description": "updated"}

	_, err = env.anonymous().updateLayer("ds1", created.Id.String(), patch)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// a USER can never mutate, even when they share an application
	plainUser := env.as(userPrincipal("u1", auth.RoleUser, "rw"))
	_, err = plainUser.updateLayer("ds1", created.Id.String(), patch)
	assert.ErrorIs(t, err, ErrForbidden)

	// a MANAGER must be the creator
	otherManager := env.as(userPrincipal("m2", auth.RoleManager, "rw"))
	_, err = otherManager.updateLayer("ds1", created.Id.String(), patch)
	assert.ErrorIs(t, err, ErrForbidden)

	// an ADMIN needs the app overlap but not ownership
	adminWrongApp := env.as(userPrincipal("a1", auth.RoleAdmin, "gfw"))
	_, err = adminWrongApp.updateLayer("ds1", created.Id.String(), patch)
	assert.ErrorIs(t, err, ErrForbidden)

	admin := env.as(userPrincipal("a2", auth.RoleAdmin, "rw"))
	_, err = admin.updateLayer("ds1", created.Id.String(), patch)
	assert.NoError(t, err)

	// the owner manages their own layer
	updated, err := owner.updateLayer("ds1", created.Id.String(), map[string]interface{}{"description": "mine"})
	require.NoError(t, err)
	assert.Equal(t, "mine", updated.Description)

	// SUPERADMIN bypasses the application check entirely
	superAdmin := env.as(userPrincipal("root", auth.RoleSuperAdmin))
	_, err = superAdmin.deleteLayer("ds1", created.Id.String())
	assert.NoError(t, err)
}

func TestReadsArePublic(t *testing.T) {
	env := setupTestEnv(t)

	owner := env.as(userPrincipal("owner1", auth.RoleManager, "rw"))
	created, err := owner.createLayer("ds1", map[string]interface{}{
		"name":        "Public Read",
		"application": []string{"rw"},
	})
	require.NoError(t, err)

	anon := env.anonymous()

	_, err = anon.getLayerDirect(created.Id.String())
	assert.NoError(t, err)

	page, err := anon.listLayers("")
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
}
