package auth

import (
	"testing"

	"layer_service/layer_registry/schema"

	"github.com/stretchr/testify/assert"
)

func TestCheckCreate(t *testing.T) {
	apps := []string{"rw", "gfw"}

	assert.ErrorIs(t, CheckCreate(nil, apps), ErrNotAuthenticated)

	user := &Principal{Id: "u1", Role: RoleUser, ExtraUserData: ExtraUserData{Apps: []string{"rw"}}}
	assert.NoError(t, CheckCreate(user, apps))

	noOverlap := &Principal{Id: "u2", Role: RoleAdmin, ExtraUserData: ExtraUserData{Apps: []string{"other"}}}
	assert.ErrorIs(t, CheckCreate(noOverlap, apps), ErrNotAuthorized)

	invalidRole := &Principal{Id: "u3", Role: "OWNER", ExtraUserData: ExtraUserData{Apps: []string{"rw"}}}
	assert.ErrorIs(t, CheckCreate(invalidRole, apps), ErrNotAuthorized)

	micro := &Principal{Id: MicroserviceId}
	assert.NoError(t, CheckCreate(micro, apps))
}

func TestCheckManage(t *testing.T) {
	layer := &schema.Layer{UserId: "owner", Application: schema.StringList{"rw"}}

	assert.ErrorIs(t, CheckManage(nil, layer), ErrNotAuthenticated)

	// USER may never mutate, even their own layer
	ownerAsUser := &Principal{Id: "owner", Role: RoleUser, ExtraUserData: ExtraUserData{Apps: []string{"rw"}}}
	assert.ErrorIs(t, CheckManage(ownerAsUser, layer), ErrNotAuthorized)

	// MANAGER must own the layer and share an application
	owningManager := &Principal{Id: "owner", Role: RoleManager, ExtraUserData: ExtraUserData{Apps: []string{"rw"}}}
	assert.NoError(t, CheckManage(owningManager, layer))

	otherManager := &Principal{Id: "someone-else", Role: RoleManager, ExtraUserData: ExtraUserData{Apps: []string{"rw"}}}
	assert.ErrorIs(t, CheckManage(otherManager, layer), ErrNotAuthorized)

	managerWrongApp := &Principal{Id: "owner", Role: RoleManager, ExtraUserData: ExtraUserData{Apps: []string{"gfw"}}}
	assert.ErrorIs(t, CheckManage(managerWrongApp, layer), ErrNotAuthorized)

	// ADMIN is not bound to ownership but still needs the app overlap
	admin := &Principal{Id: "someone-else", Role: RoleAdmin, ExtraUserData: ExtraUserData{Apps: []string{"rw"}}}
	assert.NoError(t, CheckManage(admin, layer))

	adminWrongApp := &Principal{Id: "someone-else", Role: RoleAdmin, ExtraUserData: ExtraUserData{Apps: []string{"gfw"}}}
	assert.ErrorIs(t, CheckManage(adminWrongApp, layer), ErrNotAuthorized)

	// SUPERADMIN and the microservice identity bypass everything
	superAdmin := &Principal{Id: "root", Role: RoleSuperAdmin}
	assert.NoError(t, CheckManage(superAdmin, layer))

	micro := &Principal{Id: MicroserviceId}
	assert.NoError(t, CheckManage(micro, layer))
}

func TestCheckDeleteByUser(t *testing.T) {
	assert.ErrorIs(t, CheckDeleteByUser(nil, "target"), ErrNotAuthenticated)

	self := &Principal{Id: "target", Role: RoleUser}
	assert.NoError(t, CheckDeleteByUser(self, "target"))

	selfInvalidRole := &Principal{Id: "target", Role: "OWNER"}
	assert.ErrorIs(t, CheckDeleteByUser(selfInvalidRole, "target"), ErrNotAuthorized)

	other := &Principal{Id: "other", Role: RoleManager}
	assert.ErrorIs(t, CheckDeleteByUser(other, "target"), ErrNotAuthorized)

	admin := &Principal{Id: "other", Role: RoleAdmin}
	assert.NoError(t, CheckDeleteByUser(admin, "target"))

	micro := &Principal{Id: MicroserviceId}
	assert.NoError(t, CheckDeleteByUser(micro, "target"))
}

func TestCheckUserSort(t *testing.T) {
	assert.ErrorIs(t, CheckUserSort(nil), ErrNotAuthorized)

	manager := &Principal{Id: "u1", Role: RoleManager}
	assert.ErrorIs(t, CheckUserSort(manager), ErrNotAuthorized)

	admin := &Principal{Id: "u2", Role: RoleAdmin}
	assert.NoError(t, CheckUserSort(admin))

	micro := &Principal{Id: MicroserviceId}
	assert.NoError(t, CheckUserSort(micro))
}
