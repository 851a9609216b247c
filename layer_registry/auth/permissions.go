package auth

import (
	"errors"
	"fmt"
	"net/http"

	"layer_service/layer_registry/schema"
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotAuthorized    = errors.New("not authorized")
)

func appsOverlap(a, b []string) bool {
	for _, app := range a {
		for _, other := range b {
			if app == other {
				return true
			}
		}
	}
	return false
}

// CheckCreate enforces the creation rules: any valid role may create, but the
// principal must share at least one application with the layer being created.
// The microservice identity bypasses both checks.
func CheckCreate(principal *Principal, apps []string) error {
	if principal == nil {
		return ErrNotAuthenticated
	}
	if principal.IsMicroservice() {
		return nil
	}
	if !principal.HasValidRole() {
		return ErrNotAuthorized
	}
	if len(apps) > 0 && !appsOverlap(principal.Apps(), apps) {
		return ErrNotAuthorized
	}
	return nil
}

// CheckManage enforces update/delete rules against an existing layer:
//   - microservice and SUPERADMIN bypass everything
//   - USER may never mutate an existing layer
//   - MANAGER must be the original creator and share an application
//   - ADMIN must share an application but is not bound to ownership
func CheckManage(principal *Principal, layer *schema.Layer) error {
	if principal == nil {
		return ErrNotAuthenticated
	}
	if principal.IsMicroservice() || principal.Role == RoleSuperAdmin {
		return nil
	}

	switch principal.Role {
	case RoleManager:
		if layer.UserId != principal.Id {
			return ErrNotAuthorized
		}
	case RoleAdmin:
	default:
		return ErrNotAuthorized
	}

	if !layer.AppsMatch(principal.Apps()) {
		return ErrNotAuthorized
	}
	return nil
}

// CheckDeleteByUser guards the bulk delete-all-for-user operation: allowed
// for the microservice identity, ADMIN or above, or the target user themself.
func CheckDeleteByUser(principal *Principal, targetUserId string) error {
	if principal == nil {
		return ErrNotAuthenticated
	}
	if principal.IsMicroservice() || principal.RoleAtLeast(RoleAdmin) {
		return nil
	}
	if principal.HasValidRole() && principal.Id == targetUserId {
		return nil
	}
	return ErrNotAuthorized
}

// CheckUserSort guards sorting by user attributes, which exposes owner
// role/name ordering and therefore requires an ADMIN or above. Any lesser
// caller, anonymous included, is forbidden.
func CheckUserSort(principal *Principal) error {
	if principal == nil || !principal.RoleAtLeast(RoleAdmin) {
		return ErrNotAuthorized
	}
	return nil
}

// MicroserviceOnly restricts an endpoint to the distinguished trusted-caller
// identity.
func MicroserviceOnly() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			principal := PrincipalFromContext(r)
			if principal == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !principal.IsMicroservice() {
				http.Error(w, fmt.Sprintf("caller %v is not authorized for this endpoint", principal.Id), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}
