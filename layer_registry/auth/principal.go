package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Role values a principal may carry. MicroserviceId is not a role: it is the
// distinguished id of a trusted backend caller.
const (
	RoleUser       = "USER"
	RoleManager    = "MANAGER"
	RoleAdmin      = "ADMIN"
	RoleSuperAdmin = "SUPERADMIN"

	MicroserviceId = "microservice"
)

var roleRank = map[string]int{
	RoleUser:       1,
	RoleManager:    2,
	RoleAdmin:      3,
	RoleSuperAdmin: 4,
}

type ExtraUserData struct {
	Apps []string `json:"apps"`
}

// Principal is the authenticated caller as forwarded by the api gateway. The
// gateway validates credentials; this service only consumes the resulting
// identity document.
type Principal struct {
	Id            string        `json:"id"`
	Role          string        `json:"role"`
	Name          string        `json:"name"`
	Email         string        `json:"email"`
	ExtraUserData ExtraUserData `json:"extraUserData"`
}

func (p *Principal) IsMicroservice() bool {
	return p != nil && p.Id == MicroserviceId
}

func (p *Principal) HasValidRole() bool {
	if p == nil {
		return false
	}
	_, ok := roleRank[p.Role]
	return ok
}

// RoleAtLeast reports whether the principal's role ranks at or above the
// given role. The microservice identity outranks everything.
func (p *Principal) RoleAtLeast(role string) bool {
	if p == nil {
		return false
	}
	if p.IsMicroservice() {
		return true
	}
	return roleRank[p.Role] >= roleRank[role]
}

func (p *Principal) Apps() []string {
	if p == nil {
		return nil
	}
	return p.ExtraUserData.Apps
}

var ErrNoPrincipal = errors.New("no authenticated principal on request")

// ResolvePrincipal assembles the calling principal from the three locations
// the gateway may place it in, with increasing precedence: the loggedUser
// query parameter, the body-level loggedUser field, and a loggedUser nested
// inside a body-level fields wrapper (multipart uploads). The merge is
// shallow: later sources overwrite top-level keys only.
//
// The request body is restored after reading so that handlers can still
// parse it.
func ResolvePrincipal(r *http.Request) (*Principal, error) {
	merged := map[string]json.RawMessage{}

	overlay := func(raw []byte) {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(raw, &doc); err != nil {
			return
		}
		for k, v := range doc {
			merged[k] = v
		}
	}

	if q := r.URL.Query().Get("loggedUser"); q != "" {
		overlay([]byte(q))
	}

	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if len(body) > 0 {
			var envelope struct {
				LoggedUser json.RawMessage `json:"loggedUser"`
				Fields     struct {
					LoggedUser json.RawMessage `json:"loggedUser"`
				} `json:"fields"`
			}
			if err := json.Unmarshal(body, &envelope); err == nil {
				if len(envelope.LoggedUser) > 0 {
					overlay(envelope.LoggedUser)
				}
				if len(envelope.Fields.LoggedUser) > 0 {
					// The upload wrapper serializes the principal as a string.
					var nested string
					if err := json.Unmarshal(envelope.Fields.LoggedUser, &nested); err == nil {
						overlay([]byte(nested))
					} else {
						overlay(envelope.Fields.LoggedUser)
					}
				}
			}
		}
	}

	if len(merged) == 0 {
		return nil, ErrNoPrincipal
	}

	doc, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}

	var principal Principal
	if err := json.Unmarshal(doc, &principal); err != nil {
		return nil, err
	}

	if principal.Id == "" {
		return nil, ErrNoPrincipal
	}

	return &principal, nil
}

type contextKey string

const principalKey contextKey = "principal"

// Middleware resolves the principal once per request and stores it on the
// context. An absent principal is not an error here: read endpoints are
// public, so each handler decides what it requires.
func Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hfn := func(w http.ResponseWriter, r *http.Request) {
			principal, err := ResolvePrincipal(r)
			if err != nil && !errors.Is(err, ErrNoPrincipal) {
				http.Error(w, "error reading request", http.StatusBadRequest)
				return
			}
			if principal != nil {
				ctx := context.WithValue(r.Context(), principalKey, principal)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(hfn)
	}
}

// PrincipalFromContext returns the resolved principal, or nil if the request
// was unauthenticated.
func PrincipalFromContext(r *http.Request) *Principal {
	principal, _ := r.Context().Value(principalKey).(*Principal)
	return principal
}
