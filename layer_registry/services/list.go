package services

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"layer_service/layer_registry/auth"
	"layer_service/layer_registry/query"
	"layer_service/layer_registry/schema"
	"layer_service/utils"

	"github.com/go-chi/chi/v5"
)

func parseIncludes(values url.Values) map[string]bool {
	includes := map[string]bool{}
	for _, inc := range strings.Split(values.Get("includes"), ",") {
		if inc = strings.TrimSpace(inc); inc != "" {
			includes[inc] = true
		}
	}
	return includes
}

type listMeta struct {
	Total      int64 `json:"total"`
	PageNumber int   `json:"pageNumber"`
	PageSize   int   `json:"pageSize"`
}

type listResponse struct {
	Data []LayerInfo `json:"data"`
	Meta listMeta    `json:"meta"`
}

func (s *LayerService) List(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	principal := auth.PrincipalFromContext(r)

	sort := query.CompileSort(values.Get("sort"))
	if sort.UsesUserFields() {
		if err := auth.CheckUserSort(principal); err != nil {
			httpAuthError(w, err)
			return
		}
		if err := s.userSortPrePass(); err != nil {
			http.Error(w, fmt.Sprintf("error preparing user sort: %v", err), http.StatusInternalServerError)
			return
		}
	}

	// the list-under-dataset route is the same query pinned to one dataset
	params := query.Params{Values: values, Dataset: chi.URLParam(r, "dataset")}

	if role := values.Get("usersRole"); role != "" {
		ids, err := s.clients.Users.IdsByRole(role)
		if err != nil {
			http.Error(w, fmt.Sprintf("error resolving users for role %v", role), http.StatusInternalServerError)
			return
		}
		params.UsersRoleIds = ids
	}

	allowList, err := s.resolveIdAllowList(values, principal)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	if allowList != nil {
		params.HasAllowList = true
		params.IdAllowList = allowList
	}

	filter := query.CompileFilter(params)
	page := query.CompilePage(values)

	layers, total, err := s.store.List(filter, sort, page)
	if err != nil {
		http.Error(w, fmt.Sprintf("error listing layers: %v", err), http.StatusInternalServerError)
		return
	}

	res := listResponse{
		Data: s.enrich(layers, r),
		Meta: listMeta{Total: total, PageNumber: page.Number, PageSize: page.Size},
	}
	utils.WriteJsonResponse(w, res)
}

// resolveIdAllowList turns collection/favourite parameters into an explicit
// layer id allow-list. A nil return means no restriction; an empty non-nil
// list matches nothing.
func (s *LayerService) resolveIdAllowList(values url.Values, principal *auth.Principal) ([]string, error) {
	collection := values.Get("collection")
	favourite := values.Has("favourite")

	if collection == "" && !favourite {
		return nil, nil
	}

	if principal == nil {
		return nil, CodedError(auth.ErrNotAuthenticated, http.StatusUnauthorized)
	}

	ids := []string{}

	if collection != "" {
		collectionIds := strings.Split(collection, ",")
		resolved, err := s.clients.Collection.LayerIdsByCollections(collectionIds, principal.Id)
		if err != nil {
			return nil, CodedError(fmt.Errorf("error resolving collections: %w", err), http.StatusInternalServerError)
		}
		ids = append(ids, resolved...)
	}

	if favourite {
		resolved, err := s.clients.Collection.FavouriteLayerIds(principal.Id)
		if err != nil {
			return nil, CodedError(fmt.Errorf("error resolving favourites: %w", err), http.StatusInternalServerError)
		}
		ids = append(ids, resolved...)
	}

	return ids, nil
}

// userSortPrePass refreshes the denormalized user sort columns across the
// whole collection: clear everything, re-derive the distinct owner set,
// batch-fetch those users and write the lower-cased role/name back.
func (s *LayerService) userSortPrePass() error {
	if err := s.store.ClearUserSortFields(); err != nil {
		return err
	}

	userIds, err := s.store.DistinctUserIds()
	if err != nil {
		return err
	}
	if len(userIds) == 0 {
		return nil
	}

	users, err := s.clients.Users.FindByIds(userIds)
	if err != nil {
		return fmt.Errorf("error fetching layer owners: %w", err)
	}

	for _, user := range users {
		if err := s.store.SetUserSortFields(user.Id, user.Role, user.Name); err != nil {
			return err
		}
	}

	return nil
}

// enrich attaches the requested relationships to a batch of layers.
// Enrichment failures are logged and swallowed: the layer is returned
// without that field rather than failing the request.
func (s *LayerService) enrich(layers []schema.Layer, r *http.Request) []LayerInfo {
	values := r.URL.Query()
	includes := parseIncludes(values)
	principal := auth.PrincipalFromContext(r)

	infos := make([]LayerInfo, 0, len(layers))
	for _, layer := range layers {
		infos = append(infos, convertToLayerInfo(layer))
	}

	if includes["vocabulary"] {
		forwarded := url.Values{}
		for k, vs := range values {
			if k != "includes" {
				forwarded[k] = vs
			}
		}

		for i := range infos {
			vocabulary, err := s.clients.Vocabulary.LayerVocabulary(infos[i].Dataset, infos[i].Id, forwarded)
			if err != nil {
				downstreamFailures.WithLabelValues("vocabulary").Inc()
				slog.Error("error fetching layer vocabulary", "layer_id", infos[i].Id, "error", err)
				continue
			}
			infos[i].Vocabulary = vocabulary
		}
	}

	if includes["user"] {
		s.attachUsers(infos, principal)
	}

	return infos
}

func (s *LayerService) attachUsers(infos []LayerInfo, principal *auth.Principal) {
	idSet := map[string]bool{}
	ids := []string{}
	for _, info := range infos {
		if !idSet[info.UserId] {
			idSet[info.UserId] = true
			ids = append(ids, info.UserId)
		}
	}
	if len(ids) == 0 {
		return
	}

	users, err := s.clients.Users.FindByIds(ids)
	if err != nil {
		downstreamFailures.WithLabelValues("users").Inc()
		slog.Error("error fetching layer owners for enrichment", "error", err)
		return
	}

	includeRole := principal.RoleAtLeast(auth.RoleAdmin)

	byId := map[string]LayerUser{}
	for _, user := range users {
		attached := LayerUser{Name: user.Name, Email: user.Email}
		if includeRole {
			attached.Role = user.Role
		}
		byId[user.Id] = attached
	}

	for i := range infos {
		if user, ok := byId[infos[i].UserId]; ok {
			infos[i].User = &user
		}
	}
}
