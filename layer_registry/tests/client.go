package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"layer_service/layer_registry/auth"
	"layer_service/layer_registry/services"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrConflict     = errors.New("conflict")
)

type httpTestRequest struct {
	api http.Handler

	method    string
	endpoint  string
	json      interface{}
	body      io.Reader
	principal *auth.Principal
}

func newHttpTestRequest(api http.Handler, method, endpoint string) *httpTestRequest {
	return &httpTestRequest{api: api, method: method, endpoint: endpoint}
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) As(principal *auth.Principal) *httpTestRequest {
	r.principal = principal
	return r
}

// Do executes the request against the mounted router. The response body is
// parsed into result; passing nil indicates that no result is expected.
func (r *httpTestRequest) Do(result interface{}) error {
	endpoint := r.endpoint
	if r.principal != nil {
		doc, err := json.Marshal(r.principal)
		if err != nil {
			return fmt.Errorf("error encoding principal: %w", err)
		}
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "loggedUser=" + url.QueryEscape(string(doc))
	}

	if r.json != nil {
		body := new(bytes.Buffer)
		err := json.NewEncoder(body).Encode(r.json)
		if err != nil {
			return fmt.Errorf("error encoding json body for endpoint %v: %w", endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, endpoint, r.body)
	w := httptest.NewRecorder()

	r.api.ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		switch res.StatusCode {
		case http.StatusUnauthorized:
			return ErrUnauthorized
		case http.StatusForbidden:
			return ErrForbidden
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusBadRequest:
			return ErrBadRequest
		case http.StatusConflict:
			return ErrConflict
		}
		return fmt.Errorf("%v request to endpoint %v returned status %d, content '%v'", r.method, r.endpoint, res.StatusCode, w.Body.String())
	}

	if result != nil {
		err := json.NewDecoder(res.Body).Decode(result)
		if err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}

	return nil
}

type client struct {
	api       http.Handler
	principal *auth.Principal
}

func (e *testEnv) anonymous() *client {
	return &client{api: e.api}
}

func (e *testEnv) as(principal *auth.Principal) *client {
	return &client{api: e.api, principal: principal}
}

func userPrincipal(id, role string, apps ...string) *auth.Principal {
	return &auth.Principal{
		Id:            id,
		Role:          role,
		Name:          id + " name",
		Email:         id + "@mail.com",
		ExtraUserData: auth.ExtraUserData{Apps: apps},
	}
}

func microservicePrincipal() *auth.Principal {
	return &auth.Principal{Id: auth.MicroserviceId}
}

func (c *client) request(method, endpoint string) *httpTestRequest {
	r := newHttpTestRequest(c.api, method, endpoint)
	if c.principal != nil {
		r.As(c.principal)
	}
	return r
}

func (c *client) Get(endpoint string) *httpTestRequest {
	return c.request("GET", endpoint)
}

func (c *client) Post(endpoint string) *httpTestRequest {
	return c.request("POST", endpoint)
}

func (c *client) Patch(endpoint string) *httpTestRequest {
	return c.request("PATCH", endpoint)
}

func (c *client) Delete(endpoint string) *httpTestRequest {
	return c.request("DELETE", endpoint)
}

type layerPageMeta struct {
	Total      int64 `json:"total"`
	PageNumber int   `json:"pageNumber"`
	PageSize   int   `json:"pageSize"`
}

type layerPage struct {
	Data []services.LayerInfo `json:"data"`
	Meta layerPageMeta        `json:"meta"`
}

func (c *client) createLayer(dataset string, body map[string]interface{}) (services.LayerInfo, error) {
	var res services.LayerInfo
	err := c.Post(fmt.Sprintf("/dataset/%v/layer", dataset)).Json(body).Do(&res)
	return res, err
}

func (c *client) getLayer(dataset, idOrSlug string) (services.LayerInfo, error) {
	var res services.LayerInfo
	err := c.Get(fmt.Sprintf("/dataset/%v/layer/%v", dataset, idOrSlug)).Do(&res)
	return res, err
}

func (c *client) getLayerDirect(idOrSlug string) (services.LayerInfo, error) {
	var res services.LayerInfo
	err := c.Get(fmt.Sprintf("/layer/%v", idOrSlug)).Do(&res)
	return res, err
}

func (c *client) updateLayer(dataset, idOrSlug string, body map[string]interface{}) (services.LayerInfo, error) {
	var res services.LayerInfo
	err := c.Patch(fmt.Sprintf("/dataset/%v/layer/%v", dataset, idOrSlug)).Json(body).Do(&res)
	return res, err
}

func (c *client) deleteLayer(dataset, idOrSlug string) (services.LayerInfo, error) {
	var res services.LayerInfo
	err := c.Delete(fmt.Sprintf("/dataset/%v/layer/%v", dataset, idOrSlug)).Do(&res)
	return res, err
}

func (c *client) listLayers(query string) (layerPage, error) {
	endpoint := "/layer"
	if query != "" {
		endpoint += "?" + query
	}
	var res layerPage
	err := c.Get(endpoint).Do(&res)
	return res, err
}

func (c *client) listDatasetLayers(dataset, query string) (layerPage, error) {
	endpoint := fmt.Sprintf("/dataset/%v/layer", dataset)
	if query != "" {
		endpoint += "?" + query
	}
	var res layerPage
	err := c.Get(endpoint).Do(&res)
	return res, err
}

func (c *client) findByIds(ids []string, env string) ([]services.LayerInfo, error) {
	body := map[string]interface{}{"ids": ids}
	if env != "" {
		body["env"] = env
	}
	var res struct {
		Data []services.LayerInfo `json:"data"`
	}
	err := c.Post("/layer/find-by-ids").Json(body).Do(&res)
	return res.Data, err
}

type deletedByUser struct {
	DeletedLayers   []services.LayerInfo `json:"deletedLayers"`
	ProtectedLayers []services.LayerInfo `json:"protectedLayers"`
}

func (c *client) deleteByUser(userId string) (deletedByUser, error) {
	var res deletedByUser
	err := c.Delete(fmt.Sprintf("/layer/by-user/%v", userId)).Do(&res)
	return res, err
}

func (c *client) deleteByDataset(dataset string) ([]services.LayerInfo, error) {
	var res struct {
		Data []services.LayerInfo `json:"data"`
	}
	err := c.Delete(fmt.Sprintf("/dataset/%v/layer", dataset)).Do(&res)
	return res.Data, err
}

func (c *client) migrateEnv(dataset, env string) ([]services.LayerInfo, error) {
	var res struct {
		Data []services.LayerInfo `json:"data"`
	}
	err := c.Patch(fmt.Sprintf("/layer/change-environment/%v/%v", dataset, env)).Do(&res)
	return res.Data, err
}
