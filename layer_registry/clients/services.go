package clients

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"layer_service/layer_registry/schema"

	"github.com/google/uuid"
)

// Config carries the base addresses of the downstream services, plus the
// api key this registry authenticates to them with.
type Config struct {
	DatasetUrl    string
	GraphUrl      string
	CacheUrl      string
	MetadataUrl   string
	ThumbnailUrl  string
	UserUrl       string
	VocabularyUrl string
	CollectionUrl string

	ApiKey string
}

// NewBundle constructs the HTTP implementation of every downstream client.
func NewBundle(cfg Config, client *http.Client) Bundle {
	return Bundle{
		Dataset:    &datasetClient{newHttpClient(cfg.DatasetUrl, cfg.ApiKey, client)},
		Graph:      &graphClient{newHttpClient(cfg.GraphUrl, cfg.ApiKey, client)},
		Cache:      &cacheClient{newHttpClient(cfg.CacheUrl, cfg.ApiKey, client)},
		Metadata:   &metadataClient{newHttpClient(cfg.MetadataUrl, cfg.ApiKey, client)},
		Thumbnail:  &thumbnailClient{newHttpClient(cfg.ThumbnailUrl, cfg.ApiKey, client)},
		Users:      &userClient{newHttpClient(cfg.UserUrl, cfg.ApiKey, client)},
		Vocabulary: &vocabularyClient{newHttpClient(cfg.VocabularyUrl, cfg.ApiKey, client)},
		Collection: &collectionClient{newHttpClient(cfg.CollectionUrl, cfg.ApiKey, client)},
	}
}

type datasetClient struct {
	httpClient
}

func (c *datasetClient) CheckExists(datasetId string) error {
	err := c.get(fmt.Sprintf("/dataset/%v", datasetId), nil)
	if err != nil {
		// any non-200 is treated as "dataset not found"
		return schema.ErrDatasetNotFound
	}
	return nil
}

type graphClient struct {
	httpClient
}

func (c *graphClient) CreateLayerNode(datasetId string, layerId uuid.UUID) error {
	return c.post(fmt.Sprintf("/graph/layer/%v/%v", datasetId, layerId), nil, nil)
}

func (c *graphClient) DeleteLayerNode(layerId uuid.UUID) error {
	return c.delete(fmt.Sprintf("/graph/layer/%v", layerId))
}

type cacheClient struct {
	httpClient
}

func (c *cacheClient) ExpireCache(layerId uuid.UUID) error {
	return c.delete(fmt.Sprintf("/layer/%v/expire-cache", layerId))
}

func (c *cacheClient) ProxyExpireCache(layerId uuid.UUID) (int, []byte, error) {
	return c.raw("DELETE", fmt.Sprintf("/layer/%v/expire-cache", layerId))
}

type metadataClient struct {
	httpClient
}

func (c *metadataClient) DeleteMetadata(datasetId string, layerId uuid.UUID) error {
	err := c.delete(fmt.Sprintf("/dataset/%v/layer/%v/metadata", datasetId, layerId))
	if errors.Is(err, errReturnedNotFound) {
		// nothing to remove
		return nil
	}
	return err
}

type thumbnailClient struct {
	httpClient
}

func (c *thumbnailClient) GenerateThumbnail(layerId uuid.UUID) (string, error) {
	var res struct {
		Data string `json:"data"`
	}
	if err := c.post(fmt.Sprintf("/layer/%v/thumbnail", layerId), nil, &res); err != nil {
		return "", err
	}
	return res.Data, nil
}

type userClient struct {
	httpClient
}

func (c *userClient) FindByIds(ids []string) ([]UserInfo, error) {
	var res struct {
		Data []UserInfo `json:"data"`
	}
	body := map[string]interface{}{"ids": ids}
	if err := c.post("/user/find-by-ids", body, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (c *userClient) IdsByRole(role string) ([]string, error) {
	var res struct {
		Data []string `json:"data"`
	}
	if err := c.get(fmt.Sprintf("/user/ids/%v", role), &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

type vocabularyClient struct {
	httpClient
}

func (c *vocabularyClient) LayerVocabulary(datasetId string, layerId uuid.UUID, params url.Values) ([]map[string]interface{}, error) {
	endpoint := fmt.Sprintf("/dataset/%v/layer/%v/vocabulary", datasetId, layerId)

	var res struct {
		Data []map[string]interface{} `json:"data"`
	}
	if err := c.getWithQuery(endpoint, params, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

type collectionClient struct {
	httpClient
}

type resourceRef struct {
	Id   string `json:"id"`
	Type string `json:"type"`
}

func filterLayerRefs(refs []resourceRef) []string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.Type == "layer" {
			ids = append(ids, ref.Id)
		}
	}
	return ids
}

func (c *collectionClient) LayerIdsByCollections(collectionIds []string, userId string) ([]string, error) {
	var res struct {
		Data []struct {
			Resources []resourceRef `json:"resources"`
		} `json:"data"`
	}
	body := map[string]interface{}{"ids": collectionIds, "userId": userId}
	if err := c.post("/collection/find-by-ids", body, &res); err != nil {
		return nil, err
	}

	ids := []string{}
	for _, collection := range res.Data {
		ids = append(ids, filterLayerRefs(collection.Resources)...)
	}
	return ids, nil
}

func (c *collectionClient) FavouriteLayerIds(userId string) ([]string, error) {
	var res struct {
		Data []resourceRef `json:"data"`
	}
	body := map[string]interface{}{"userId": userId}
	if err := c.post("/favourite/find-by-user", body, &res); err != nil {
		return nil, err
	}
	return filterLayerRefs(res.Data), nil
}
