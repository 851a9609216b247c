// Package clients holds the contracts and HTTP implementations for the
// services this registry orchestrates against. Only success/failure and the
// documented response fields matter to the caller; payloads are otherwise
// opaque.
package clients

import (
	"net/url"

	"github.com/google/uuid"
)

type DatasetClient interface {
	// CheckExists resolves the dataset or returns schema.ErrDatasetNotFound.
	CheckExists(datasetId string) error
}

type GraphClient interface {
	CreateLayerNode(datasetId string, layerId uuid.UUID) error
	DeleteLayerNode(layerId uuid.UUID) error
}

type CacheClient interface {
	ExpireCache(layerId uuid.UUID) error

	// ProxyExpireCache forwards the expiration response verbatim for the
	// read-path expire-cache operation.
	ProxyExpireCache(layerId uuid.UUID) (status int, body []byte, err error)
}

type MetadataClient interface {
	DeleteMetadata(datasetId string, layerId uuid.UUID) error
}

type ThumbnailClient interface {
	// GenerateThumbnail returns the URL of the rendered thumbnail.
	GenerateThumbnail(layerId uuid.UUID) (string, error)
}

type UserInfo struct {
	Id    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type UserClient interface {
	FindByIds(ids []string) ([]UserInfo, error)
	IdsByRole(role string) ([]string, error)
}

type VocabularyClient interface {
	// LayerVocabulary fetches the vocabulary tags of one layer, forwarding
	// the original query parameters.
	LayerVocabulary(datasetId string, layerId uuid.UUID, params url.Values) ([]map[string]interface{}, error)
}

type CollectionClient interface {
	// LayerIdsByCollections resolves collection references of type layer.
	LayerIdsByCollections(collectionIds []string, userId string) ([]string, error)

	// FavouriteLayerIds resolves a user's favourited layer ids.
	FavouriteLayerIds(userId string) ([]string, error)
}

// Bundle groups every downstream collaborator handed to the layer service.
type Bundle struct {
	Dataset    DatasetClient
	Graph      GraphClient
	Cache      CacheClient
	Metadata   MetadataClient
	Thumbnail  ThumbnailClient
	Users      UserClient
	Vocabulary VocabularyClient
	Collection CollectionClient
}
