package tests

import (
	"errors"
	"net/http"
	"net/url"
	"sync"

	"layer_service/layer_registry/clients"
	"layer_service/layer_registry/schema"

	"github.com/google/uuid"
)

// stubBundle provides controllable in-memory implementations of every
// downstream service. All recording is mutex-protected since bulk deletes
// fan out across goroutines.
type stubBundle struct {
	mu sync.Mutex

	missingDatasets map[string]bool

	graphCreated    []uuid.UUID
	graphDeleted    []uuid.UUID
	failGraphCreate bool

	cacheExpired []uuid.UUID
	proxyStatus  int
	proxyBody    string

	metadataDeleted []uuid.UUID

	thumbnailUrl   string
	failThumbnail  bool
	thumbnailCalls int

	users  map[string]clients.UserInfo
	byRole map[string][]string

	vocabulary       []map[string]interface{}
	failVocabulary   bool
	vocabularyParams url.Values

	collections map[string][]string
	favourites  map[string][]string
}

func newStubBundle() *stubBundle {
	return &stubBundle{
		missingDatasets: map[string]bool{},
		proxyStatus:     http.StatusOK,
		proxyBody:       `{"result":"expired"}`,
		thumbnailUrl:    "https://thumbnails.example.com/layer.png",
		users:           map[string]clients.UserInfo{},
		byRole:          map[string][]string{},
		collections:     map[string][]string{},
		favourites:      map[string][]string{},
	}
}

func (s *stubBundle) bundle() clients.Bundle {
	return clients.Bundle{
		Dataset:    (*datasetStub)(s),
		Graph:      (*graphStub)(s),
		Cache:      (*cacheStub)(s),
		Metadata:   (*metadataStub)(s),
		Thumbnail:  (*thumbnailStub)(s),
		Users:      (*userStub)(s),
		Vocabulary: (*vocabularyStub)(s),
		Collection: (*collectionStub)(s),
	}
}

type datasetStub stubBundle

func (s *datasetStub) CheckExists(datasetId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missingDatasets[datasetId] {
		return schema.ErrDatasetNotFound
	}
	return nil
}

type graphStub stubBundle

func (s *graphStub) CreateLayerNode(datasetId string, layerId uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGraphCreate {
		return errors.New("graph service unavailable")
	}
	s.graphCreated = append(s.graphCreated, layerId)
	return nil
}

func (s *graphStub) DeleteLayerNode(layerId uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphDeleted = append(s.graphDeleted, layerId)
	return nil
}

type cacheStub stubBundle

func (s *cacheStub) ExpireCache(layerId uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheExpired = append(s.cacheExpired, layerId)
	return nil
}

func (s *cacheStub) ProxyExpireCache(layerId uuid.UUID) (int, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheExpired = append(s.cacheExpired, layerId)
	return s.proxyStatus, []byte(s.proxyBody), nil
}

type metadataStub stubBundle

func (s *metadataStub) DeleteMetadata(datasetId string, layerId uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadataDeleted = append(s.metadataDeleted, layerId)
	return nil
}

type thumbnailStub stubBundle

func (s *thumbnailStub) GenerateThumbnail(layerId uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thumbnailCalls++
	if s.failThumbnail {
		return "", errors.New("thumbnail service unavailable")
	}
	return s.thumbnailUrl, nil
}

type userStub stubBundle

func (s *userStub) FindByIds(ids []string) ([]clients.UserInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := []clients.UserInfo{}
	for _, id := range ids {
		if user, ok := s.users[id]; ok {
			found = append(found, user)
		}
	}
	return found, nil
}

func (s *userStub) IdsByRole(role string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byRole[role], nil
}

type vocabularyStub stubBundle

func (s *vocabularyStub) LayerVocabulary(datasetId string, layerId uuid.UUID, params url.Values) ([]map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failVocabulary {
		return nil, errors.New("vocabulary service unavailable")
	}
	s.vocabularyParams = params
	return s.vocabulary, nil
}

type collectionStub stubBundle

func (s *collectionStub) LayerIdsByCollections(collectionIds []string, userId string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []string{}
	for _, collectionId := range collectionIds {
		ids = append(ids, s.collections[collectionId]...)
	}
	return ids, nil
}

func (s *collectionStub) FavouriteLayerIds(userId string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.favourites[userId], nil
}

func (s *stubBundle) graphCreatedIds() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID{}, s.graphCreated...)
}

func (s *stubBundle) graphDeletedIds() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID{}, s.graphDeleted...)
}

func (s *stubBundle) cacheExpiredIds() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID{}, s.cacheExpired...)
}

func (s *stubBundle) metadataDeletedIds() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID{}, s.metadataDeleted...)
}

func (s *stubBundle) forwardedVocabularyParams() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vocabularyParams
}

func (s *stubBundle) thumbnailAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thumbnailCalls
}

func (s *stubBundle) addUser(user clients.UserInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.Id] = user
	s.byRole[user.Role] = append(s.byRole[user.Role], user.Id)
}
