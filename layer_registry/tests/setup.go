package tests

import (
	"testing"
	"time"

	"layer_service/layer_registry/jobs"
	"layer_service/layer_registry/schema"
	"layer_service/layer_registry/services"
	"layer_service/layer_registry/store"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	registry services.LayerRegistry
	api      chi.Router
	store    *store.LayerStore
	stubs    *stubBundle
}

func setupTestEnv(t *testing.T) *testEnv {
	return setup(t, false)
}

// setupStagingEnv runs the service in staging mode, where graph registration
// is skipped.
func setupStagingEnv(t *testing.T) *testEnv {
	return setup(t, true)
}

func setup(t *testing.T, stagingMode bool) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	err = db.AutoMigrate(&schema.Layer{})
	if err != nil {
		t.Fatal(err)
	}

	stubs := newStubBundle()

	tasks := jobs.NewRunner(2, 64, 0, time.Millisecond)
	t.Cleanup(tasks.Stop)

	registry := services.NewLayerRegistry(db, stubs.bundle(), tasks, stagingMode)

	return &testEnv{
		registry: registry,
		api:      registry.Routes(),
		store:    store.NewLayerStore(db),
		stubs:    stubs,
	}
}

// waitFor polls until the condition holds, for assertions against the
// background task queue.
func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}
