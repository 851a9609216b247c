package services

import (
	"log"
	"net/http"
	"os"

	"layer_service/layer_registry/auth"
	"layer_service/layer_registry/clients"
	"layer_service/layer_registry/jobs"
	"layer_service/layer_registry/store"
	"layer_service/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// LayerRegistry bundles the services of this microservice behind one router.
type LayerRegistry struct {
	layer LayerService

	tasks *jobs.Runner
}

func NewLayerRegistry(db *gorm.DB, downstream clients.Bundle, tasks *jobs.Runner, stagingMode bool) LayerRegistry {
	return LayerRegistry{
		layer: LayerService{
			store:       store.NewLayerStore(db),
			clients:     downstream,
			tasks:       tasks,
			stagingMode: stagingMode,
		},
		tasks: tasks,
	}
}

func (m *LayerRegistry) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))
	r.Use(auth.Middleware())

	r.Mount("/", m.layer.Routes())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Stop drains the background task workers.
func (m *LayerRegistry) Stop() {
	m.tasks.Stop()
}
