package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"layer_service/layer_registry/clients"
	"layer_service/layer_registry/jobs"
	"layer_service/layer_registry/schema"
	"layer_service/layer_registry/services"
	"layer_service/utils/logging"

	"github.com/caarlos0/env/v10"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

/**
 * ==========================================================================
 * ==== All variables used by the layer service must be loaded here.     ====
 * ==== This is to make the data flow clear so that a user can see what  ====
 * ==== variables are exposed, and how the values are propagated through ====
 * ==== the system.                                                      ====
 * ==========================================================================
 */
type layerServiceEnv struct {
	DatabaseUri string `env:"DATABASE_URI,required"`

	DatasetUrl    string `env:"DATASET_SERVICE_URL,required"`
	GraphUrl      string `env:"GRAPH_SERVICE_URL,required"`
	CacheUrl      string `env:"CACHE_SERVICE_URL,required"`
	MetadataUrl   string `env:"METADATA_SERVICE_URL,required"`
	ThumbnailUrl  string `env:"THUMBNAIL_SERVICE_URL,required"`
	UserUrl       string `env:"USER_SERVICE_URL,required"`
	VocabularyUrl string `env:"VOCABULARY_SERVICE_URL,required"`
	CollectionUrl string `env:"COLLECTION_SERVICE_URL,required"`

	ServiceApiKey string `env:"SERVICE_API_KEY"`

	StagingMode bool `env:"STAGING_MODE"`

	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"*"`

	LogFile string `env:"LOG_FILE" envDefault:"layer_service.log"`

	TaskWorkers    int `env:"TASK_WORKERS" envDefault:"4"`
	TaskQueueSize  int `env:"TASK_QUEUE_SIZE" envDefault:"256"`
	TaskMaxRetries int `env:"TASK_MAX_RETRIES" envDefault:"3"`
}

func loadEnv() layerServiceEnv {
	cfg := layerServiceEnv{}
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error loading env variables: %v", err)
	}
	return cfg
}

func initLogging(logFile *os.File) {
	// victoria logs option transforms keys like msg and time into victoria log keys _msg and _time
	jsonHandler := slog.NewJSONHandler(logFile, logging.GetVictoriaLogsOptions(false))
	textHandler := slog.NewTextHandler(os.Stderr, nil)

	logger := slog.New(slogmulti.Fanout(jsonHandler, textHandler))
	slog.SetDefault(logger)

	slog.Info("logging initialized", "log_file", logFile.Name(), "code", logging.SYSTEM)
}

func initDb(uri string) *gorm.DB {
	db, err := gorm.Open(postgres.Open(uri), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("error opening database connection: %v", err)
	}

	err = db.AutoMigrate(&schema.Layer{})
	if err != nil {
		log.Fatalf("error migrating db schema: %v", err)
	}

	return db
}

func main() {
	envFile := flag.String("env", "", "File to load env variables from. If not specified will just load them from the environment variables already defined.")
	port := flag.Int("port", 8000, "Port to run server on")

	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			log.Fatalf("error loading .env file '%v': %v", *envFile, err)
		}
	}
	cfg := loadEnv()

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer logFile.Close()

	initLogging(logFile)

	db := initDb(cfg.DatabaseUri)

	downstream := clients.NewBundle(clients.Config{
		DatasetUrl:    cfg.DatasetUrl,
		GraphUrl:      cfg.GraphUrl,
		CacheUrl:      cfg.CacheUrl,
		MetadataUrl:   cfg.MetadataUrl,
		ThumbnailUrl:  cfg.ThumbnailUrl,
		UserUrl:       cfg.UserUrl,
		VocabularyUrl: cfg.VocabularyUrl,
		CollectionUrl: cfg.CollectionUrl,
		ApiKey:        cfg.ServiceApiKey,
	}, &http.Client{Timeout: 30 * time.Second})

	tasks := jobs.NewRunner(cfg.TaskWorkers, cfg.TaskQueueSize, cfg.TaskMaxRetries, 2*time.Second)

	registry := services.NewLayerRegistry(db, downstream, tasks, cfg.StagingMode)

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(httprate.LimitByIP(300, time.Minute))

	r.Mount("/api/v1", registry.Routes())

	slog.Info("starting server", "port", *port, "staging_mode", cfg.StagingMode, "code", logging.SYSTEM)
	err = http.ListenAndServe(fmt.Sprintf(":%d", *port), r)
	if err != nil {
		log.Fatalf("listen and serve returned error: %v", err.Error())
	}
	registry.Stop()
}
