package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/zapdesk/internal/ai"
	"github.com/zapdesk/zapdesk/internal/api"
	"github.com/zapdesk/zapdesk/internal/gateway"
	"github.com/zapdesk/zapdesk/internal/repository"
	"github.com/zapdesk/zapdesk/internal/service"
	"github.com/zapdesk/zapdesk/internal/storage"
	"github.com/zapdesk/zapdesk/internal/whatsapp"
	"github.com/zapdesk/zapdesk/internal/ws"
	"github.com/zapdesk/zapdesk/pkg/cache"
	"github.com/zapdesk/zapdesk/pkg/config"
	"github.com/zapdesk/zapdesk/pkg/database"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	if err := database.SeedAdmin(db, cfg); err != nil {
		log.Warn().Err(err).Msg("failed to seed admin")
	}

	// Initialize storage (MinIO)
	var store *storage.Storage
	if cfg.MinioEndpoint != "" {
		store, err = storage.New(storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize storage, media features disabled")
		} else {
			log.Info().Str("endpoint", cfg.MinioEndpoint).Msg("minio storage initialized")
		}
	}

	// Initialize repositories
	repos := repository.NewRepositories(db)

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Initialize gateway client and lifecycle orchestrator
	gw := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.UazapiBaseURL,
		AdminToken: cfg.UazapiAdminToken,
	})
	orch := whatsapp.NewOrchestrator(gw, repos.Instance, cfg.WebhookBaseURL)
	orch.SetHub(hub)

	webhooks := whatsapp.NewWebhookProcessor(repos, hub)

	// Initialize Redis cache
	var redisCache *cache.Cache
	if cfg.RedisURL != "" {
		redisCache, err = cache.New(cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize redis cache, caching disabled")
		} else {
			log.Info().Msg("redis cache initialized")
		}
	}

	aiClient := ai.NewClient(ai.Config{
		BaseURL: cfg.AIBaseURL,
		APIKey:  cfg.AIAPIKey,
		Model:   cfg.AIModel,
	})
	if aiClient.Enabled() {
		log.Info().Str("model", cfg.AIModel).Msg("ai drafting enabled")
	}

	// Initialize services
	services := service.NewServices(repos, orch, hub, redisCache, store, aiClient)

	// Initialize API server
	server := api.NewServer(cfg, services, hub, webhooks, store)

	// Campaign dispatch worker
	workerCtx, stopWorker := context.WithCancel(context.Background())
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		log.Info().Msg("campaign worker started")
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C:
				services.Campaign.ProcessRunning(workerCtx)
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down server")

		stopWorker()
		<-workerDone

		if err := server.Shutdown(); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	log.Info().Str("port", cfg.Port).Msg("zapdesk server starting")
	if err := server.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
