package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iago/outreach-dashboard-back/internal/cache"
	"github.com/iago/outreach-dashboard-back/internal/config"
	"github.com/iago/outreach-dashboard-back/internal/domain"
	httpserver "github.com/iago/outreach-dashboard-back/internal/http"
	"github.com/iago/outreach-dashboard-back/internal/http/handlers"
	"github.com/iago/outreach-dashboard-back/internal/http/middleware"
	"github.com/iago/outreach-dashboard-back/internal/queue"
	"github.com/iago/outreach-dashboard-back/internal/repository"
	"github.com/iago/outreach-dashboard-back/internal/service"
	"github.com/iago/outreach-dashboard-back/internal/upload"
	"github.com/iago/outreach-dashboard-back/internal/worker"
)

// processStore is what the API needs from a persistence backend.
type processStore interface {
	repository.ProcessRepository
	repository.ClientRepository
}

func main() {
	logger := log.New(os.Stdout, "[proc-dash] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	envReport, err := config.LoadDotEnv(".env.local", ".env")
	if err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	if len(envReport.Files) > 0 {
		logger.Printf("env files loaded %s", envReport)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, repoCloser := setupRepository(ctx, cfg, logger)
	defer repoCloser()

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	uploader := upload.NewClient(upload.ClientConfig{
		Endpoint: cfg.UploadEndpointURL,
		Timeout:  time.Duration(cfg.UploadTimeoutMS) * time.Millisecond,
	})
	if !uploader.Available() {
		logger.Printf("UPLOAD_ENDPOINT_URL not configured, uploads disabled")
	}
	uploadCache := cache.NewUploadCache(cache.Config{
		TTL:        time.Duration(cfg.UploadCacheTTLSeconds) * time.Second,
		MaxEntries: cfg.UploadCacheMaxEntries,
	})

	processes := service.NewProcessService(service.ProcessServiceConfig{
		Repo:        repo,
		Producer:    producer,
		Uploader:    uploader,
		UploadCache: uploadCache,
		Logger:      logger,
	})
	if err := processes.Load(ctx); err != nil {
		logger.Printf("initial process load failed: %v", err)
	}

	settingsDefaults := domain.DefaultSettings()
	settingsDefaults.Language = cfg.DefaultLanguage
	settingsDefaults.Timezone = cfg.DefaultTimezone
	settings := service.NewSettingsService(settingsDefaults)
	clients := service.NewClientsService(repo)

	api := handlers.NewAPI(handlers.Dependencies{
		Processes: processes,
		Clients:   clients,
		Overview:  service.NewOverviewService(processes, clients, settings),
		Settings:  settings,
		Logger:    logger,
	})

	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:         api,
		Logger:      logger,
		AuthToken:   cfg.AuthToken,
		CORSOrigins: cfg.CORSAllowedOrigins,
		RateLimit: middleware.RateLimitConfig{
			ReadRPS:    cfg.RateLimitRPS,
			ReadBurst:  cfg.RateLimitBurst,
			WriteRPS:   cfg.RateLimitWriteRPS,
			WriteBurst: cfg.RateLimitWriteBurst,
		},
	})

	if cfg.WorkerEnabled {
		replicator := worker.NewReplicator(consumer, repo, logger)
		go replicator.Start(ctx)
		logger.Printf("totals replicator enabled and started")
	} else {
		logger.Printf("totals replicator disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s backend=%s", cfg.Port, cfg.RepositoryBackend())
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	processes.Wait()
}

func setupRepository(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (processStore, func()) {
	switch cfg.RepositoryBackend() {
	case "postgres":
		pgRepo, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
			return memoryRepository(cfg, logger), func() {}
		}
		if err := pgRepo.Migrate(ctx); err != nil {
			logger.Printf("postgres migration failed: %v", err)
		}
		logger.Printf("postgres repository initialized")
		return pgRepo, pgRepo.Close
	case "firestore":
		client, err := repository.NewFirestoreClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			logger.Printf("failed to initialize firestore repository, fallback to memory: %v", err)
			return memoryRepository(cfg, logger), func() {}
		}
		fsRepo := repository.NewFirestoreRepository(client, cfg.FirestoreCollection)
		logger.Printf("firestore repository initialized project=%s collection=%s", cfg.FirestoreProjectID, cfg.FirestoreCollection)
		return fsRepo, func() {
			_ = fsRepo.Close()
		}
	default:
		logger.Printf("DATABASE_URL and FIRESTORE_PROJECT_ID not configured, using in-memory repository")
		return memoryRepository(cfg, logger), func() {}
	}
}

func memoryRepository(cfg config.Config, logger *log.Logger) *repository.MemoryProcessRepository {
	fixtures, err := repository.LoadFixtures(cfg.FixturesPath, time.Now().UTC())
	if err != nil {
		logger.Printf("failed loading fixtures path=%s, using embedded set: %v", cfg.FixturesPath, err)
		fixtures, err = repository.LoadFixtures("", time.Now().UTC())
		if err != nil {
			logger.Printf("embedded fixtures invalid: %v", err)
		}
	}
	return repository.NewMemoryProcessRepository(fixtures, cfg.MemoryRepoLatency())
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	var (
		baseProducer queue.Producer
		consumer     queue.Consumer
		baseCloser   = func() {}
	)

	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(512, cfg.SyncMaxAttempts, logger)
		baseProducer = local
		consumer = local
	} else {
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			MaxAttempts: cfg.SyncMaxAttempts,
		})
		if err != nil {
			logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
			local := queue.NewLocalQueue(512, cfg.SyncMaxAttempts, logger)
			baseProducer = local
			consumer = local
		} else {
			logger.Printf("redis streams queue initialized stream=%s group=%s", cfg.RedisStream, cfg.RedisGroup)
			baseProducer = streams
			consumer = streams
			baseCloser = func() {
				_ = streams.Close()
			}
		}
	}

	producer := baseProducer
	batchingCloser := func() {}
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, baseProducer, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
		})
		producer = batching
		batchingCloser = batching.Close
		logger.Printf(
			"queue batching enabled size=%d flush_ms=%d queue_capacity=%d max_in_flight=%d",
			cfg.QueueBatchSize,
			cfg.QueueBatchFlushMS,
			cfg.QueueBatchQueueCapacity,
			cfg.QueueBatchMaxInFlight,
		)
	}

	return producer, consumer, func() {
		batchingCloser()
		baseCloser()
	}
}
