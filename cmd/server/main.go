// Package main is the entry point for the rowsage API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rowsage/rowsage/internal/api"
	"github.com/rowsage/rowsage/internal/api/handlers"
	"github.com/rowsage/rowsage/internal/api/middleware"
	"github.com/rowsage/rowsage/internal/chat"
	"github.com/rowsage/rowsage/internal/chunker"
	"github.com/rowsage/rowsage/internal/config"
	"github.com/rowsage/rowsage/internal/embedder"
	"github.com/rowsage/rowsage/internal/events"
	"github.com/rowsage/rowsage/internal/ingest"
	"github.com/rowsage/rowsage/internal/llm"
	"github.com/rowsage/rowsage/internal/rag"
	"github.com/rowsage/rowsage/internal/storage"
	"github.com/rowsage/rowsage/pkg/logger"
	"github.com/rowsage/rowsage/pkg/shutdown"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
	})
	log.SetDefault()

	log.Info("starting rowsage",
		"version", version,
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
	)

	// Initialize shutdown handler
	shutdownHandler := shutdown.New(log.Logger, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)

	// ============================
	// Initialize Database
	// ============================
	db, err := storage.NewPostgres(storage.PostgresConfig{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("connected to database",
		"host", cfg.Database.Host,
		"database", cfg.Database.Database,
	)
	shutdownHandler.RegisterNamed("database", func(ctx context.Context) error {
		return db.Close()
	})

	chunkStore := storage.NewPgChunkStore(db, log.Logger)
	statusStore := storage.NewPgSyncStatusStore(db, log.Logger)
	conversationStore := storage.NewPgConversationStore(db, log.Logger)

	// ============================
	// Initialize Cache (optional)
	// ============================
	var cacheManager *storage.CacheManager
	if cfg.Redis.Host != "" {
		redisClient, redisErr := storage.NewRedisClient(storage.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if redisErr != nil {
			log.Warn("failed to connect to Redis, caching disabled", "error", redisErr)
		} else {
			cacheManager = storage.NewCacheManager(redisClient, log.Logger, storage.DefaultCacheConfig())
			log.Info("connected to Redis", "host", cfg.Redis.Host)
			shutdownHandler.RegisterNamed("redis", func(ctx context.Context) error {
				return redisClient.Close()
			})
		}
	} else {
		log.Warn("Redis not configured, caching disabled")
	}

	// ============================
	// Initialize Object Storage (optional)
	// ============================
	var objectStorage *storage.MinIOStorage
	if cfg.Storage.Endpoint != "" {
		objectStorage, err = storage.NewMinIOStorage(storage.MinIOConfig{
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			BucketName:      cfg.Storage.BucketName,
			UseSSL:          cfg.Storage.UseSSL,
			Region:          cfg.Storage.Region,
		})
		if err != nil {
			log.Warn("failed to connect to object storage, source archiving disabled", "error", err)
			objectStorage = nil
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := objectStorage.InitBucket(ctx); err != nil {
				log.Warn("failed to initialize storage bucket", "error", err)
			}
			cancel()
			log.Info("connected to object storage",
				"endpoint", cfg.Storage.Endpoint,
				"bucket", cfg.Storage.BucketName,
			)
		}
	} else {
		log.Warn("object storage not configured, source archiving disabled")
	}

	// ============================
	// Initialize Event Bus (optional)
	// ============================
	var bus *events.Bus
	if cfg.NATS.URL != "" {
		busConfig := events.DefaultConfig()
		busConfig.URL = cfg.NATS.URL
		busConfig.Name = cfg.NATS.Name

		bus, err = events.NewBus(busConfig, log.Logger)
		if err != nil {
			log.Warn("failed to connect to NATS, sync events disabled", "error", err)
			bus = nil
		} else {
			log.Info("connected to NATS", "url", cfg.NATS.URL)
			shutdownHandler.RegisterNamed("nats", func(ctx context.Context) error {
				return bus.Close()
			})

			// Other instances' syncs invalidate this instance's
			// retrieval caches.
			if cacheManager != nil {
				cm := cacheManager
				err := bus.OnSyncCompleted(func(evt events.SyncCompletedEvent) {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()
					if err := cm.InvalidateRetrieval(ctx); err != nil {
						log.Warn("failed to invalidate retrieval cache on sync event", "error", err)
					}
				})
				if err != nil {
					log.Warn("failed to subscribe to sync events", "error", err)
				}
			}
		}
	} else {
		log.Warn("NATS not configured, sync events disabled")
	}

	// ============================
	// Initialize Embedder + Retriever
	// ============================
	ck, err := chunker.New(chunker.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize chunker: %w", err)
	}

	var (
		emb       *embedder.OpenAIEmbedder
		retriever rag.Retriever
	)
	if key := cfg.AI.EmbeddingKey(); key != "" {
		embConfig := embedder.DefaultConfig(key)
		embConfig.BaseURL = cfg.AI.BaseURL
		embConfig.Model = cfg.AI.EmbeddingModel
		embConfig.RequestTimeout = time.Duration(cfg.AI.EmbedTimeoutSec) * time.Second

		emb, err = embedder.NewOpenAIEmbedder(embConfig, log)
		if err != nil {
			return fmt.Errorf("failed to initialize embedder: %w", err)
		}

		var ragCache rag.CacheManager
		if cacheManager != nil {
			ragCache = cacheManager
		}
		retriever = rag.NewVectorRetriever(chunkStore, emb, ragCache, storage.KnowledgeBaseDocID, rag.VectorConfig{
			TopK:          cfg.Chat.VectorTopK,
			MinSimilarity: cfg.Chat.MinSimilarity,
		}, log.Logger)
		log.Info("retrieval mode: vector", "model", cfg.AI.EmbeddingModel)
	} else {
		retriever = rag.NewKeywordRetriever(chunkStore, storage.KnowledgeBaseDocID, rag.KeywordConfig{
			TopK: cfg.Chat.KeywordTopK,
		}, log.Logger)
		log.Warn("no embedding key configured, retrieval mode: keyword")
	}

	// ============================
	// Initialize Completion + Chat Service
	// ============================
	llmConfig := llm.DefaultConfig(cfg.AI.APIKey)
	llmConfig.BaseURL = cfg.AI.BaseURL
	llmConfig.Model = cfg.AI.Model
	llmConfig.MaxTokens = cfg.AI.MaxTokens
	llmConfig.Temperature = float32(cfg.AI.Temperature)
	llmConfig.Timeout = time.Duration(cfg.AI.StreamTimeoutSec) * time.Second

	completer, err := llm.NewOpenAICompleter(llmConfig, log)
	if err != nil {
		return fmt.Errorf("failed to initialize completion client: %w", err)
	}

	var relay chat.Relay
	if cfg.Chat.RelayStrategy == "passthrough" {
		relay = chat.NewPassthroughRelay(log)
	} else {
		relay = chat.NewReplayRelay(log)
	}
	log.Info("chat service initialized",
		"model", cfg.AI.Model,
		"relay_strategy", cfg.Chat.RelayStrategy,
	)

	chatService := chat.NewService(conversationStore, retriever, completer, relay, log)

	// ============================
	// Initialize Ingestion Pipeline
	// ============================
	var pipelineEmbedder ingest.Embedder
	if emb != nil {
		pipelineEmbedder = emb
	}
	var archive storage.ObjectStorage
	if objectStorage != nil {
		archive = objectStorage
	}
	var publisher ingest.Publisher
	if bus != nil {
		publisher = bus
	}
	var invalidator ingest.Invalidator
	if cacheManager != nil {
		invalidator = cacheManager
	}
	pipeline := ingest.NewPipeline(chunkStore, statusStore, ck, pipelineEmbedder, archive, publisher, invalidator, log)

	// ============================
	// Setup API Router
	// ============================
	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, tokens signed with an empty secret will validate")
	}

	healthCheckers := map[string]handlers.HealthChecker{
		"database": db,
	}
	if objectStorage != nil {
		healthCheckers["object_storage"] = objectStorage
	} else {
		healthCheckers["object_storage"] = nil
	}

	var sourceArchive handlers.SourceArchive
	if objectStorage != nil {
		sourceArchive = objectStorage
	}

	deps := api.Dependencies{
		Logger:         log.Logger,
		ChatService:    chatService,
		SyncService:    pipeline,
		SyncStatus:     statusStore,
		SourceArchive:  sourceArchive,
		TokenValidator: middleware.NewJWTValidator(cfg.Auth.JWTSecret),
		RateLimitStore: middleware.NewMemoryRateLimitStore(),
		HealthCheckers: healthCheckers,
	}

	routerConfig := api.DefaultRouterConfig()
	routerConfig.RequestTimeout = time.Duration(cfg.Server.RequestTimeout) * time.Second
	routerConfig.Version = version

	router := api.NewRouter(deps, routerConfig)

	// ============================
	// Initialize HTTP Server
	// ============================
	serverConfig := api.DefaultServerConfig()
	serverConfig.Port = cfg.Server.Port
	serverConfig.ShutdownTimeout = time.Duration(cfg.Server.ShutdownTimeout) * time.Second

	server := api.NewServer(router, serverConfig, log.Logger)

	shutdownHandler.RegisterNamed("http-server", func(ctx context.Context) error {
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr())
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	shutdownHandler.Wait()

	log.Info("server stopped")
	return nil
}
