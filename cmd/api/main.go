package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haruki/chronosearch/internal/api"
	"github.com/haruki/chronosearch/internal/api/middleware"
	"github.com/haruki/chronosearch/internal/config"
	"github.com/haruki/chronosearch/internal/embedding"
	"github.com/haruki/chronosearch/internal/logger"
	"github.com/haruki/chronosearch/internal/repository"
	"github.com/haruki/chronosearch/internal/sampler"
	"github.com/haruki/chronosearch/internal/service"
	"github.com/haruki/chronosearch/internal/storage"
	"github.com/haruki/chronosearch/internal/vectorstore"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetDefaultLogger(logger.New(nil))
	defer logger.Sync()
	baseLog := logger.GetDefault()

	// Database and repositories
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		baseLog.Fatalf("Failed to initialize database: %v", err)
	}
	videoRepo := repository.NewVideoRepository(db)
	attemptRepo := repository.NewReindexAttemptRepository(db)

	// Vector store
	store, err := vectorstore.NewStore(&cfg.Vectors, &cfg.Qdrant)
	if err != nil {
		baseLog.Fatalf("Failed to initialize vector store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ensure(ctx, cfg.Vectors.MetadataCollection, cfg.Vectors.Dimension); err != nil {
		baseLog.Fatalf("Failed to ensure metadata collection: %v", err)
	}
	if err := store.Ensure(ctx, cfg.Vectors.FrameCollection, cfg.Vectors.Dimension); err != nil {
		baseLog.Fatalf("Failed to ensure frame collection: %v", err)
	}

	// Object storage
	blobs, err := storage.NewS3Storage(&cfg.Storage)
	if err != nil {
		baseLog.Fatalf("Failed to initialize object storage: %v", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		baseLog.Warnf("Could not ensure storage bucket: %v", err)
	}

	// Embedding and sampling
	embedder := embedding.NewJinaEmbedder(&cfg.Embedding)
	frameSampler := sampler.NewFFmpegSampler(&cfg.Sampler)

	// Services
	gate := service.NewReindexGate(attemptRepo, time.Duration(cfg.Index.CooldownSeconds)*time.Second)

	// The local backend needs staged writes, so the indexer clones the
	// store directory per job instead of sharing this handle.
	var indexerStore vectorstore.Store
	if cfg.Vectors.Backend == "qdrant" {
		indexerStore = store
	}
	indexerService := service.NewIndexerService(service.IndexerOptions{
		Sampler:    frameSampler,
		Embedder:   embedder,
		Videos:     videoRepo,
		Blobs:      blobs,
		Gate:       gate,
		Store:      indexerStore,
		Vectors:    cfg.Vectors,
		ScratchDir: cfg.Index.ScratchDir,
	})

	searchService := service.NewSearchService(
		store,
		embedder,
		videoRepo,
		blobs,
		service.FusionConfigFrom(&cfg.Search),
		cfg.Vectors.FrameCollection,
		cfg.Vectors.MetadataCollection,
	)

	// Router and server
	router := api.SetupRouter(
		searchService,
		indexerService,
		videoRepo,
		blobs,
		cfg.Server.Mode,
		middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
			AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
		},
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		baseLog.Infof("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLog.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	baseLog.Infof("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		baseLog.Errorf("Forced shutdown: %v", err)
	}
}
