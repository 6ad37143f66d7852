// Command indexer indexes a single local video file from the command line.
// Useful for backfilling a library without going through the HTTP API.
//
// Usage:
//
//	indexer -file ./clip.mp4 -title "Sunset over the bay" -tags "sunset,beach"
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haruki/chronosearch/internal/config"
	"github.com/haruki/chronosearch/internal/domain"
	"github.com/haruki/chronosearch/internal/embedding"
	"github.com/haruki/chronosearch/internal/logger"
	"github.com/haruki/chronosearch/internal/repository"
	"github.com/haruki/chronosearch/internal/sampler"
	"github.com/haruki/chronosearch/internal/service"
	"github.com/haruki/chronosearch/internal/vectorstore"
)

func main() {
	var (
		filePath = flag.String("file", "", "path to the video file (required)")
		title    = flag.String("title", "", "video title (required)")
		tagsFlag = flag.String("tags", "", "comma-separated tags")
		videoID  = flag.String("id", "", "video ID; generated when empty")
		userID   = flag.String("user", "", "owner user ID")
	)
	flag.Parse()

	if *filePath == "" || *title == "" {
		flag.Usage()
		os.Exit(2)
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetDefaultLogger(logger.New(nil))
	defer logger.Sync()
	baseLog := logger.GetDefault()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		baseLog.Fatalf("Failed to initialize database: %v", err)
	}
	videoRepo := repository.NewVideoRepository(db)
	attemptRepo := repository.NewReindexAttemptRepository(db)

	var indexerStore vectorstore.Store
	if cfg.Vectors.Backend == "qdrant" {
		store, err := vectorstore.NewStore(&cfg.Vectors, &cfg.Qdrant)
		if err != nil {
			baseLog.Fatalf("Failed to initialize vector store: %v", err)
		}
		defer store.Close()
		indexerStore = store
	}

	var tags []string
	for _, tag := range strings.Split(*tagsFlag, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}

	id := *videoID
	if id == "" {
		id = uuid.NewString()
	}

	ctx := context.Background()

	video := &domain.Video{
		VideoID:    id,
		UserID:     *userID,
		Filename:   *filePath,
		Title:      *title,
		Tags:       tags,
		Visibility: domain.VisibilityPublic,
		Status:     domain.VideoStatusProcessing,
	}
	if err := videoRepo.Create(ctx, video); err != nil {
		baseLog.Fatalf("Failed to create video record: %v", err)
	}

	indexerService := service.NewIndexerService(service.IndexerOptions{
		Sampler:    sampler.NewFFmpegSampler(&cfg.Sampler),
		Embedder:   embedding.NewJinaEmbedder(&cfg.Embedding),
		Videos:     videoRepo,
		Gate:       service.NewReindexGate(attemptRepo, time.Duration(cfg.Index.CooldownSeconds)*time.Second),
		Store:      indexerStore,
		Vectors:    cfg.Vectors,
		ScratchDir: cfg.Index.ScratchDir,
	})

	status, err := indexerService.Index(ctx, *filePath, id, *title, tags)
	if err != nil {
		baseLog.Fatalf("Indexing finished with status %s: %v", status, err)
	}
	baseLog.Infof("Indexed video %s with status %s", id, status)
}
