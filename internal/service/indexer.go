package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haruki/chronosearch/internal/config"
	"github.com/haruki/chronosearch/internal/domain"
	"github.com/haruki/chronosearch/internal/embedding"
	"github.com/haruki/chronosearch/internal/logger"
	"github.com/haruki/chronosearch/internal/repository"
	"github.com/haruki/chronosearch/internal/sampler"
	"github.com/haruki/chronosearch/internal/staging"
	"github.com/haruki/chronosearch/internal/storage"
	"github.com/haruki/chronosearch/internal/vectorstore"
)

var (
	// ErrNoFrames is returned when sampling produced no frames for a video
	// that was expected to be decodable.
	ErrNoFrames = errors.New("no frames sampled from video")

	// ErrAlreadyProcessing rejects a reindex while a job is running for the
	// same video.
	ErrAlreadyProcessing = errors.New("video is already being processed")

	// ErrMissingFile is returned when the source object is gone.
	ErrMissingFile = errors.New("video file is missing from storage")
)

// VideoObjectKey returns the blob store key for a video's source file.
func VideoObjectKey(videoID string) string {
	return "videos/" + videoID + ".mp4"
}

// PosterObjectKey returns the blob store key for a video's poster image.
func PosterObjectKey(videoID string) string {
	return "posters/" + videoID + ".jpg"
}

// imageBatchEmbedder is implemented by embedders that support batching
// several images into one call.
type imageBatchEmbedder interface {
	EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error)
}

// IndexerService runs indexing jobs: sample frames, embed them together with
// the title/tag summary, and publish both vector collections atomically per
// video. A mutex serializes jobs so the persistent store only ever has one
// writer.
type IndexerService struct {
	mu sync.Mutex

	sampler  sampler.Sampler
	embedder embedding.Embedder
	videos   *repository.VideoRepository
	blobs    storage.ObjectStorage
	gate     *ReindexGate

	store      vectorstore.Store // shared backend for native writes; nil for staged local writes
	vectorsCfg config.VectorsConfig
	scratchDir string
}

// IndexerOptions configures NewIndexerService.
type IndexerOptions struct {
	Sampler  sampler.Sampler
	Embedder embedding.Embedder
	Videos   *repository.VideoRepository
	Blobs    storage.ObjectStorage
	Gate     *ReindexGate

	// Store is used directly when the backend supports isolated per-video
	// writes (qdrant). Leave nil for the local backend: each job then clones
	// the store directory into a staging workspace and commits on success.
	Store vectorstore.Store

	Vectors    config.VectorsConfig
	ScratchDir string
}

// NewIndexerService creates an IndexerService.
func NewIndexerService(opts IndexerOptions) *IndexerService {
	return &IndexerService{
		sampler:    opts.Sampler,
		embedder:   opts.Embedder,
		videos:     opts.Videos,
		blobs:      opts.Blobs,
		gate:       opts.Gate,
		store:      opts.Store,
		vectorsCfg: opts.Vectors,
		scratchDir: opts.ScratchDir,
	}
}

// Index runs one indexing job for a local video file and records the
// terminal status on the video record.
//
// The pipeline is all-or-nothing per video: every frame embeds or the job
// fails, and vectors reach the persistent store only on commit. Returns the
// terminal status alongside the pipeline error, if any.
func (s *IndexerService) Index(ctx context.Context, videoPath, videoID, title string, tags []string) (domain.VideoStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = logger.SetVideoID(ctx, videoID)
	start := time.Now()

	status, err := s.runJob(ctx, videoPath, videoID, title, tags)
	if updateErr := s.videos.UpdateStatus(ctx, videoID, status); updateErr != nil {
		logger.CtxError(ctx, "failed to record status %s: %v", status, updateErr)
	}

	if err != nil {
		logger.CtxError(ctx, "indexing failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
	} else {
		logger.CtxInfo(ctx, "indexing completed in %s", time.Since(start).Round(time.Millisecond))
	}
	return status, err
}

func (s *IndexerService) runJob(ctx context.Context, videoPath, videoID, title string, tags []string) (domain.VideoStatus, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return domain.VideoStatusFailedMissingFile, fmt.Errorf("%w: %v", ErrMissingFile, err)
	}

	frameDir, err := os.MkdirTemp(s.scratchDir, "frames-*")
	if err != nil {
		return domain.VideoStatusFailed, fmt.Errorf("failed to create frame directory: %w", err)
	}
	defer os.RemoveAll(frameDir)

	frames, err := s.sampler.Sample(ctx, videoPath, frameDir)
	if err != nil {
		return domain.VideoStatusFailed, fmt.Errorf("failed to sample frames: %w", err)
	}
	if len(frames) == 0 {
		return domain.VideoStatusFailed, ErrNoFrames
	}
	logger.CtxInfo(ctx, "sampled %d frames", len(frames))

	frameRows, err := s.embedFrames(ctx, videoID, frames)
	if err != nil {
		return domain.VideoStatusFailed, err
	}

	metaRow, err := s.embedMetadata(ctx, videoID, title, tags)
	if err != nil {
		return domain.VideoStatusFailed, err
	}

	if err := s.writeVectors(ctx, videoID, frameRows, metaRow); err != nil {
		return domain.VideoStatusFailed, err
	}

	s.uploadPoster(ctx, videoID, frames[0].Path)

	return domain.VideoStatusCompleted, nil
}

// embedFrames embeds every sampled frame. Any failure aborts the job so a
// video is never indexed with a partial frame set.
func (s *IndexerService) embedFrames(ctx context.Context, videoID string, frames []sampler.Frame) ([]vectorstore.Row, error) {
	images := make([][]byte, len(frames))
	for i, frame := range frames {
		data, err := os.ReadFile(frame.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read frame %d: %w", frame.Index, err)
		}
		images[i] = data
	}

	var vecs [][]float32
	if batcher, ok := s.embedder.(imageBatchEmbedder); ok {
		var err error
		vecs, err = batcher.EmbedImages(ctx, images)
		if err != nil {
			return nil, fmt.Errorf("failed to embed frames: %w", err)
		}
	} else {
		vecs = make([][]float32, len(images))
		for i, img := range images {
			vec, err := s.embedder.EmbedImage(ctx, img)
			if err != nil {
				return nil, fmt.Errorf("failed to embed frame %d: %w", i, err)
			}
			vecs[i] = vec
		}
	}

	rows := make([]vectorstore.Row, len(frames))
	for i, frame := range frames {
		rows[i] = vectorstore.Row{
			ID:        uuid.NewString(),
			VideoID:   videoID,
			Vector:    embedding.Normalize(vecs[i]),
			Timestamp: frame.Timestamp,
			Caption:   fmt.Sprintf("Frame at %gs", frame.Timestamp),
		}
	}
	return rows, nil
}

// embedMetadata embeds the title/tag summary into the single metadata row.
func (s *IndexerService) embedMetadata(ctx context.Context, videoID, title string, tags []string) (vectorstore.Row, error) {
	summary := strings.TrimSpace(title + " " + strings.Join(tags, " "))
	vec, err := s.embedder.EmbedText(ctx, summary)
	if err != nil {
		return vectorstore.Row{}, fmt.Errorf("failed to embed metadata: %w", err)
	}
	return vectorstore.Row{
		ID:      uuid.NewString(),
		VideoID: videoID,
		Vector:  embedding.Normalize(vec),
		Title:   title,
		Tags:    tags,
	}, nil
}

// writeVectors publishes both collections for the video. With a shared store
// the backend's native delete+upsert provides isolation; otherwise the local
// store directory is cloned into a staging workspace, mutated there, and
// swapped back only on success.
func (s *IndexerService) writeVectors(ctx context.Context, videoID string, frameRows []vectorstore.Row, metaRow vectorstore.Row) error {
	dim := s.vectorsCfg.Dimension

	if s.store != nil {
		if err := s.upsertAll(ctx, s.store, videoID, frameRows, metaRow, dim); err != nil {
			return err
		}
		return nil
	}

	ws, err := staging.Acquire(s.vectorsCfg.Path, s.scratchDir)
	if err != nil {
		return fmt.Errorf("failed to acquire staging workspace: %w", err)
	}
	defer ws.Discard()

	staged, err := vectorstore.OpenLocal(ws.Dir())
	if err != nil {
		return fmt.Errorf("failed to open staged store: %w", err)
	}

	if err := s.upsertAll(ctx, staged, videoID, frameRows, metaRow, dim); err != nil {
		return err
	}

	if err := ws.Commit(); err != nil {
		return fmt.Errorf("failed to commit staging workspace: %w", err)
	}
	return nil
}

func (s *IndexerService) upsertAll(ctx context.Context, store vectorstore.Store, videoID string, frameRows []vectorstore.Row, metaRow vectorstore.Row, dim int) error {
	if err := store.Ensure(ctx, s.vectorsCfg.MetadataCollection, dim); err != nil {
		return fmt.Errorf("failed to ensure metadata collection: %w", err)
	}
	if err := store.Ensure(ctx, s.vectorsCfg.FrameCollection, dim); err != nil {
		return fmt.Errorf("failed to ensure frame collection: %w", err)
	}
	if err := store.UpsertByVideo(ctx, s.vectorsCfg.MetadataCollection, videoID, []vectorstore.Row{metaRow}); err != nil {
		return fmt.Errorf("failed to upsert metadata vector: %w", err)
	}
	if err := store.UpsertByVideo(ctx, s.vectorsCfg.FrameCollection, videoID, frameRows); err != nil {
		return fmt.Errorf("failed to upsert frame vectors: %w", err)
	}
	return nil
}

// uploadPoster generates and stores the poster thumbnail. Best effort; a
// missing poster never fails the job.
func (s *IndexerService) uploadPoster(ctx context.Context, videoID, framePath string) {
	if s.blobs == nil {
		return
	}
	poster, err := GeneratePoster(framePath)
	if err != nil {
		logger.CtxWarn(ctx, "failed to generate poster: %v", err)
		return
	}
	key := PosterObjectKey(videoID)
	if err := s.blobs.Upload(ctx, key, bytes.NewReader(poster), int64(len(poster)), "image/jpeg"); err != nil {
		logger.CtxWarn(ctx, "failed to upload poster %s: %v", key, err)
	}
}

// Reindex validates a reindex request and dispatches the job asynchronously.
//
// Checks run in order: the video must exist, must not already be processing,
// its source object must still exist, and the cooldown gate must allow the
// attempt. Passing all checks flips the status to processing and starts the
// job in the background.
func (s *IndexerService) Reindex(ctx context.Context, videoID string) error {
	video, err := s.videos.GetByID(ctx, videoID)
	if err != nil {
		return err
	}

	if video.Status == domain.VideoStatusProcessing {
		return ErrAlreadyProcessing
	}

	key := VideoObjectKey(videoID)
	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check video object: %w", err)
	}
	if !exists {
		if updateErr := s.videos.UpdateStatus(ctx, videoID, domain.VideoStatusFailedMissingFile); updateErr != nil {
			logger.CtxError(ctx, "failed to record missing-file status: %v", updateErr)
		}
		return ErrMissingFile
	}

	if err := s.gate.Check(ctx, videoID); err != nil {
		return err
	}

	if err := s.videos.UpdateStatus(ctx, videoID, domain.VideoStatusProcessing); err != nil {
		return fmt.Errorf("failed to mark video processing: %w", err)
	}

	s.Dispatch(videoID, video.Title, video.Tags)
	return nil
}

// Dispatch starts an indexing job in the background. The job downloads the
// source object to a scratch file, indexes it, and cleans up.
func (s *IndexerService) Dispatch(videoID, title string, tags []string) {
	go func() {
		jobCtx := logger.SetJobID(context.Background(), uuid.NewString())
		jobCtx = logger.SetVideoID(jobCtx, videoID)

		localPath := filepath.Join(os.TempDir(), "chronosearch", videoID+".mp4")
		defer os.Remove(localPath)

		if err := s.blobs.DownloadToFile(jobCtx, VideoObjectKey(videoID), localPath); err != nil {
			logger.CtxError(jobCtx, "failed to download video: %v", err)
			if updateErr := s.videos.UpdateStatus(jobCtx, videoID, domain.VideoStatusFailed); updateErr != nil {
				logger.CtxError(jobCtx, "failed to record failed status: %v", updateErr)
			}
			return
		}

		// Index records the terminal status itself.
		_, _ = s.Index(jobCtx, localPath, videoID, title, tags)
	}()
}
