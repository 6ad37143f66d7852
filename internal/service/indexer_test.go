package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/haruki/chronosearch/internal/config"
	"github.com/haruki/chronosearch/internal/domain"
	"github.com/haruki/chronosearch/internal/repository"
	"github.com/haruki/chronosearch/internal/sampler"
	"github.com/haruki/chronosearch/internal/storage"
	"github.com/haruki/chronosearch/internal/vectorstore"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&domain.Video{}, &domain.ReindexAttempt{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testVideoFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("not really a video"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeSampler writes count placeholder frames into outDir.
type fakeSampler struct {
	count int
}

func (f *fakeSampler) Sample(ctx context.Context, videoPath, outDir string) ([]sampler.Frame, error) {
	frames := make([]sampler.Frame, f.count)
	for i := range frames {
		path := filepath.Join(outDir, fmt.Sprintf("frame_%06d.jpg", i))
		if err := os.WriteFile(path, []byte("frame-bytes"), 0644); err != nil {
			return nil, err
		}
		frames[i] = sampler.Frame{Index: i, Timestamp: float64(i), Path: path}
	}
	return frames, nil
}

// fakeBlobs is a minimal in-memory object store.
type fakeBlobs struct {
	objects     map[string][]byte
	downloadErr error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: map[string][]byte{}}
}

func (f *fakeBlobs) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) DownloadToFile(ctx context.Context, key, path string) error {
	if f.downloadErr != nil {
		return f.downloadErr
	}
	data, ok := f.objects[key]
	if !ok {
		return errors.New("not found")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (f *fakeBlobs) GetURL(key string) string { return "http://blobs.test/" + key }

func (f *fakeBlobs) Delete(ctx context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeBlobs) List(ctx context.Context, prefix string) ([]string, error) { return nil, nil }

type testIndexerEnv struct {
	indexer     *IndexerService
	videos      *repository.VideoRepository
	attempts    *repository.ReindexAttemptRepository
	blobs       *fakeBlobs
	vectorsPath string
}

func newTestIndexer(t *testing.T, samp sampler.Sampler, embed *fakeEmbedder, blobs *fakeBlobs) *testIndexerEnv {
	t.Helper()
	db := testDB(t)
	videos := repository.NewVideoRepository(db)
	attempts := repository.NewReindexAttemptRepository(db)

	vectorsPath := filepath.Join(t.TempDir(), "vectors")
	vectors := config.VectorsConfig{
		Backend:            "local",
		Path:               vectorsPath,
		FrameCollection:    "frames",
		MetadataCollection: "metadata",
		Dimension:          4,
	}

	var objectStorage storage.ObjectStorage
	if blobs != nil {
		objectStorage = blobs
	}
	idx := NewIndexerService(IndexerOptions{
		Sampler:    samp,
		Embedder:   embed,
		Videos:     videos,
		Blobs:      objectStorage,
		Gate:       NewReindexGate(attempts, 300*time.Second),
		Vectors:    vectors,
		ScratchDir: t.TempDir(),
	})

	return &testIndexerEnv{
		indexer:     idx,
		videos:      videos,
		attempts:    attempts,
		blobs:       blobs,
		vectorsPath: vectorsPath,
	}
}

func createTestVideo(t *testing.T, env *testIndexerEnv, videoID string, status domain.VideoStatus) {
	t.Helper()
	err := env.videos.Create(context.Background(), &domain.Video{
		VideoID:    videoID,
		UserID:     "user1",
		Filename:   "clip.mp4",
		Title:      "Test clip",
		Tags:       domain.StringArray{"test"},
		Visibility: domain.VisibilityPublic,
		Status:     status,
	})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
}

func TestIndexSuccess(t *testing.T) {
	env := newTestIndexer(t, &fakeSampler{count: 2}, &fakeEmbedder{}, nil)
	createTestVideo(t, env, "vid1", domain.VideoStatusProcessing)
	ctx := context.Background()

	status, err := env.indexer.Index(ctx, testVideoFile(t), "vid1", "Test clip", []string{"test"})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if status != domain.VideoStatusCompleted {
		t.Errorf("status = %s, want completed", status)
	}

	video, err := env.videos.GetByID(ctx, "vid1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if video.Status != domain.VideoStatusCompleted {
		t.Errorf("recorded status = %s, want completed", video.Status)
	}

	// The committed store must hold all frame rows and one metadata row.
	store, err := vectorstore.OpenLocal(env.vectorsPath)
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	frames, err := store.Query(ctx, "frames", []float32{0, 1, 0, 0}, 10, "vid1")
	if err != nil {
		t.Fatalf("frame query: %v", err)
	}
	if len(frames) != 2 {
		t.Errorf("committed frame rows = %d, want 2", len(frames))
	}
	meta, err := store.Query(ctx, "metadata", []float32{1, 0, 0, 0}, 10, "vid1")
	if err != nil {
		t.Fatalf("metadata query: %v", err)
	}
	if len(meta) != 1 {
		t.Errorf("committed metadata rows = %d, want 1", len(meta))
	}
	if meta[0].Title != "Test clip" {
		t.Errorf("metadata title = %q", meta[0].Title)
	}
}

func TestIndexEmbedFailureLeavesStoreUntouched(t *testing.T) {
	env := newTestIndexer(t, &fakeSampler{count: 2}, &fakeEmbedder{err: errors.New("api down")}, nil)
	createTestVideo(t, env, "vid1", domain.VideoStatusProcessing)
	ctx := context.Background()

	// Seed the persistent store with an older video so there is committed
	// state the failing job could corrupt.
	seed, err := vectorstore.OpenLocal(env.vectorsPath)
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	if err := seed.Ensure(ctx, "frames", 4); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := seed.UpsertByVideo(ctx, "frames", "older", []vectorstore.Row{
		{ID: "o1", VideoID: "older", Vector: []float32{0, 0, 1, 0}},
	}); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}

	status, err := env.indexer.Index(ctx, testVideoFile(t), "vid1", "Test clip", nil)
	if err == nil {
		t.Fatal("Index succeeded with failing embedder")
	}
	if status != domain.VideoStatusFailed {
		t.Errorf("status = %s, want failed", status)
	}

	store, err := vectorstore.OpenLocal(env.vectorsPath)
	if err != nil {
		t.Fatalf("OpenLocal after failure: %v", err)
	}
	rows, err := store.Query(ctx, "frames", []float32{0, 0, 1, 0}, 10, "")
	if err != nil {
		t.Fatalf("query after failure: %v", err)
	}
	if len(rows) != 1 || rows[0].VideoID != "older" {
		t.Errorf("store content changed by failed job: %+v", rows)
	}
}

func TestIndexNoFrames(t *testing.T) {
	env := newTestIndexer(t, &fakeSampler{count: 0}, &fakeEmbedder{}, nil)
	createTestVideo(t, env, "vid1", domain.VideoStatusProcessing)

	status, err := env.indexer.Index(context.Background(), testVideoFile(t), "vid1", "Test clip", nil)
	if !errors.Is(err, ErrNoFrames) {
		t.Errorf("err = %v, want ErrNoFrames", err)
	}
	if status != domain.VideoStatusFailed {
		t.Errorf("status = %s, want failed", status)
	}
}

func TestIndexMissingLocalFile(t *testing.T) {
	env := newTestIndexer(t, &fakeSampler{count: 2}, &fakeEmbedder{}, nil)
	createTestVideo(t, env, "vid1", domain.VideoStatusProcessing)

	status, err := env.indexer.Index(context.Background(), "/no/such/file.mp4", "vid1", "Test clip", nil)
	if !errors.Is(err, ErrMissingFile) {
		t.Errorf("err = %v, want ErrMissingFile", err)
	}
	if status != domain.VideoStatusFailedMissingFile {
		t.Errorf("status = %s, want failed_missing_file", status)
	}
}

func TestReindexUnknownVideo(t *testing.T) {
	env := newTestIndexer(t, &fakeSampler{count: 1}, &fakeEmbedder{}, newFakeBlobs())

	err := env.indexer.Reindex(context.Background(), "ghost")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("err = %v, want gorm.ErrRecordNotFound", err)
	}
}

func TestReindexAlreadyProcessing(t *testing.T) {
	env := newTestIndexer(t, &fakeSampler{count: 1}, &fakeEmbedder{}, newFakeBlobs())
	createTestVideo(t, env, "vid1", domain.VideoStatusProcessing)

	err := env.indexer.Reindex(context.Background(), "vid1")
	if !errors.Is(err, ErrAlreadyProcessing) {
		t.Errorf("err = %v, want ErrAlreadyProcessing", err)
	}
}

func TestReindexMissingObject(t *testing.T) {
	env := newTestIndexer(t, &fakeSampler{count: 1}, &fakeEmbedder{}, newFakeBlobs())
	createTestVideo(t, env, "vid1", domain.VideoStatusCompleted)
	ctx := context.Background()

	err := env.indexer.Reindex(ctx, "vid1")
	if !errors.Is(err, ErrMissingFile) {
		t.Errorf("err = %v, want ErrMissingFile", err)
	}

	video, err := env.videos.GetByID(ctx, "vid1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if video.Status != domain.VideoStatusFailedMissingFile {
		t.Errorf("status = %s, want failed_missing_file", video.Status)
	}
}

func TestReindexCooldown(t *testing.T) {
	env := newTestIndexer(t, &fakeSampler{count: 1}, &fakeEmbedder{}, newFakeBlobs())
	createTestVideo(t, env, "vid1", domain.VideoStatusCompleted)
	ctx := context.Background()

	env.blobs.objects[VideoObjectKey("vid1")] = []byte("video bytes")
	if err := env.attempts.Record(ctx, "vid1", time.Now().Unix()); err != nil {
		t.Fatalf("seed attempt: %v", err)
	}

	err := env.indexer.Reindex(ctx, "vid1")
	var cooldown *CooldownError
	if !errors.As(err, &cooldown) {
		t.Fatalf("err = %v, want CooldownError", err)
	}
	if cooldown.Remaining <= 0 || cooldown.Remaining > 300 {
		t.Errorf("Remaining = %d, want within (0, 300]", cooldown.Remaining)
	}
}
