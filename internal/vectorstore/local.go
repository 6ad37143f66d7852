package vectorstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const metaFileName = "meta.json"

// localMeta is persisted alongside the collection files and pins the vector
// dimension for the whole store directory.
type localMeta struct {
	Dimension int `json:"dimension"`
}

// LocalStore is a directory-backed vector store. Each collection is one JSONL
// file of rows plus a shared meta.json carrying the fixed dimension. Queries
// are exact brute-force cosine scans.
//
// The on-disk layout is deliberately plain files so the whole store can be
// cloned into a staging workspace and swapped back atomically.
type LocalStore struct {
	mu  sync.RWMutex
	dir string
	dim int // 0 until meta.json exists
}

// OpenLocal opens (or initializes) a local store rooted at dir.
// Parameters:
//   - dir: store directory; created if missing.
// Returns:
//   - *LocalStore: store handle.
//   - error: non-nil if the directory or meta file is unusable.
func OpenLocal(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &LocalStore{dir: dir}

	metaPath := filepath.Join(dir, metaFileName)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read store metadata: %w", err)
	}

	var meta localMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse store metadata: %w", err)
	}
	if meta.Dimension <= 0 {
		return nil, fmt.Errorf("store metadata has invalid dimension %d", meta.Dimension)
	}
	s.dim = meta.Dimension

	return s, nil
}

// Ensure creates the collection file if missing and pins the store dimension.
// A dimension conflicting with an already-initialized store is fatal.
func (s *LocalStore) Ensure(ctx context.Context, collection string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d for collection %s", dim, collection)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		meta := localMeta{Dimension: dim}
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		if err := writeFileAtomic(filepath.Join(s.dir, metaFileName), data); err != nil {
			return fmt.Errorf("failed to write store metadata: %w", err)
		}
		s.dim = dim
	} else if s.dim != dim {
		return fmt.Errorf("store has dimension %d, collection %s requested %d", s.dim, collection, dim)
	}

	path := s.collectionPath(collection)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeFileAtomic(path, nil); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", collection, err)
		}
	}

	return nil
}

// UpsertByVideo replaces all rows of the video in the collection.
func (s *LocalStore) UpsertByVideo(ctx context.Context, collection, videoID string, rows []Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dim == 0 {
		return fmt.Errorf("store not initialized, call Ensure first")
	}
	for _, row := range rows {
		if err := validateRow(row, s.dim); err != nil {
			return fmt.Errorf("collection %s: %w", collection, err)
		}
	}

	existing, err := s.readRows(collection)
	if err != nil {
		return err
	}

	kept := existing[:0]
	for _, row := range existing {
		if row.VideoID != videoID {
			kept = append(kept, row)
		}
	}
	kept = append(kept, rows...)

	return s.writeRows(collection, kept)
}

// Query scans the collection and returns the k nearest rows by cosine
// distance, best match first.
func (s *LocalStore) Query(ctx context.Context, collection string, vec []float32, k int, videoID string) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim != 0 && len(vec) != s.dim {
		return nil, fmt.Errorf("query vector dimension %d, store has %d", len(vec), s.dim)
	}

	rows, err := s.readRows(collection)
	if err != nil {
		return nil, err
	}

	matches := make([]Row, 0, len(rows))
	for _, row := range rows {
		if videoID != "" && row.VideoID != videoID {
			continue
		}
		row.Distance = cosineDistance(vec, row.Vector)
		matches = append(matches, row)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Collections lists the collection names present in the store directory.
func (s *LocalStore) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list store directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".jsonl") {
			names = append(names, strings.TrimSuffix(name, ".jsonl"))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op for the local store.
func (s *LocalStore) Close() error {
	return nil
}

// Dir returns the directory the store reads from and writes to.
func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) collectionPath(collection string) string {
	return filepath.Join(s.dir, collection+".jsonl")
}

func (s *LocalStore) readRows(collection string) ([]Row, error) {
	f, err := os.Open(s.collectionPath(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open collection %s: %w", collection, err)
	}
	defer f.Close()

	var rows []Row
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var row Row
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("failed to parse row in collection %s: %w", collection, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", collection, err)
	}
	return rows, nil
}

func (s *LocalStore) writeRows(collection string, rows []Row) error {
	var buf strings.Builder
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("failed to encode row: %w", err)
		}
	}
	if err := writeFileAtomic(s.collectionPath(collection), []byte(buf.String())); err != nil {
		return fmt.Errorf("failed to write collection %s: %w", collection, err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file, fsyncs, and renames into place
// so readers never observe a partially-written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
