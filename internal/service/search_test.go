package service

import (
	"context"
	"errors"
	"testing"

	"github.com/haruki/chronosearch/internal/vectorstore"
)

// fakeStore serves canned rows per collection, best-first, the way a real
// backend orders its results.
type fakeStore struct {
	rows map[string][]vectorstore.Row
	errs map[string]error
}

func (f *fakeStore) Ensure(ctx context.Context, collection string, dim int) error { return nil }

func (f *fakeStore) UpsertByVideo(ctx context.Context, collection, videoID string, rows []vectorstore.Row) error {
	return nil
}

func (f *fakeStore) Query(ctx context.Context, collection string, vec []float32, k int, videoID string) ([]vectorstore.Row, error) {
	if err := f.errs[collection]; err != nil {
		return nil, err
	}
	var out []vectorstore.Row
	for _, row := range f.rows[collection] {
		if videoID != "" && row.VideoID != videoID {
			continue
		}
		out = append(out, row)
		if k > 0 && len(out) == k {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) Collections(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeStore) Close() error                                      { return nil }

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0, 1, 0, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 4 }

func newTestSearch(store vectorstore.Store) *SearchService {
	return NewSearchService(store, &fakeEmbedder{}, nil, nil, DefaultFusionConfig(), "frames", "metadata")
}

func TestScopedSearch(t *testing.T) {
	store := &fakeStore{rows: map[string][]vectorstore.Row{
		"frames": {
			{ID: "f1", VideoID: "vid1", Distance: 0.25, Timestamp: 3},
			{ID: "f2", VideoID: "vid1", Distance: 0.5, Timestamp: 7},
			{ID: "f3", VideoID: "vid2", Distance: 0.1, Timestamp: 1},
		},
	}}
	svc := newTestSearch(store)

	results, err := svc.Search(context.Background(), "sunset", "vid1")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search returned %d results, want 2", len(results))
	}

	// Display score is similarity*100 rounded to one decimal, no cap.
	if results[0].Score != 75.0 {
		t.Errorf("first score = %v, want 75.0", results[0].Score)
	}
	if results[1].Score != 50.0 {
		t.Errorf("second score = %v, want 50.0", results[1].Score)
	}
	if results[0].Timestamp != 3 || results[1].Timestamp != 7 {
		t.Errorf("timestamps = %v, %v, want 3, 7", results[0].Timestamp, results[1].Timestamp)
	}
	for _, r := range results {
		if r.VideoID != "vid1" {
			t.Errorf("scoped search leaked video %s", r.VideoID)
		}
		if r.MatchType != MatchTypeVisual {
			t.Errorf("match type = %s, want %s", r.MatchType, MatchTypeVisual)
		}
	}
}

func TestScopedSearchStoreErrorDegrades(t *testing.T) {
	store := &fakeStore{errs: map[string]error{"frames": errors.New("store down")}}
	svc := newTestSearch(store)

	results, err := svc.Search(context.Background(), "anything", "vid1")
	if err != nil {
		t.Fatalf("Search returned error, want degraded empty result: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Search returned %d results, want 0", len(results))
	}
}

func TestScopedSearchEmbedErrorPropagates(t *testing.T) {
	svc := NewSearchService(&fakeStore{}, &fakeEmbedder{err: errors.New("api down")}, nil, nil,
		DefaultFusionConfig(), "frames", "metadata")
	if _, err := svc.Search(context.Background(), "q", "vid1"); err == nil {
		t.Error("Search succeeded with failing embedder, want error")
	}
}

func TestGlobalTitleMatch(t *testing.T) {
	store := &fakeStore{rows: map[string][]vectorstore.Row{
		"metadata": {
			{ID: "m1", VideoID: "vid1", Distance: 0.5, Title: "Beach sunset"},
		},
	}}
	svc := newTestSearch(store)

	results, err := svc.SearchGlobal(context.Background(), "sunset")
	if err != nil {
		t.Fatalf("SearchGlobal: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	r := results[0]
	// Similarity 0.5 boosted by 1.2 -> raw 0.6 -> display 60.0.
	if r.Score != 60.0 {
		t.Errorf("score = %v, want 60.0", r.Score)
	}
	if len(r.MatchTypes) != 1 || r.MatchTypes[0] != MatchTypeTitle {
		t.Errorf("match types = %v, want [title]", r.MatchTypes)
	}
	if r.Timestamp != nil {
		t.Errorf("title match timestamp = %v, want nil", *r.Timestamp)
	}
	if r.Title != "Beach sunset" {
		t.Errorf("title = %q", r.Title)
	}
}

func TestGlobalBothStrategiesBonus(t *testing.T) {
	store := &fakeStore{rows: map[string][]vectorstore.Row{
		"metadata": {
			{ID: "m1", VideoID: "vid1", Distance: 0.5, Title: "Beach sunset"},
		},
		"frames": {
			{ID: "f1", VideoID: "vid1", Distance: 0.6, Timestamp: 42},
		},
	}}
	svc := newTestSearch(store)

	results, err := svc.SearchGlobal(context.Background(), "sunset")
	if err != nil {
		t.Fatalf("SearchGlobal: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}

	r := results[0]
	// 0.5*1.2 + 0.05 = 0.65 -> 65.0.
	if r.Score != 65.0 {
		t.Errorf("score = %v, want 65.0", r.Score)
	}
	if len(r.MatchTypes) != 2 || r.MatchTypes[0] != MatchTypeTitle || r.MatchTypes[1] != MatchTypeVisual {
		t.Errorf("match types = %v, want [title visual]", r.MatchTypes)
	}
	// The title match stays primary: no jump timestamp.
	if r.Timestamp != nil {
		t.Errorf("timestamp = %v, want nil", *r.Timestamp)
	}
}

func TestGlobalVisualOnlyKeepsBestFrame(t *testing.T) {
	store := &fakeStore{rows: map[string][]vectorstore.Row{
		"frames": {
			{ID: "f1", VideoID: "vid1", Distance: 0.25, Timestamp: 12.5},
			{ID: "f2", VideoID: "vid1", Distance: 0.5, Timestamp: 99},
		},
	}}
	svc := newTestSearch(store)

	results, err := svc.SearchGlobal(context.Background(), "sunset")
	if err != nil {
		t.Fatalf("SearchGlobal: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (deduplicated)", len(results))
	}

	r := results[0]
	if r.Score != 75.0 {
		t.Errorf("score = %v, want 75.0", r.Score)
	}
	if r.Timestamp == nil || *r.Timestamp != 12.5 {
		t.Errorf("timestamp = %v, want 12.5 (best frame)", r.Timestamp)
	}
	if len(r.MatchTypes) != 1 || r.MatchTypes[0] != MatchTypeVisual {
		t.Errorf("match types = %v, want [visual]", r.MatchTypes)
	}
}

func TestGlobalThresholds(t *testing.T) {
	store := &fakeStore{rows: map[string][]vectorstore.Row{
		"metadata": {
			{ID: "m1", VideoID: "weakTitle", Distance: 0.95, Title: "x"}, // sim 0.05 < 0.10
		},
		"frames": {
			{ID: "f1", VideoID: "weakVisual", Distance: 0.9, Timestamp: 1}, // sim 0.1 < 0.15
		},
	}}
	svc := newTestSearch(store)

	results, err := svc.SearchGlobal(context.Background(), "sunset")
	if err != nil {
		t.Fatalf("SearchGlobal: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0 (all below floors)", len(results))
	}
}

func TestGlobalScoreCapAndOrdering(t *testing.T) {
	store := &fakeStore{rows: map[string][]vectorstore.Row{
		"metadata": {
			// sim 0.9375 * 1.2 = 1.125 raw -> capped at 100 for display.
			{ID: "m1", VideoID: "strong", Distance: 0.0625, Title: "exact"},
			{ID: "m2", VideoID: "weaker", Distance: 0.5, Title: "close"},
		},
	}}
	svc := newTestSearch(store)

	results, err := svc.SearchGlobal(context.Background(), "sunset")
	if err != nil {
		t.Fatalf("SearchGlobal: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].VideoID != "strong" || results[1].VideoID != "weaker" {
		t.Errorf("order = [%s %s], want [strong weaker]", results[0].VideoID, results[1].VideoID)
	}
	if results[0].Score != 100.0 {
		t.Errorf("capped score = %v, want 100.0", results[0].Score)
	}
	if results[1].Score != 60.0 {
		t.Errorf("second score = %v, want 60.0", results[1].Score)
	}
}

func TestGlobalEmptyLibrary(t *testing.T) {
	svc := newTestSearch(&fakeStore{})

	results, err := svc.SearchGlobal(context.Background(), "anything")
	if err != nil {
		t.Fatalf("SearchGlobal on empty library: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestGlobalStoreErrorsDegrade(t *testing.T) {
	store := &fakeStore{
		rows: map[string][]vectorstore.Row{
			"frames": {{ID: "f1", VideoID: "vid1", Distance: 0.25, Timestamp: 5}},
		},
		errs: map[string]error{"metadata": errors.New("collection missing")},
	}
	svc := newTestSearch(store)

	// The failing title strategy contributes nothing; visual still works.
	results, err := svc.SearchGlobal(context.Background(), "sunset")
	if err != nil {
		t.Fatalf("SearchGlobal: %v", err)
	}
	if len(results) != 1 || results[0].VideoID != "vid1" {
		t.Errorf("results = %+v, want single vid1 visual match", results)
	}
}
