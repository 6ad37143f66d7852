package vectorstore

import (
	"context"
	"testing"
)

// axis returns a unit vector along the given axis of a dim-dimensional space.
func axis(dim, i int) []float32 {
	v := make([]float32, dim)
	v[i] = 1
	return v
}

func openTestStore(t *testing.T, dim int) *LocalStore {
	t.Helper()
	s, err := OpenLocal(t.TempDir())
	if err != nil {
		t.Fatalf("OpenLocal: %v", err)
	}
	if err := s.Ensure(context.Background(), "frames", dim); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	return s
}

func TestEnsureDimensionConflict(t *testing.T) {
	s := openTestStore(t, 4)

	if err := s.Ensure(context.Background(), "metadata", 4); err != nil {
		t.Fatalf("Ensure with matching dimension: %v", err)
	}
	if err := s.Ensure(context.Background(), "other", 8); err == nil {
		t.Error("Ensure with conflicting dimension succeeded, want error")
	}
}

func TestDimensionSurvivesReopen(t *testing.T) {
	s := openTestStore(t, 4)

	reopened, err := OpenLocal(s.Dir())
	if err != nil {
		t.Fatalf("OpenLocal reopen: %v", err)
	}
	if err := reopened.Ensure(context.Background(), "frames", 8); err == nil {
		t.Error("Ensure with conflicting dimension after reopen succeeded, want error")
	}
}

func TestUpsertRejectsBadVectors(t *testing.T) {
	s := openTestStore(t, 4)
	ctx := context.Background()

	testCases := []struct {
		name string
		row  Row
	}{
		{name: "wrong dimension", row: Row{ID: "a", VideoID: "v1", Vector: []float32{1, 0}}},
		{name: "not unit length", row: Row{ID: "b", VideoID: "v1", Vector: []float32{1, 1, 0, 0}}},
		{name: "zero vector", row: Row{ID: "c", VideoID: "v1", Vector: make([]float32, 4)}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.UpsertByVideo(ctx, "frames", "v1", []Row{tc.row}); err == nil {
				t.Error("UpsertByVideo accepted invalid vector, want error")
			}
		})
	}
}

func TestUpsertReplacesVideoWholesale(t *testing.T) {
	s := openTestStore(t, 4)
	ctx := context.Background()

	first := []Row{
		{ID: "a1", VideoID: "vidA", Vector: axis(4, 0), Timestamp: 0},
		{ID: "a2", VideoID: "vidA", Vector: axis(4, 1), Timestamp: 1},
		{ID: "a3", VideoID: "vidA", Vector: axis(4, 2), Timestamp: 2},
	}
	if err := s.UpsertByVideo(ctx, "frames", "vidA", first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertByVideo(ctx, "frames", "vidB", []Row{{ID: "b1", VideoID: "vidB", Vector: axis(4, 3)}}); err != nil {
		t.Fatalf("vidB upsert: %v", err)
	}

	// Reindex vidA with fewer rows; the old three must be gone.
	second := []Row{
		{ID: "a4", VideoID: "vidA", Vector: axis(4, 0), Timestamp: 0},
		{ID: "a5", VideoID: "vidA", Vector: axis(4, 1), Timestamp: 1},
	}
	if err := s.UpsertByVideo(ctx, "frames", "vidA", second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	all, err := s.Query(ctx, "frames", axis(4, 0), 10, "")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	counts := map[string]int{}
	for _, row := range all {
		counts[row.VideoID]++
	}
	if counts["vidA"] != 2 {
		t.Errorf("vidA has %d rows after reindex, want 2", counts["vidA"])
	}
	if counts["vidB"] != 1 {
		t.Errorf("vidB has %d rows, want 1", counts["vidB"])
	}
}

func TestQueryOrderingAndFilter(t *testing.T) {
	s := openTestStore(t, 4)
	ctx := context.Background()

	// Distances to the query axis(0): exact match 0, orthogonal 1.
	rows := []Row{
		{ID: "far", VideoID: "v1", Vector: axis(4, 1)},
		{ID: "near", VideoID: "v1", Vector: axis(4, 0)},
		{ID: "other", VideoID: "v2", Vector: axis(4, 0)},
	}
	if err := s.UpsertByVideo(ctx, "frames", "v1", rows[:2]); err != nil {
		t.Fatalf("upsert v1: %v", err)
	}
	if err := s.UpsertByVideo(ctx, "frames", "v2", rows[2:]); err != nil {
		t.Fatalf("upsert v2: %v", err)
	}

	got, err := s.Query(ctx, "frames", axis(4, 0), 10, "v1")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Query returned %d rows, want 2", len(got))
	}
	if got[0].ID != "near" || got[1].ID != "far" {
		t.Errorf("Query order = [%s %s], want [near far]", got[0].ID, got[1].ID)
	}
	if got[0].Distance > got[1].Distance {
		t.Errorf("distances not ascending: %v > %v", got[0].Distance, got[1].Distance)
	}
	for _, row := range got {
		if row.VideoID != "v1" {
			t.Errorf("filtered query returned row of video %s", row.VideoID)
		}
	}

	limited, err := s.Query(ctx, "frames", axis(4, 0), 1, "")
	if err != nil {
		t.Fatalf("Query with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Query with k=1 returned %d rows", len(limited))
	}
}

func TestQueryMissingCollection(t *testing.T) {
	s := openTestStore(t, 4)

	rows, err := s.Query(context.Background(), "nope", axis(4, 0), 5, "")
	if err != nil {
		t.Fatalf("Query on missing collection: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Query on missing collection returned %d rows", len(rows))
	}
}

func TestCollections(t *testing.T) {
	s := openTestStore(t, 4)
	if err := s.Ensure(context.Background(), "metadata", 4); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	names, err := s.Collections(context.Background())
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if len(names) != 2 || names[0] != "frames" || names[1] != "metadata" {
		t.Errorf("Collections = %v, want [frames metadata]", names)
	}
}
