package vectorstore

import (
	"context"
	"fmt"
	"math"
)

// unitNormTolerance is the accepted deviation from unit L2 norm at insertion.
const unitNormTolerance = 1e-4

// Row is a single vector record in a collection. Frame rows carry Timestamp
// and Caption; metadata rows carry Title and Tags. Distance is populated on
// query results only.
type Row struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"video_id"`
	Vector    []float32 `json:"vector"`
	Timestamp float64   `json:"timestamp,omitempty"`
	Caption   string    `json:"caption,omitempty"`
	Title     string    `json:"title,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Distance  float32   `json:"-"`
}

// Similarity converts the query-time cosine distance back to a similarity.
func (r Row) Similarity() float64 {
	return 1 - float64(r.Distance)
}

// Store is a vector store holding named collections of fixed-dimension unit
// vectors under a cosine distance metric.
//
// Query results are ordered by ascending distance, best match first. The
// optional videoID restricts results to rows of that video. UpsertByVideo
// replaces every row of the video in the collection, so a video's vectors are
// never partially present.
type Store interface {
	// Ensure creates the collection if missing. An existing collection with a
	// different vector dimension is a configuration error.
	Ensure(ctx context.Context, collection string, dim int) error

	// UpsertByVideo deletes all rows of videoID in the collection, then
	// inserts rows. Rows must carry unit vectors of the collection dimension.
	UpsertByVideo(ctx context.Context, collection, videoID string, rows []Row) error

	// Query returns up to k nearest rows by cosine distance. A non-empty
	// videoID filters to that video's rows.
	Query(ctx context.Context, collection string, vec []float32, k int, videoID string) ([]Row, error)

	// Collections lists existing collection names.
	Collections(ctx context.Context) ([]string, error)

	Close() error
}

// validateRow checks the insertion invariants for one row.
func validateRow(row Row, dim int) error {
	if len(row.Vector) != dim {
		return fmt.Errorf("row %s: vector dimension %d, expected %d", row.ID, len(row.Vector), dim)
	}
	var sum float64
	for _, v := range row.Vector {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if math.Abs(norm-1) > unitNormTolerance {
		return fmt.Errorf("row %s: vector norm %.6f is not unit length", row.ID, norm)
	}
	return nil
}

// cosineDistance computes 1 - cos(a, b) for unit vectors a and b.
func cosineDistance(a, b []float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(1 - dot)
}
