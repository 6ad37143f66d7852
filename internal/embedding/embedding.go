// Package embedding defines the external embedding capability. The model is
// treated as opaque; the rest of the system only requires that text and
// images land in one shared vector space of a fixed dimension.
package embedding

import (
	"context"
	"math"
)

// Embedder maps text and images into a shared vector space.
type Embedder interface {
	// EmbedText embeds a text string. Empty text embeds like any other input.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedImage embeds raw image bytes (JPEG or PNG).
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)

	// Dimensions returns the vector dimension the embedder produces.
	Dimensions() int
}

// Normalize scales the vector to unit L2 norm in place and returns it.
// A zero vector is returned unchanged.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	inv := float32(1 / norm)
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
