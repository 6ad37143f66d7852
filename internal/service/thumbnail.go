package service

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
)

// posterWidth is the output width for poster thumbnails; height follows the
// source aspect ratio.
const posterWidth = 320

// GeneratePoster downscales a sampled frame into a JPEG poster thumbnail.
// Parameters:
//   - framePath: path to a sampled frame image (JPEG or PNG).
// Returns:
//   - []byte: encoded JPEG bytes.
//   - error: non-nil if the frame cannot be decoded or encoded.
func GeneratePoster(framePath string) ([]byte, error) {
	f, err := os.Open(framePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("frame has empty bounds")
	}

	outW := posterWidth
	if width < outW {
		outW = width
	}
	outH := height * outW / width
	if outH < 1 {
		outH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, outW, outH))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("failed to encode poster: %w", err)
	}
	return buf.Bytes(), nil
}
