// Package sampler extracts evenly spaced frames from video files for
// embedding. Frame selection is frame-index based so the same input and
// configuration always produce the same frames and timestamps.
package sampler

import (
	"context"
	"math"
)

// Frame is one sampled frame on disk.
type Frame struct {
	Index     int     // ordinal among emitted frames, starting at 0
	Timestamp float64 // seconds from the start of the video
	Path      string  // image file written under the output directory
}

// Sampler extracts frames from a video file into outDir.
//
// An unopenable or missing source yields an empty slice and a nil error;
// callers decide whether that is a failure.
type Sampler interface {
	Sample(ctx context.Context, videoPath, outDir string) ([]Frame, error)
}

// Interval returns how many source frames to skip between samples for a
// source running at fps when targetRate samples per second are wanted.
// Never less than 1.
func Interval(fps, targetRate float64) int {
	if targetRate <= 0 {
		return 1
	}
	n := int(math.Round(fps / targetRate))
	if n < 1 {
		return 1
	}
	return n
}

// Timestamp returns the time of the nth emitted sample (0-based) when every
// interval-th source frame is taken from a video at fps.
func Timestamp(n, interval int, fps float64) float64 {
	return float64(n*interval) / fps
}
