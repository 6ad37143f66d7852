package sampler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/haruki/chronosearch/internal/config"
	"github.com/haruki/chronosearch/internal/logger"
)

// FFmpegSampler samples frames by shelling out to ffmpeg and ffprobe.
type FFmpegSampler struct {
	rate        float64
	width       int
	fallbackFPS float64
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpegSampler creates a sampler from configuration.
// Parameters:
//   - cfg: sampler settings (rate, width, binary paths).
// Returns:
//   - *FFmpegSampler: sampler instance.
func NewFFmpegSampler(cfg *config.SamplerConfig) *FFmpegSampler {
	rate := cfg.Rate
	if rate <= 0 {
		rate = 1.0
	}
	width := cfg.Width
	if width <= 0 {
		width = 640
	}
	fallback := cfg.FallbackFPS
	if fallback <= 0 {
		fallback = 24.0
	}
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegSampler{
		rate:        rate,
		width:       width,
		fallbackFPS: fallback,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// Sample extracts every interval-th frame of the video into outDir as JPEG
// files, downscaled to the configured width with aspect ratio preserved.
//
// An unopenable source returns an empty slice with a nil error.
func (s *FFmpegSampler) Sample(ctx context.Context, videoPath, outDir string) ([]Frame, error) {
	if _, err := os.Stat(videoPath); err != nil {
		logger.CtxWarn(ctx, "video file not readable, emitting no frames: %v", err)
		return []Frame{}, nil
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create frame directory: %w", err)
	}

	fps, err := s.probeFPS(ctx, videoPath)
	if err != nil {
		logger.CtxWarn(ctx, "ffprobe failed, emitting no frames: %v", err)
		return []Frame{}, nil
	}

	interval := Interval(fps, s.rate)

	// select picks every interval-th frame by source index; -vsync vfr keeps
	// the output from duplicating frames to fill the original rate.
	filter := fmt.Sprintf("select='not(mod(n\\,%d))',scale=%d:-1", interval, s.width)
	pattern := filepath.Join(outDir, "frame_%06d.jpg")

	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-i", videoPath,
		"-vf", filter,
		"-vsync", "vfr",
		"-q:v", "2",
		pattern,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		logger.CtxWarn(ctx, "ffmpeg failed, emitting no frames: %v (%s)", err, strings.TrimSpace(string(out)))
		return []Frame{}, nil
	}

	paths, err := globSorted(outDir, "frame_*.jpg")
	if err != nil {
		return nil, err
	}

	frames := make([]Frame, len(paths))
	for i, p := range paths {
		frames[i] = Frame{
			Index:     i,
			Timestamp: Timestamp(i, interval, fps),
			Path:      p,
		}
	}
	return frames, nil
}

// probeFPS reads the stream frame rate with ffprobe. Unparseable output
// falls back to the configured default rate.
func (s *FFmpegSampler) probeFPS(ctx context.Context, videoPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	fps := ParseFPS(strings.TrimSpace(string(out)))
	if fps <= 0 {
		fps = s.fallbackFPS
	}
	return fps, nil
}

// ParseFPS parses an ffprobe r_frame_rate value such as "30000/1001" or
// "25". Returns 0 when the value is missing or malformed.
func ParseFPS(raw string) float64 {
	if raw == "" {
		return 0
	}
	if num, den, ok := strings.Cut(raw, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0
		}
		return n / d
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return v
}

func globSorted(dir, pattern string) ([]string, error) {
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
