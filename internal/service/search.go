package service

import (
	"context"
	"math"
	"sort"

	"github.com/haruki/chronosearch/internal/config"
	"github.com/haruki/chronosearch/internal/embedding"
	"github.com/haruki/chronosearch/internal/logger"
	"github.com/haruki/chronosearch/internal/repository"
	"github.com/haruki/chronosearch/internal/storage"
	"github.com/haruki/chronosearch/internal/vectorstore"
)

// Match type labels reported on global search results.
const (
	MatchTypeTitle  = "title"
	MatchTypeVisual = "visual"
)

// FusionConfig carries the ranking constants for hybrid search. The zero
// value is not usable; construct via DefaultFusionConfig or from config.
type FusionConfig struct {
	TitleK      int     // metadata candidates fetched per query
	VisualK     int     // frame candidates fetched per query
	ScopedK     int     // results for single-video search
	TitleFloor  float64 // drop title matches below this similarity
	VisualFloor float64 // drop visual matches below this similarity
	TitleBoost  float64 // multiplier applied to title similarities
	BothBonus   float64 // added when a title match also matches visually
	DisplayCap  float64 // ceiling for the display score
}

// DefaultFusionConfig returns the tuned ranking constants.
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		TitleK:      20,
		VisualK:     50,
		ScopedK:     10,
		TitleFloor:  0.10,
		VisualFloor: 0.15,
		TitleBoost:  1.2,
		BothBonus:   0.05,
		DisplayCap:  100,
	}
}

// FusionConfigFrom maps the config section onto a FusionConfig.
func FusionConfigFrom(cfg *config.SearchConfig) FusionConfig {
	return FusionConfig{
		TitleK:      cfg.TitleK,
		VisualK:     cfg.VisualK,
		ScopedK:     cfg.ScopedK,
		TitleFloor:  cfg.TitleFloor,
		VisualFloor: cfg.VisualFloor,
		TitleBoost:  cfg.TitleBoost,
		BothBonus:   cfg.BothBonus,
		DisplayCap:  cfg.DisplayCap,
	}
}

// ScopedResult is one frame hit inside a single video.
type ScopedResult struct {
	VideoID   string  `json:"video_id"`
	Score     float64 `json:"score"` // display percentage, one decimal
	Timestamp float64 `json:"timestamp"`
	MatchType string  `json:"match_type"`
}

// GlobalResult is one fused candidate across the whole library.
type GlobalResult struct {
	VideoID    string   `json:"video_id"`
	Title      string   `json:"title"`
	Score      float64  `json:"score"` // display percentage, capped
	MatchTypes []string `json:"match_types"`
	Timestamp  *float64 `json:"timestamp"` // nil means start of video
	PreviewURL string   `json:"preview_url"`
}

// SearchService answers scoped and global semantic queries. Vector store
// failures on the query path degrade to empty results rather than errors.
type SearchService struct {
	store    vectorstore.Store
	embedder embedding.Embedder
	videos   *repository.VideoRepository
	blobs    storage.ObjectStorage
	fusion   FusionConfig

	frameCollection    string
	metadataCollection string
}

// NewSearchService creates a SearchService.
// Parameters:
//   - store: vector store holding the frame and metadata collections.
//   - embedder: text/image embedding capability.
//   - videos: video record repository for result enrichment; may be nil.
//   - blobs: object storage used to build preview URLs; may be nil.
//   - fusion: ranking constants.
//   - frameCollection, metadataCollection: collection names.
// Returns:
//   - *SearchService: service instance.
func NewSearchService(
	store vectorstore.Store,
	embedder embedding.Embedder,
	videos *repository.VideoRepository,
	blobs storage.ObjectStorage,
	fusion FusionConfig,
	frameCollection, metadataCollection string,
) *SearchService {
	return &SearchService{
		store:              store,
		embedder:           embedder,
		videos:             videos,
		blobs:              blobs,
		fusion:             fusion,
		frameCollection:    frameCollection,
		metadataCollection: metadataCollection,
	}
}

// Search finds the best-matching moments inside one video.
//
// The query text is embedded as-is, including the empty string. Results are
// ordered best match first; an unreachable store yields an empty list.
func (s *SearchService) Search(ctx context.Context, query, videoID string) ([]ScopedResult, error) {
	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.store.Query(ctx, s.frameCollection, vec, s.fusion.ScopedK, videoID)
	if err != nil {
		logger.CtxWarn(ctx, "frame query failed, returning empty results: %v", err)
		return []ScopedResult{}, nil
	}

	results := make([]ScopedResult, 0, len(rows))
	for _, row := range rows {
		results = append(results, ScopedResult{
			VideoID:   row.VideoID,
			Score:     round1(row.Similarity() * 100),
			Timestamp: row.Timestamp,
			MatchType: MatchTypeVisual,
		})
	}
	return results, nil
}

// candidate accumulates fusion state for one video during a global search.
type candidate struct {
	videoID   string
	title     string
	score     float64 // unbounded raw score used for ordering
	matched   map[string]bool
	timestamp *float64
	order     int // insertion order, stable-sort tiebreak
}

// SearchGlobal runs the hybrid title+visual search across the whole library.
//
// Title matches seed candidates with a boosted score and no timestamp.
// Visual hits arrive best-first from the store: a hit on a known candidate
// adds a fixed bonus once per hit and keeps the title timestamp, a hit on a
// new video inserts it with its best frame's timestamp. The final order is a
// stable sort on the raw (uncapped) score.
func (s *SearchService) SearchGlobal(ctx context.Context, query string) ([]GlobalResult, error) {
	vec, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]*candidate)
	var order []*candidate

	// Strategy A: metadata (titles and tags)
	titleHits, err := s.store.Query(ctx, s.metadataCollection, vec, s.fusion.TitleK, "")
	if err != nil {
		logger.CtxWarn(ctx, "metadata query failed, skipping title strategy: %v", err)
		titleHits = nil
	}
	for _, row := range titleHits {
		sim := row.Similarity()
		if sim < s.fusion.TitleFloor {
			continue
		}
		c := &candidate{
			videoID: row.VideoID,
			title:   row.Title,
			score:   sim * s.fusion.TitleBoost,
			matched: map[string]bool{MatchTypeTitle: true},
			order:   len(order),
		}
		candidates[row.VideoID] = c
		order = append(order, c)
	}

	// Strategy B: visual content (frames)
	frameHits, err := s.store.Query(ctx, s.frameCollection, vec, s.fusion.VisualK, "")
	if err != nil {
		logger.CtxWarn(ctx, "frame query failed, skipping visual strategy: %v", err)
		frameHits = nil
	}
	for _, row := range frameHits {
		sim := row.Similarity()
		if sim < s.fusion.VisualFloor {
			continue
		}
		if c, ok := candidates[row.VideoID]; ok {
			// Matched both ways. The title match stays primary, so the
			// timestamp is not overwritten.
			c.score += s.fusion.BothBonus
			c.matched[MatchTypeVisual] = true
			continue
		}
		// Hits arrive best-first, so the first frame of a video is its best.
		ts := row.Timestamp
		c := &candidate{
			videoID:   row.VideoID,
			score:     sim,
			matched:   map[string]bool{MatchTypeVisual: true},
			timestamp: &ts,
			order:     len(order),
		}
		candidates[row.VideoID] = c
		order = append(order, c)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return order[i].score > order[j].score
	})

	results := make([]GlobalResult, 0, len(order))
	for _, c := range order {
		results = append(results, GlobalResult{
			VideoID:    c.videoID,
			Title:      c.title,
			Score:      math.Min(s.fusion.DisplayCap, round1(c.score*100)),
			MatchTypes: matchTypes(c.matched),
			Timestamp:  c.timestamp,
			PreviewURL: s.previewURL(c.videoID),
		})
	}

	s.enrichTitles(ctx, results)
	return results, nil
}

// embedQuery embeds and normalizes the query text.
func (s *SearchService) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}
	return embedding.Normalize(vec), nil
}

// enrichTitles fills in titles for visual-only candidates from the video
// records. Best effort.
func (s *SearchService) enrichTitles(ctx context.Context, results []GlobalResult) {
	if s.videos == nil {
		return
	}
	var missing []string
	for _, r := range results {
		if r.Title == "" {
			missing = append(missing, r.VideoID)
		}
	}
	if len(missing) == 0 {
		return
	}
	videos, err := s.videos.GetByIDs(ctx, missing)
	if err != nil {
		logger.CtxWarn(ctx, "failed to load titles for %d results: %v", len(missing), err)
		return
	}
	titles := make(map[string]string, len(videos))
	for _, v := range videos {
		titles[v.VideoID] = v.Title
	}
	for i := range results {
		if results[i].Title == "" {
			results[i].Title = titles[results[i].VideoID]
		}
	}
}

func (s *SearchService) previewURL(videoID string) string {
	if s.blobs == nil {
		return ""
	}
	return s.blobs.GetURL(VideoObjectKey(videoID))
}

// matchTypes flattens the match set into sorted labels for stable JSON.
func matchTypes(matched map[string]bool) []string {
	types := make([]string, 0, len(matched))
	for t := range matched {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
