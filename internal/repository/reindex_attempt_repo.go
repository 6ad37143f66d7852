package repository

import (
	"context"
	"errors"

	"github.com/haruki/chronosearch/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReindexAttemptRepository persists the last reindex request time per video.
type ReindexAttemptRepository struct {
	db *gorm.DB
}

// NewReindexAttemptRepository creates a new ReindexAttemptRepository.
func NewReindexAttemptRepository(db *gorm.DB) *ReindexAttemptRepository {
	return &ReindexAttemptRepository{db: db}
}

// LastAttempt returns the unix time of the most recent recorded attempt for
// the video, or (0, nil) when none has been recorded.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - videoID: video to look up.
// Returns:
//   - int64: unix seconds of the last attempt, 0 if none.
//   - error: non-nil if the lookup fails.
func (r *ReindexAttemptRepository) LastAttempt(ctx context.Context, videoID string) (int64, error) {
	var attempt domain.ReindexAttempt
	err := r.db.WithContext(ctx).First(&attempt, "video_id = ?", videoID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return attempt.LastAttempt, nil
}

// Record stores the attempt time for the video, replacing any prior record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - videoID: video the attempt belongs to.
//   - at: unix seconds of the attempt.
// Returns:
//   - error: non-nil if the upsert fails.
func (r *ReindexAttemptRepository) Record(ctx context.Context, videoID string, at int64) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "video_id"}},
		UpdateAll: true,
	}).Create(&domain.ReindexAttempt{VideoID: videoID, LastAttempt: at}).Error
}

// Clear removes the recorded attempt for a video.
func (r *ReindexAttemptRepository) Clear(ctx context.Context, videoID string) error {
	return r.db.WithContext(ctx).Delete(&domain.ReindexAttempt{}, "video_id = ?", videoID).Error
}
