package repository

import (
	"context"

	"github.com/haruki/chronosearch/internal/domain"
	"gorm.io/gorm"
)

// VideoRepository handles video record operations.
type VideoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *VideoRepository: repository instance bound to db.
func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// Create inserts a new video record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - video: video record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *VideoRepository) Create(ctx context.Context, video *domain.Video) error {
	return r.db.WithContext(ctx).Create(video).Error
}

// Update updates an existing video record.
func (r *VideoRepository) Update(ctx context.Context, video *domain.Video) error {
	return r.db.WithContext(ctx).Save(video).Error
}

// GetByID retrieves a video by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - videoID: video ID.
// Returns:
//   - *domain.Video: video record if found.
//   - error: gorm.ErrRecordNotFound if absent, other non-nil on failure.
func (r *VideoRepository) GetByID(ctx context.Context, videoID string) (*domain.Video, error) {
	var video domain.Video
	if err := r.db.WithContext(ctx).First(&video, "video_id = ?", videoID).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

// UpdateStatus transitions a video to the given processing status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - videoID: video to update.
//   - status: new status value.
// Returns:
//   - error: non-nil if the update fails.
func (r *VideoRepository) UpdateStatus(ctx context.Context, videoID string, status domain.VideoStatus) error {
	return r.db.WithContext(ctx).
		Model(&domain.Video{}).
		Where("video_id = ?", videoID).
		Update("status", status).Error
}

// UpdateVisibility sets the visibility of a video.
func (r *VideoRepository) UpdateVisibility(ctx context.Context, videoID, visibility string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Video{}).
		Where("video_id = ?", videoID).
		Update("visibility", visibility).Error
}

// ListPublic retrieves completed public videos, newest first, with pagination.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.Video: matching video records.
//   - error: non-nil if the query fails.
func (r *VideoRepository) ListPublic(ctx context.Context, limit, offset int) ([]domain.Video, error) {
	var videos []domain.Video
	if err := r.db.WithContext(ctx).
		Where("visibility = ? AND status = ?", domain.VisibilityPublic, domain.VideoStatusCompleted).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}

// ListByUser retrieves all videos owned by a user, newest first.
func (r *VideoRepository) ListByUser(ctx context.Context, userID string) ([]domain.Video, error) {
	var videos []domain.Video
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}

// GetByIDs retrieves videos by a list of IDs.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ids: list of video IDs.
// Returns:
//   - []domain.Video: matching video records.
//   - error: non-nil if the query fails.
func (r *VideoRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Video, error) {
	if len(ids) == 0 {
		return []domain.Video{}, nil
	}
	var videos []domain.Video
	if err := r.db.WithContext(ctx).Where("video_id IN ?", ids).Find(&videos).Error; err != nil {
		return nil, err
	}
	return videos, nil
}

// Delete removes a video record by ID.
func (r *VideoRepository) Delete(ctx context.Context, videoID string) error {
	return r.db.WithContext(ctx).Delete(&domain.Video{}, "video_id = ?", videoID).Error
}
