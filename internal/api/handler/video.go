package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/haruki/chronosearch/internal/domain"
	"github.com/haruki/chronosearch/internal/repository"
	"github.com/haruki/chronosearch/internal/service"
	"github.com/haruki/chronosearch/internal/storage"
)

// VideoHandler handles video lifecycle endpoints.
type VideoHandler struct {
	videos  *repository.VideoRepository
	blobs   storage.ObjectStorage
	indexer *service.IndexerService
}

// NewVideoHandler creates a new video handler.
// Parameters:
//   - videos: video record repository.
//   - blobs: object storage for video files and posters.
//   - indexer: indexing service for dispatching jobs.
// Returns:
//   - *VideoHandler: initialized handler.
func NewVideoHandler(videos *repository.VideoRepository, blobs storage.ObjectStorage, indexer *service.IndexerService) *VideoHandler {
	return &VideoHandler{
		videos:  videos,
		blobs:   blobs,
		indexer: indexer,
	}
}

// Upload handles POST /api/v1/videos: multipart upload plus async indexing.
//
// Form fields: file (required), title (required), tags (comma-separated),
// user_id, visibility.
func (h *VideoHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file: " + err.Error()})
		return
	}

	title := strings.TrimSpace(c.PostForm("title"))
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing title"})
		return
	}

	var tags []string
	if raw := c.PostForm("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	userID := c.PostForm("user_id")
	visibility := c.PostForm("visibility")
	if visibility != domain.VisibilityPrivate {
		visibility = domain.VisibilityPublic
	}

	videoID := uuid.NewString()

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable file: " + err.Error()})
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	key := service.VideoObjectKey(videoID)
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	if err := h.blobs.Upload(ctx, key, file, fileHeader.Size, contentType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed: " + err.Error()})
		return
	}

	video := &domain.Video{
		VideoID:    videoID,
		UserID:     userID,
		Filename:   fileHeader.Filename,
		Title:      title,
		Tags:       tags,
		Visibility: visibility,
		Status:     domain.VideoStatusProcessing,
	}
	if err := h.videos.Create(ctx, video); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create record: " + err.Error()})
		return
	}

	h.indexer.Dispatch(videoID, title, tags)

	c.JSON(http.StatusAccepted, gin.H{
		"video_id": videoID,
		"status":   domain.VideoStatusProcessing,
	})
}

// Status handles GET /api/v1/videos/:id/status.
func (h *VideoHandler) Status(c *gin.Context) {
	video, ok := h.getVideo(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"video_id": video.VideoID,
		"status":   video.Status,
	})
}

// Get handles GET /api/v1/videos/:id.
func (h *VideoHandler) Get(c *gin.Context) {
	video, ok := h.getVideo(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.withURLs(*video))
}

// Feed handles GET /api/v1/feed: completed public videos, newest first.
func (h *VideoHandler) Feed(c *gin.Context) {
	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)

	videos, err := h.videos.ListPublic(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load feed: " + err.Error()})
		return
	}

	items := make([]gin.H, 0, len(videos))
	for _, v := range videos {
		items = append(items, h.withURLs(v))
	}
	c.JSON(http.StatusOK, gin.H{"videos": items, "total": len(items)})
}

// MyVideos handles GET /api/v1/my_videos?user_id=...
func (h *VideoHandler) MyVideos(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'user_id' is required"})
		return
	}

	videos, err := h.videos.ListByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load videos: " + err.Error()})
		return
	}

	items := make([]gin.H, 0, len(videos))
	for _, v := range videos {
		items = append(items, h.withURLs(v))
	}
	c.JSON(http.StatusOK, gin.H{"videos": items, "total": len(items)})
}

// Reindex handles POST /api/v1/videos/:id/reindex.
func (h *VideoHandler) Reindex(c *gin.Context) {
	videoID := c.Param("id")

	err := h.indexer.Reindex(c.Request.Context(), videoID)
	if err == nil {
		c.JSON(http.StatusAccepted, gin.H{
			"video_id": videoID,
			"status":   domain.VideoStatusProcessing,
		})
		return
	}

	var cooldown *service.CooldownError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
	case errors.Is(err, service.ErrAlreadyProcessing):
		c.JSON(http.StatusConflict, gin.H{"error": "Video is already being processed"})
	case errors.Is(err, service.ErrMissingFile):
		c.JSON(http.StatusGone, gin.H{
			"error":  "Video file is missing from storage",
			"status": domain.VideoStatusFailedMissingFile,
		})
	case errors.As(err, &cooldown):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":    "Reindex on cooldown",
			"retry_in": cooldown.Remaining,
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Reindex failed: " + err.Error()})
	}
}

type visibilityRequest struct {
	Visibility string `json:"visibility" binding:"required"`
}

// UpdateVisibility handles PATCH /api/v1/videos/:id/visibility.
func (h *VideoHandler) UpdateVisibility(c *gin.Context) {
	video, ok := h.getVideo(c)
	if !ok {
		return
	}

	var req visibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	if req.Visibility != domain.VisibilityPublic && req.Visibility != domain.VisibilityPrivate {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Visibility must be public or private"})
		return
	}

	if err := h.videos.UpdateVisibility(c.Request.Context(), video.VideoID, req.Visibility); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update visibility: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"video_id":   video.VideoID,
		"visibility": req.Visibility,
	})
}

// Delete handles DELETE /api/v1/videos/:id: removes the record and blobs.
func (h *VideoHandler) Delete(c *gin.Context) {
	video, ok := h.getVideo(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := h.videos.Delete(ctx, video.VideoID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete record: " + err.Error()})
		return
	}

	// Blob cleanup is best effort; orphaned objects are harmless.
	_ = h.blobs.Delete(ctx, service.VideoObjectKey(video.VideoID))
	_ = h.blobs.Delete(ctx, service.PosterObjectKey(video.VideoID))

	c.JSON(http.StatusOK, gin.H{"video_id": video.VideoID, "deleted": true})
}

func (h *VideoHandler) getVideo(c *gin.Context) (*domain.Video, bool) {
	video, err := h.videos.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Lookup failed: " + err.Error()})
		}
		return nil, false
	}
	return video, true
}

func (h *VideoHandler) withURLs(v domain.Video) gin.H {
	return gin.H{
		"video_id":    v.VideoID,
		"user_id":     v.UserID,
		"title":       v.Title,
		"tags":        v.Tags,
		"visibility":  v.Visibility,
		"status":      v.Status,
		"created_at":  v.CreatedAt,
		"preview_url": h.blobs.GetURL(service.VideoObjectKey(v.VideoID)),
		"poster_url":  h.blobs.GetURL(service.PosterObjectKey(v.VideoID)),
	}
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
