package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// VideoStatus represents the processing status of a video record.
// A video enters VideoStatusProcessing when an indexing job is dispatched and
// leaves it for exactly one of the terminal states.
type VideoStatus string

const (
	VideoStatusProcessing        VideoStatus = "processing"
	VideoStatusCompleted         VideoStatus = "completed"
	VideoStatusFailed            VideoStatus = "failed"
	VideoStatusFailedMissingFile VideoStatus = "failed_missing_file"
)

// Terminal reports whether the status is a final state of the pipeline.
func (s VideoStatus) Terminal() bool {
	switch s {
	case VideoStatusCompleted, VideoStatusFailed, VideoStatusFailedMissingFile:
		return true
	}
	return false
}

// Visibility values for a video.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
// Parameters: none.
// Returns:
//   - driver.Value: JSON-encoded string representation of the slice.
//   - error: non-nil if marshaling fails.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
// Parameters:
//   - value: raw database value to decode.
// Returns:
//   - error: non-nil if decoding fails or the type is unexpected.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// Video represents an uploaded video asset and its indexing lifecycle.
type Video struct {
	VideoID    string      `gorm:"type:text;primaryKey" json:"video_id"`
	UserID     string      `gorm:"type:text;not null;index:idx_videos_user" json:"user_id"`
	Filename   string      `gorm:"type:text;not null" json:"filename"`
	Title      string      `gorm:"type:text;not null" json:"title"`
	Tags       StringArray `gorm:"type:text" json:"tags"`
	Visibility string      `gorm:"type:text;index:idx_videos_visibility;default:public" json:"visibility"`
	Status     VideoStatus `gorm:"type:text;index:idx_videos_status;default:processing" json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Video.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Video) TableName() string {
	return "videos"
}

// ReindexAttempt records the most recent reindex request per video. It backs
// the reindex cooldown so the timestamp survives process restarts.
type ReindexAttempt struct {
	VideoID     string `gorm:"type:text;primaryKey" json:"video_id"`
	LastAttempt int64  `gorm:"not null" json:"last_attempt"` // unix seconds
}

// TableName returns the database table name for ReindexAttempt.
func (ReindexAttempt) TableName() string {
	return "reindex_attempts"
}
