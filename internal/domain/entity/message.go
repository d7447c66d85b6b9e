package entity

import (
	"errors"

	"github.com/google/uuid"
)

// VideoScoringMessage is the inbound message from the video.scoring queue.
type VideoScoringMessage struct {
	JobID     uuid.UUID `json:"job_id"`
	UserID    string    `json:"user_id"`
	VideoKey  string    `json:"video_key"`
	UserEmail string    `json:"user_email"`
}

func (m VideoScoringMessage) Validate() error {
	if m.JobID == uuid.Nil {
		return errors.New("job_id is required")
	}
	if m.VideoKey == "" {
		return errors.New("video_key is required")
	}
	return nil
}

// VideoStatusMessage is the outbound message published to the video.status queue.
type VideoStatusMessage struct {
	JobID        uuid.UUID `json:"job_id"`
	UserID       string    `json:"user_id"`
	Status       JobStatus `json:"status"`
	VideoKey     string    `json:"video_key"`
	ArtifactKey  string    `json:"artifact_key,omitempty"`
	FrameCount   int       `json:"frame_count,omitempty"`
	PairCount    int       `json:"pair_count,omitempty"`
	Score        *float64  `json:"score,omitempty"`
	Duration     float64   `json:"duration_seconds,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

func NewVideoStatusMessage(job *Job) VideoStatusMessage {
	return VideoStatusMessage{
		JobID:        job.ID,
		UserID:       job.UserID,
		Status:       job.Status,
		VideoKey:     job.VideoKey,
		ArtifactKey:  job.ArtifactKey,
		FrameCount:   job.FrameCount,
		PairCount:    job.PairCount,
		Score:        job.Score,
		Duration:     job.VideoDuration,
		ErrorMessage: job.ErrorMessage,
	}
}
