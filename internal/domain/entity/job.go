package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

type Job struct {
	ID            uuid.UUID
	UserID        string
	VideoKey      string
	ArtifactKey   string
	Status        JobStatus
	FrameCount    int
	PairCount     int
	Score         *float64
	VideoDuration float64
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func NewJob(userID, videoKey string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.New(),
		UserID:    userID,
		VideoKey:  videoKey,
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.ErrorMessage = ""
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkCompleted(artifactKey string, result *ScoreResult) {
	now := time.Now().UTC()
	score := float64(result.Score)
	j.Status = JobStatusCompleted
	j.ArtifactKey = artifactKey
	j.FrameCount = result.FrameCount
	j.PairCount = result.PairCount
	j.VideoDuration = result.VideoDuration
	j.Score = &score
	j.UpdatedAt = now
	j.CompletedAt = &now
}

func (j *Job) MarkFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.UpdatedAt = time.Now().UTC()
}

// IsTerminal reports whether a redelivered message for this job can be skipped.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
