package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
	"github.com/fiapx/fiapx-flowscore-service/internal/domain/port"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/metrics"
	"github.com/fiapx/fiapx-flowscore-service/internal/pipeline"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// VideoScorer is the scoring pipeline as seen by the queue worker.
type VideoScorer interface {
	ScoreVideo(ctx context.Context, videoPath, workRoot string, progress pipeline.ProgressFunc) (*entity.ScoreResult, error)
}

type ScoreVideoUseCase struct {
	repo      port.JobRepository
	storage   port.VideoStorage
	scorer    VideoScorer
	zipper    port.Zipper
	publisher port.StatusPublisher
	dlq       port.DLQPublisher
	notifier  port.FailureNotifier
	logger    *zap.Logger
	workDir   string
}

type ScoreVideoConfig struct {
	WorkDir string
}

func NewScoreVideoUseCase(
	repo port.JobRepository,
	storage port.VideoStorage,
	scorer VideoScorer,
	zipper port.Zipper,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ScoreVideoConfig,
) *ScoreVideoUseCase {
	return &ScoreVideoUseCase{
		repo:      repo,
		storage:   storage,
		scorer:    scorer,
		zipper:    zipper,
		publisher: publisher,
		dlq:       dlq,
		notifier:  notifier,
		logger:    logger,
		workDir:   cfg.WorkDir,
	}
}

// ArtifactKey is the object key of a job's zipped flow rasters.
func ArtifactKey(userID string, jobID uuid.UUID) string {
	return path.Join(userID, jobID.String(), "flow_rasters.zip")
}

// Execute handles one scoring message. Failures are terminal: the job is marked FAILED, the
// message is dead-lettered and the user is notified. An error is returned only when the job
// state itself could not be recorded or the context was cancelled.
func (uc *ScoreVideoUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ScoreVideoUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.VideoScoringMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		uc.deadLetter(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}
	if err := msg.Validate(); err != nil {
		uc.logger.Error("invalid scoring message", zap.Error(err), zap.ByteString("body", rawMsg))
		uc.deadLetter(ctx, rawMsg, "invalid_message: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.video_key", msg.VideoKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("video_key", msg.VideoKey))

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	switch {
	case errors.Is(err, port.ErrJobNotFound):
		job = entity.NewJob(msg.UserID, msg.VideoKey)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	case err != nil:
		log.Error("failed to load job record", zap.Error(err))
		return fmt.Errorf("find job: %w", err)
	}

	if job.IsTerminal() {
		log.Info("job already finished, skipping redelivery", zap.String("status", string(job.Status)))
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}
	uc.publishStatus(ctx, job, log)

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	result, artifactKey, stage, err := uc.scoreJob(ctx, job, msg, log)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("job interrupted", zap.String("stage", stage), zap.Error(err))
			return ctx.Err()
		}
		return uc.handleFailure(ctx, job, msg, rawMsg, stage+": "+err.Error(), log)
	}

	job.MarkCompleted(artifactKey, result)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}
	uc.publishStatus(ctx, job, log)

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	log.Info("job completed successfully",
		zap.Float64("score", float64(result.Score)),
		zap.Int("frame_count", result.FrameCount),
		zap.Int("pair_count", result.PairCount),
		zap.String("artifact_key", artifactKey),
	)
	return nil
}

// scoreJob downloads, scores and archives one video. stage names the step that failed.
func (uc *ScoreVideoUseCase) scoreJob(
	ctx context.Context,
	job *entity.Job,
	msg entity.VideoScoringMessage,
	log *zap.Logger,
) (result *entity.ScoreResult, artifactKey string, stage string, err error) {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.workDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, "", "workdir", err
	}
	defer removeTransient(workDir, log)

	dlStart := time.Now()
	dlCtx, spanDl := tracer.Start(ctx, "download_video")
	videoPath := filepath.Join(workDir, filepath.Base(msg.VideoKey))
	err = uc.storage.DownloadVideo(dlCtx, msg.VideoKey, videoPath)
	spanDl.End()
	if err != nil {
		log.Error("failed to download video", zap.Error(err))
		return nil, "", "download_video", err
	}
	metrics.JobProcessingDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	result, err = uc.scorer.ScoreVideo(ctx, videoPath, workDir, nil)
	if err != nil {
		log.Error("scoring failed", zap.Error(err))
		return nil, "", "score_video", err
	}

	zipStart := time.Now()
	zipCtx, spanZip := tracer.Start(ctx, "create_zip")
	rasterPaths := make([]string, len(result.Rasters))
	for i, r := range result.Rasters {
		rasterPaths[i] = r.Path
	}
	zipPath := filepath.Join(workDir, "flow_rasters.zip")
	size, err := uc.zipper.CreateZip(zipCtx, rasterPaths, zipPath)
	spanZip.End()
	if err != nil {
		log.Error("zip creation failed", zap.Error(err))
		return nil, "", "create_zip", err
	}
	metrics.JobProcessingDuration.WithLabelValues("zip").Observe(time.Since(zipStart).Seconds())

	upStart := time.Now()
	upCtx, spanUp := tracer.Start(ctx, "upload_artifact")
	defer spanUp.End()
	artifactKey = ArtifactKey(msg.UserID, job.ID)
	zipFile, err := os.Open(zipPath)
	if err != nil {
		return nil, "", "open_zip", err
	}
	defer zipFile.Close()
	if err := uc.storage.UploadArtifact(upCtx, artifactKey, zipFile, size); err != nil {
		log.Error("artifact upload failed", zap.Error(err))
		return nil, "", "upload_artifact", err
	}
	metrics.JobProcessingDuration.WithLabelValues("upload").Observe(time.Since(upStart).Seconds())

	return result, artifactKey, "", nil
}

func (uc *ScoreVideoUseCase) handleFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.VideoScoringMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg)
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to FAILED", zap.Error(err))
		return fmt.Errorf("update job failed: %w", err)
	}

	uc.deadLetter(ctx, rawMsg, errMsg)
	uc.publishStatus(ctx, job, log)
	metrics.JobsProcessedTotal.WithLabelValues("failed").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.VideoKey, errMsg)
	}
	return nil
}

// removeTransient deletes a job's downloaded video, rasters and zip. Extracted frames
// stay on disk for reuse.
func removeTransient(workDir string, log *zap.Logger) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		log.Warn("failed to list work dir", zap.String("dir", workDir), zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.Name() == frameSubdir {
			continue
		}
		if err := os.RemoveAll(filepath.Join(workDir, e.Name())); err != nil {
			log.Warn("failed to clean work dir", zap.String("path", e.Name()), zap.Error(err))
		}
	}
}

func (uc *ScoreVideoUseCase) deadLetter(ctx context.Context, rawMsg []byte, reason string) {
	if err := uc.dlq.PublishToDLQ(ctx, rawMsg, reason); err != nil {
		uc.logger.Error("failed to publish to DLQ", zap.Error(err))
	}
	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()
}

func (uc *ScoreVideoUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	data, _ := json.Marshal(entity.NewVideoStatusMessage(job))
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
