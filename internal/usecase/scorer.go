package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
	"github.com/fiapx/fiapx-flowscore-service/internal/domain/port"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/metrics"
	"github.com/fiapx/fiapx-flowscore-service/internal/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	frameSubdir  = "frame"
	rasterSubdir = "optical_result"
)

// FrameDir is where the frames of videoPath live under workRoot.
func FrameDir(workRoot, videoPath string) string {
	return filepath.Join(workRoot, frameSubdir, filepath.Base(videoPath))
}

// RasterDir is where the flow rasters of videoPath live under workRoot.
func RasterDir(workRoot, videoPath string) string {
	return filepath.Join(workRoot, rasterSubdir, filepath.Base(videoPath))
}

// Scorer runs extraction, pairwise flow and aggregation for one video.
type Scorer struct {
	extractor  port.FrameExtractor
	sequencer  *pipeline.Sequencer
	aggregator *pipeline.Aggregator
	logger     *zap.Logger
}

func NewScorer(
	extractor port.FrameExtractor,
	sequencer *pipeline.Sequencer,
	aggregator *pipeline.Aggregator,
	logger *zap.Logger,
) *Scorer {
	return &Scorer{
		extractor:  extractor,
		sequencer:  sequencer,
		aggregator: aggregator,
		logger:     logger,
	}
}

// ScoreVideo scores videoPath using workRoot for frames and rasters. Rasters are always
// recomputed; both directories are left in place for inspection and reuse.
func (s *Scorer) ScoreVideo(ctx context.Context, videoPath, workRoot string, progress pipeline.ProgressFunc) (*entity.ScoreResult, error) {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "Scorer.ScoreVideo")
	defer span.End()
	span.SetAttributes(attribute.String("video.path", videoPath))

	log := s.logger.With(zap.String("video", filepath.Base(videoPath)))
	frameDir := FrameDir(workRoot, videoPath)
	rasterDir := RasterDir(workRoot, videoPath)

	exStart := time.Now()
	exCtx, exSpan := tracer.Start(ctx, "extract_frames")
	extraction, err := s.extractor.ExtractFrames(exCtx, videoPath, frameDir)
	exSpan.End()
	if err != nil {
		return nil, fmt.Errorf("extract frames: %w", err)
	}
	metrics.JobProcessingDuration.WithLabelValues("extract").Observe(time.Since(exStart).Seconds())
	span.SetAttributes(attribute.Int("video.frames", extraction.FrameCount))

	flowStart := time.Now()
	flowCtx, flowSpan := tracer.Start(ctx, "compute_flow")
	rasters, err := s.sequencer.Run(flowCtx, extraction.Frames, rasterDir, progress)
	flowSpan.End()
	if err != nil {
		return nil, fmt.Errorf("compute flow: %w", err)
	}
	metrics.JobProcessingDuration.WithLabelValues("flow").Observe(time.Since(flowStart).Seconds())
	metrics.FlowPairsProcessedTotal.Add(float64(len(rasters)))

	paths := make([]string, len(rasters))
	for i, r := range rasters {
		paths[i] = r.Path
	}

	result, err := s.aggregate(ctx, paths)
	if err != nil {
		if entity.IsDegenerateSequence(err) {
			return nil, &entity.DegenerateSequenceError{FrameCount: extraction.FrameCount}
		}
		return nil, err
	}

	result.FrameCount = extraction.FrameCount
	result.VideoDuration = extraction.VideoDuration
	result.Rasters = rasters
	result.FrameDir = frameDir
	result.RasterDir = rasterDir

	log.Info("video scored",
		zap.Float64("score", float64(result.Score)),
		zap.Int("frames", result.FrameCount),
		zap.Int("pairs", result.PairCount),
	)
	return result, nil
}

// ScoreRasters aggregates already encoded rasters, in the given order.
func (s *Scorer) ScoreRasters(ctx context.Context, paths []string) (*entity.ScoreResult, error) {
	ctx, span := otel.Tracer("usecase").Start(ctx, "Scorer.ScoreRasters")
	defer span.End()
	return s.aggregate(ctx, paths)
}

func (s *Scorer) aggregate(ctx context.Context, paths []string) (*entity.ScoreResult, error) {
	start := time.Now()
	ctx, span := otel.Tracer("usecase").Start(ctx, "classify_rasters")
	defer span.End()

	probs, err := s.aggregator.Probabilities(ctx, paths)
	if err != nil {
		return nil, fmt.Errorf("classify rasters: %w", err)
	}
	score, err := pipeline.Mean(probs)
	if err != nil {
		return nil, err
	}
	metrics.JobProcessingDuration.WithLabelValues("classify").Observe(time.Since(start).Seconds())
	metrics.VideoScore.Observe(float64(score))
	span.SetAttributes(attribute.Float64("video.score", float64(score)))

	return &entity.ScoreResult{
		Score:         score,
		PairCount:     len(probs),
		Probabilities: probs,
	}, nil
}
