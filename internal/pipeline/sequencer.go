package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
	"github.com/fiapx/fiapx-flowscore-service/internal/domain/port"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProgressFunc observes completed pairs. It may be called from several goroutines.
type ProgressFunc func(done, total int)

// Sequencer turns a frame sequence into one persisted flow raster per consecutive pair.
type Sequencer struct {
	padder    *Padder
	estimator port.FlowEstimator
	encoder   *Encoder
	images    port.ImageStore
	workers   int
	logger    *zap.Logger
}

func NewSequencer(
	padder *Padder,
	estimator port.FlowEstimator,
	encoder *Encoder,
	images port.ImageStore,
	workers int,
	logger *zap.Logger,
) *Sequencer {
	if workers <= 0 {
		workers = 1
	}
	return &Sequencer{
		padder:    padder,
		estimator: estimator,
		encoder:   encoder,
		images:    images,
		workers:   workers,
		logger:    logger,
	}
}

// Pairs returns (frames[i], frames[i+1]) for every i. Pair.Index is the position in frames.
func Pairs(frames []entity.Frame) []entity.FramePair {
	if len(frames) < 2 {
		return nil
	}
	pairs := make([]entity.FramePair, 0, len(frames)-1)
	for i := 0; i < len(frames)-1; i++ {
		pairs = append(pairs, entity.FramePair{Index: i, First: frames[i], Second: frames[i+1]})
	}
	return pairs
}

// RasterPath names a pair's raster after its second frame.
func RasterPath(outputDir string, pair entity.FramePair) string {
	return filepath.Join(outputDir, filepath.Base(pair.Second.Path))
}

// Run computes and persists every pair's raster, bounded by the worker count. The result is
// ordered by pair index. The first failure cancels outstanding pairs; rasters already written
// stay on disk and are overwritten by the next run.
func (s *Sequencer) Run(ctx context.Context, frames []entity.Frame, outputDir string, progress ProgressFunc) ([]entity.FlowRaster, error) {
	pairs := Pairs(frames)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create raster dir: %w", err)
	}

	rasters := make([]entity.FlowRaster, len(pairs))
	if len(pairs) == 0 {
		s.logger.Warn("no frame pairs to process", zap.Int("frames", len(frames)))
		return rasters, nil
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			raster, err := s.ComputePair(gctx, pair)
			if err != nil {
				return err
			}

			path := RasterPath(outputDir, pair)
			if err := s.images.SaveImage(path, raster); err != nil {
				return fmt.Errorf("save raster %s: %w", path, err)
			}
			rasters[pair.Index] = entity.FlowRaster{PairIndex: pair.Index, Path: path}

			n := int(done.Add(1))
			if progress != nil {
				progress(n, len(pairs))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("flow rasters generated",
		zap.Int("pairs", len(pairs)),
		zap.Int("workers", s.workers),
		zap.String("dir", outputDir),
	)
	return rasters, nil
}

// ComputePair runs pad, estimate, unpad and encode for one pair without writing anything.
func (s *Sequencer) ComputePair(ctx context.Context, pair entity.FramePair) (*image.RGBA, error) {
	a, err := s.images.LoadImage(pair.First.Path)
	if err != nil {
		return nil, fmt.Errorf("load frame %s: %w", pair.First.Path, err)
	}
	b, err := s.images.LoadImage(pair.Second.Path)
	if err != nil {
		return nil, fmt.Errorf("load frame %s: %w", pair.Second.Path, err)
	}

	pa, pb, pad, err := s.padder.Pad(a, b)
	if err != nil {
		return nil, fmt.Errorf("pad pair %d: %w", pair.Index, err)
	}

	field, err := s.estimator.Estimate(ctx, pa, pb)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, pairInferenceError(pair.Index, err)
	}
	if field.Width != pa.Bounds().Dx() || field.Height != pa.Bounds().Dy() {
		return nil, pairInferenceError(pair.Index, fmt.Errorf("field %dx%d does not match input %dx%d",
			field.Width, field.Height, pa.Bounds().Dx(), pa.Bounds().Dy()))
	}

	field, err = s.padder.Unpad(field, pad)
	if err != nil {
		return nil, pairInferenceError(pair.Index, err)
	}
	return s.encoder.Encode(field), nil
}

func pairInferenceError(pair int, err error) error {
	var mie *entity.ModelInferenceError
	if errors.As(err, &mie) {
		return &entity.ModelInferenceError{Model: mie.Model, Pair: pair, Err: mie.Err}
	}
	return &entity.ModelInferenceError{Model: "flow", Pair: pair, Err: err}
}
