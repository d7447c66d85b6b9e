package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"testing"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
	"github.com/fiapx/fiapx-flowscore-service/internal/domain/port"
	"github.com/fiapx/fiapx-flowscore-service/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type zeroFlow struct{}

func (zeroFlow) Estimate(_ context.Context, a, _ *image.RGBA) (entity.DisplacementField, error) {
	return entity.NewDisplacementField(a.Bounds().Dx(), a.Bounds().Dy()), nil
}

type constClassifier float64

func (c constClassifier) Classify(context.Context, entity.Tensor) (float64, error) {
	return float64(c), nil
}

func newTestScorer(t *testing.T, store *memStore, extractor port.FrameExtractor) *Scorer {
	t.Helper()
	enc, err := pipeline.NewEncoder(20, pipeline.ChannelOrderBGR)
	require.NoError(t, err)
	log := zap.NewNop()
	seq := pipeline.NewSequencer(pipeline.NewPadder(pipeline.DefaultStride), zeroFlow{}, enc, store, 2, log)
	agg := pipeline.NewAggregator(constClassifier(0), store, 16, &pipeline.ImageNetNormalization, log)
	return NewScorer(extractor, seq, agg, log)
}

func seedExtraction(store *memStore, dir string, n int) *port.FrameExtractionResult {
	res := &port.FrameExtractionResult{FrameCount: n, Width: 12, Height: 10, VideoDuration: float64(n) / 25}
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("frame_%05d.png", i))
		img := image.NewRGBA(image.Rect(0, 0, 12, 10))
		for j := range img.Pix {
			img.Pix[j] = 128
		}
		store.images[p] = img
		res.Frames = append(res.Frames, entity.Frame{Index: i, Path: p})
	}
	return res
}

func TestWorkDirLayout(t *testing.T) {
	assert.Equal(t, filepath.Join("/w", "frame", "clip.mp4"), FrameDir("/w", "/videos/clip.mp4"))
	assert.Equal(t, filepath.Join("/w", "optical_result", "clip.mp4"), RasterDir("/w", "/videos/clip.mp4"))
}

func TestScoreVideo(t *testing.T) {
	store := newMemStore()
	root := t.TempDir()
	video := "/videos/clip.mp4"
	extraction := seedExtraction(store, FrameDir(root, video), 4)

	ex := new(mockExtractor)
	ex.On("ExtractFrames", mock.Anything, video, FrameDir(root, video)).Return(extraction, nil)

	result, err := newTestScorer(t, store, ex).ScoreVideo(context.Background(), video, root, nil)
	require.NoError(t, err)
	ex.AssertExpectations(t)

	assert.Equal(t, 4, result.FrameCount)
	assert.Equal(t, 3, result.PairCount)
	require.Len(t, result.Rasters, 3)
	assert.Len(t, result.Probabilities, 3)
	assert.Equal(t, entity.VideoScore(0.5), result.Score)
	assert.Equal(t, RasterDir(root, video), result.RasterDir)
	assert.Equal(t, filepath.Join(RasterDir(root, video), "frame_00003.png"), result.Rasters[2].Path)

	raster, ok := store.images[result.Rasters[0].Path]
	require.True(t, ok)
	assert.Equal(t, pipeline.ZeroMotionColor, raster.(*image.RGBA).RGBAAt(5, 5))
}

func TestScoreVideoSingleFrameIsDegenerate(t *testing.T) {
	store := newMemStore()
	root := t.TempDir()
	video := "/videos/still.mp4"

	ex := new(mockExtractor)
	ex.On("ExtractFrames", mock.Anything, video, mock.Anything).Return(seedExtraction(store, FrameDir(root, video), 1), nil)

	_, err := newTestScorer(t, store, ex).ScoreVideo(context.Background(), video, root, nil)
	var degenerate *entity.DegenerateSequenceError
	require.ErrorAs(t, err, &degenerate)
	assert.Equal(t, 1, degenerate.FrameCount)
}

func TestScoreVideoPropagatesMediaOpenError(t *testing.T) {
	ex := new(mockExtractor)
	ex.On("ExtractFrames", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &entity.MediaOpenError{Path: "x.mp4", Err: errors.New("invalid data")})

	_, err := newTestScorer(t, newMemStore(), ex).ScoreVideo(context.Background(), "x.mp4", t.TempDir(), nil)
	assert.True(t, entity.IsMediaOpen(err))
}

func TestScoreRasters(t *testing.T) {
	store := newMemStore()
	paths := []string{"/r/b.png", "/r/a.png"}
	for _, p := range paths {
		store.images[p] = image.NewRGBA(image.Rect(0, 0, 4, 4))
	}

	result, err := newTestScorer(t, store, nil).ScoreRasters(context.Background(), paths)
	require.NoError(t, err)
	assert.Equal(t, 2, result.PairCount)
	assert.Equal(t, entity.VideoScore(0.5), result.Score)

	_, err = newTestScorer(t, store, nil).ScoreRasters(context.Background(), nil)
	assert.True(t, entity.IsDegenerateSequence(err))
}
