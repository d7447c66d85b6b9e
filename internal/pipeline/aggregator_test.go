package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSigmoid(t *testing.T) {
	assert.Equal(t, 0.5, Sigmoid(0))
	assert.InDelta(t, 0.75, Sigmoid(math.Log(3)), 1e-12)
	assert.InDelta(t, 1.0, Sigmoid(50), 1e-12)
}

func TestMeanIsPermutationInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	probs := make([]float64, 257)
	for i := range probs {
		probs[i] = rng.Float64()
	}

	want, err := Mean(probs)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		shuffled := append([]float64(nil), probs...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := Mean(shuffled)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestMeanEmptyIsDegenerate(t *testing.T) {
	_, err := Mean(nil)
	assert.True(t, entity.IsDegenerateSequence(err))
}

func TestCropOffset(t *testing.T) {
	tests := []struct {
		size, crop int
		src, dst   int
	}{
		{448, 448, 0, 0},
		{500, 448, 26, 0},
		{449, 448, 0, 0},
		{451, 448, 2, 0},
		{400, 448, 0, 24},
		{447, 448, 0, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%d", tt.size, tt.crop), func(t *testing.T) {
			src, dst := cropOffset(tt.size, tt.crop)
			assert.Equal(t, tt.src, src)
			assert.Equal(t, tt.dst, dst)
		})
	}
}

func TestPreprocessZeroFillsSmallImages(t *testing.T) {
	agg := NewAggregator(nil, nil, 4, nil, zap.NewNop())
	tensor := agg.Preprocess(solidImage(2, 2, color.RGBA{R: 255, G: 255, B: 255, A: 255}))

	require.Equal(t, 3, tensor.Channels)
	require.Len(t, tensor.Data, 3*4*4)
	for c := 0; c < 3; c++ {
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				v := tensor.Data[c*16+y*4+x]
				if x >= 1 && x <= 2 && y >= 1 && y <= 2 {
					assert.Equal(t, float32(1), v)
				} else {
					assert.Equal(t, float32(0), v)
				}
			}
		}
	}
}

func TestPreprocessCropsCenter(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 6, 1))
	for x := 0; x < 6; x++ {
		img.SetRGBA(x, 0, color.RGBA{R: uint8(x * 50), A: 255})
	}
	agg := NewAggregator(nil, nil, 2, nil, zap.NewNop())
	tensor := agg.Preprocess(img)

	// The crop takes columns 2 and 3; the missing second row is zero-filled.
	assert.Equal(t, float32(100)/255, tensor.Data[0])
	assert.Equal(t, float32(150)/255, tensor.Data[1])
	assert.Equal(t, float32(0), tensor.Data[2])
}

func TestPreprocessNormalizes(t *testing.T) {
	agg := NewAggregator(nil, nil, 0, &ImageNetNormalization, zap.NewNop())
	tensor := agg.Preprocess(solidImage(DefaultCropSize, DefaultCropSize, color.RGBA{R: 255, A: 255}))

	plane := DefaultCropSize * DefaultCropSize
	require.Len(t, tensor.Data, 3*plane)
	assert.InDelta(t, (1-0.485)/0.229, tensor.Data[0], 1e-5)
	assert.InDelta(t, (0-0.456)/0.224, tensor.Data[plane], 1e-5)
	assert.InDelta(t, (0-0.406)/0.225, tensor.Data[2*plane+plane-1], 1e-5)
}

func TestScoreAveragesProbabilities(t *testing.T) {
	store := newMemStore()
	paths := []string{"/r/frame_00001.png", "/r/frame_00002.png"}
	for _, p := range paths {
		store.images[p] = solidImage(4, 4, ZeroMotionColor)
	}

	logits := []float64{0, math.Log(3)}
	call := 0
	cls := classifierFunc(func(_ context.Context, tensor entity.Tensor) (float64, error) {
		assert.Equal(t, 8, tensor.Width)
		l := logits[call]
		call++
		return l, nil
	})

	score, err := NewAggregator(cls, store, 8, nil, zap.NewNop()).Score(context.Background(), paths)
	require.NoError(t, err)
	assert.InDelta(t, 0.625, float64(score), 1e-12)
}

func TestProbabilitiesIdenticalRasters(t *testing.T) {
	store := newMemStore()
	var paths []string
	for i := 1; i <= 3; i++ {
		p := fmt.Sprintf("/r/frame_%05d.png", i)
		store.images[p] = solidImage(16, 16, ZeroMotionColor)
		paths = append(paths, p)
	}
	cls := classifierFunc(func(_ context.Context, tensor entity.Tensor) (float64, error) {
		var sum float64
		for _, v := range tensor.Data {
			sum += float64(v)
		}
		return sum / float64(len(tensor.Data)), nil
	})

	probs, err := NewAggregator(cls, store, 8, &ImageNetNormalization, zap.NewNop()).Probabilities(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, probs, 3)
	assert.Equal(t, probs[0], probs[1])
	assert.Equal(t, probs[1], probs[2])
}

func TestProbabilitiesWrapsClassifierFailure(t *testing.T) {
	store := newMemStore()
	paths := []string{"/r/a.png", "/r/b.png"}
	for _, p := range paths {
		store.images[p] = solidImage(4, 4, ZeroMotionColor)
	}
	boom := errors.New("worker crashed")
	call := 0
	cls := classifierFunc(func(context.Context, entity.Tensor) (float64, error) {
		call++
		if call == 2 {
			return 0, boom
		}
		return 0, nil
	})

	_, err := NewAggregator(cls, store, 4, nil, zap.NewNop()).Probabilities(context.Background(), paths)
	var mie *entity.ModelInferenceError
	require.ErrorAs(t, err, &mie)
	assert.Equal(t, 1, mie.Pair)
	assert.Equal(t, "classifier", mie.Model)
	assert.ErrorIs(t, err, boom)
}

func TestProbabilitiesMissingRaster(t *testing.T) {
	_, err := NewAggregator(nil, newMemStore(), 4, nil, zap.NewNop()).Probabilities(context.Background(), []string{"/missing.png"})
	require.Error(t, err)
	assert.False(t, entity.IsModelInference(err))
}
