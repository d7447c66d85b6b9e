package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"sort"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
	"github.com/fiapx/fiapx-flowscore-service/internal/domain/port"
	"go.uber.org/zap"
)

// DefaultCropSize is the classifier's trained input size.
const DefaultCropSize = 448

type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

var ImageNetNormalization = Normalization{
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

// Aggregator classifies flow rasters and reduces their probabilities to one video score.
type Aggregator struct {
	classifier port.Classifier
	images     port.ImageStore
	cropSize   int
	norm       *Normalization
	logger     *zap.Logger
}

// NewAggregator builds an aggregator. A nil norm skips channel normalization.
func NewAggregator(classifier port.Classifier, images port.ImageStore, cropSize int, norm *Normalization, logger *zap.Logger) *Aggregator {
	if cropSize <= 0 {
		cropSize = DefaultCropSize
	}
	return &Aggregator{
		classifier: classifier,
		images:     images,
		cropSize:   cropSize,
		norm:       norm,
		logger:     logger,
	}
}

func (a *Aggregator) Score(ctx context.Context, paths []string) (entity.VideoScore, error) {
	probs, err := a.Probabilities(ctx, paths)
	if err != nil {
		return 0, err
	}
	return Mean(probs)
}

// Probabilities returns sigmoid(logit) for every raster, in input order.
func (a *Aggregator) Probabilities(ctx context.Context, paths []string) ([]float64, error) {
	if len(paths) == 0 {
		return nil, &entity.DegenerateSequenceError{FrameCount: -1}
	}

	probs := make([]float64, 0, len(paths))
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := a.images.LoadImage(path)
		if err != nil {
			return nil, fmt.Errorf("load raster %s: %w", path, err)
		}

		logit, err := a.classifier.Classify(ctx, a.Preprocess(img))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			var mie *entity.ModelInferenceError
			if errors.As(err, &mie) {
				return nil, &entity.ModelInferenceError{Model: mie.Model, Pair: i, Err: mie.Err}
			}
			return nil, &entity.ModelInferenceError{Model: "classifier", Pair: i, Err: err}
		}

		p := Sigmoid(logit)
		a.logger.Debug("raster classified", zap.String("raster", path), zap.Float64("prob", p))
		probs = append(probs, p)
	}
	return probs, nil
}

// Mean is the arithmetic mean of probs. Values are summed in sorted order so any
// permutation of the input yields a bit-identical score.
func Mean(probs []float64) (entity.VideoScore, error) {
	if len(probs) == 0 {
		return 0, &entity.DegenerateSequenceError{FrameCount: -1}
	}
	sorted := append([]float64(nil), probs...)
	sort.Float64s(sorted)

	var sum float64
	for _, p := range sorted {
		sum += p
	}
	return entity.VideoScore(sum / float64(len(sorted))), nil
}

func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Preprocess center-crops img to cropSize (zero-filling when smaller), scales to [0,1] and
// applies the optional normalization. The result is CHW.
func (a *Aggregator) Preprocess(img image.Image) entity.Tensor {
	s := a.cropSize
	b := img.Bounds()
	srcX, dstX := cropOffset(b.Dx(), s)
	srcY, dstY := cropOffset(b.Dy(), s)

	plane := s * s
	t := entity.Tensor{Channels: 3, Height: s, Width: s, Data: make([]float32, 3*plane)}

	for y := 0; y < s; y++ {
		sy := y - dstY + srcY
		if sy < 0 || sy >= b.Dy() {
			continue
		}
		for x := 0; x < s; x++ {
			sx := x - dstX + srcX
			if sx < 0 || sx >= b.Dx() {
				continue
			}
			r, g, bl := rgb8(img, b.Min.X+sx, b.Min.Y+sy)
			i := y*s + x
			t.Data[i] = float32(r) / 255
			t.Data[plane+i] = float32(g) / 255
			t.Data[2*plane+i] = float32(bl) / 255
		}
	}

	if a.norm != nil {
		for c := 0; c < 3; c++ {
			m, sd := a.norm.Mean[c], a.norm.Std[c]
			ch := t.Data[c*plane : (c+1)*plane]
			for i := range ch {
				ch[i] = (ch[i] - m) / sd
			}
		}
	}
	return t
}

// cropOffset returns where a centered crop of length crop starts in the source, and where
// the source starts in the output when the source is shorter. Offsets round half to even.
func cropOffset(size, crop int) (src, dst int) {
	if size >= crop {
		return int(math.RoundToEven(float64(size-crop) / 2)), 0
	}
	return 0, (crop - size) / 2
}

func rgb8(img image.Image, x, y int) (r, g, b uint8) {
	if m, ok := img.(*image.RGBA); ok {
		o := m.PixOffset(x, y)
		return m.Pix[o], m.Pix[o+1], m.Pix[o+2]
	}
	if m, ok := img.(*image.NRGBA); ok {
		o := m.PixOffset(x, y)
		return m.Pix[o], m.Pix[o+1], m.Pix[o+2]
	}
	cr, cg, cb, _ := img.At(x, y).RGBA()
	return uint8(cr >> 8), uint8(cg >> 8), uint8(cb >> 8)
}
