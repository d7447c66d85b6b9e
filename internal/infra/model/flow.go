package model

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
)

type caller interface {
	Call(ctx context.Context, req, resp interface{}) error
}

// FlowEstimator sends padded frame pairs to the flow worker as packed RGB and
// receives the interleaved (dx, dy) field.
type FlowEstimator struct {
	pool caller
}

func NewFlowEstimator(pool caller) *FlowEstimator {
	return &FlowEstimator{pool: pool}
}

func (f *FlowEstimator) Estimate(ctx context.Context, a, b *image.RGBA) (entity.DisplacementField, error) {
	w, h := a.Bounds().Dx(), a.Bounds().Dy()
	if b.Bounds().Dx() != w || b.Bounds().Dy() != h {
		return entity.DisplacementField{}, inferenceError(FlowModelName,
			fmt.Errorf("input size mismatch: %dx%d vs %dx%d", w, h, b.Bounds().Dx(), b.Bounds().Dy()))
	}

	req := flowRequest{
		Op:     "flow",
		Width:  w,
		Height: h,
		Image1: packRGB(a),
		Image2: packRGB(b),
	}
	var reply flowReply
	if err := f.pool.Call(ctx, &req, &reply); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return entity.DisplacementField{}, err
		}
		return entity.DisplacementField{}, inferenceError(FlowModelName, err)
	}

	data, err := decodeFloat32s(reply.Flow)
	if err != nil {
		return entity.DisplacementField{}, inferenceError(FlowModelName, err)
	}
	field := entity.DisplacementField{Width: reply.Width, Height: reply.Height, Data: data}
	if field.Width != w || field.Height != h {
		return entity.DisplacementField{}, inferenceError(FlowModelName,
			fmt.Errorf("worker returned %dx%d field for %dx%d input", field.Width, field.Height, w, h))
	}
	if err := field.Validate(); err != nil {
		return entity.DisplacementField{}, inferenceError(FlowModelName, err)
	}
	return field, nil
}

// packRGB drops alpha and returns rows of R,G,B bytes.
func packRGB(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X-1, y)+4]
		for i := 0; i < len(row); i += 4 {
			out = append(out, row[i], row[i+1], row[i+2])
		}
	}
	return out
}

func inferenceError(model string, err error) error {
	return &entity.ModelInferenceError{Model: model, Pair: -1, Err: err}
}
