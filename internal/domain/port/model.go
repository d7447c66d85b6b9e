package port

import (
	"context"
	"image"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
)

// FlowEstimator computes a dense displacement field between two stride-aligned images
// of equal size. The returned field has the same dimensions as the inputs.
type FlowEstimator interface {
	Estimate(ctx context.Context, a, b *image.RGBA) (entity.DisplacementField, error)
}

// Classifier returns the raw logit for one preprocessed raster.
type Classifier interface {
	Classify(ctx context.Context, t entity.Tensor) (float64, error)
}
