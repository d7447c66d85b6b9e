package model

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
)

// Classifier sends a CHW tensor to the classifier worker and returns the raw logit.
type Classifier struct {
	pool caller
}

func NewClassifier(pool caller) *Classifier {
	return &Classifier{pool: pool}
}

func (c *Classifier) Classify(ctx context.Context, t entity.Tensor) (float64, error) {
	if len(t.Data) != t.Channels*t.Height*t.Width {
		return 0, inferenceError(ClassifierModelName,
			fmt.Errorf("tensor has %d values for shape %dx%dx%d", len(t.Data), t.Channels, t.Height, t.Width))
	}

	req := classifyRequest{
		Op:       "classify",
		Channels: t.Channels,
		Height:   t.Height,
		Width:    t.Width,
		Tensor:   encodeFloat32s(t.Data),
	}
	var reply classifyReply
	if err := c.pool.Call(ctx, &req, &reply); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return 0, err
		}
		return 0, inferenceError(ClassifierModelName, err)
	}
	if math.IsNaN(reply.Logit) {
		return 0, inferenceError(ClassifierModelName, errors.New("worker returned NaN logit"))
	}
	return reply.Logit, nil
}
