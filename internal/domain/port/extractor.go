package port

import (
	"context"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
)

type FrameExtractionResult struct {
	Frames        []entity.Frame
	FrameCount    int
	Width         int
	Height        int
	VideoDuration float64
}

type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoPath string, outputDir string) (*FrameExtractionResult, error)
}
