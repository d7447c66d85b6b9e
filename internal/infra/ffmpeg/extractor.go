package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
	"github.com/fiapx/fiapx-flowscore-service/internal/domain/port"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/metrics"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// FramePattern names extracted frames; the fixed-width index keeps lexical order temporal.
const FramePattern = "frame_%05d.png"

type Extractor struct {
	images port.ImageStore
	logger *zap.Logger
}

func NewExtractor(images port.ImageStore, logger *zap.Logger) *Extractor {
	return &Extractor{images: images, logger: logger}
}

// ExtractFrames decodes every frame of videoPath in presentation order and writes them to
// outputDir as PNG. Existing files with the same names are overwritten; nothing is removed.
func (e *Extractor) ExtractFrames(ctx context.Context, videoPath string, outputDir string) (*port.FrameExtractionResult, error) {
	info, err := Probe(videoPath)
	if err != nil {
		return nil, &entity.MediaOpenError{Path: videoPath, Err: err}
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}

	var stderr bytes.Buffer
	cmd := ffmpeg.Input(videoPath).
		Output("pipe:", ffmpeg.KwArgs{
			"map":     "0:v:0", // the stream Probe measured
			"format":  "rawvideo",
			"pix_fmt": "rgb24",
			"vsync":   "passthrough",
		}).
		GlobalArgs("-nostdin", "-loglevel", "error").
		WithErrorOutput(&stderr).
		Compile()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &entity.MediaOpenError{Path: videoPath, Err: err}
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
		case <-stop:
		}
	}()

	frames, readErr := e.readFrames(ctx, stdout, info, outputDir)
	if readErr != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	if waitErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(frames) == 0 {
			return nil, &entity.MediaOpenError{Path: videoPath, Err: fmt.Errorf("%w: %s", waitErr, detail)}
		}
		// A decode error mid-stream ends the sequence, like reaching end-of-stream.
		e.logger.Warn("decoder stopped before end of stream",
			zap.String("video", videoPath),
			zap.Int("frames", len(frames)),
			zap.String("ffmpeg", detail),
		)
	}

	metrics.FramesExtractedTotal.Add(float64(len(frames)))
	e.logger.Info("frames extracted",
		zap.String("video", videoPath),
		zap.Int("count", len(frames)),
		zap.Int("width", info.Width),
		zap.Int("height", info.Height),
		zap.Float64("video_duration", info.Duration),
	)

	return &port.FrameExtractionResult{
		Frames:        frames,
		FrameCount:    len(frames),
		Width:         info.Width,
		Height:        info.Height,
		VideoDuration: info.Duration,
	}, nil
}

func (e *Extractor) readFrames(ctx context.Context, r io.Reader, info *VideoInfo, outputDir string) ([]entity.Frame, error) {
	frameSize := info.Width * info.Height * 3
	buf := make([]byte, frameSize)
	var frames []entity.Frame

	for index := 0; ; index++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				if ctx.Err() != nil {
					return frames, nil
				}
				e.logger.Warn("discarding truncated trailing frame", zap.Int("index", index))
				return frames, nil
			}
			return nil, fmt.Errorf("read frame %d: %w", index, err)
		}

		path := filepath.Join(outputDir, fmt.Sprintf(FramePattern, index))
		if err := e.images.SaveImage(path, rgb24ToRGBA(buf, info.Width, info.Height)); err != nil {
			return nil, fmt.Errorf("save frame %d: %w", index, err)
		}
		frames = append(frames, entity.Frame{Index: index, Path: path})
	}
}

func rgb24ToRGBA(raw []byte, w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < len(raw); i, j = i+3, j+4 {
		img.Pix[j] = raw[i]
		img.Pix[j+1] = raw[i+1]
		img.Pix[j+2] = raw[i+2]
		img.Pix[j+3] = 255
	}
	return img
}
