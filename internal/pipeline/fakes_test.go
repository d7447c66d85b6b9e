package pipeline

import (
	"context"
	"image"
	"image/color"
	"io/fs"
	"sync"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
)

type memStore struct {
	mu     sync.Mutex
	images map[string]image.Image
}

func newMemStore() *memStore {
	return &memStore{images: make(map[string]image.Image)}
}

func (m *memStore) LoadImage(path string) (image.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return img, nil
}

func (m *memStore) SaveImage(path string, img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[path] = img
	return nil
}

func (m *memStore) get(path string) (image.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[path]
	return img, ok
}

type estimatorFunc func(ctx context.Context, a, b *image.RGBA) (entity.DisplacementField, error)

func (f estimatorFunc) Estimate(ctx context.Context, a, b *image.RGBA) (entity.DisplacementField, error) {
	return f(ctx, a, b)
}

// zeroEstimator reports no motion at the input resolution.
var zeroEstimator = estimatorFunc(func(_ context.Context, a, _ *image.RGBA) (entity.DisplacementField, error) {
	return entity.NewDisplacementField(a.Bounds().Dx(), a.Bounds().Dy()), nil
})

type classifierFunc func(ctx context.Context, t entity.Tensor) (float64, error)

func (f classifierFunc) Classify(ctx context.Context, t entity.Tensor) (float64, error) {
	return f(ctx, t)
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func mustEncoder(order ChannelOrder) *Encoder {
	enc, err := NewEncoder(20, order)
	if err != nil {
		panic(err)
	}
	return enc
}
