package usecase

import (
	"context"
	"image"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
	"github.com/fiapx/fiapx-flowscore-service/internal/domain/port"
	"github.com/fiapx/fiapx-flowscore-service/internal/pipeline"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type mockRepo struct{ mock.Mock }

func (m *mockRepo) Create(ctx context.Context, job *entity.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockRepo) Update(ctx context.Context, job *entity.Job) error {
	return m.Called(ctx, job).Error(0)
}

func (m *mockRepo) FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	args := m.Called(ctx, id)
	if job, ok := args.Get(0).(*entity.Job); ok {
		return job, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockStorage struct {
	mock.Mock
	uploaded []byte
}

func (m *mockStorage) DownloadVideo(ctx context.Context, key, dest string) error {
	args := m.Called(ctx, key, dest)
	if err := args.Error(0); err != nil {
		return err
	}
	return os.WriteFile(dest, []byte("video"), 0644)
}

func (m *mockStorage) UploadArtifact(ctx context.Context, key string, r io.Reader, size int64) error {
	body, _ := io.ReadAll(r)
	m.uploaded = body
	return m.Called(ctx, key, size).Error(0)
}

type mockScorer struct{ mock.Mock }

func (m *mockScorer) ScoreVideo(ctx context.Context, videoPath, workRoot string, progress pipeline.ProgressFunc) (*entity.ScoreResult, error) {
	args := m.Called(ctx, videoPath, workRoot)
	if r, ok := args.Get(0).(*entity.ScoreResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockZipper struct{ mock.Mock }

func (m *mockZipper) CreateZip(ctx context.Context, paths []string, out string) (int64, error) {
	args := m.Called(ctx, paths, out)
	if err := args.Error(1); err != nil {
		return 0, err
	}
	if err := os.WriteFile(out, []byte("zip"), 0644); err != nil {
		return 0, err
	}
	return int64(args.Int(0)), nil
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) PublishStatus(ctx context.Context, msg []byte) error {
	return m.Called(ctx, msg).Error(0)
}

type mockDLQ struct{ mock.Mock }

func (m *mockDLQ) PublishToDLQ(ctx context.Context, msg []byte, reason string) error {
	return m.Called(ctx, msg, reason).Error(0)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) NotifyFailure(ctx context.Context, userEmail, jobID, videoKey, errorMsg string) error {
	return m.Called(ctx, userEmail, jobID, videoKey, errorMsg).Error(0)
}

type mockExtractor struct{ mock.Mock }

func (m *mockExtractor) ExtractFrames(ctx context.Context, videoPath, outputDir string) (*port.FrameExtractionResult, error) {
	args := m.Called(ctx, videoPath, outputDir)
	if r, ok := args.Get(0).(*port.FrameExtractionResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

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
