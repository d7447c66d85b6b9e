package bootstrap

import (
	"fmt"

	"github.com/fiapx/fiapx-flowscore-service/internal/infra/config"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/ffmpeg"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/imagefs"
	"github.com/fiapx/fiapx-flowscore-service/internal/infra/model"
	"github.com/fiapx/fiapx-flowscore-service/internal/pipeline"
	"github.com/fiapx/fiapx-flowscore-service/internal/usecase"
	"go.uber.org/zap"
)

// SessionConfig maps the model settings of cfg onto a model session.
func SessionConfig(cfg *config.Config) model.SessionConfig {
	return model.SessionConfig{
		FlowCommand:        cfg.FlowModelCommand,
		FlowPoolSize:       cfg.FlowModelPoolSize,
		ClassifierCommand:  cfg.ClassifierModelCommand,
		ClassifierPoolSize: cfg.ClassifierModelPoolSize,
		Env:                cfg.ModelEnv,
	}
}

// NewScorer assembles the scoring pipeline around an already loaded model session.
func NewScorer(cfg *config.Config, session *model.Session, logger *zap.Logger) (*usecase.Scorer, error) {
	order, err := pipeline.ParseChannelOrder(cfg.RasterChannelOrder)
	if err != nil {
		return nil, err
	}
	encoder, err := pipeline.NewEncoder(cfg.FlowMaxMagnitude, order)
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}

	var norm *pipeline.Normalization
	if cfg.ClassifierNormalize {
		norm = &pipeline.ImageNetNormalization
	}

	images := imagefs.NewStore()
	sequencer := pipeline.NewSequencer(
		pipeline.NewPadder(cfg.FlowStride),
		session.FlowEstimator(),
		encoder,
		images,
		cfg.PairWorkers,
		logger.Named("sequencer"),
	)
	aggregator := pipeline.NewAggregator(
		session.Classifier(),
		images,
		cfg.ClassifierCropSize,
		norm,
		logger.Named("aggregator"),
	)
	extractor := ffmpeg.NewExtractor(images, logger.Named("extractor"))

	return usecase.NewScorer(extractor, sequencer, aggregator, logger), nil
}
