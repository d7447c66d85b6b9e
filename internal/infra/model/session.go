package model

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const (
	FlowModelName       = "flow"
	ClassifierModelName = "classifier"
)

type SessionConfig struct {
	FlowCommand        []string
	FlowPoolSize       int
	ClassifierCommand  []string
	ClassifierPoolSize int
	Env                []string
}

// Session owns the loaded flow and classifier workers for the lifetime of a run.
// Both are read-only after start; Close releases them.
type Session struct {
	flow       *Pool
	classifier *Pool
	logger     *zap.Logger
}

func NewSession(cfg SessionConfig, logger *zap.Logger) (*Session, error) {
	flow, err := NewPool(ProcessConfig{
		Name:    FlowModelName,
		Command: cfg.FlowCommand,
		Env:     cfg.Env,
	}, cfg.FlowPoolSize, logger)
	if err != nil {
		return nil, fmt.Errorf("load flow model: %w", err)
	}

	classifier, err := NewPool(ProcessConfig{
		Name:    ClassifierModelName,
		Command: cfg.ClassifierCommand,
		Env:     cfg.Env,
	}, cfg.ClassifierPoolSize, logger)
	if err != nil {
		_ = flow.Close()
		return nil, fmt.Errorf("load classifier model: %w", err)
	}

	logger.Info("model session ready",
		zap.Int("flow_workers", flow.Size()),
		zap.Int("classifier_workers", classifier.Size()),
	)
	return &Session{flow: flow, classifier: classifier, logger: logger}, nil
}

func (s *Session) FlowEstimator() *FlowEstimator {
	return NewFlowEstimator(s.flow)
}

func (s *Session) Classifier() *Classifier {
	return NewClassifier(s.classifier)
}

// Healthy reports a worker of either model that is dead and could not be restarted.
func (s *Session) Healthy() error {
	return errors.Join(s.flow.Healthy(), s.classifier.Healthy())
}

func (s *Session) Close() error {
	err := errors.Join(s.flow.Close(), s.classifier.Close())
	s.logger.Info("model session closed")
	return err
}
