package model

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fiapx/fiapx-flowscore-service/internal/infra/metrics"
	"go.uber.org/zap"
)

// Pool hands out worker processes of one model. With size 1 every inference against the
// model is serialized; larger sizes run that many independent workers. A worker that has
// exited is restarted before it serves another call.
type Pool struct {
	name   string
	cfg    ProcessConfig
	logger *zap.Logger
	procs  chan *Process

	mu  sync.Mutex
	all []*Process
}

func NewPool(cfg ProcessConfig, size int, logger *zap.Logger) (*Pool, error) {
	if size <= 0 {
		size = 1
	}

	p := &Pool{name: cfg.Name, cfg: cfg, logger: logger, procs: make(chan *Process, size)}
	for i := 0; i < size; i++ {
		proc, err := StartProcess(cfg, logger.With(zap.Int("slot", i)))
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("start %s worker %d: %w", cfg.Name, i, err)
		}
		p.all = append(p.all, proc)
		p.procs <- proc
	}
	return p, nil
}

func (p *Pool) Name() string {
	return p.name
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// Call runs one request on the next free worker, blocking until one is available.
func (p *Pool) Call(ctx context.Context, req, resp interface{}) error {
	var proc *Process
	select {
	case proc = <-p.procs:
	case <-ctx.Done():
		return ctx.Err()
	}
	proc = p.replaceIfExited(proc)
	defer func() { p.procs <- p.replaceIfExited(proc) }()

	start := time.Now()
	err := proc.Call(ctx, req, resp)
	metrics.ModelInferenceDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())
	return err
}

// Healthy returns an error when any worker slot holds a process that has exited and
// could not be restarted.
func (p *Pool) Healthy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, proc := range p.all {
		if proc.Exited() {
			return fmt.Errorf("%s worker %d: %w", p.name, i, ErrProcessExited)
		}
	}
	return nil
}

func (p *Pool) replaceIfExited(proc *Process) *Process {
	if !proc.Exited() {
		return proc
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	slot := slices.Index(p.all, proc)
	if slot < 0 {
		return proc
	}
	_ = proc.Close()

	fresh, err := StartProcess(p.cfg, p.logger.With(zap.Int("slot", slot)))
	if err != nil {
		p.logger.Error("restart model worker",
			zap.String("model", p.name),
			zap.Int("slot", slot),
			zap.Error(err),
		)
		return proc
	}
	p.all[slot] = fresh
	p.logger.Warn("model worker restarted", zap.String("model", p.name), zap.Int("slot", slot))
	return fresh
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, proc := range p.all {
		if err := proc.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
