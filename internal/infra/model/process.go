package model

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// ErrProcessExited is returned by Call once the worker process is gone.
var ErrProcessExited = errors.New("model worker exited")

type ProcessConfig struct {
	Name    string
	Command []string
	Env     []string
}

// Process is one long-lived model worker speaking length-prefixed msgpack over
// stdin/stdout. Calls are serialized: a worker handles one request at a time.
type Process struct {
	name   string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	logger *zap.Logger

	mu     sync.Mutex
	exited chan struct{}
	wg     sync.WaitGroup
}

// StartProcess spawns the worker. The weights are loaded by the worker at startup, so
// this is the only place model loading cost is paid.
func StartProcess(cfg ProcessConfig, logger *zap.Logger) (*Process, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("%s: empty worker command", cfg.Name)
	}

	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s worker: %w", cfg.Name, err)
	}

	p := &Process{
		name:   cfg.Name,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReaderSize(stdout, 1<<20),
		logger: logger.With(zap.String("model", cfg.Name), zap.Int("pid", cmd.Process.Pid)),
		exited: make(chan struct{}),
	}

	p.wg.Add(2)
	go p.logStderr(stderr)
	go p.waitProcess()

	p.logger.Info("model worker started", zap.Strings("command", cfg.Command))
	return p, nil
}

func (p *Process) Name() string {
	return p.name
}

// Call sends req and decodes the reply into resp. A reply carrying an error field is
// returned as an error.
func (p *Process) Call(ctx context.Context, req, resp interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.exited:
		return ErrProcessExited
	default:
	}

	if err := writeMessage(p.stdin, req); err != nil {
		return p.poison(fmt.Errorf("send request: %w", err))
	}

	body, err := readMessage(p.stdout)
	if err != nil {
		return p.poison(fmt.Errorf("read reply: %w", err))
	}

	var e errorReply
	if err := msgpack.Unmarshal(body, &e); err == nil && e.Error != "" {
		return errors.New(e.Error)
	}
	if err := msgpack.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// Close closes stdin so the worker can exit on EOF, killing it if it does not
// within the grace period.
func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.stdin.Close()

	select {
	case <-p.exited:
	case <-time.After(5 * time.Second):
		p.logger.Warn("model worker did not exit, killing")
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	p.wg.Wait()
	return nil
}

// poison kills the worker after a framing failure. Whatever it had left on stdout can no
// longer be matched to a request, so the process must not serve another call.
func (p *Process) poison(err error) error {
	select {
	case <-p.exited:
	default:
		p.logger.Warn("killing model worker after protocol failure", zap.Error(err))
		_ = p.cmd.Process.Kill()
		<-p.exited
	}
	return fmt.Errorf("%w: %v", ErrProcessExited, err)
}

// Exited reports whether the worker process has terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

func (p *Process) waitProcess() {
	defer p.wg.Done()
	err := p.cmd.Wait()
	close(p.exited)
	if err != nil {
		p.logger.Warn("model worker exited", zap.Error(err))
		return
	}
	p.logger.Debug("model worker exited")
}

// logStderr forwards worker output, mapping Python-style level prefixes onto zap levels.
func (p *Process) logStderr(r io.Reader) {
	defer p.wg.Done()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]") || strings.HasPrefix(line, "Traceback"):
			p.logger.Error(line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			p.logger.Warn(line)
		default:
			p.logger.Debug(line)
		}
	}
}
