// Package supervise manages the lifecycle of a host process launched by
// the controller, for deployments where the controller owns the host
// binary rather than attaching to one already running.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pithecene-io/tether/log"
)

// Config configures a supervised host process.
type Config struct {
	// Path is the host binary (required).
	Path string
	// Args are passed to the binary.
	Args []string
	// Env entries are appended to the inherited environment.
	Env []string
	// KillGrace is how long Kill waits after SIGTERM before SIGKILL
	// (default 5s).
	KillGrace time.Duration
}

// Supervisor launches and reaps one host process at a time.
type Supervisor struct {
	cfg    Config
	logger *log.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// New creates a supervisor. logger may be nil.
func New(cfg Config, logger *log.Logger) (*Supervisor, error) {
	if cfg.Path == "" {
		return nil, errors.New("supervisor requires a host binary path")
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Supervisor{cfg: cfg, logger: logger}, nil
}

// Launch starts the host process and a reaper goroutine. Fails if a
// process is already running.
func (s *Supervisor) Launch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.done != nil {
		select {
		case <-s.done:
		default:
			return errors.New("host process already running")
		}
	}

	cmd := exec.CommandContext(ctx, s.cfg.Path, s.cfg.Args...)
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start host %s: %w", s.cfg.Path, err)
	}

	s.cmd = cmd
	s.done = make(chan struct{})
	s.err = nil
	done := s.done

	s.logger.Info("host launched", map[string]any{
		"path": s.cfg.Path,
		"pid":  cmd.Process.Pid,
	})

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(done)
		if err != nil {
			s.logger.Warn("host exited", map[string]any{"error": err.Error()})
		} else {
			s.logger.Info("host exited", nil)
		}
	}()
	return nil
}

// Alive reports whether the supervised process is still running.
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Done returns a channel closed when the process exits. Nil before Launch.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Wait blocks until the process exits or the context is canceled, and
// returns the process error.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return errors.New("no host process launched")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.err
	}
}

// Kill terminates the process: SIGTERM first, SIGKILL after the grace
// period. No-op when nothing is running.
func (s *Supervisor) Kill() error {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil || !s.Alive() {
		return nil
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		return cmd.Process.Kill()
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.cfg.KillGrace):
		s.logger.Warn("host ignored termination signal, killing", map[string]any{
			"pid": cmd.Process.Pid,
		})
		return cmd.Process.Kill()
	}
}
