// Package engine owns the lifecycle of the local generation engine process.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"imageworker/internal/domain"
	"imageworker/internal/infra"
)

// State describes the supervised engine.
type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateReady      State = "ready"
	StateFailed     State = "failed"
)

// Options configures a Supervisor.
type Options struct {
	Launcher      Launcher
	BaseURL       string
	HTTPClient    *http.Client
	ReadyInterval time.Duration
	Logger        *infra.Logger
}

// Supervisor starts the engine on demand and reports when it answers its
// status endpoint. At most one startup attempt is in flight at any time; all
// callers arriving during an attempt wait for that attempt's outcome.
type Supervisor struct {
	launcher   Launcher
	statusURL  string
	httpClient *http.Client
	interval   time.Duration
	logger     *infra.Logger

	group singleflight.Group

	mu    sync.Mutex
	proc  Process
	state State
}

// NewSupervisor constructs a Supervisor.
func NewSupervisor(opts Options) (*Supervisor, error) {
	if opts.Launcher == nil {
		return nil, errors.New("engine: launcher is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("engine: base URL is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	interval := opts.ReadyInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Supervisor{
		launcher:   opts.Launcher,
		statusURL:  baseURL + "/system_stats",
		httpClient: httpClient,
		interval:   interval,
		logger:     infra.LoggerOrDiscard(opts.Logger),
		state:      StateNotStarted,
	}, nil
}

// State reports the current engine state. A ready engine whose process has
// since exited is reported as failed.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady && s.proc != nil && exited(s.proc) {
		return StateFailed
	}
	return s.state
}

// EnsureReady returns once the engine answers its status endpoint, launching
// it first when no live process is owned. The startup attempt is bounded by
// timeout and detached from ctx: a caller that gives up does not abort the
// attempt other callers are waiting on.
func (s *Supervisor) EnsureReady(ctx context.Context, timeout time.Duration) error {
	if s.ready() {
		return nil
	}
	ch := s.group.DoChan("startup", func() (any, error) {
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		return nil, s.start(attemptCtx, timeout)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close terminates the owned process, if any.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	proc := s.proc
	s.proc = nil
	s.state = StateNotStarted
	s.mu.Unlock()
	if proc == nil {
		return nil
	}
	s.logger.Info().Int("pid", proc.Pid()).Msg("engine: stopping")
	return proc.Kill()
}

func (s *Supervisor) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady && s.proc != nil && !exited(s.proc)
}

func (s *Supervisor) start(ctx context.Context, timeout time.Duration) error {
	proc, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	logger := s.logger.With().Int("pid", proc.Pid()).Logger()

	started := time.Now()
	for attempt := 1; ; attempt++ {
		if s.probe(ctx) {
			s.setState(proc, StateReady)
			logger.Info().Int("attempt", attempt).Dur("elapsed", time.Since(started)).Msg("engine: ready")
			return nil
		}
		select {
		case <-proc.Done():
			s.setState(proc, StateFailed)
			logger.Error().Err(proc.Err()).Msg("engine: process exited before ready")
			return &domain.StartupError{Reason: domain.StartupProcessExited, Err: exitErr(proc)}
		case <-ctx.Done():
			s.setState(proc, StateFailed)
			logger.Error().Dur("timeout", timeout).Msg("engine: not ready in time")
			return &domain.StartupError{
				Reason: domain.StartupNeverReady,
				Err:    fmt.Errorf("no answer from %s within %s: %w", s.statusURL, timeout, ctx.Err()),
			}
		case <-time.After(s.interval):
		}
	}
}

// acquire returns the live owned process or launches a new one. A process
// that has exited is discarded, never reused.
func (s *Supervisor) acquire(ctx context.Context) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil && exited(s.proc) {
		s.logger.Warn().Int("pid", s.proc.Pid()).Err(s.proc.Err()).Msg("engine: previous process exited, relaunching")
		s.proc = nil
	}
	if s.proc != nil {
		s.state = StateStarting
		return s.proc, nil
	}

	s.state = StateStarting
	proc, err := s.launcher.Launch(ctx)
	if err != nil {
		s.state = StateFailed
		s.logger.Error().Err(err).Msg("engine: launch failed")
		return nil, &domain.StartupError{Reason: domain.StartupLaunchFailed, Err: err}
	}
	s.proc = proc
	s.logger.Info().Int("pid", proc.Pid()).Msg("engine: launched")
	return proc, nil
}

func (s *Supervisor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.statusURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (s *Supervisor) setState(proc Process, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Close may have replaced the process while the attempt was running.
	if s.proc == proc {
		s.state = state
	}
}

func exited(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}

func exitErr(p Process) error {
	if err := p.Err(); err != nil {
		return err
	}
	return errors.New("exit status 0")
}
