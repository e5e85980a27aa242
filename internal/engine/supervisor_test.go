package engine

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"imageworker/internal/domain"
)

type fakeProcess struct {
	pid  int
	done chan struct{}
	once sync.Once
	err  error
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int              { return p.pid }
func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return p.err }

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *fakeProcess) Kill() error {
	p.exit(errors.New("signal: killed"))
	return nil
}

type fakeLauncher struct {
	mu       sync.Mutex
	launches int
	procs    []*fakeProcess
	next     func(n int) *fakeProcess
	err      error
}

func (l *fakeLauncher) Launch(context.Context) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.launches++
	var p *fakeProcess
	if l.next != nil {
		p = l.next(l.launches)
	} else {
		p = newFakeProcess(1000 + l.launches)
	}
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// statusServer answers 503 until readyAfter probes have been seen.
func statusServer(t *testing.T, readyAfter int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var probes atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/system_stats" {
			http.NotFound(w, r)
			return
		}
		if probes.Add(1) <= readyAfter {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"system":{}}`))
	}))
	t.Cleanup(ts.Close)
	return ts, &probes
}

func newTestSupervisor(t *testing.T, launcher Launcher, baseURL string) *Supervisor {
	t.Helper()
	s, err := NewSupervisor(Options{Launcher: launcher, BaseURL: baseURL, ReadyInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewSupervisor: %v", err)
	}
	return s
}

func TestEnsureReadyLaunchesOnceAndReuses(t *testing.T) {
	ts, _ := statusServer(t, 2)
	launcher := &fakeLauncher{}
	s := newTestSupervisor(t, launcher, ts.URL)

	if s.State() != StateNotStarted {
		t.Fatalf("initial state = %s", s.State())
	}
	for i := 0; i < 3; i++ {
		if err := s.EnsureReady(context.Background(), time.Second); err != nil {
			t.Fatalf("EnsureReady #%d: %v", i, err)
		}
	}
	if got := launcher.count(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
	if s.State() != StateReady {
		t.Fatalf("state = %s, want ready", s.State())
	}
}

func TestEnsureReadyConcurrentCallersShareAttempt(t *testing.T) {
	ts, _ := statusServer(t, 5)
	launcher := &fakeLauncher{}
	s := newTestSupervisor(t, launcher, ts.URL)

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.EnsureReady(context.Background(), 2*time.Second)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if got := launcher.count(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
}

func TestEnsureReadyProcessExited(t *testing.T) {
	ts, _ := statusServer(t, 1<<30)
	launcher := &fakeLauncher{next: func(n int) *fakeProcess {
		p := newFakeProcess(n)
		p.exit(errors.New("exit status 1"))
		return p
	}}
	s := newTestSupervisor(t, launcher, ts.URL)

	err := s.EnsureReady(context.Background(), time.Second)
	var serr *domain.StartupError
	if !errors.As(err, &serr) || serr.Reason != domain.StartupProcessExited {
		t.Fatalf("expected process exited startup error, got %v", err)
	}
	if !errors.Is(err, domain.ErrEngineExited) {
		t.Fatalf("error should match ErrEngineExited")
	}
	if !strings.Contains(err.Error(), "exit status 1") {
		t.Fatalf("exit error should be reported: %v", err)
	}
	if s.State() != StateFailed {
		t.Fatalf("state = %s, want failed", s.State())
	}
}

func TestEnsureReadyNeverReady(t *testing.T) {
	ts, _ := statusServer(t, 1<<30)
	launcher := &fakeLauncher{}
	s := newTestSupervisor(t, launcher, ts.URL)

	err := s.EnsureReady(context.Background(), 50*time.Millisecond)
	var serr *domain.StartupError
	if !errors.As(err, &serr) || serr.Reason != domain.StartupNeverReady {
		t.Fatalf("expected never ready startup error, got %v", err)
	}
	if !errors.Is(err, domain.ErrEngineNotReady) {
		t.Fatalf("error should match ErrEngineNotReady")
	}
}

func TestEnsureReadyRelaunchesAfterExit(t *testing.T) {
	ts, _ := statusServer(t, 0)
	launcher := &fakeLauncher{}
	s := newTestSupervisor(t, launcher, ts.URL)

	if err := s.EnsureReady(context.Background(), time.Second); err != nil {
		t.Fatalf("first EnsureReady: %v", err)
	}
	launcher.procs[0].exit(errors.New("signal: segmentation fault"))
	if s.State() != StateFailed {
		t.Fatalf("state after crash = %s, want failed", s.State())
	}
	if err := s.EnsureReady(context.Background(), time.Second); err != nil {
		t.Fatalf("second EnsureReady: %v", err)
	}
	if got := launcher.count(); got != 2 {
		t.Fatalf("launches = %d, want 2", got)
	}
}

func TestEnsureReadyCallerCancelDoesNotAbortAttempt(t *testing.T) {
	ts, _ := statusServer(t, 8)
	launcher := &fakeLauncher{}
	s := newTestSupervisor(t, launcher, ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := s.EnsureReady(ctx, 2*time.Second); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("impatient caller: expected deadline exceeded, got %v", err)
	}
	if err := s.EnsureReady(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("patient caller: %v", err)
	}
	if got := launcher.count(); got != 1 {
		t.Fatalf("launches = %d, want 1", got)
	}
}

func TestEnsureReadyLaunchFailure(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("exec: \"python3\": executable file not found")}
	s := newTestSupervisor(t, launcher, "http://127.0.0.1:1")

	err := s.EnsureReady(context.Background(), time.Second)
	var serr *domain.StartupError
	if !errors.As(err, &serr) || serr.Reason != domain.StartupLaunchFailed {
		t.Fatalf("expected launch failure, got %v", err)
	}
}

func TestCloseKillsProcess(t *testing.T) {
	ts, _ := statusServer(t, 0)
	launcher := &fakeLauncher{}
	s := newTestSupervisor(t, launcher, ts.URL)
	if err := s.EnsureReady(context.Background(), time.Second); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-launcher.procs[0].Done():
	default:
		t.Fatalf("process should be killed")
	}
	if s.State() != StateNotStarted {
		t.Fatalf("state after close = %s", s.State())
	}
}

func TestExecLauncherForwardsOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(zerolog.SyncWriter(&buf))
	launcher, err := NewExecLauncher(ExecOptions{
		Command: "sh",
		Args:    []string{"-c", "echo engine starting; echo oops >&2; exit 3"},
		Logger:  &logger,
	})
	if err != nil {
		t.Fatalf("NewExecLauncher: %v", err)
	}
	proc, err := launcher.Launch(context.Background())
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	select {
	case <-proc.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process did not exit")
	}
	if proc.Err() == nil {
		t.Fatalf("expected non-zero exit error")
	}
	out := buf.String()
	if !strings.Contains(out, "engine starting") || !strings.Contains(out, `"stream":"stderr"`) {
		t.Fatalf("output not forwarded: %s", out)
	}
}

func TestExecLauncherAppendsListenAndPort(t *testing.T) {
	l, _ := NewExecLauncher(ExecOptions{Command: "python3", Args: []string{"main.py"}, Listen: "0.0.0.0", Port: 8188})
	got := strings.Join(l.commandArgs(), " ")
	if got != "main.py --listen 0.0.0.0 --port 8188" {
		t.Fatalf("args = %q", got)
	}
}
