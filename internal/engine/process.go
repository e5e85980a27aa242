package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"imageworker/internal/infra"
)

// Process is a running engine instance.
type Process interface {
	Pid() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Err returns the exit error. It is only meaningful after Done is closed.
	Err() error
	Kill() error
}

// Launcher starts a new engine process.
type Launcher interface {
	Launch(ctx context.Context) (Process, error)
}

// ExecOptions configures an ExecLauncher.
type ExecOptions struct {
	Command string
	Args    []string
	Dir     string
	Listen  string
	Port    int
	Logger  *infra.Logger
}

// ExecLauncher runs the engine as a child process and forwards its output to
// the logger line by line.
type ExecLauncher struct {
	opts   ExecOptions
	logger *infra.Logger
}

// NewExecLauncher constructs a launcher for the given command line.
func NewExecLauncher(opts ExecOptions) (*ExecLauncher, error) {
	if opts.Command == "" {
		return nil, errors.New("engine: command is required")
	}
	return &ExecLauncher{opts: opts, logger: infra.LoggerOrDiscard(opts.Logger)}, nil
}

func (l *ExecLauncher) commandArgs() []string {
	args := append([]string(nil), l.opts.Args...)
	if l.opts.Listen != "" {
		args = append(args, "--listen", l.opts.Listen)
	}
	if l.opts.Port > 0 {
		args = append(args, "--port", strconv.Itoa(l.opts.Port))
	}
	return args
}

// Launch starts the process. The process is not bound to ctx: it outlives the
// call and is stopped through Kill.
func (l *ExecLauncher) Launch(ctx context.Context) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(l.opts.Command, l.commandArgs()...)
	cmd.Dir = l.opts.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("engine: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("engine: start %s: %w", l.opts.Command, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	logger := l.logger.With().Int("pid", cmd.Process.Pid).Logger()

	var streams sync.WaitGroup
	streams.Add(2)
	go forwardLines(&streams, stdout, &logger, "stdout")
	go forwardLines(&streams, stderr, &logger, "stderr")
	go func() {
		// Wait must not run before the pipes are drained.
		streams.Wait()
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func forwardLines(wg *sync.WaitGroup, r io.Reader, logger *infra.Logger, stream string) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logger.Info().Str("stream", stream).Msg(scanner.Text())
	}
	// Drain whatever is left so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) Pid() int              { return p.cmd.Process.Pid }
func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-p.done
	return nil
}
