// Package worker turns one invocation event into a generated image by
// provisioning models, starting the engine and running a job on it.
package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"imageworker/internal/domain"
	"imageworker/internal/infra"
	"imageworker/internal/workflow"
)

// Provisioner makes model assets available locally.
type Provisioner interface {
	Ensure(ctx context.Context, assets []domain.ModelAsset) error
}

// Engine brings the generation engine to a ready state.
type Engine interface {
	EnsureReady(ctx context.Context, timeout time.Duration) error
}

// Jobs runs graphs on the engine and retrieves their artifacts.
type Jobs interface {
	RunJob(ctx context.Context, graph *workflow.Graph, interval time.Duration, maxAttempts int) (*domain.Job, error)
	Fetch(ctx context.Context, ref domain.ArtifactRef) ([]byte, error)
}

// Options wires a Handler.
type Options struct {
	Variant        workflow.Variant
	Provisioner    Provisioner
	Engine         Engine
	Jobs           Jobs
	StartupTimeout time.Duration
	PollInterval   time.Duration
	MaxAttempts    int
	// Seed draws a seed when the request has none. Defaults to uniform over
	// [0, domain.MaxSeed].
	Seed   func() int64
	Logger *infra.Logger
}

// Handler is the invocation boundary.
type Handler struct {
	variant        workflow.Variant
	provisioner    Provisioner
	engine         Engine
	jobs           Jobs
	startupTimeout time.Duration
	pollInterval   time.Duration
	maxAttempts    int
	seed           func() int64
	logger         *infra.Logger
}

// New constructs a Handler.
func New(opts Options) (*Handler, error) {
	if opts.Provisioner == nil || opts.Engine == nil || opts.Jobs == nil {
		return nil, errors.New("worker: provisioner, engine and jobs are required")
	}
	if opts.Variant.Name == "" {
		return nil, errors.New("worker: variant is required")
	}
	h := &Handler{
		variant:        opts.Variant,
		provisioner:    opts.Provisioner,
		engine:         opts.Engine,
		jobs:           opts.Jobs,
		startupTimeout: opts.StartupTimeout,
		pollInterval:   opts.PollInterval,
		maxAttempts:    opts.MaxAttempts,
		seed:           opts.Seed,
		logger:         infra.LoggerOrDiscard(opts.Logger),
	}
	if h.startupTimeout <= 0 {
		h.startupTimeout = 60 * time.Second
	}
	if h.pollInterval <= 0 {
		h.pollInterval = time.Second
	}
	if h.maxAttempts <= 0 {
		h.maxAttempts = 120
	}
	if h.seed == nil {
		h.seed = randomSeed
	}
	return h, nil
}

// Variant returns the variant this handler generates with.
func (h *Handler) Variant() workflow.Variant { return h.variant }

// Warmup provisions the variant's assets and starts the engine ahead of the
// first invocation.
func (h *Handler) Warmup(ctx context.Context) error {
	if err := h.provisioner.Ensure(ctx, h.variant.Assets); err != nil {
		return err
	}
	return h.engine.EnsureReady(ctx, h.startupTimeout)
}

// Handle processes one event. It never panics and always returns a Result.
func (h *Handler) Handle(ctx context.Context, ev Event) (res Result) {
	logger := h.logger.With().Str("request_id", ev.ID).Str("variant", h.variant.Name).Logger()
	started := time.Now()
	stage := "parse"

	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("stage", stage).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("worker: panic while handling event")
			res = Result{Status: StatusError, Error: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	fail := func(err error) Result {
		logger.Error().Err(err).Str("stage", stage).Dur("elapsed", time.Since(started)).Msg("worker: invocation failed")
		return Result{Status: StatusError, Error: err.Error()}
	}

	req, err := parseInput(ev.Input)
	if err != nil {
		return fail(err)
	}
	if !req.HasSeed() {
		req = req.WithSeed(h.seed())
	}
	seed := *req.Seed

	stage = "build"
	graph, err := workflow.Build(req, h.variant)
	if err != nil {
		return fail(err)
	}
	logger.Info().Int64("seed", seed).Int("nodes", graph.Len()).Msg("worker: graph built")

	stage = "provision"
	if err := h.provisioner.Ensure(ctx, h.variant.Assets); err != nil {
		return fail(err)
	}

	stage = "engine"
	if err := h.engine.EnsureReady(ctx, h.startupTimeout); err != nil {
		return fail(err)
	}

	stage = "job"
	job, err := h.jobs.RunJob(ctx, graph, h.pollInterval, h.maxAttempts)
	if err != nil {
		return fail(err)
	}
	if job == nil || job.Output == nil {
		return fail(fmt.Errorf("%w: job finished without an artifact", domain.ErrJobFailed))
	}
	logger = logger.With().Str("job_id", job.ID).Logger()

	stage = "fetch"
	data, err := h.jobs.Fetch(ctx, *job.Output)
	if err != nil {
		return fail(err)
	}

	logger.Info().
		Int("bytes", len(data)).
		Int("attempts", job.Attempts).
		Dur("elapsed", time.Since(started)).
		Msg("worker: image generated")
	return Result{
		Status:  StatusSuccess,
		Image:   base64.StdEncoding.EncodeToString(data),
		Seed:    &seed,
		Variant: h.variant.Name,
	}
}

func randomSeed() int64 {
	return rand.Int64N(domain.MaxSeed + 1)
}
