// Package provision makes sure the model files a variant needs are present
// under the engine's models directory before the engine is started.
package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"imageworker/internal/domain"
	"imageworker/internal/infra"
)

// State is the lifecycle of the process-wide provisioning flag.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// Fetcher downloads one file of a remote repository and returns a local path
// holding its content.
type Fetcher interface {
	Fetch(ctx context.Context, repo, file string) (string, error)
}

// Store is the destination for placed assets.
type Store interface {
	Present(key string) (bool, error)
	Place(ctx context.Context, key, src string) (string, error)
}

// Options configures a Provisioner.
type Options struct {
	Fetcher Fetcher
	Store   Store
	Logger  *infra.Logger
}

// Provisioner materializes model assets. Passes are serialized: a caller
// arriving while another pass runs waits for it and then reuses its result.
type Provisioner struct {
	fetcher Fetcher
	store   Store
	logger  *infra.Logger

	sem      chan struct{}
	mu       sync.RWMutex
	state    State
	verified map[string]struct{}
}

// New constructs a Provisioner.
func New(opts Options) (*Provisioner, error) {
	if opts.Fetcher == nil || opts.Store == nil {
		return nil, errors.New("provision: fetcher and store are required")
	}
	return &Provisioner{
		fetcher:  opts.Fetcher,
		store:    opts.Store,
		logger:   infra.LoggerOrDiscard(opts.Logger),
		sem:      make(chan struct{}, 1),
		state:    StateUninitialized,
		verified: make(map[string]struct{}),
	}, nil
}

// State reports the outcome of the most recent pass.
func (p *Provisioner) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Ensure makes every asset available at its local key. Assets are attempted
// independently; the call fails when any of them could not be materialized.
// Once all assets of a set have been verified, later calls return
// immediately.
func (p *Provisioner) Ensure(ctx context.Context, assets []domain.ModelAsset) error {
	if p.allVerified(assets) {
		p.markReadyIfUntouched()
		return nil
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	// Another caller may have finished the pass while we waited.
	if p.allVerified(assets) {
		p.markReadyIfUntouched()
		return nil
	}

	p.setState(StateInitializing)
	p.logger.Info().Int("assets", len(assets)).Msg("provision: ensuring model assets")

	failed := make(map[string]error)
	for _, asset := range assets {
		if err := p.ensureOne(ctx, asset); err != nil {
			p.logger.Error().Err(err).Str("asset", asset.DisplayName()).Str("path", asset.LocalKey()).Msg("provision: asset failed")
			failed[failureLabel(asset)] = err
		}
	}

	verified := make([]string, 0, len(assets))
	for _, asset := range assets {
		name := failureLabel(asset)
		if _, already := failed[name]; already {
			continue
		}
		ok, err := p.store.Present(asset.LocalKey())
		switch {
		case err != nil:
			failed[name] = err
		case !ok:
			failed[name] = fmt.Errorf("not present at %s after placement", asset.LocalKey())
		default:
			verified = append(verified, asset.LocalKey())
		}
	}

	p.mu.Lock()
	for _, key := range verified {
		p.verified[key] = struct{}{}
	}
	if len(failed) > 0 {
		p.state = StateFailed
	} else {
		p.state = StateReady
	}
	p.mu.Unlock()

	if len(failed) > 0 {
		return &domain.ProvisionError{Failed: failed}
	}
	p.logger.Info().Int("assets", len(assets)).Msg("provision: all model assets ready")
	return nil
}

// markReadyIfUntouched covers sets that were satisfied without a pass, such
// as a variant with no assets.
func (p *Provisioner) markReadyIfUntouched() {
	p.mu.Lock()
	if p.state == StateUninitialized {
		p.state = StateReady
	}
	p.mu.Unlock()
}

// failureLabel names an asset in a ProvisionError. The local key is part of
// the label so two assets sharing a logical name stay distinct.
func failureLabel(asset domain.ModelAsset) string {
	name, key := asset.DisplayName(), asset.LocalKey()
	if name == key {
		return key
	}
	return name + " (" + key + ")"
}

func (p *Provisioner) ensureOne(ctx context.Context, asset domain.ModelAsset) error {
	key := asset.LocalKey()
	ok, err := p.store.Present(key)
	if err != nil {
		return err
	}
	if ok {
		p.logger.Debug().Str("asset", asset.DisplayName()).Str("path", key).Msg("provision: already present")
		return nil
	}
	p.logger.Info().Str("asset", asset.DisplayName()).Str("repo", asset.Repo).Str("file", asset.File).Msg("provision: downloading")
	cached, err := p.fetcher.Fetch(ctx, asset.Repo, asset.File)
	if err != nil {
		return err
	}
	if _, err := p.store.Place(ctx, key, cached); err != nil {
		return err
	}
	p.logger.Info().Str("asset", asset.DisplayName()).Str("path", key).Msg("provision: asset ready")
	return nil
}

func (p *Provisioner) allVerified(assets []domain.ModelAsset) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, asset := range assets {
		if _, ok := p.verified[asset.LocalKey()]; !ok {
			return false
		}
	}
	return true
}

func (p *Provisioner) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}
