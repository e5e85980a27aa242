package main

import (
	"fmt"

	"imageworker/internal/engine"
	"imageworker/internal/infra"
	"imageworker/internal/providers/comfy"
	"imageworker/internal/providers/hfhub"
	"imageworker/internal/provision"
	"imageworker/internal/storage"
	"imageworker/internal/worker"
	"imageworker/internal/workflow"
)

type components struct {
	registry   *workflow.Registry
	handler    *worker.Handler
	supervisor *engine.Supervisor
}

func loadRegistry(cfg *infra.Config) (*workflow.Registry, error) {
	registry, err := workflow.NewRegistry(workflow.Builtins()...)
	if err != nil {
		return nil, err
	}
	if cfg.VariantsDir == "" {
		return registry, nil
	}
	extra, err := workflow.LoadVariantFiles(cfg.VariantsDir)
	if err != nil {
		return nil, err
	}
	for _, v := range extra {
		if err := registry.Register(v); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func build(cfg *infra.Config, logger *infra.Logger) (*components, error) {
	registry, err := loadRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	variant, err := registry.Lookup(cfg.Variant)
	if err != nil {
		return nil, err
	}

	models, err := storage.NewFileStore(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}
	cache, err := storage.NewFileStore(cfg.HFCacheDir)
	if err != nil {
		return nil, fmt.Errorf("hf cache dir: %w", err)
	}

	hub, err := hfhub.NewClient(hfhub.Options{
		Endpoint: cfg.HFEndpoint,
		Token:    cfg.HFToken,
		Revision: cfg.HFRevision,
		Cache:    cache,
		Timeout:  cfg.HFTimeout,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	prov, err := provision.New(provision.Options{Fetcher: hub, Store: models, Logger: logger})
	if err != nil {
		return nil, err
	}

	launcher, err := engine.NewExecLauncher(engine.ExecOptions{
		Command: cfg.EngineCommand,
		Args:    cfg.EngineArgs,
		Dir:     cfg.EngineDir,
		Listen:  cfg.EngineListen,
		Port:    cfg.EnginePort,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	sup, err := engine.NewSupervisor(engine.Options{
		Launcher:      launcher,
		BaseURL:       cfg.EngineBaseURL(),
		ReadyInterval: cfg.EngineReadyInterval,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	client, err := comfy.NewClient(comfy.Options{
		BaseURL:       cfg.EngineBaseURL(),
		SubmitTimeout: cfg.SubmitTimeout,
		PollTimeout:   cfg.PollTimeout,
		FetchTimeout:  cfg.FetchTimeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	handler, err := worker.New(worker.Options{
		Variant:        variant,
		Provisioner:    prov,
		Engine:         sup,
		Jobs:           client,
		StartupTimeout: cfg.EngineStartupTimeout,
		PollInterval:   cfg.JobPollInterval,
		MaxAttempts:    cfg.JobMaxAttempts,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	return &components{registry: registry, handler: handler, supervisor: sup}, nil
}
