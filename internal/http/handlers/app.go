package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"imageworker/internal/infra"
	"imageworker/internal/worker"
)

// Invoker handles one worker event.
type Invoker interface {
	Handle(ctx context.Context, ev worker.Event) worker.Result
}

// EngineState reports the supervised engine's state for health checks.
type EngineState interface {
	State() string
}

// EngineStateFunc adapts a function to EngineState.
type EngineStateFunc func() string

func (f EngineStateFunc) State() string { return f() }

type App struct {
	Worker   Invoker
	Engine   EngineState
	Variant  string
	Variants func() []string
	Version  string
	Logger   *infra.Logger
}

func NewApp(w Invoker, engine EngineState, variant string, logger *infra.Logger) *App {
	return &App{Worker: w, Engine: engine, Variant: variant, Logger: infra.LoggerOrDiscard(logger)}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
