package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"imageworker/internal/middleware"
	"imageworker/internal/worker"
)

// maxEventBytes bounds the request body of an invocation.
const maxEventBytes = 1 << 20

// RunSync handles one event and replies with its Result. Generation
// failures are reported in the Result with status 200, like the hosted
// runtime does; only undecodable events get a 400.
func (a *App) RunSync(w http.ResponseWriter, r *http.Request) {
	ev, ok := a.decodeEvent(w, r)
	if !ok {
		return
	}
	res := a.Worker.Handle(r.Context(), ev)
	a.json(w, http.StatusOK, res)
}

// Run is the asynchronous entry point of the hosted runtime. Locally the
// event still runs to completion before replying, with the id echoed back.
func (a *App) Run(w http.ResponseWriter, r *http.Request) {
	ev, ok := a.decodeEvent(w, r)
	if !ok {
		return
	}
	res := a.Worker.Handle(r.Context(), ev)
	a.json(w, http.StatusOK, map[string]any{"id": ev.ID, "status": statusLabel(res), "output": res})
}

func (a *App) decodeEvent(w http.ResponseWriter, r *http.Request) (worker.Event, bool) {
	var ev worker.Event
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBytes+1))
	if err != nil || len(body) > maxEventBytes {
		a.json(w, http.StatusBadRequest, worker.Result{Status: worker.StatusError, Error: "request body too large or unreadable"})
		return ev, false
	}
	if err := json.Unmarshal(body, &ev); err != nil {
		a.json(w, http.StatusBadRequest, worker.Result{Status: worker.StatusError, Error: "invalid event: " + err.Error()})
		return ev, false
	}
	if ev.ID == "" {
		ev.ID = middleware.RequestIDFromContext(r.Context())
	}
	return ev, true
}

func statusLabel(res worker.Result) string {
	if res.Status == worker.StatusSuccess {
		return "COMPLETED"
	}
	return "FAILED"
}
