package infra

import (
	"context"
	"net/http"
	"time"
)

// responseSlack is added on top of the invocation budget so a timed-out
// invocation can still write its error result.
const responseSlack = 10 * time.Second

// HTTPServer hosts the local invocation endpoint.
type HTTPServer struct {
	server *http.Server
}

// NewHTTPServer creates the invocation server. /runsync holds the connection
// for a whole generation, so the write timeout is raised to cover the
// configured invocation budget when HTTP_WRITE_TIMEOUT_SECONDS is shorter.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}

	return &HTTPServer{server: srv}
}

func writeTimeout(cfg *Config) time.Duration {
	if cfg.HTTPWriteTimeout <= 0 {
		return 0
	}
	if need := cfg.InvocationBudget() + responseSlack; cfg.HTTPWriteTimeout < need {
		return need
	}
	return cfg.HTTPWriteTimeout
}

// Addr reports the listen address.
func (s *HTTPServer) Addr() string {
	return s.server.Addr
}

// Start runs the HTTP server in the current goroutine.
func (s *HTTPServer) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown stops accepting invocations and waits for in-flight ones.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
