// Package comfy talks to a local ComfyUI server: it queues graphs, polls
// their history until an image is produced and downloads the image.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"imageworker/internal/domain"
	"imageworker/internal/infra"
	"imageworker/internal/workflow"
)

// Options configures the engine client.
type Options struct {
	BaseURL       string
	HTTPClient    *http.Client
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
	FetchTimeout  time.Duration
	// Sleep waits between history polls. Tests replace it to avoid real waits.
	Sleep  func(ctx context.Context, d time.Duration) error
	Now    func() time.Time
	Logger *infra.Logger
}

// Client is the job client and result fetcher for one engine instance.
type Client struct {
	baseURL       string
	clientID      string
	httpClient    *http.Client
	submitTimeout time.Duration
	pollTimeout   time.Duration
	fetchTimeout  time.Duration
	sleep         func(ctx context.Context, d time.Duration) error
	now           func() time.Time
	logger        *infra.Logger
}

type submitRequest struct {
	Prompt   *workflow.Graph `json:"prompt"`
	ClientID string          `json:"client_id"`
}

type submitResponse struct {
	PromptID   string          `json:"prompt_id"`
	Number     int             `json:"number"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
		Details string `json:"details"`
	} `json:"error"`
	NodeErrors json.RawMessage `json:"node_errors"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("comfy: base URL is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{
		baseURL:       baseURL,
		clientID:      uuid.NewString(),
		httpClient:    httpClient,
		submitTimeout: durationOr(opts.SubmitTimeout, 180*time.Second),
		pollTimeout:   durationOr(opts.PollTimeout, 10*time.Second),
		fetchTimeout:  durationOr(opts.FetchTimeout, 30*time.Second),
		sleep:         opts.Sleep,
		now:           opts.Now,
		logger:        infra.LoggerOrDiscard(opts.Logger),
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Submit queues graph and returns the engine-assigned job id.
func (c *Client) Submit(ctx context.Context, graph *workflow.Graph) (string, error) {
	if graph == nil {
		return "", errors.New("comfy: graph is required")
	}
	payload, err := json.Marshal(submitRequest{Prompt: graph, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("comfy: encode graph: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("comfy: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The caller gave up; the engine is not at fault.
		if ctx.Err() != nil {
			return "", fmt.Errorf("comfy: submit: %w", ctx.Err())
		}
		return "", &domain.SubmitError{Err: fmt.Errorf("%w: %v", domain.ErrEngineUnreachable, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &domain.SubmitError{StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: read response: %v", domain.ErrEngineUnreachable, err)}
	}

	switch {
	case resp.StatusCode >= 500:
		return "", &domain.SubmitError{StatusCode: resp.StatusCode, Detail: excerpt(body), Err: domain.ErrEngineUnreachable}
	case resp.StatusCode >= 400:
		return "", &domain.SubmitError{StatusCode: resp.StatusCode, Detail: rejection(body), Err: domain.ErrGraphRejected}
	case resp.StatusCode >= 300:
		return "", &domain.SubmitError{StatusCode: resp.StatusCode, Detail: excerpt(body), Err: domain.ErrEngineUnreachable}
	}

	var parsed submitResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &domain.SubmitError{StatusCode: resp.StatusCode, Detail: excerpt(body), Err: domain.ErrMissingJobID}
	}
	if strings.TrimSpace(parsed.PromptID) == "" {
		return "", &domain.SubmitError{StatusCode: resp.StatusCode, Detail: excerpt(body), Err: domain.ErrMissingJobID}
	}
	c.logger.Info().Str("job_id", parsed.PromptID).Int("queue_number", parsed.Number).Msg("comfy: graph queued")
	return parsed.PromptID, nil
}

// rejection extracts the engine's explanation of why a graph was refused.
func rejection(body []byte) string {
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return excerpt(body)
	}
	parts := make([]string, 0, 3)
	if msg := strings.TrimSpace(parsed.Error.Message); msg != "" {
		parts = append(parts, msg)
	}
	if details := strings.TrimSpace(parsed.Error.Details); details != "" {
		parts = append(parts, details)
	}
	if nodeErrs := bytes.TrimSpace(parsed.NodeErrors); len(nodeErrs) > 0 && !bytes.Equal(nodeErrs, []byte("{}")) && !bytes.Equal(nodeErrs, []byte("null")) {
		parts = append(parts, "node_errors="+string(nodeErrs))
	}
	if len(parts) == 0 {
		return excerpt(body)
	}
	return strings.Join(parts, ": ")
}

func excerpt(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
