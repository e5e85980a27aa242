package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"imageworker/internal/domain"
)

type historyEntry struct {
	Status struct {
		StatusStr string            `json:"status_str"`
		Completed bool              `json:"completed"`
		Messages  []json.RawMessage `json:"messages"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []domain.ArtifactRef `json:"images"`
	} `json:"outputs"`
}

// pollPhase is the state of one awaitCompletion loop.
type pollPhase int

const (
	phaseWaiting pollPhase = iota
	phaseQuerying
	phaseDone
)

// AwaitCompletion polls the history of jobID until it reports an image,
// reports failure, or maxAttempts polls have been made. Each attempt waits
// interval before querying. The whole loop runs under one deadline of
// (maxAttempts+1) * interval, so a slow history endpoint cannot stretch the
// wait past roughly maxAttempts * interval; individual queries are cut to
// whatever is left of that budget.
func (c *Client) AwaitCompletion(ctx context.Context, jobID string, interval time.Duration, maxAttempts int) (domain.ArtifactRef, error) {
	ref, _, err := c.await(ctx, jobID, interval, maxAttempts)
	return ref, err
}

func (c *Client) await(ctx context.Context, jobID string, interval time.Duration, maxAttempts int) (domain.ArtifactRef, int, error) {
	if maxAttempts <= 0 {
		return domain.ArtifactRef{}, 0, fmt.Errorf("comfy: max attempts must be positive, got %d", maxAttempts)
	}
	logger := c.logger.With().Str("job_id", jobID).Logger()

	pollCtx := ctx
	if interval > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, time.Duration(maxAttempts+1)*interval)
		defer cancel()
	}

	var (
		phase   = phaseWaiting
		attempt int
		ref     domain.ArtifactRef
		result  error
	)
	for phase != phaseDone {
		switch phase {
		case phaseWaiting:
			if attempt >= maxAttempts {
				result = &domain.JobError{Kind: domain.JobTimedOut, JobID: jobID, Attempts: attempt}
				phase = phaseDone
				continue
			}
			if err := c.sleep(pollCtx, interval); err != nil {
				if ctx.Err() == nil && pollCtx.Err() != nil {
					result = &domain.JobError{Kind: domain.JobTimedOut, JobID: jobID, Attempts: attempt}
					phase = phaseDone
					continue
				}
				return domain.ArtifactRef{}, attempt, fmt.Errorf("comfy: job %s: %w", jobID, err)
			}
			attempt++
			phase = phaseQuerying

		case phaseQuerying:
			entry, err := c.history(pollCtx, jobID)
			if err != nil {
				if ctx.Err() != nil {
					return domain.ArtifactRef{}, attempt, fmt.Errorf("comfy: job %s: %w", jobID, ctx.Err())
				}
				if pollCtx.Err() != nil {
					result = &domain.JobError{Kind: domain.JobTimedOut, JobID: jobID, Attempts: attempt}
					phase = phaseDone
					continue
				}
				logger.Debug().Err(err).Int("attempt", attempt).Msg("comfy: history poll failed")
				phase = phaseWaiting
				continue
			}
			if entry == nil {
				logger.Debug().Int("attempt", attempt).Msg("comfy: job not in history yet")
				phase = phaseWaiting
				continue
			}
			if entry.Status.StatusStr == "error" {
				result = &domain.JobError{Kind: domain.JobFailed, JobID: jobID, Attempts: attempt, Message: failureMessage(entry)}
				phase = phaseDone
				continue
			}
			if image, ok := entry.firstImage(); ok {
				ref = image
				phase = phaseDone
				continue
			}
			if entry.Status.Completed {
				result = &domain.JobError{Kind: domain.JobFailed, JobID: jobID, Attempts: attempt, Message: "finished without an image output"}
				phase = phaseDone
				continue
			}
			phase = phaseWaiting
		}
	}

	if result != nil {
		logger.Warn().Err(result).Int("attempts", attempt).Msg("comfy: job did not complete")
		return domain.ArtifactRef{}, attempt, result
	}
	logger.Info().Int("attempts", attempt).Str("filename", ref.Filename).Msg("comfy: job completed")
	return ref, attempt, nil
}

// history returns the entry for jobID, or nil when the engine does not list
// the job yet.
func (c *Client) history(ctx context.Context, jobID string) (*historyEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("history status %d", resp.StatusCode)
	}

	var entries map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	entry, ok := entries[jobID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

// firstImage picks the first output node, by ascending node id, that
// carries an image.
func (e *historyEntry) firstImage() (domain.ArtifactRef, bool) {
	ids := make([]string, 0, len(e.Outputs))
	for id := range e.Outputs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return nodeLess(ids[i], ids[j]) })
	for _, id := range ids {
		for _, img := range e.Outputs[id].Images {
			if img.Filename != "" {
				return img, true
			}
		}
	}
	return domain.ArtifactRef{}, false
}

// nodeLess orders numeric ids numerically and falls back to lexical order.
func nodeLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}

// failureMessage digs the exception out of the engine's execution_error
// message, which is encoded as ["execution_error", {...}].
func failureMessage(e *historyEntry) string {
	for _, raw := range e.Status.Messages {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var kind string
		if err := json.Unmarshal(pair[0], &kind); err != nil || kind != "execution_error" {
			continue
		}
		var detail struct {
			NodeID           string `json:"node_id"`
			NodeType         string `json:"node_type"`
			ExceptionMessage string `json:"exception_message"`
		}
		if err := json.Unmarshal(pair[1], &detail); err != nil {
			continue
		}
		msg := strings.TrimSpace(detail.ExceptionMessage)
		if detail.NodeType != "" {
			msg = fmt.Sprintf("%s (node %s %s)", msg, detail.NodeID, detail.NodeType)
		}
		return msg
	}
	return "engine reported an error"
}
