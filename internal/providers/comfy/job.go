package comfy

import (
	"context"
	"time"

	"imageworker/internal/domain"
	"imageworker/internal/workflow"
)

// RunJob submits graph and awaits its completion, returning the job record
// in its terminal state. The returned error is the job's error, if any.
func (c *Client) RunJob(ctx context.Context, graph *workflow.Graph, interval time.Duration, maxAttempts int) (*domain.Job, error) {
	jobID, err := c.Submit(ctx, graph)
	if err != nil {
		return nil, err
	}
	job := domain.NewJob(jobID, c.now())
	if err := job.StartPolling(); err != nil {
		return nil, err
	}
	ref, attempts, err := c.await(ctx, jobID, interval, maxAttempts)
	job.Attempts = attempts
	if err != nil {
		_ = job.Fail(err, c.now())
		return job, err
	}
	_ = job.Complete(ref, c.now())
	return job, nil
}
