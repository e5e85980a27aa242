package domain

import (
	"errors"
	"fmt"
	"time"
)

// JobState enumerates the lifecycle of one submitted graph.
type JobState string

const (
	JobStateSubmitted JobState = "submitted"
	JobStatePolling   JobState = "polling"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateTimedOut  JobState = "timed_out"
)

// Terminal reports whether no further transitions are allowed.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateTimedOut:
		return true
	default:
		return false
	}
}

// ArtifactRef is the engine's handle to a produced image.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Kind      string `json:"type"`
}

// Job tracks one submitted graph through to completion, failure or timeout.
type Job struct {
	ID          string
	State       JobState
	Output      *ArtifactRef
	Err         error
	Attempts    int
	SubmittedAt time.Time
	FinishedAt  time.Time
}

// NewJob returns a job in the Submitted state.
func NewJob(id string, now time.Time) *Job {
	return &Job{ID: id, State: JobStateSubmitted, SubmittedAt: now}
}

// StartPolling moves a submitted job into Polling.
func (j *Job) StartPolling() error {
	return j.transition(JobStatePolling)
}

// Complete records the artifact and finishes the job.
func (j *Job) Complete(ref ArtifactRef, now time.Time) error {
	if err := j.transition(JobStateCompleted); err != nil {
		return err
	}
	j.Output = &ref
	j.FinishedAt = now
	return nil
}

// Fail finishes the job with err; the state is TimedOut when err is a
// timeout JobError and Failed otherwise.
func (j *Job) Fail(err error, now time.Time) error {
	next := JobStateFailed
	var je *JobError
	if errors.As(err, &je) && je.Kind == JobTimedOut {
		next = JobStateTimedOut
	}
	if terr := j.transition(next); terr != nil {
		return terr
	}
	j.Err = err
	j.FinishedAt = now
	return nil
}

func (j *Job) transition(next JobState) error {
	if j.State.Terminal() {
		return fmt.Errorf("job %s: cannot move from terminal state %s to %s", j.ID, j.State, next)
	}
	switch {
	case next == JobStatePolling && j.State != JobStateSubmitted:
		return fmt.Errorf("job %s: cannot start polling from %s", j.ID, j.State)
	case next.Terminal() && j.State != JobStatePolling:
		return fmt.Errorf("job %s: cannot finish from %s", j.ID, j.State)
	}
	j.State = next
	return nil
}
