package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidDimensions = errors.New("invalid dimensions")
	ErrUnknownVariant    = errors.New("unknown variant")
	ErrInvalidGraph      = errors.New("invalid workflow graph")
	ErrAssetUnavailable  = errors.New("asset unavailable")
	ErrEngineExited      = errors.New("engine process exited")
	ErrEngineNotReady    = errors.New("engine never became ready")
	ErrGraphRejected     = errors.New("engine rejected graph")
	ErrEngineUnreachable = errors.New("engine unreachable")
	ErrMissingJobID      = errors.New("engine response missing job id")
	ErrJobFailed         = errors.New("job failed")
	ErrJobTimeout        = errors.New("timeout waiting for job completion")
	ErrArtifactFetch     = errors.New("artifact fetch failed")
)

// ProvisionError reports the assets that could not be materialized in one
// provisioning pass.
type ProvisionError struct {
	Failed map[string]error
}

func (e *ProvisionError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for name, err := range e.Failed {
		names = append(names, fmt.Sprintf("%s: %v", name, err))
	}
	sort.Strings(names)
	return "provision: " + strings.Join(names, "; ")
}

func (e *ProvisionError) Unwrap() []error {
	errs := []error{ErrAssetUnavailable}
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// StartupReason classifies why the engine did not become ready.
type StartupReason string

const (
	StartupLaunchFailed  StartupReason = "launch_failed"
	StartupProcessExited StartupReason = "process_exited"
	StartupNeverReady    StartupReason = "never_ready"
)

// StartupError is returned by the engine supervisor.
type StartupError struct {
	Reason StartupReason
	Err    error
}

func (e *StartupError) Error() string {
	switch e.Reason {
	case StartupProcessExited:
		return fmt.Sprintf("engine: process exited before ready: %v", e.Err)
	case StartupNeverReady:
		return fmt.Sprintf("engine: process alive but never became ready: %v", e.Err)
	default:
		return fmt.Sprintf("engine: launch failed: %v", e.Err)
	}
}

func (e *StartupError) Unwrap() []error {
	switch e.Reason {
	case StartupProcessExited:
		return []error{ErrEngineExited, e.Err}
	case StartupNeverReady:
		return []error{ErrEngineNotReady, e.Err}
	default:
		return []error{e.Err}
	}
}

// SubmitError is returned when a graph could not be queued. Err is one of
// ErrGraphRejected, ErrEngineUnreachable or ErrMissingJobID, possibly wrapping
// the transport error.
type SubmitError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *SubmitError) Error() string {
	msg := "comfy: submit: " + e.Err.Error()
	if e.StatusCode > 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *SubmitError) Unwrap() error { return e.Err }

// JobErrorKind distinguishes an engine-reported failure from an exhausted
// polling budget.
type JobErrorKind string

const (
	JobFailed   JobErrorKind = "failed"
	JobTimedOut JobErrorKind = "timed_out"
)

// JobError is returned by the job client while awaiting completion.
type JobError struct {
	Kind     JobErrorKind
	JobID    string
	Attempts int
	Message  string
}

func (e *JobError) Error() string {
	if e.Kind == JobTimedOut {
		return fmt.Sprintf("comfy: job %s: timeout waiting for image generation after %d attempts", e.JobID, e.Attempts)
	}
	if e.Message == "" {
		return fmt.Sprintf("comfy: job %s failed", e.JobID)
	}
	return fmt.Sprintf("comfy: job %s failed: %s", e.JobID, e.Message)
}

func (e *JobError) Unwrap() error {
	if e.Kind == JobTimedOut {
		return ErrJobTimeout
	}
	return ErrJobFailed
}

// FetchError is returned when an artifact could not be retrieved.
type FetchError struct {
	Filename   string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("comfy: fetch %s: status %d", e.Filename, e.StatusCode)
	}
	return fmt.Sprintf("comfy: fetch %s: %v", e.Filename, e.Err)
}

func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrArtifactFetch}
	}
	return []error{ErrArtifactFetch, e.Err}
}
