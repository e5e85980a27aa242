package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"imageworker/internal/domain"
)

// Event is one invocation as delivered by the serverless host.
type Event struct {
	ID    string          `json:"id,omitempty"`
	Input json.RawMessage `json:"input"`
}

// Result is what the host hands back to the caller.
type Result struct {
	Status  string `json:"status"`
	Image   string `json:"image,omitempty"`
	Seed    *int64 `json:"seed,omitempty"`
	Variant string `json:"variant,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// parseInput reads the request fields. Numbers may arrive as JSON numbers or
// numeric strings; null counts as absent. steps and cfg also accept the
// diffusers-style names num_inference_steps and guidance_scale.
func parseInput(raw json.RawMessage) (domain.GenerationRequest, error) {
	var req domain.GenerationRequest
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return req, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return req, fmt.Errorf("%w: input must be an object", domain.ErrInvalidRequest)
	}

	var err error
	if req.Prompt, err = stringField(fields, "prompt"); err != nil {
		return req, err
	}
	if _, ok := present(fields, "negative_prompt"); ok {
		neg, err := stringField(fields, "negative_prompt")
		if err != nil {
			return req, err
		}
		req.NegativePrompt = &neg
	}
	if req.Width, err = intField(fields, "width"); err != nil {
		return req, err
	}
	if req.Height, err = intField(fields, "height"); err != nil {
		return req, err
	}
	if req.Steps, err = intField(fields, "steps", "num_inference_steps"); err != nil {
		return req, err
	}
	if req.GuidanceScale, err = floatField(fields, "cfg", "guidance_scale"); err != nil {
		return req, err
	}
	seed, err := intField(fields, "seed")
	if err != nil {
		return req, err
	}
	if seed != nil {
		req = req.WithSeed(int64(*seed))
	}
	return req, nil
}

// present returns the first of names carrying a non-null value.
func present(fields map[string]json.RawMessage, names ...string) (json.RawMessage, bool) {
	for _, name := range names {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		return raw, true
	}
	return nil, false
}

func stringField(fields map[string]json.RawMessage, name string) (string, error) {
	raw, ok := present(fields, name)
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", domain.ErrInvalidRequest, name)
	}
	return s, nil
}

func numberText(raw json.RawMessage, name string) (string, error) {
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: %s must be a number", domain.ErrInvalidRequest, name)
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: %s must be a number", domain.ErrInvalidRequest, name)
	}
	return n.String(), nil
}

func intField(fields map[string]json.RawMessage, names ...string) (*int, error) {
	raw, ok := present(fields, names...)
	if !ok {
		return nil, nil
	}
	text, err := numberText(raw, names[0])
	if err != nil {
		return nil, err
	}
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		n := int(v)
		return &n, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return nil, fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrInvalidRequest, names[0], text)
	}
	n := int(f)
	return &n, nil
}

func floatField(fields map[string]json.RawMessage, names ...string) (*float64, error) {
	raw, ok := present(fields, names...)
	if !ok {
		return nil, nil
	}
	text, err := numberText(raw, names[0])
	if err != nil {
		return nil, err
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %s must be a number, got %q", domain.ErrInvalidRequest, names[0], text)
	}
	return &f, nil
}
