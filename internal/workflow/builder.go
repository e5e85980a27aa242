package workflow

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"imageworker/internal/domain"
)

// Params are the resolved request values after defaults are applied.
type Params struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
	Seed           int64
}

// Resolve merges req with the variant defaults and validates the result. It
// performs no I/O.
func Resolve(req domain.GenerationRequest, d Defaults) (Params, error) {
	p := Params{
		Prompt:         norm.NFC.String(strings.TrimSpace(req.Prompt)),
		NegativePrompt: d.NegativePrompt,
		Width:          d.Width,
		Height:         d.Height,
		Steps:          d.Steps,
		GuidanceScale:  d.GuidanceScale,
	}
	if p.Prompt == "" {
		p.Prompt = d.Prompt
	}
	if req.NegativePrompt != nil {
		p.NegativePrompt = norm.NFC.String(strings.TrimSpace(*req.NegativePrompt))
	}
	if req.Width != nil {
		p.Width = *req.Width
	}
	if req.Height != nil {
		p.Height = *req.Height
	}
	if req.Steps != nil {
		p.Steps = *req.Steps
	}
	if req.GuidanceScale != nil {
		p.GuidanceScale = *req.GuidanceScale
	}

	if p.Width <= 0 || p.Height <= 0 {
		return Params{}, fmt.Errorf("%w: %dx%d", domain.ErrInvalidDimensions, p.Width, p.Height)
	}
	if p.Steps <= 0 {
		return Params{}, fmt.Errorf("%w: steps must be positive, got %d", domain.ErrInvalidRequest, p.Steps)
	}
	if p.GuidanceScale < 0 || math.IsNaN(p.GuidanceScale) || math.IsInf(p.GuidanceScale, 0) {
		return Params{}, fmt.Errorf("%w: guidance scale must be a non-negative number", domain.ErrInvalidRequest)
	}
	if req.Seed == nil {
		return Params{}, fmt.Errorf("%w: seed is required", domain.ErrInvalidRequest)
	}
	if *req.Seed < 0 || *req.Seed > domain.MaxSeed {
		return Params{}, fmt.Errorf("%w: seed must be within [0, %d]", domain.ErrInvalidRequest, domain.MaxSeed)
	}
	p.Seed = *req.Seed
	return p, nil
}

func (p Params) value(name Param) (any, bool) {
	switch name {
	case ParamPrompt:
		return p.Prompt, true
	case ParamNegativePrompt:
		return p.NegativePrompt, true
	case ParamWidth:
		return p.Width, true
	case ParamHeight:
		return p.Height, true
	case ParamSteps:
		return p.Steps, true
	case ParamCFG:
		return p.GuidanceScale, true
	case ParamSeed:
		return p.Seed, true
	}
	return nil, false
}

// Build produces the graph for req under variant v. The same request and
// variant always yield the same graph.
func Build(req domain.GenerationRequest, v Variant) (*Graph, error) {
	params, err := Resolve(req, v.Defaults)
	if err != nil {
		return nil, err
	}
	return BuildParams(params, v)
}

// BuildParams instantiates the node skeleton of v with already resolved
// parameters.
func BuildParams(params Params, v Variant) (*Graph, error) {
	g := NewGraph()
	for _, spec := range v.Nodes {
		inputs := make(map[string]any, len(spec.Inputs))
		for name, raw := range spec.Inputs {
			val, err := bind(raw, params)
			if err != nil {
				return nil, fmt.Errorf("node %s input %s: %w", spec.ID, name, err)
			}
			inputs[name] = val
		}
		if err := g.Add(spec.ID, Node{ClassType: spec.ClassType, Inputs: inputs}); err != nil {
			return nil, err
		}
	}
	g.SetOutput(v.Output)
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

func bind(raw any, params Params) (any, error) {
	switch val := raw.(type) {
	case Param:
		if _, known := knownParams[val]; !known {
			return nil, fmt.Errorf("%w: unknown parameter %q", domain.ErrInvalidGraph, string(val))
		}
		out, _ := params.value(val)
		return out, nil
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			bound, err := bind(item, params)
			if err != nil {
				return nil, err
			}
			items[i] = bound
		}
		return items, nil
	default:
		return raw, nil
	}
}
