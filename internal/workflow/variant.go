package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"imageworker/internal/domain"
)

// Param is a node input bound to a request parameter at build time.
type Param string

// Request parameters a node skeleton may bind.
const (
	ParamPrompt         Param = "prompt"
	ParamNegativePrompt Param = "negative_prompt"
	ParamWidth          Param = "width"
	ParamHeight         Param = "height"
	ParamSteps          Param = "steps"
	ParamCFG            Param = "cfg"
	ParamSeed           Param = "seed"
)

var knownParams = map[Param]struct{}{
	ParamPrompt: {}, ParamNegativePrompt: {}, ParamWidth: {}, ParamHeight: {},
	ParamSteps: {}, ParamCFG: {}, ParamSeed: {},
}

// Defaults fill request fields the caller left out.
type Defaults struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
}

// NodeSpec is a node template. Input values are literals, Params or Refs.
type NodeSpec struct {
	ID        string
	ClassType string
	Inputs    map[string]any
}

// Variant describes one model family: the assets it needs, its defaults and
// the topology of its graph.
type Variant struct {
	Name        string
	Description string
	Assets      []domain.ModelAsset
	Defaults    Defaults
	Nodes       []NodeSpec
	Output      string
}

// Check builds the variant with its own defaults to catch skeleton mistakes
// at registration time rather than on the first request.
func (v Variant) Check() error {
	if strings.TrimSpace(v.Name) == "" {
		return errors.New("workflow: variant name is required")
	}
	keys := make(map[string]struct{}, len(v.Assets))
	for _, a := range v.Assets {
		if a.Repo == "" || a.File == "" || a.Dir == "" {
			return fmt.Errorf("workflow: variant %s: asset %q needs repo, file and dir", v.Name, a.DisplayName())
		}
		if _, dup := keys[a.LocalKey()]; dup {
			return fmt.Errorf("workflow: variant %s: two assets are placed at %s", v.Name, a.LocalKey())
		}
		keys[a.LocalKey()] = struct{}{}
	}
	if _, err := Build(domain.GenerationRequest{}.WithSeed(0), v); err != nil {
		return fmt.Errorf("workflow: variant %s: %w", v.Name, err)
	}
	return nil
}

// Registry holds the variants known to the worker.
type Registry struct {
	mu       sync.RWMutex
	variants map[string]Variant
}

// NewRegistry returns a registry holding the given variants.
func NewRegistry(variants ...Variant) (*Registry, error) {
	r := &Registry{variants: make(map[string]Variant)}
	for _, v := range variants {
		if err := r.Register(v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds v, replacing any variant with the same name.
func (r *Registry) Register(v Variant) error {
	if err := v.Check(); err != nil {
		return err
	}
	r.mu.Lock()
	r.variants[v.Name] = v
	r.mu.Unlock()
	return nil
}

// Lookup returns the named variant.
func (r *Registry) Lookup(name string) (Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.variants[strings.TrimSpace(name)]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", domain.ErrUnknownVariant, name)
	}
	return v, nil
}

// Names lists registered variants in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.variants))
	for name := range r.variants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
