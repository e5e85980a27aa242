// Package workflow builds the node graphs submitted to the engine.
package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"imageworker/internal/domain"
)

// Ref points at output slot Slot of node Node.
type Ref struct {
	Node string
	Slot int
}

// MarshalJSON encodes a reference in the engine's ["node", slot] form.
func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Node, r.Slot})
}

// Node is a single operation of a graph. Input values are literals or Refs.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is an ordered set of nodes with one designated output node.
type Graph struct {
	order  []string
	nodes  map[string]Node
	output string
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]Node)}
}

// Add appends a node. Node ids must be unique.
func (g *Graph) Add(id string, node Node) error {
	if id == "" {
		return fmt.Errorf("%w: empty node id", domain.ErrInvalidGraph)
	}
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("%w: duplicate node %q", domain.ErrInvalidGraph, id)
	}
	if node.Inputs == nil {
		node.Inputs = map[string]any{}
	}
	g.order = append(g.order, id)
	g.nodes[id] = node
	return nil
}

// SetOutput designates the node whose result is the job artifact.
func (g *Graph) SetOutput(id string) { g.output = id }

// Output returns the designated output node id.
func (g *Graph) Output() string { return g.output }

// IDs returns node ids in insertion order.
func (g *Graph) IDs() []string { return append([]string(nil), g.order...) }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.order) }

// Validate checks that every reference resolves, that the graph is acyclic
// and that the designated output is its only sink.
func (g *Graph) Validate() error {
	if len(g.order) == 0 {
		return fmt.Errorf("%w: no nodes", domain.ErrInvalidGraph)
	}
	if _, ok := g.nodes[g.output]; !ok {
		return fmt.Errorf("%w: output node %q not found", domain.ErrInvalidGraph, g.output)
	}

	consumed := make(map[string]bool, len(g.order))
	for _, id := range g.order {
		for name, v := range g.nodes[id].Inputs {
			ref, ok := v.(Ref)
			if !ok {
				continue
			}
			if _, exists := g.nodes[ref.Node]; !exists {
				return fmt.Errorf("%w: node %q input %q references missing node %q", domain.ErrInvalidGraph, id, name, ref.Node)
			}
			if ref.Slot < 0 {
				return fmt.Errorf("%w: node %q input %q has negative slot", domain.ErrInvalidGraph, id, name)
			}
			consumed[ref.Node] = true
		}
	}

	var sinks []string
	for _, id := range g.order {
		if !consumed[id] {
			sinks = append(sinks, id)
		}
	}
	if len(sinks) != 1 || sinks[0] != g.output {
		return fmt.Errorf("%w: expected single output node %q, found sinks %v", domain.ErrInvalidGraph, g.output, sinks)
	}

	return g.checkAcyclic()
}

func (g *Graph) checkAcyclic() error {
	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[string]int, len(g.order))
	var visit func(id string) error
	visit = func(id string) error {
		switch marks[id] {
		case visiting:
			return fmt.Errorf("%w: cycle through node %q", domain.ErrInvalidGraph, id)
		case done:
			return nil
		}
		marks[id] = visiting
		for _, name := range sortedKeys(g.nodes[id].Inputs) {
			if ref, ok := g.nodes[id].Inputs[name].(Ref); ok {
				if err := visit(ref.Node); err != nil {
					return err
				}
			}
		}
		marks[id] = done
		return nil
	}
	for _, id := range g.order {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON encodes the graph in the engine's API form, keeping node
// insertion order.
func (g *Graph) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range g.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		node, err := json.Marshal(g.nodes[id])
		if err != nil {
			return nil, fmt.Errorf("workflow: encode node %s: %w", id, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(node)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
