package engine

import (
	"github.com/roach88/fieldlogic/internal/compiler"
	"github.com/roach88/fieldlogic/internal/ir"
)

// GraphNode is one instantiated logic entry.
type GraphNode struct {
	ID       string       `json:"id"`
	Field    string       `json:"field"`
	Type     ir.LogicType `json:"type"`
	Active   bool         `json:"active"`
	Frozen   bool         `json:"frozen,omitempty"`
	Debounce string       `json:"debounce,omitempty"`
}

// GraphEdge links a dependency source to the entry that reads it. Sources
// are field instance paths, "$external.<key>", or "$form" for aggregate
// form state.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the instantiated dependency graph.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// Graph returns the dependency graph of the current instances, in
// instantiation order.
func (e *Engine) Graph() Graph {
	g := Graph{
		Nodes: make([]GraphNode, 0, len(e.inst.entryOrder)),
		Edges: make([]GraphEdge, 0),
	}
	for _, ei := range e.inst.entryOrder {
		n := GraphNode{
			ID:     ei.id,
			Field:  ei.field.path,
			Type:   ei.tmpl.Type,
			Active: ei.active,
			Frozen: ei.frozen,
		}
		if ei.tmpl.Debounced() {
			n.Debounce = ei.tmpl.Debounce.String()
		}
		g.Nodes = append(g.Nodes, n)

		for _, d := range ei.deps {
			g.Edges = append(g.Edges, GraphEdge{Source: d.source(), Target: ei.id})
		}
	}
	return g
}

func (d dep) source() string {
	switch d.kind {
	case compiler.DepExternal:
		return ir.ExternalPrefix + d.path
	case compiler.DepForm:
		return ir.FormStatePath
	}
	return d.path
}
