package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/fieldlogic/internal/ir"
)

// derivationGraph is the template-level write/read graph of derivation
// entries. An edge i -> j means entry j reads the field entry i writes.
// Reads of an entry's own field are not edges.
type derivationGraph struct {
	nodes []*Entry
	edges [][]int
}

func buildDerivationGraph(entries []*Entry) *derivationGraph {
	g := &derivationGraph{}
	for _, e := range entries {
		if e.Type == ir.LogicDerivation {
			g.nodes = append(g.nodes, e)
		}
	}
	g.edges = make([][]int, len(g.nodes))
	for i, writer := range g.nodes {
		for j, reader := range g.nodes {
			if writer.Field == reader.Field {
				continue
			}
			if readsField(reader, writer.Field.Path) {
				g.edges[i] = append(g.edges[i], j)
			}
		}
	}
	return g
}

func readsField(e *Entry, path string) bool {
	for _, d := range e.Deps {
		if d.Kind == DepField && !d.Self && ir.PathsOverlap(ir.TemplatePath(d.Path), path) {
			return true
		}
	}
	return false
}

// analyzeDerivations finds cycles among derivations, accepts two-field
// cycles as bidirectional pairs, rejects everything else with E203, and
// assigns the topological order used by the scheduler.
func (b *builder) analyzeDerivations() {
	g := buildDerivationGraph(b.plan.Entries)
	sccs := tarjanSCC(g)

	comp := make([]int, len(g.nodes))
	for ci, scc := range sccs {
		for _, n := range scc {
			comp[n] = ci
		}
		if len(scc) < 2 {
			continue
		}
		fields := make(map[string]bool)
		for _, n := range scc {
			fields[g.nodes[n].Field.Path] = true
		}
		if len(fields) == 2 {
			b.plan.Pairs = append(b.plan.Pairs, newPair(g, scc))
			continue
		}
		path := reconstructCyclePath(scc, g)
		ids := make([]string, len(path))
		for i, n := range path {
			ids[i] = g.nodes[n].ID
		}
		b.fail(g.nodes[scc[0]].Field.Path, ErrIllegalCycle,
			"dependency cycle across %d fields: %s; only two-field bidirectional derivations may form a cycle",
			len(fields), strings.Join(ids, " -> "))
	}
	if len(b.errs) > 0 {
		return
	}

	for i, n := range topoOrder(g, sccs, comp) {
		g.nodes[n].Order = i
		b.plan.Derivations = append(b.plan.Derivations, g.nodes[n])
	}
}

func newPair(g *derivationGraph, scc []int) Pair {
	sorted := append([]int(nil), scc...)
	sort.Ints(sorted)
	var p Pair
	seen := make(map[string]bool)
	for _, n := range sorted {
		e := g.nodes[n]
		p.Entries = append(p.Entries, e.ID)
		if !seen[e.Field.Path] {
			seen[e.Field.Path] = true
			p.Fields = append(p.Fields, e.Field.Path)
		}
	}
	return p
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in declaration order so the result is deterministic.
func tarjanSCC(g *derivationGraph) [][]int {
	var (
		index   = 0
		stack   []int
		indices = make([]int, len(g.nodes))
		lowlink = make([]int, len(g.nodes))
		onStack = make([]bool, len(g.nodes))
		sccs    [][]int
	)
	for i := range indices {
		indices[i] = -1
	}

	var strongConnect func(int)
	strongConnect = func(v int) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.edges[v] {
			if indices[w] < 0 {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for v := range g.nodes {
		if indices[v] < 0 {
			strongConnect(v)
		}
	}
	return sccs
}

// topoOrder orders the condensed graph with Kahn's algorithm. Ready
// components are taken lowest declaration index first; members of a pair
// keep declaration order.
func topoOrder(g *derivationGraph, sccs [][]int, comp []int) []int {
	first := make([]int, len(sccs))
	for ci, scc := range sccs {
		first[ci] = scc[0]
		for _, n := range scc {
			first[ci] = min(first[ci], n)
		}
	}

	indegree := make([]int, len(sccs))
	succ := make([]map[int]bool, len(sccs))
	for v, targets := range g.edges {
		for _, w := range targets {
			cv, cw := comp[v], comp[w]
			if cv == cw {
				continue
			}
			if succ[cv] == nil {
				succ[cv] = make(map[int]bool)
			}
			if !succ[cv][cw] {
				succ[cv][cw] = true
				indegree[cw]++
			}
		}
	}

	done := make([]bool, len(sccs))
	var order []int
	for range sccs {
		next := -1
		for ci := range sccs {
			if done[ci] || indegree[ci] > 0 {
				continue
			}
			if next < 0 || first[ci] < first[next] {
				next = ci
			}
		}
		if next < 0 {
			break
		}
		done[next] = true
		members := append([]int(nil), sccs[next]...)
		sort.Ints(members)
		order = append(order, members...)
		for cw := range succ[next] {
			indegree[cw]--
		}
	}
	return order
}

// reconstructCyclePath walks edges inside an SCC from its lowest node back
// to itself.
func reconstructCyclePath(scc []int, g *derivationGraph) []int {
	if len(scc) == 0 {
		return nil
	}
	member := make(map[int]bool, len(scc))
	start := scc[0]
	for _, n := range scc {
		member[n] = true
		start = min(start, n)
	}

	path := []int{start}
	visited := map[int]bool{}
	current := start
	for {
		visited[current] = true
		next := -1
		for _, w := range g.edges[current] {
			if member[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next < 0 {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}

// String renders the graph edges, one "writer -> reader" per line.
func (g *derivationGraph) String() string {
	var b strings.Builder
	for i, targets := range g.edges {
		for _, j := range targets {
			fmt.Fprintf(&b, "%s -> %s\n", g.nodes[i].ID, g.nodes[j].ID)
		}
	}
	return b.String()
}
