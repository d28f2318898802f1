package expression

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/expr-lang/expr/ast"
)

// RefKind classifies what a reference reads.
type RefKind int

const (
	// RefScope is a path relative to the current scope (formValue).
	RefScope RefKind = iota + 1
	// RefRoot is an absolute path from the form root (rootFormValue).
	RefRoot
	// RefExternal is an external data key (externalData).
	RefExternal
	// RefSelf is the hosting field's own value (fieldValue).
	RefSelf
)

func (k RefKind) String() string {
	switch k {
	case RefScope:
		return "scope"
	case RefRoot:
		return "root"
	case RefExternal:
		return "external"
	case RefSelf:
		return "self"
	}
	return "unknown"
}

// Ref is one statically extracted read. Path is the longest constant member
// chain after the root variable; an empty Path means the whole variable.
type Ref struct {
	Kind RefKind
	Path string
}

func (r Ref) String() string {
	return r.Kind.String() + ":" + r.Path
}

var rootKinds = map[string]RefKind{
	"formValue":     RefScope,
	"rootFormValue": RefRoot,
	"externalData":  RefExternal,
	"fieldValue":    RefSelf,
}

// refCollector gathers maximal constant member chains rooted at context
// variables. ast.Walk is post-order, so a chain's base is recorded before
// the chain itself and is dropped once the longer chain is seen.
type refCollector struct {
	found map[ast.Node]Ref
	order []ast.Node
	err   error
}

func (c *refCollector) Visit(node *ast.Node) {
	n := *node
	switch n.(type) {
	case *ast.VariableDeclaratorNode, *ast.PredicateNode, *ast.PointerNode:
		if c.err == nil {
			c.err = errors.New("variables and closures are not supported")
		}
		return
	}
	if call, ok := n.(*ast.CallNode); ok {
		if _, isMember := call.Callee.(*ast.MemberNode); isMember && c.err == nil {
			c.err = errors.New("method calls are not supported")
		}
		return
	}

	kind, segs, ok := staticChain(n)
	if !ok {
		return
	}
	switch x := n.(type) {
	case *ast.MemberNode:
		delete(c.found, x.Node)
	case *ast.ChainNode:
		delete(c.found, x.Node)
	}
	if _, seen := c.found[n]; !seen {
		c.order = append(c.order, n)
	}
	c.found[n] = Ref{Kind: kind, Path: strings.Join(segs, ".")}
}

// staticChain resolves a node to a context variable plus constant path
// segments. Computed members end the chain.
func staticChain(n ast.Node) (RefKind, []string, bool) {
	switch x := n.(type) {
	case *ast.IdentifierNode:
		kind, ok := rootKinds[x.Value]
		return kind, nil, ok
	case *ast.ChainNode:
		return staticChain(x.Node)
	case *ast.MemberNode:
		kind, segs, ok := staticChain(x.Node)
		if !ok {
			return 0, nil, false
		}
		switch p := x.Property.(type) {
		case *ast.StringNode:
			return kind, append(append([]string(nil), segs...), p.Value), true
		case *ast.IntegerNode:
			return kind, append(append([]string(nil), segs...), strconv.Itoa(p.Value)), true
		}
	}
	return 0, nil, false
}

// collectRefs extracts the deduplicated, sorted reference set of a tree.
func collectRefs(root ast.Node) ([]Ref, error) {
	c := &refCollector{found: make(map[ast.Node]Ref)}
	ast.Walk(&root, c)
	if c.err != nil {
		return nil, c.err
	}

	seen := make(map[Ref]bool)
	var refs []Ref
	for _, n := range c.order {
		r, ok := c.found[n]
		if !ok || seen[r] {
			continue
		}
		if r.Kind == RefExternal {
			// External data changes are tracked per top-level key.
			r.Path, _, _ = strings.Cut(r.Path, ".")
		}
		seen[r] = true
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].Path < refs[j].Path
	})
	return dedupe(refs), nil
}

func dedupe(refs []Ref) []Ref {
	var out []Ref
	for _, r := range refs {
		if len(out) > 0 && out[len(out)-1] == r {
			continue
		}
		out = append(out, r)
	}
	return out
}
