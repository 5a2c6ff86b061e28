// Package workflow runs state machines expressed as directed graphs of nodes.
//
// A Graph is built once at startup, validated by Compile, and then executed
// any number of times (concurrently) through the resulting Engine. Nodes
// receive the current state by value and return a Patch that the engine
// applies before evaluating the node's outgoing edge. Cycles are allowed.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// NodeID names a node in a graph.
type NodeID string

// End is the terminal marker. Routing to End finishes the run.
const End NodeID = "__end__"

var (
	ErrUnknownNode = errors.New("workflow: unknown node")
	ErrStepLimit   = errors.New("workflow: step limit exceeded")
)

// Patch is a partial state update produced by a node. A nil Patch leaves the
// state unchanged.
type Patch[S any] func(*S)

// NodeFunc is the body of a node.
type NodeFunc[S any] func(ctx context.Context, state S) (Patch[S], error)

// Router picks the next node from the state after a node has run.
type Router[S any] func(state S) NodeID

type edge[S any] struct {
	static  NodeID
	router  Router[S]
	targets []NodeID
}

// Graph is a mutable graph definition. It is not safe for concurrent use;
// build it once and Compile it.
type Graph[S any] struct {
	entry NodeID
	nodes map[NodeID]NodeFunc[S]
	edges map[NodeID]edge[S]
	order []NodeID
	errs  []string
}

// NewGraph creates an empty graph.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes: make(map[NodeID]NodeFunc[S]),
		edges: make(map[NodeID]edge[S]),
	}
}

// AddNode registers fn under id.
func (g *Graph[S]) AddNode(id NodeID, fn NodeFunc[S]) *Graph[S] {
	switch {
	case id == "" || id == End:
		g.errs = append(g.errs, fmt.Sprintf("invalid node id %q", id))
	case fn == nil:
		g.errs = append(g.errs, fmt.Sprintf("node %s: nil func", id))
	case g.nodes[id] != nil:
		g.errs = append(g.errs, fmt.Sprintf("node %s registered twice", id))
	default:
		g.nodes[id] = fn
		g.order = append(g.order, id)
	}
	return g
}

// SetEntry sets the node a run starts from.
func (g *Graph[S]) SetEntry(id NodeID) *Graph[S] {
	g.entry = id
	return g
}

// AddEdge routes from -> to unconditionally.
func (g *Graph[S]) AddEdge(from, to NodeID) *Graph[S] {
	g.setEdge(from, edge[S]{static: to})
	return g
}

// AddConditionalEdge routes from the node through router. The router must
// return one of targets; anything else fails the run.
func (g *Graph[S]) AddConditionalEdge(from NodeID, router Router[S], targets ...NodeID) *Graph[S] {
	if router == nil || len(targets) == 0 {
		g.errs = append(g.errs, fmt.Sprintf("node %s: conditional edge needs a router and targets", from))
		return g
	}
	g.setEdge(from, edge[S]{router: router, targets: slices.Clone(targets)})
	return g
}

func (g *Graph[S]) setEdge(from NodeID, e edge[S]) {
	if _, dup := g.edges[from]; dup {
		g.errs = append(g.errs, fmt.Sprintf("node %s has more than one outgoing edge", from))
		return
	}
	g.edges[from] = e
}

// Compile validates the graph and returns an executable Engine.
func (g *Graph[S]) Compile(opts ...Option) (*Engine[S], error) {
	errs := slices.Clone(g.errs)

	if g.entry == "" {
		errs = append(errs, "entry node not set")
	} else if g.nodes[g.entry] == nil {
		errs = append(errs, fmt.Sprintf("entry node %s is not registered", g.entry))
	}

	known := func(id NodeID) bool { return id == End || g.nodes[id] != nil }
	for _, id := range g.order {
		e, ok := g.edges[id]
		if !ok {
			errs = append(errs, fmt.Sprintf("node %s has no outgoing edge", id))
			continue
		}
		if e.router == nil && !known(e.static) {
			errs = append(errs, fmt.Sprintf("edge %s -> %s: unknown target", id, e.static))
		}
		for _, t := range e.targets {
			if !known(t) {
				errs = append(errs, fmt.Sprintf("edge %s -> %s: unknown target", id, t))
			}
		}
	}
	for from := range g.edges {
		if g.nodes[from] == nil {
			errs = append(errs, fmt.Sprintf("edge from unregistered node %s", from))
		}
	}

	if len(errs) > 0 {
		slices.Sort(errs)
		return nil, fmt.Errorf("workflow: invalid graph:\n  - %s", strings.Join(errs, "\n  - "))
	}

	eng := &Engine[S]{
		entry:        g.entry,
		nodes:        make(map[NodeID]NodeFunc[S], len(g.nodes)),
		edges:        make(map[NodeID]edge[S], len(g.edges)),
		engineConfig: engineConfig{maxSteps: defaultMaxSteps},
	}
	for id, fn := range g.nodes {
		eng.nodes[id] = fn
	}
	for id, e := range g.edges {
		eng.edges[id] = e
	}
	for _, opt := range opts {
		opt(&eng.engineConfig)
	}
	return eng, nil
}
