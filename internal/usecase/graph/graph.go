// Package graph implements a small compiled state-machine engine for
// agent loops. A graph is a set of named nodes over a shared State;
// edges are static or routed by a function of the state; a node may
// embed another compiled graph as a subgraph, which keeps the same
// (State) -> State shape as its parent. Graphs are compiled once at
// startup and are safe for concurrent Run calls.
package graph

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"conductor-ai/internal/domain"
)

// End is the terminal pseudo-node name routers return to stop a run.
const End = "__end__"

// defaultMaxSteps bounds node transitions per run as a backstop
// against cycles that never route to End.
const defaultMaxSteps = 64

// NodeFunc transforms the state at one node.
type NodeFunc func(ctx context.Context, s State) (State, error)

// RouterFunc picks the next node name after a node completes. It must
// return an existing node name or End.
type RouterFunc func(ctx context.Context, s State) string

// SubgraphIn maps the parent state to the subgraph's initial state.
type SubgraphIn func(parent State) State

// SubgraphOut merges the subgraph's final state back into the parent.
type SubgraphOut func(parent, child State) State

type node struct {
	name   string
	run    NodeFunc
	sub    *Compiled
	subIn  SubgraphIn
	subOut SubgraphOut
	next   string
	route  RouterFunc
}

// Builder assembles a graph. Errors accumulate and surface at Compile
// so construction chains stay fluent.
type Builder struct {
	name  string
	nodes map[string]*node
	order []string
	entry string
	errs  []error
}

// New starts a builder for a graph with the given name.
func New(name string) *Builder {
	return &Builder{
		name:  name,
		nodes: make(map[string]*node),
	}
}

// AddNode registers a function node.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	b.addNode(&node{name: name, run: fn})
	return b
}

// AddSubgraph registers a node that runs another compiled graph. in
// defaults to the identity mapping; out defaults to replacing the
// parent state with the child's final state.
func (b *Builder) AddSubgraph(name string, sub *Compiled, in SubgraphIn, out SubgraphOut) *Builder {
	if sub == nil {
		b.errs = append(b.errs, fmt.Errorf("subgraph %q is nil", name))
		return b
	}
	if in == nil {
		in = func(parent State) State { return parent }
	}
	if out == nil {
		out = func(_, child State) State { return child }
	}
	b.addNode(&node{name: name, sub: sub, subIn: in, subOut: out})
	return b
}

func (b *Builder) addNode(n *node) {
	if n.name == "" || n.name == End {
		b.errs = append(b.errs, fmt.Errorf("invalid node name %q", n.name))
		return
	}
	if _, exists := b.nodes[n.name]; exists {
		b.errs = append(b.errs, fmt.Errorf("node %q declared twice", n.name))
		return
	}
	b.nodes[n.name] = n
	b.order = append(b.order, n.name)
}

// SetEntry declares the node a run starts at.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	return b
}

// AddEdge declares a static transition from -> to. to may be End.
func (b *Builder) AddEdge(from, to string) *Builder {
	n, ok := b.nodes[from]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("edge from unknown node %q", from))
		return b
	}
	if n.route != nil {
		b.errs = append(b.errs, fmt.Errorf("node %q already has a conditional edge", from))
		return b
	}
	n.next = to
	return b
}

// AddConditionalEdge declares a routed transition out of from.
func (b *Builder) AddConditionalEdge(from string, route RouterFunc) *Builder {
	n, ok := b.nodes[from]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("conditional edge from unknown node %q", from))
		return b
	}
	if n.next != "" {
		b.errs = append(b.errs, fmt.Errorf("node %q already has a static edge", from))
		return b
	}
	n.route = route
	return b
}

// Compile validates the graph and freezes it for execution.
func (b *Builder) Compile() (*Compiled, error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("graph %q: %w", b.name, b.errs[0])
	}
	if b.entry == "" {
		return nil, fmt.Errorf("graph %q: no entry node", b.name)
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("graph %q: entry node %q not declared", b.name, b.entry)
	}
	for _, name := range b.order {
		n := b.nodes[name]
		if n.next == "" && n.route == nil {
			return nil, fmt.Errorf("graph %q: node %q has no outgoing edge", b.name, name)
		}
		if n.next != "" && n.next != End {
			if _, ok := b.nodes[n.next]; !ok {
				return nil, fmt.Errorf("graph %q: edge %q -> unknown node %q", b.name, name, n.next)
			}
		}
	}
	return &Compiled{
		name:     b.name,
		nodes:    b.nodes,
		entry:    b.entry,
		maxSteps: defaultMaxSteps,
	}, nil
}

// Compiled is an immutable, runnable graph.
type Compiled struct {
	name     string
	entry    string
	nodes    map[string]*node
	maxSteps int
}

// Name returns the graph's name.
func (g *Compiled) Name() string { return g.name }

// Run executes the graph to End and returns the final state. Node
// errors abort the run with the state accumulated so far. Subgraph
// nodes emit agent_started/agent_ended run events around their
// execution; plain nodes emit nothing themselves.
func (g *Compiled) Run(ctx context.Context, s State) (State, error) {
	current := g.entry
	for steps := 0; ; steps++ {
		if err := ctx.Err(); err != nil {
			return s, fmt.Errorf("graph %q interrupted at %q: %w", g.name, current, err)
		}
		if steps >= g.maxSteps {
			return s, domain.NewDomainError("graph.Run", domain.ErrMaxIterations,
				fmt.Sprintf("graph %q exceeded %d transitions", g.name, g.maxSteps))
		}

		n := g.nodes[current]

		var err error
		if n.sub != nil {
			s, err = g.runSubgraph(ctx, n, s)
		} else {
			s, err = n.run(ctx, s)
		}
		if err != nil {
			return s, fmt.Errorf("graph %q node %q: %w", g.name, current, err)
		}

		next := n.next
		if n.route != nil {
			next = n.route(ctx, s)
		}
		if next == End {
			return s, nil
		}
		if _, ok := g.nodes[next]; !ok {
			return s, fmt.Errorf("graph %q: router at %q returned unknown node %q", g.name, current, next)
		}
		current = next
	}
}

// runSubgraph executes an embedded graph with lifecycle events. The
// invocation id ties the started/ended pair together for the
// execution-tree reconstruction.
func (g *Compiled) runSubgraph(ctx context.Context, n *node, parent State) (State, error) {
	child := n.subIn(parent)
	id := NewID()

	domain.EmitRunEvent(ctx, domain.RunEvent{
		Type:    domain.RunAgentStarted,
		ID:      id,
		Name:    n.name,
		Content: domain.MessagesJSON(child.Messages),
	})

	final, err := n.sub.Run(ctx, child)
	if err != nil {
		domain.EmitRunEvent(ctx, domain.RunEvent{
			Type:    domain.RunAgentError,
			ID:      id,
			Name:    n.name,
			Content: err.Error(),
		})
		return parent, err
	}

	domain.EmitRunEvent(ctx, domain.RunEvent{
		Type:    domain.RunAgentEnded,
		ID:      id,
		Name:    n.name,
		Content: domain.MessagesJSON(final.Messages),
	})

	return n.subOut(parent, final), nil
}

// ulid entropy is shared and monotonic; guarded because Run is called
// from many goroutines.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a ULID for a run, node, or tool invocation.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}
