package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"conductor-ai/internal/domain"
)

func appendNode(content string) NodeFunc {
	return func(_ context.Context, s State) (State, error) {
		return s.Append(domain.Message{Role: domain.RoleAssistant, Content: content}), nil
	}
}

func TestRunFollowsStaticEdges(t *testing.T) {
	g, err := New("test").
		AddNode("a", appendNode("one")).
		AddNode("b", appendNode("two")).
		SetEntry("a").
		AddEdge("a", "b").
		AddEdge("b", End).
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	final, err := g.Run(context.Background(), State{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(final.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(final.Messages))
	}
	if final.Messages[1].Content != "two" {
		t.Errorf("expected last message %q, got %q", "two", final.Messages[1].Content)
	}
}

func TestRunConditionalRouting(t *testing.T) {
	g, err := New("test").
		AddNode("decide", appendNode("decided")).
		AddNode("left", appendNode("left")).
		AddNode("right", appendNode("right")).
		SetEntry("decide").
		AddConditionalEdge("decide", func(_ context.Context, s State) string {
			if len(s.Messages) > 1 {
				return "right"
			}
			return "left"
		}).
		AddEdge("left", End).
		AddEdge("right", End).
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	final, err := g.Run(context.Background(), State{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := final.Last().Content; got != "left" {
		t.Errorf("expected route to left, got %q", got)
	}

	seeded := State{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}}
	final, err = g.Run(context.Background(), seeded)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := final.Last().Content; got != "right" {
		t.Errorf("expected route to right, got %q", got)
	}
}

func TestCompileRejectsUnknownEdgeTarget(t *testing.T) {
	_, err := New("broken").
		AddNode("a", appendNode("x")).
		SetEntry("a").
		AddEdge("a", "missing").
		Compile()
	if err == nil {
		t.Fatal("expected compile error for unknown edge target")
	}
}

func TestCompileRejectsMissingEntry(t *testing.T) {
	_, err := New("broken").
		AddNode("a", appendNode("x")).
		AddEdge("a", End).
		Compile()
	if err == nil {
		t.Fatal("expected compile error for missing entry")
	}
}

func TestCompileRejectsDanglingNode(t *testing.T) {
	_, err := New("broken").
		AddNode("a", appendNode("x")).
		SetEntry("a").
		Compile()
	if err == nil {
		t.Fatal("expected compile error for node without outgoing edge")
	}
}

func TestRunStopsOnNodeError(t *testing.T) {
	boom := errors.New("boom")
	g, err := New("test").
		AddNode("a", appendNode("ok")).
		AddNode("b", func(_ context.Context, s State) (State, error) { return s, boom }).
		SetEntry("a").
		AddEdge("a", "b").
		AddEdge("b", End).
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	final, err := g.Run(context.Background(), State{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected node error, got %v", err)
	}
	if len(final.Messages) != 1 {
		t.Errorf("expected state from completed nodes to survive, got %d messages", len(final.Messages))
	}
}

func TestRunCapsTransitions(t *testing.T) {
	g, err := New("loop").
		AddNode("a", appendNode("again")).
		SetEntry("a").
		AddConditionalEdge("a", func(context.Context, State) string { return "a" }).
		Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	_, err = g.Run(context.Background(), State{})
	if !errors.Is(err, domain.ErrMaxIterations) {
		t.Fatalf("expected ErrMaxIterations, got %v", err)
	}
}

func TestSubgraphEmitsLifecycleEvents(t *testing.T) {
	sub, err := New("worker").
		AddNode("work", appendNode("done")).
		SetEntry("work").
		AddEdge("work", End).
		Compile()
	if err != nil {
		t.Fatalf("compile sub: %v", err)
	}

	parent, err := New("parent").
		AddNode("first", appendNode("start")).
		AddSubgraph("agent:test", sub, nil, nil).
		SetEntry("first").
		AddEdge("first", "agent:test").
		AddEdge("agent:test", End).
		Compile()
	if err != nil {
		t.Fatalf("compile parent: %v", err)
	}

	var events []domain.RunEvent
	ctx := domain.ContextWithRunEmitter(context.Background(),
		domain.RunEmitterFunc(func(ev domain.RunEvent) { events = append(events, ev) }))

	final, err := parent.Run(ctx, State{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := final.Last().Content; got != "done" {
		t.Errorf("expected subgraph result merged, got %q", got)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 lifecycle events, got %d", len(events))
	}
	if events[0].Type != domain.RunAgentStarted || events[1].Type != domain.RunAgentEnded {
		t.Errorf("unexpected event types: %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].ID == "" || events[0].ID != events[1].ID {
		t.Errorf("started/ended must share an invocation id: %q vs %q", events[0].ID, events[1].ID)
	}
	if events[0].Name != "agent:test" {
		t.Errorf("expected node name on event, got %q", events[0].Name)
	}
	if !strings.Contains(events[1].Content, "done") {
		t.Errorf("ended content should carry final messages, got %q", events[1].Content)
	}
}

func TestSubgraphTransforms(t *testing.T) {
	sub, err := New("worker").
		AddNode("work", appendNode("child answer")).
		SetEntry("work").
		AddEdge("work", End).
		Compile()
	if err != nil {
		t.Fatalf("compile sub: %v", err)
	}

	in := func(parent State) State {
		return State{Messages: []domain.Message{{Role: domain.RoleUser, Content: "fresh task"}}}
	}
	out := func(parent, child State) State {
		return parent.Append(domain.Message{Role: domain.RoleAssistant, Content: child.Last().Content})
	}

	parent, err := New("parent").
		AddSubgraph("agent:x", sub, in, out).
		SetEntry("agent:x").
		AddEdge("agent:x", End).
		Compile()
	if err != nil {
		t.Fatalf("compile parent: %v", err)
	}

	seeded := State{Messages: []domain.Message{{Role: domain.RoleUser, Content: "history"}}}
	final, err := parent.Run(context.Background(), seeded)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(final.Messages) != 2 {
		t.Fatalf("expected parent history plus merged answer, got %d messages", len(final.Messages))
	}
	if final.Messages[0].Content != "history" {
		t.Errorf("parent history lost: %q", final.Messages[0].Content)
	}
	if final.Messages[1].Content != "child answer" {
		t.Errorf("child answer not merged: %q", final.Messages[1].Content)
	}
}

func TestNewIDMonotonic(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b {
		t.Fatal("ids must be unique")
	}
	if !(a < b) {
		t.Errorf("ids should sort in generation order: %s then %s", a, b)
	}
}
