package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rushteam/movierec/core"
)

type funcNode struct {
	name string
	fn   func([]*core.Item) ([]*core.Item, error)
}

func (n *funcNode) Name() string { return n.name }
func (n *funcNode) Kind() Kind   { return KindFilter }
func (n *funcNode) Process(_ context.Context, _ *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	return n.fn(items)
}

func TestPipeline_RunsNodesInOrder(t *testing.T) {
	var order []string
	add := func(name string, id int64) Node {
		return &funcNode{name: name, fn: func(items []*core.Item) ([]*core.Item, error) {
			order = append(order, name)
			return append(items, core.NewItem(id)), nil
		}}
	}
	p := &Pipeline{Nodes: []Node{add("a", 1), nil, add("b", 2)}, Logger: zerolog.Nop()}
	out, err := p.Run(context.Background(), core.NewRecommendContext("r", 1, 5), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[1].ID != 2 {
		t.Errorf("out[1].ID = %d, want 2", out[1].ID)
	}
}

func TestPipeline_WrapsNodeError(t *testing.T) {
	sentinel := errors.New("boom")
	p := &Pipeline{Nodes: []Node{&funcNode{name: "bad", fn: func([]*core.Item) ([]*core.Item, error) {
		return nil, sentinel
	}}}}
	_, err := p.Run(context.Background(), nil, nil)
	if !errors.Is(err, sentinel) {
		t.Fatalf("Run() error = %v, want wrapping %v", err, sentinel)
	}
	if !strings.Contains(err.Error(), "bad") {
		t.Errorf("error %q does not name the node", err)
	}
}

func TestPipeline_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	p := &Pipeline{Nodes: []Node{&funcNode{name: "n", fn: func(items []*core.Item) ([]*core.Item, error) {
		called = true
		return items, nil
	}}}}
	_, err := p.Run(ctx, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if called {
		t.Error("node ran after cancellation")
	}
}
