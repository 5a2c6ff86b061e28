package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	Count int
	Trail []NodeID
}

func visit(id NodeID) NodeFunc[counterState] {
	return func(ctx context.Context, s counterState) (Patch[counterState], error) {
		return func(st *counterState) {
			st.Trail = append(st.Trail, id)
			if id == "inc" {
				st.Count++
			}
		}, nil
	}
}

func loopGraph(limit int) *Graph[counterState] {
	return NewGraph[counterState]().
		AddNode("start", visit("start")).
		AddNode("inc", visit("inc")).
		SetEntry("start").
		AddEdge("start", "inc").
		AddConditionalEdge("inc", func(s counterState) NodeID {
			if s.Count < limit {
				return "inc"
			}
			return End
		}, "inc", End)
}

func TestEngine_RunsCycleUntilEnd(t *testing.T) {
	eng, err := loopGraph(3).Compile()
	require.NoError(t, err)

	out, err := eng.Run(context.Background(), counterState{})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)
	assert.Equal(t, []NodeID{"start", "inc", "inc", "inc"}, out.Trail)
}

func TestEngine_StepLimit(t *testing.T) {
	eng, err := loopGraph(100).Compile(WithMaxSteps(5))
	require.NoError(t, err)

	out, err := eng.Run(context.Background(), counterState{})
	require.ErrorIs(t, err, ErrStepLimit)
	assert.Len(t, out.Trail, 5)
}

func TestEngine_NodeErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	var afterRan bool
	eng, err := NewGraph[counterState]().
		AddNode("a", func(ctx context.Context, s counterState) (Patch[counterState], error) { return nil, boom }).
		AddNode("b", func(ctx context.Context, s counterState) (Patch[counterState], error) {
			afterRan = true
			return nil, nil
		}).
		SetEntry("a").
		AddEdge("a", "b").
		AddEdge("b", End).
		Compile()
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), counterState{})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "node a")
	assert.False(t, afterRan)
}

func TestEngine_UndeclaredRouterTarget(t *testing.T) {
	eng, err := NewGraph[counterState]().
		AddNode("a", visit("a")).
		AddNode("b", visit("b")).
		SetEntry("a").
		AddConditionalEdge("a", func(counterState) NodeID { return "b" }, End).
		AddEdge("b", End).
		Compile()
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), counterState{})
	require.ErrorIs(t, err, ErrUnknownNode)
}

func TestEngine_CancelledContext(t *testing.T) {
	eng, err := loopGraph(3).Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = eng.Run(ctx, counterState{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngine_ConcurrentRunsAreIndependent(t *testing.T) {
	eng, err := loopGraph(4).Compile()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := eng.Run(context.Background(), counterState{})
			assert.NoError(t, err)
			assert.Equal(t, 4, out.Count)
		}()
	}
	wg.Wait()
}

func TestEngine_ObserverSeesEveryStep(t *testing.T) {
	var seen []NodeID
	eng, err := loopGraph(2).Compile(WithObserver(func(n NodeID, _ time.Duration, _ error) {
		seen = append(seen, n)
	}))
	require.NoError(t, err)

	_, err = eng.Run(context.Background(), counterState{})
	require.NoError(t, err)
	assert.Equal(t, []NodeID{"start", "inc", "inc"}, seen)
}

func TestCompile_Validation(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Graph[counterState]
		want  string
	}{
		{
			name:  "no entry",
			build: func() *Graph[counterState] { return NewGraph[counterState]().AddNode("a", visit("a")).AddEdge("a", End) },
			want:  "entry node not set",
		},
		{
			name: "missing edge",
			build: func() *Graph[counterState] {
				return NewGraph[counterState]().AddNode("a", visit("a")).SetEntry("a")
			},
			want: "node a has no outgoing edge",
		},
		{
			name: "unknown target",
			build: func() *Graph[counterState] {
				return NewGraph[counterState]().AddNode("a", visit("a")).SetEntry("a").AddEdge("a", "ghost")
			},
			want: "edge a -> ghost: unknown target",
		},
		{
			name: "duplicate edge",
			build: func() *Graph[counterState] {
				return NewGraph[counterState]().AddNode("a", visit("a")).SetEntry("a").AddEdge("a", End).AddEdge("a", End)
			},
			want: "more than one outgoing edge",
		},
		{
			name: "reserved id",
			build: func() *Graph[counterState] {
				return NewGraph[counterState]().AddNode(End, visit(End)).AddNode("a", visit("a")).SetEntry("a").AddEdge("a", End)
			},
			want: "invalid node id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.build().Compile()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
