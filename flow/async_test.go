package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncNodeYieldsSingleResultThenCloses(t *testing.T) {
	node := NewAsyncNode("fetch",
		WithExec(func(ctx context.Context, input any) (any, error) {
			return "payload", nil
		}),
		WithPost(func(ctx context.Context, store *Store, input, result any) (Action, error) {
			store.Set("payload", result)
			return "fetched", nil
		}))

	store := NewStore()
	ch := node.RunAsync(context.Background(), store)

	res, ok := <-ch
	require.True(t, ok)
	require.NoError(t, res.Err)
	assert.Equal(t, Action("fetched"), res.Action)

	_, ok = <-ch
	assert.False(t, ok, "the result channel closes after one send")

	v, _ := store.GetString("payload")
	assert.Equal(t, "payload", v)
}

func TestAsyncNodeDoesNotBlockCaller(t *testing.T) {
	gate := make(chan struct{})
	node := NewAsyncNode("slow",
		WithExec(func(ctx context.Context, input any) (any, error) {
			<-gate
			return nil, nil
		}))

	ch := node.RunAsync(context.Background(), NewStore())

	select {
	case <-ch:
		t.Fatal("result arrived before the unit finished")
	case <-time.After(10 * time.Millisecond):
	}

	close(gate)
	res := <-ch
	assert.NoError(t, res.Err)
}

func TestAwaitReturnsUnitResult(t *testing.T) {
	node := NewAsyncNode("quick",
		WithPost(func(ctx context.Context, store *Store, input, result any) (Action, error) {
			return "done", nil
		}))

	action, err := Await(context.Background(), node.RunAsync(context.Background(), NewStore()))
	require.NoError(t, err)
	assert.Equal(t, Action("done"), action)
}

func TestAwaitHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The channel never yields; Await must return on the context instead.
	ch := make(chan Result)
	_, err := Await(ctx, ch)
	require.Error(t, err)
	assert.Equal(t, ErrCodeCancelled, CodeOf(err))
}

func TestAsyncFlowTraversesMixedUnitsInOrder(t *testing.T) {
	var visited []string
	plan := visitNode("plan", "planned", &visited)
	fetch := NewAsyncNode("fetch",
		WithPost(func(ctx context.Context, store *Store, input, result any) (Action, error) {
			visited = append(visited, "fetch")
			return "fetched", nil
		}))
	render := visitNode("render", "rendered", &visited)

	af := NewAsyncFlow("mixed")
	af.Start(plan).
		Connect(plan, "planned", fetch).
		Connect(fetch, "fetched", render)

	action, err := af.Run(context.Background(), NewStore())
	require.NoError(t, err)
	assert.Equal(t, Action("rendered"), action)
	assert.Equal(t, []string{"plan", "fetch", "render"}, visited,
		"async units still run strictly one at a time")
}

func TestAsyncFlowRunAsyncNestsInsideAsyncFlow(t *testing.T) {
	var visited []string
	inner := NewAsyncFlow("inner")
	inner.Start(visitNode("leaf", "leaf_done", &visited))

	outer := NewAsyncFlow("outer")
	outer.Start(inner).
		Connect(inner, "leaf_done", visitNode("after", "all_done", &visited))

	action, err := Await(context.Background(), outer.RunAsync(context.Background(), NewStore()))
	require.NoError(t, err)
	assert.Equal(t, Action("all_done"), action)
	assert.Equal(t, []string{"leaf", "after"}, visited)
}

func TestAsyncFlowNestsInsidePlainFlow(t *testing.T) {
	var visited []string
	af := NewAsyncFlow("sub")
	af.Start(visitNode("a", "sub_done", &visited))

	outer := NewFlow("outer").
		Start(af).
		Connect(af, "sub_done", visitNode("b", "done", &visited))

	action, err := outer.Run(context.Background(), NewStore())
	require.NoError(t, err)
	assert.Equal(t, Action("done"), action)
	assert.Equal(t, []string{"a", "b"}, visited)
}

func TestAsyncFlowReturnsPromptlyOnCancellation(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)

	stuck := NewAsyncNode("stuck",
		WithExec(func(ctx context.Context, input any) (any, error) {
			select {
			case <-gate:
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		}))

	af := NewAsyncFlow("cut")
	af.Start(stuck)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	_, err := af.Run(ctx, NewStore())
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.Less(t, time.Since(started), time.Second)
}

func TestAsyncFlowFallbackRecovers(t *testing.T) {
	failing := NewAsyncNode("fetch",
		WithExec(func(ctx context.Context, input any) (any, error) {
			return nil, errBoom
		}))

	af := NewAsyncFlow("guarded")
	af.Start(failing)
	af.WithFallback(func(ctx context.Context, store *Store, err error) (Action, error) {
		return "recovered", nil
	})

	action, err := af.Run(context.Background(), NewStore())
	require.NoError(t, err)
	assert.Equal(t, Action("recovered"), action)
}

func TestAsyncNodeRunsSynchronouslyInPlainFlow(t *testing.T) {
	var visited []string
	fetch := NewAsyncNode("fetch",
		WithPost(func(ctx context.Context, store *Store, input, result any) (Action, error) {
			visited = append(visited, "fetch")
			return "fetched", nil
		}))

	f := NewFlow("plain").
		Start(fetch).
		Connect(fetch, "fetched", visitNode("next", "done", &visited))

	action, err := f.Run(context.Background(), NewStore())
	require.NoError(t, err)
	assert.Equal(t, Action("done"), action)
	assert.Equal(t, []string{"fetch", "next"}, visited)
}
