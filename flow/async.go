package flow

import (
	"context"
	"time"
)

// Result is the terminal outcome of an asynchronously running unit.
type Result struct {
	Action Action
	Err    error
}

// AsyncRunner is a runnable unit that can additionally run without blocking
// the caller. RunAsync starts the unit's full lifecycle and returns a
// buffered channel that yields exactly one Result when the unit settles.
// The channel is closed after the send, so a second receive sees the zero
// Result.
type AsyncRunner interface {
	Runner
	RunAsync(ctx context.Context, store *Store) <-chan Result
}

// Await blocks until ch yields the unit's result or ctx is cancelled,
// whichever happens first. On early cancellation the abandoned unit keeps
// running in the background and still owns the store until its channel
// settles; callers that reuse the store must drain the channel first.
func Await(ctx context.Context, ch <-chan Result) (Action, error) {
	select {
	case <-ctx.Done():
		return "", newError(ErrCodeCancelled, "", "await cancelled").withCause(ctx.Err())
	case res := <-ch:
		return res.Action, res.Err
	}
}

// AsyncNode is a Node whose lifecycle can be started without blocking the
// caller. Within one run the three phases still execute back to back on a
// single goroutine; the asynchrony is between the caller and the unit, not
// inside it.
type AsyncNode struct {
	*Node
}

// NewAsyncNode builds an async node. It accepts the same options as
// NewNode.
func NewAsyncNode(name string, opts ...NodeOption) *AsyncNode {
	return &AsyncNode{Node: NewNode(name, opts...)}
}

// RunAsync starts the node lifecycle on its own goroutine.
func (n *AsyncNode) RunAsync(ctx context.Context, store *Store) <-chan Result {
	return runAsync(ctx, store, n.Node)
}

// AsyncFlow is a Flow whose traversal awaits each unit cooperatively: async
// units are started with RunAsync and awaited with Await, giving the
// traversal a cancellation point at every unit boundary even while a unit
// is in flight. Units still run strictly one at a time, in graph order.
type AsyncFlow struct {
	*Flow
}

// NewAsyncFlow builds an empty async flow. Wiring uses the embedded Flow's
// builder methods.
func NewAsyncFlow(name string) *AsyncFlow {
	return &AsyncFlow{Flow: NewFlow(name)}
}

// Run traverses the graph like Flow.Run but suspends on async units instead
// of blocking in them.
func (f *AsyncFlow) Run(ctx context.Context, store *Store) (Action, error) {
	obs := observerFrom(ctx)
	obs.FlowStarted(f.name)
	started := time.Now()

	action, err := f.orchestrateAwaiting(ctx, store)
	if err != nil && f.fallback != nil {
		action, err = f.recover(ctx, store, err)
	}

	obs.FlowFinished(f.name, action, err, time.Since(started))
	return action, err
}

// RunAsync starts the whole traversal on its own goroutine, so async flows
// nest inside other async flows with the same suspension behavior.
func (f *AsyncFlow) RunAsync(ctx context.Context, store *Store) <-chan Result {
	return runAsync(ctx, store, f)
}

func (f *AsyncFlow) orchestrateAwaiting(ctx context.Context, store *Store) (Action, error) {
	if f.start == nil {
		return "", newError(ErrCodeInvalidGraph, "", "flow has no start unit").withFlow(f.name)
	}

	current := f.start
	last := DefaultAction
	for current != nil {
		if err := ctx.Err(); err != nil {
			return "", newError(ErrCodeCancelled, current.Name(), "run cancelled").
				withCause(err).withFlow(f.name)
		}

		var (
			action Action
			err    error
		)
		if async, ok := current.(AsyncRunner); ok {
			action, err = Await(ctx, async.RunAsync(ctx, store))
		} else {
			action, err = current.Run(ctx, store)
		}
		if err != nil {
			return "", f.wrap(err)
		}

		last = action
		next, ok := f.transitions[current][action]
		if !ok {
			break
		}
		current = next
	}
	return last, nil
}

// runAsync adapts a synchronous unit to the one-shot result channel
// contract.
func runAsync(ctx context.Context, store *Store, unit Runner) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		action, err := unit.Run(ctx, store)
		ch <- Result{Action: action, Err: err}
	}()
	return ch
}
