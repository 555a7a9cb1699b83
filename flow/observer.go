package flow

import (
	"context"
	"time"
)

// Observer receives lifecycle callbacks from the engine. The engine itself
// never logs or records metrics; observability backends (zap, Prometheus,
// OpenTelemetry, live event streams) implement Observer and are attached to
// the run via WithObserver.
//
// Callbacks are invoked synchronously on the executing goroutine. For
// parallel batch operations the item-scoped callbacks fire concurrently, so
// implementations must be safe for concurrent use.
type Observer interface {
	// FlowStarted fires when a flow begins traversal.
	FlowStarted(flow string)
	// FlowFinished fires when a flow terminates, normally or with an error.
	FlowFinished(flow string, action Action, err error, elapsed time.Duration)
	// NodeStarted fires when a unit's lifecycle begins.
	NodeStarted(node string)
	// NodeFinished fires when a unit's lifecycle ends.
	NodeFinished(node string, action Action, err error, elapsed time.Duration)
	// RetryScheduled fires before an execute re-attempt. attempt is the
	// zero-based index of the upcoming attempt; wait is the pause taken
	// before it.
	RetryScheduled(node string, attempt int, wait time.Duration, cause error)
	// FallbackInvoked fires when retry exhaustion routes into a fallback.
	FallbackInvoked(node string, cause error)
	// BatchItemStarted fires when a batch sub-item begins executing.
	BatchItemStarted(node string, index int)
	// BatchItemFinished fires when a batch sub-item finishes.
	BatchItemFinished(node string, index int, err error)
	// ScratchMerged fires after a parallel batch flow merges its iteration
	// forks back into the base store. forks is the number of merged forks.
	ScratchMerged(node string, forks int)
}

// NopObserver discards every callback. Embed it to implement a subset of
// Observer.
type NopObserver struct{}

func (NopObserver) FlowStarted(string)                                  {}
func (NopObserver) FlowFinished(string, Action, error, time.Duration)   {}
func (NopObserver) NodeStarted(string)                                  {}
func (NopObserver) NodeFinished(string, Action, error, time.Duration)   {}
func (NopObserver) RetryScheduled(string, int, time.Duration, error)    {}
func (NopObserver) FallbackInvoked(string, error)                       {}
func (NopObserver) BatchItemStarted(string, int)                        {}
func (NopObserver) BatchItemFinished(string, int, error)                {}
func (NopObserver) ScratchMerged(string, int)                           {}

// MultiObserver fans every callback out to each member in order.
type MultiObserver []Observer

func (m MultiObserver) FlowStarted(flow string) {
	for _, o := range m {
		o.FlowStarted(flow)
	}
}

func (m MultiObserver) FlowFinished(flow string, action Action, err error, elapsed time.Duration) {
	for _, o := range m {
		o.FlowFinished(flow, action, err, elapsed)
	}
}

func (m MultiObserver) NodeStarted(node string) {
	for _, o := range m {
		o.NodeStarted(node)
	}
}

func (m MultiObserver) NodeFinished(node string, action Action, err error, elapsed time.Duration) {
	for _, o := range m {
		o.NodeFinished(node, action, err, elapsed)
	}
}

func (m MultiObserver) RetryScheduled(node string, attempt int, wait time.Duration, cause error) {
	for _, o := range m {
		o.RetryScheduled(node, attempt, wait, cause)
	}
}

func (m MultiObserver) FallbackInvoked(node string, cause error) {
	for _, o := range m {
		o.FallbackInvoked(node, cause)
	}
}

func (m MultiObserver) BatchItemStarted(node string, index int) {
	for _, o := range m {
		o.BatchItemStarted(node, index)
	}
}

func (m MultiObserver) BatchItemFinished(node string, index int, err error) {
	for _, o := range m {
		o.BatchItemFinished(node, index, err)
	}
}

func (m MultiObserver) ScratchMerged(node string, forks int) {
	for _, o := range m {
		o.ScratchMerged(node, forks)
	}
}

type observerKey struct{}

// WithObserver returns a context that carries obs. Every unit run under the
// returned context reports its lifecycle to obs, including units of nested
// flows. Attaching a second observer replaces the first; combine with
// MultiObserver to fan out.
func WithObserver(ctx context.Context, obs Observer) context.Context {
	if obs == nil {
		return ctx
	}
	return context.WithValue(ctx, observerKey{}, obs)
}

// observerFrom extracts the observer carried on ctx, defaulting to a nop.
func observerFrom(ctx context.Context) Observer {
	if obs, ok := ctx.Value(observerKey{}).(Observer); ok {
		return obs
	}
	return NopObserver{}
}
