package flow

import (
	"context"
	"errors"
	"time"
)

// PrepFunc is the prepare phase: it reads from the store and derives the
// task-local input for the execute phase. By convention it does not mutate
// the store. A prepare failure is fatal for the invocation and is never
// retried.
type PrepFunc func(ctx context.Context, store *Store) (any, error)

// ExecFunc is the execute phase: it performs the unit's actual work using
// only the prepared input, with no store access. Execute is the sole phase
// wrapped by the retry loop.
type ExecFunc func(ctx context.Context, input any) (any, error)

// ExecRetryFunc is an execute phase that also receives the zero-based index
// of the current attempt, letting the work vary behavior across retries.
type ExecRetryFunc func(ctx context.Context, input any, attempt int) (any, error)

// PostFunc is the finalize phase: it receives the store, the prepared input
// and the execute (or fallback) result, writes back into the store, and
// returns the action label that selects the next transition. An empty label
// is treated as DefaultAction. A finalize failure is fatal and not retried.
type PostFunc func(ctx context.Context, store *Store, input, result any) (Action, error)

// FallbackFunc runs once after every execute attempt has failed. Its return
// value substitutes the execute result fed into finalize. If the fallback
// fails too, the failure propagates with the original execute error still
// reachable through errors.Is.
type FallbackFunc func(ctx context.Context, input any, execErr error) (any, error)

// Node is the smallest unit of work: a three-phase lifecycle with bounded
// retry around the execute phase and an optional fallback hook. Nodes are
// identified by pointer identity inside a flow's transition table; the name
// exists for diagnostics only.
//
// A Node carries no per-run mutable state, so the same instance may be
// traversed concurrently by parallel batch iterations.
type Node struct {
	name       string
	maxRetries int
	wait       time.Duration
	prep       PrepFunc
	exec       ExecRetryFunc
	post       PostFunc
	fallback   FallbackFunc
	actions    []Action
}

// NodeOption configures a Node at construction time.
type NodeOption func(*Node)

// WithPrep sets the prepare phase.
func WithPrep(fn PrepFunc) NodeOption {
	return func(n *Node) { n.prep = fn }
}

// WithExec sets the execute phase.
func WithExec(fn ExecFunc) NodeOption {
	return func(n *Node) {
		if fn == nil {
			n.exec = nil
			return
		}
		n.exec = func(ctx context.Context, input any, _ int) (any, error) {
			return fn(ctx, input)
		}
	}
}

// WithExecRetry sets an execute phase that observes the zero-based retry
// index of each attempt.
func WithExecRetry(fn ExecRetryFunc) NodeOption {
	return func(n *Node) { n.exec = fn }
}

// WithPost sets the finalize phase.
func WithPost(fn PostFunc) NodeOption {
	return func(n *Node) { n.post = fn }
}

// WithFallback sets the after-exhaustion fallback hook.
func WithFallback(fn FallbackFunc) NodeOption {
	return func(n *Node) { n.fallback = fn }
}

// WithMaxRetries bounds the total number of execute attempts. Values below 1
// are clamped to 1 (a single attempt, no retry).
func WithMaxRetries(n int) NodeOption {
	return func(node *Node) {
		if n < 1 {
			n = 1
		}
		node.maxRetries = n
	}
}

// WithWait sets the pause between consecutive execute attempts. No wait ever
// occurs before the first attempt.
func WithWait(d time.Duration) NodeOption {
	return func(n *Node) {
		if d < 0 {
			d = 0
		}
		n.wait = d
	}
}

// WithActions declares the complete set of action labels this node's
// finalize phase can return. The declaration is optional; when present,
// Flow.Validate checks every label against the transition table.
func WithActions(actions ...Action) NodeOption {
	return func(n *Node) { n.actions = actions }
}

// NewNode builds a node. Missing phases default to: nil prepared input, a
// pass-through execute returning the prepared input, and a finalize that
// returns DefaultAction without touching the store.
func NewNode(name string, opts ...NodeOption) *Node {
	n := &Node{name: name, maxRetries: 1}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns the diagnostic name.
func (n *Node) Name() string { return n.name }

// Actions returns the declared action label set, nil when undeclared.
func (n *Node) Actions() []Action { return n.actions }

// MaxRetries returns the configured attempt bound.
func (n *Node) MaxRetries() int { return n.maxRetries }

// Wait returns the configured inter-attempt pause.
func (n *Node) Wait() time.Duration { return n.wait }

// Run executes the full lifecycle once: prepare, execute under the retry
// policy, finalize. It returns the routing action, or the structured error
// that aborted the invocation.
func (n *Node) Run(ctx context.Context, store *Store) (Action, error) {
	obs := observerFrom(ctx)
	obs.NodeStarted(n.name)
	started := time.Now()

	action, err := n.runLifecycle(ctx, store)

	obs.NodeFinished(n.name, action, err, time.Since(started))
	return action, err
}

func (n *Node) runLifecycle(ctx context.Context, store *Store) (Action, error) {
	var input any
	if n.prep != nil {
		prepared, err := n.prep(ctx, store)
		if err != nil {
			return "", newError(ErrCodePrep, n.name, "prepare failed").withCause(err)
		}
		input = prepared
	}

	result, err := runWithRetry(ctx, n.name, input, n.exec, n.fallback, n.maxRetries, n.wait)
	if err != nil {
		return "", err
	}

	if n.post == nil {
		return DefaultAction, nil
	}
	action, err := n.post(ctx, store, input, result)
	if err != nil {
		return "", newError(ErrCodePost, n.name, "finalize failed").withCause(err)
	}
	if action == "" {
		action = DefaultAction
	}
	return action, nil
}

// runWithRetry drives the bounded retry loop around exec and routes
// exhaustion into fallback. It is shared by Node and the per-item execution
// of the batch variants. A nil exec passes the input through unchanged.
func runWithRetry(ctx context.Context, node string, input any, exec ExecRetryFunc, fallback FallbackFunc, maxRetries int, wait time.Duration) (any, error) {
	if exec == nil {
		return input, nil
	}
	obs := observerFrom(ctx)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			obs.RetryScheduled(node, attempt, wait, lastErr)
			if err := sleepRetry(ctx, wait); err != nil {
				return nil, newError(ErrCodeCancelled, node, "cancelled between attempts").
					withCause(err).withAttempts(attempt)
			}
		}
		result, err := exec(ctx, input, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}

	if fallback == nil {
		return nil, newError(ErrCodeExecExhausted, node, "execute failed after retries").
			withCause(lastErr).withAttempts(maxRetries)
	}
	obs.FallbackInvoked(node, lastErr)
	result, err := fallback(ctx, input, lastErr)
	if err != nil {
		return nil, newError(ErrCodeFallback, node, "fallback failed").
			withCause(errors.Join(lastErr, err)).withAttempts(maxRetries)
	}
	return result, nil
}

// sleepRetry pauses for the inter-attempt wait, honoring cancellation.
func sleepRetry(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
