package flow

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// ParallelBatchNode is the concurrent counterpart of BatchNode: the same
// item expansion, per-item retry policy, and fallback, but the items execute
// concurrently under an optional bound. Results are aggregated in input
// order regardless of completion order. The first unrecoverable item failure
// fails the batch and cancels the context seen by outstanding items;
// abandoned items are reported through the cancel hook, best-effort.
//
// Per-item execute and fallback functions run concurrently and must not
// write the shared store. Publish through the finalize phase, which runs
// alone after every item has settled.
type ParallelBatchNode struct {
	name string
	spec batchSpec
}

// NewParallelBatchNode builds a concurrent batch node. It accepts the same
// options as NewBatchNode plus WithBatchConcurrency and WithBatchCancelHook.
func NewParallelBatchNode(name string, opts ...BatchNodeOption) *ParallelBatchNode {
	b := &ParallelBatchNode{name: name, spec: batchSpec{maxRetries: 1}}
	for _, opt := range opts {
		opt(&b.spec)
	}
	return b
}

// Name returns the diagnostic name.
func (b *ParallelBatchNode) Name() string { return b.name }

// Run executes the batch lifecycle with concurrent per-item execution.
func (b *ParallelBatchNode) Run(ctx context.Context, store *Store) (Action, error) {
	obs := observerFrom(ctx)
	obs.NodeStarted(b.name)
	started := time.Now()

	action, err := b.run(ctx, store)

	obs.NodeFinished(b.name, action, err, time.Since(started))
	return action, err
}

func (b *ParallelBatchNode) run(ctx context.Context, store *Store) (Action, error) {
	obs := observerFrom(ctx)

	var items []any
	if b.spec.prep != nil {
		prepared, err := b.spec.prep(ctx, store)
		if err != nil {
			return "", newError(ErrCodePrep, b.name, "prepare failed").withCause(err)
		}
		items = prepared
	}

	results := make([]any, len(items))
	g, gctx := errgroup.WithContext(ctx)
	if b.spec.concurrency > 0 {
		g.SetLimit(b.spec.concurrency)
	}
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				b.abandon(i, item)
				return newError(ErrCodeCancelled, b.name, "batch cancelled").
					withCause(err).withIndex(i)
			}
			obs.BatchItemStarted(b.name, i)
			result, err := runWithRetry(gctx, b.name, item, b.spec.exec, b.spec.fallback, b.spec.maxRetries, b.spec.wait)
			obs.BatchItemFinished(b.name, i, err)
			if err != nil {
				if IsCancelled(err) {
					b.abandon(i, item)
					return err
				}
				return batchItemError(b.name, i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Partial results are discarded; the store was never touched.
		return "", err
	}

	return finishBatchItems(ctx, store, b.name, &b.spec, items, results)
}

func (b *ParallelBatchNode) abandon(index int, item any) {
	if b.spec.cancelHook != nil {
		b.spec.cancelHook(index, item)
	}
}

// ParallelBatchFlow is the concurrent counterpart of BatchFlow: one full
// traversal of the wrapped flow per parameter set, with the traversals
// running concurrently under an optional bound. Each iteration traverses an
// isolated fork of the store seeded with its parameter set, so concurrent
// iterations never observe each other's writes. On full success the forks
// are merged back in input order, last writer wins unless a merge policy is
// installed; on failure every fork is discarded and the store keeps its
// pre-run state.
type ParallelBatchFlow struct {
	name string
	sub  Runner
	spec batchFlowSpec
}

// NewParallelBatchFlow wraps sub, typically a *Flow, as a concurrent batch
// unit. It accepts the same options as NewBatchFlow plus WithFlowConcurrency
// and WithFlowMergePolicy.
func NewParallelBatchFlow(name string, sub Runner, opts ...BatchFlowOption) *ParallelBatchFlow {
	f := &ParallelBatchFlow{name: name, sub: sub}
	for _, opt := range opts {
		opt(&f.spec)
	}
	return f
}

// Name returns the diagnostic name.
func (f *ParallelBatchFlow) Name() string { return f.name }

// Run produces the parameter sets, traverses the wrapped flow concurrently
// on per-iteration store forks, and merges the forks on success.
func (f *ParallelBatchFlow) Run(ctx context.Context, store *Store) (Action, error) {
	obs := observerFrom(ctx)
	obs.NodeStarted(f.name)
	started := time.Now()

	action, err := f.run(ctx, store)

	obs.NodeFinished(f.name, action, err, time.Since(started))
	return action, err
}

func (f *ParallelBatchFlow) run(ctx context.Context, store *Store) (Action, error) {
	obs := observerFrom(ctx)

	var params []map[string]any
	if f.spec.params != nil {
		produced, err := f.spec.params(ctx, store)
		if err != nil {
			return "", newError(ErrCodePrep, f.name, "prepare failed").withCause(err)
		}
		params = produced
	}

	// Forks are created before fan-out so the base store is never touched
	// concurrently. Goroutines only write their own fork and slice slot.
	scratches := make([]*Store, len(params))
	actions := make([]Action, len(params))
	for i, set := range params {
		scratch := store.Fork()
		scratch.SetAll(set)
		scratches[i] = scratch
	}

	g, gctx := errgroup.WithContext(ctx)
	if f.spec.concurrency > 0 {
		g.SetLimit(f.spec.concurrency)
	}
	for i := range params {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return newError(ErrCodeCancelled, f.name, "batch cancelled").
					withCause(err).withIndex(i)
			}
			obs.BatchItemStarted(f.name, i)
			action, err := f.sub.Run(gctx, scratches[i])
			obs.BatchItemFinished(f.name, i, err)
			if err != nil {
				if IsCancelled(err) {
					return err
				}
				return batchItemError(f.name, i, err)
			}
			actions[i] = action
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Scratch forks are discarded; the base store keeps its pre-run
		// state.
		return "", err
	}

	if f.spec.merge != nil {
		store.MergeWith(f.spec.merge, scratches...)
	} else {
		store.Merge(scratches...)
	}
	obs.ScratchMerged(f.name, len(scratches))

	return finishBatchFlow(ctx, store, f.name, &f.spec, params, actions)
}
