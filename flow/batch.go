package flow

import (
	"context"
	"time"
)

// BatchPrepFunc is the prepare phase of a batch unit: it returns the ordered
// sub-item sequence the execute phase runs once per element. Cardinality and
// ordering are caller-determined and preserved in the aggregation.
type BatchPrepFunc func(ctx context.Context, store *Store) ([]any, error)

// BatchPostFunc is the finalize phase of a batch unit: it receives the input
// items and the per-item execute results, index-aligned with the inputs, and
// produces the unit's single aggregate action label.
type BatchPostFunc func(ctx context.Context, store *Store, items, results []any) (Action, error)

// CancelHookFunc is invoked by the parallel variants, best-effort, for every
// sub-item abandoned when a sibling's unrecoverable failure cancels the
// batch.
type CancelHookFunc func(index int, item any)

// batchSpec is the shared configuration of BatchNode and ParallelBatchNode.
type batchSpec struct {
	prep        BatchPrepFunc
	exec        ExecRetryFunc
	post        BatchPostFunc
	fallback    FallbackFunc
	maxRetries  int
	wait        time.Duration
	concurrency int
	cancelHook  CancelHookFunc
}

// BatchNodeOption configures a BatchNode or ParallelBatchNode.
type BatchNodeOption func(*batchSpec)

// WithBatchPrep sets the item-producing prepare phase.
func WithBatchPrep(fn BatchPrepFunc) BatchNodeOption {
	return func(s *batchSpec) { s.prep = fn }
}

// WithBatchExec sets the per-item execute phase. The input is one sub-item.
func WithBatchExec(fn ExecFunc) BatchNodeOption {
	return func(s *batchSpec) {
		if fn == nil {
			s.exec = nil
			return
		}
		s.exec = func(ctx context.Context, item any, _ int) (any, error) {
			return fn(ctx, item)
		}
	}
}

// WithBatchExecRetry sets a per-item execute phase that observes the
// zero-based retry index of each attempt.
func WithBatchExecRetry(fn ExecRetryFunc) BatchNodeOption {
	return func(s *batchSpec) { s.exec = fn }
}

// WithBatchPost sets the aggregating finalize phase.
func WithBatchPost(fn BatchPostFunc) BatchNodeOption {
	return func(s *batchSpec) { s.post = fn }
}

// WithBatchFallback sets the per-item fallback, invoked for a sub-item whose
// execute attempts are all exhausted. Its result stands in for that item's
// execute result.
func WithBatchFallback(fn FallbackFunc) BatchNodeOption {
	return func(s *batchSpec) { s.fallback = fn }
}

// WithBatchMaxRetries bounds execute attempts per sub-item. Values below 1
// are clamped to 1.
func WithBatchMaxRetries(n int) BatchNodeOption {
	return func(s *batchSpec) {
		if n < 1 {
			n = 1
		}
		s.maxRetries = n
	}
}

// WithBatchWait sets the pause between a sub-item's consecutive attempts.
func WithBatchWait(d time.Duration) BatchNodeOption {
	return func(s *batchSpec) {
		if d < 0 {
			d = 0
		}
		s.wait = d
	}
}

// WithBatchConcurrency bounds the fan-out of a ParallelBatchNode. Zero means
// unbounded. Sequential BatchNodes ignore it.
func WithBatchConcurrency(n int) BatchNodeOption {
	return func(s *batchSpec) {
		if n < 0 {
			n = 0
		}
		s.concurrency = n
	}
}

// WithBatchCancelHook installs the per-item cancellation hook of a
// ParallelBatchNode. Sequential BatchNodes ignore it.
func WithBatchCancelHook(fn CancelHookFunc) BatchNodeOption {
	return func(s *batchSpec) { s.cancelHook = fn }
}

// BatchNode expands one logical unit into an ordered sequence of sub-items
// and runs the node lifecycle once per item, sequentially and in input
// order. Every item gets its own independent retry loop and fallback; the
// first unrecoverable item failure aborts the remaining items and fails the
// whole batch.
type BatchNode struct {
	name string
	spec batchSpec
}

// NewBatchNode builds a sequential batch node.
func NewBatchNode(name string, opts ...BatchNodeOption) *BatchNode {
	b := &BatchNode{name: name, spec: batchSpec{maxRetries: 1}}
	for _, opt := range opts {
		opt(&b.spec)
	}
	return b
}

// Name returns the diagnostic name.
func (b *BatchNode) Name() string { return b.name }

// Run executes the batch lifecycle: prepare the item sequence, execute each
// item in order under the retry policy, finalize with the ordered results.
func (b *BatchNode) Run(ctx context.Context, store *Store) (Action, error) {
	obs := observerFrom(ctx)
	obs.NodeStarted(b.name)
	started := time.Now()

	action, err := b.run(ctx, store)

	obs.NodeFinished(b.name, action, err, time.Since(started))
	return action, err
}

func (b *BatchNode) run(ctx context.Context, store *Store) (Action, error) {
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
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return "", newError(ErrCodeCancelled, b.name, "batch cancelled").
				withCause(err).withIndex(i)
		}
		obs.BatchItemStarted(b.name, i)
		result, err := runWithRetry(ctx, b.name, item, b.spec.exec, b.spec.fallback, b.spec.maxRetries, b.spec.wait)
		obs.BatchItemFinished(b.name, i, err)
		if err != nil {
			return "", batchItemError(b.name, i, err)
		}
		results[i] = result
	}

	return finishBatchItems(ctx, store, b.name, &b.spec, items, results)
}

func finishBatchItems(ctx context.Context, store *Store, name string, spec *batchSpec, items, results []any) (Action, error) {
	if spec.post == nil {
		return DefaultAction, nil
	}
	action, err := spec.post(ctx, store, items, results)
	if err != nil {
		return "", newError(ErrCodePost, name, "finalize failed").withCause(err)
	}
	if action == "" {
		action = DefaultAction
	}
	return action, nil
}

// batchItemError tags an unrecoverable sub-item failure with its input index.
func batchItemError(node string, index int, err error) error {
	return newError(ErrCodeBatchItem, node, "batch item failed").
		withCause(err).withIndex(index)
}

// BatchParamsFunc returns the ordered parameter sets of a batch flow, one
// full sub-flow traversal per set.
type BatchParamsFunc func(ctx context.Context, store *Store) ([]map[string]any, error)

// BatchFlowPostFunc aggregates the per-iteration flow results of a batch
// flow into its single action label. actions is index-aligned with params.
type BatchFlowPostFunc func(ctx context.Context, store *Store, params []map[string]any, actions []Action) (Action, error)

// batchFlowSpec is the shared configuration of BatchFlow and
// ParallelBatchFlow.
type batchFlowSpec struct {
	params      BatchParamsFunc
	post        BatchFlowPostFunc
	concurrency int
	merge       MergeFunc
}

// BatchFlowOption configures a BatchFlow or ParallelBatchFlow.
type BatchFlowOption func(*batchFlowSpec)

// WithBatchParams sets the parameter-set producer.
func WithBatchParams(fn BatchParamsFunc) BatchFlowOption {
	return func(s *batchFlowSpec) { s.params = fn }
}

// WithBatchFlowPost sets the aggregating finalize phase. Absent, the batch
// flow's result is the last iteration's action (DefaultAction when the
// parameter list is empty).
func WithBatchFlowPost(fn BatchFlowPostFunc) BatchFlowOption {
	return func(s *batchFlowSpec) { s.post = fn }
}

// WithFlowConcurrency bounds the fan-out of a ParallelBatchFlow. Zero means
// unbounded. Sequential BatchFlows ignore it.
func WithFlowConcurrency(n int) BatchFlowOption {
	return func(s *batchFlowSpec) {
		if n < 0 {
			n = 0
		}
		s.concurrency = n
	}
}

// WithFlowMergePolicy sets the reducer a ParallelBatchFlow resolves
// conflicting scratch writes with. Absent, merges are last-writer-wins in
// input order. Sequential BatchFlows ignore it.
func WithFlowMergePolicy(fn MergeFunc) BatchFlowOption {
	return func(s *batchFlowSpec) { s.merge = fn }
}

// BatchFlow runs a wrapped flow's full graph traversal once per parameter
// set, sequentially. All iterations share the same store: each set is merged
// into the store before its traversal, and mutations remain visible to
// subsequent iterations. State is deliberately not snapshotted between
// iterations.
type BatchFlow struct {
	name string
	sub  Runner
	spec batchFlowSpec
}

// NewBatchFlow wraps sub, typically a *Flow, as a sequential batch unit.
func NewBatchFlow(name string, sub Runner, opts ...BatchFlowOption) *BatchFlow {
	f := &BatchFlow{name: name, sub: sub}
	for _, opt := range opts {
		opt(&f.spec)
	}
	return f
}

// Name returns the diagnostic name.
func (f *BatchFlow) Name() string { return f.name }

// Run produces the parameter sets, traverses the wrapped flow once per set
// in order, and aggregates the iteration results.
func (f *BatchFlow) Run(ctx context.Context, store *Store) (Action, error) {
	obs := observerFrom(ctx)
	obs.NodeStarted(f.name)
	started := time.Now()

	action, err := f.run(ctx, store)

	obs.NodeFinished(f.name, action, err, time.Since(started))
	return action, err
}

func (f *BatchFlow) run(ctx context.Context, store *Store) (Action, error) {
	obs := observerFrom(ctx)

	var params []map[string]any
	if f.spec.params != nil {
		produced, err := f.spec.params(ctx, store)
		if err != nil {
			return "", newError(ErrCodePrep, f.name, "prepare failed").withCause(err)
		}
		params = produced
	}

	actions := make([]Action, len(params))
	for i, set := range params {
		if err := ctx.Err(); err != nil {
			return "", newError(ErrCodeCancelled, f.name, "batch cancelled").
				withCause(err).withIndex(i)
		}
		obs.BatchItemStarted(f.name, i)
		store.SetAll(set)
		action, err := f.sub.Run(ctx, store)
		obs.BatchItemFinished(f.name, i, err)
		if err != nil {
			return "", batchItemError(f.name, i, err)
		}
		actions[i] = action
	}

	return finishBatchFlow(ctx, store, f.name, &f.spec, params, actions)
}

func finishBatchFlow(ctx context.Context, store *Store, name string, spec *batchFlowSpec, params []map[string]any, actions []Action) (Action, error) {
	if spec.post == nil {
		if len(actions) == 0 {
			return DefaultAction, nil
		}
		return actions[len(actions)-1], nil
	}
	action, err := spec.post(ctx, store, params, actions)
	if err != nil {
		return "", newError(ErrCodePost, name, "finalize failed").withCause(err)
	}
	if action == "" {
		action = DefaultAction
	}
	return action, nil
}
