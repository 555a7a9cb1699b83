// Copyright (c) MarketFlow Authors.
// Licensed under the MIT License.

// Package flow implements a minimal task-graph execution engine built on the
// "graph + shared store" model: nodes with a three-phase lifecycle
// (prepare, execute, finalize) are connected by action-labeled edges and
// exchange data exclusively through a shared key-value store passed by
// reference through the whole run.
//
// The execute phase of every node is wrapped by a bounded retry loop with an
// optional fallback hook; prepare and finalize failures are fatal for the
// invocation. A Flow drives traversal from its start unit until a node's
// action label has no registered transition, which is the normal way a run
// ends. Flows satisfy the same Runner contract as nodes, so entire graphs can
// be nested as composite units inside larger graphs.
//
// Batch variants expand one logical unit into an ordered item sequence
// processed under the same lifecycle, sequentially (BatchNode, BatchFlow) or
// concurrently with bounded fan-out and order-preserving aggregation
// (ParallelBatchNode, ParallelBatchFlow). Async variants suspend
// cooperatively at phase boundaries while waiting on external completion
// without introducing any cross-node concurrency.
//
// The engine performs no I/O and emits no logs. Lifecycle visibility is
// provided through the Observer interface carried on the context; see
// WithObserver.
//
// Usage:
//
//	fetch := flow.NewNode("fetch",
//		flow.WithExec(func(ctx context.Context, in any) (any, error) {
//			return loadReport(ctx)
//		}),
//		flow.WithPost(func(ctx context.Context, s *flow.Store, in, res any) (flow.Action, error) {
//			s.Set("report", res)
//			return "default", nil
//		}),
//		flow.WithMaxRetries(3),
//		flow.WithWait(time.Second),
//	)
//	render := flow.NewNode("render", flow.WithExec(renderReport))
//
//	f := flow.NewFlow("reporting").Start(fetch).ConnectDefault(fetch, render)
//
//	store := flow.NewStore()
//	action, err := f.Run(ctx, store)
package flow
