package flow

import (
	"context"
	"errors"
	"time"
)

// Action is the string label a unit's finalize phase returns to select the
// next transition.
type Action string

// DefaultAction is the label used when a unit does not specify one.
const DefaultAction Action = "default"

// Runner is the polymorphic unit of execution: run one full lifecycle
// against the shared store and return the routing action. Both *Node and
// *Flow satisfy it, which is what makes flows nestable as composite units
// inside larger flows.
type Runner interface {
	Name() string
	Run(ctx context.Context, store *Store) (Action, error)
}

// FlowFallbackFunc is an optional flow-level recovery hook. It sees only
// errors escaping the graph traversal itself: prepare/finalize failures and
// execute failures whose node-level retries and fallback are already
// exhausted. Failures a node-level fallback recovered never reach it. A nil
// returned error resumes the caller with the returned action as the flow's
// result.
type FlowFallbackFunc func(ctx context.Context, store *Store, err error) (Action, error)

// Flow is a named directed graph of runnable units connected by
// action-labeled edges. Traversal starts at the start unit and follows
// exact-match (source, label) transitions until a label has no registered
// target, which terminates the flow normally with that label as its result.
//
// The engine places no cap on traversal length: a cyclic transition table
// loops until a label breaks the cycle or the context is cancelled. Cycle
// prevention is the graph author's responsibility.
type Flow struct {
	name        string
	start       Runner
	transitions map[Runner]map[Action]Runner
	terminals   map[Action]struct{}
	fallback    FlowFallbackFunc
}

// NewFlow creates an empty flow.
func NewFlow(name string) *Flow {
	return &Flow{
		name:        name,
		transitions: make(map[Runner]map[Action]Runner),
	}
}

// Name returns the flow name.
func (f *Flow) Name() string { return f.name }

// Start designates the unit traversal begins at.
func (f *Flow) Start(r Runner) *Flow {
	f.start = r
	return f
}

// Connect registers the transition (source, label) → target. Registering the
// same pair again replaces the target. Lookup at run time is exact-match:
// the default label is just another key, never a wildcard.
func (f *Flow) Connect(source Runner, label Action, target Runner) *Flow {
	if label == "" {
		label = DefaultAction
	}
	edges, ok := f.transitions[source]
	if !ok {
		edges = make(map[Action]Runner)
		f.transitions[source] = edges
	}
	edges[label] = target
	return f
}

// ConnectDefault registers (source, DefaultAction) → target.
func (f *Flow) ConnectDefault(source, target Runner) *Flow {
	return f.Connect(source, DefaultAction, target)
}

// Terminal declares labels that are accepted flow results even when a unit
// declares them and no transition is registered. Purely a validation aid;
// run-time behavior never depends on it.
func (f *Flow) Terminal(labels ...Action) *Flow {
	if f.terminals == nil {
		f.terminals = make(map[Action]struct{})
	}
	for _, l := range labels {
		f.terminals[l] = struct{}{}
	}
	return f
}

// WithFallback installs the flow-level recovery hook.
func (f *Flow) WithFallback(fn FlowFallbackFunc) *Flow {
	f.fallback = fn
	return f
}

// Successor returns the transition target for (source, label), if any.
func (f *Flow) Successor(source Runner, label Action) (Runner, bool) {
	target, ok := f.transitions[source][label]
	return target, ok
}

// Run traverses the graph: run the current unit's full lifecycle, take its
// action label, look up (current, label). Found, the target becomes current;
// not found, the flow terminates normally returning that last label.
//
// When the flow is nested inside another flow, the returned action is the
// composite unit's result for the outer flow's routing, so composition is
// behavior-preserving.
func (f *Flow) Run(ctx context.Context, store *Store) (Action, error) {
	obs := observerFrom(ctx)
	obs.FlowStarted(f.name)
	started := time.Now()

	action, err := f.orchestrate(ctx, store)
	if err != nil && f.fallback != nil {
		action, err = f.recover(ctx, store, err)
	}

	obs.FlowFinished(f.name, action, err, time.Since(started))
	return action, err
}

func (f *Flow) orchestrate(ctx context.Context, store *Store) (Action, error) {
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

		action, err := current.Run(ctx, store)
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

// recover routes a traversal-level failure through the flow fallback.
func (f *Flow) recover(ctx context.Context, store *Store, cause error) (Action, error) {
	action, err := f.fallback(ctx, store, cause)
	if err != nil {
		return "", newError(ErrCodeFlowFallback, "", "flow fallback failed").
			withCause(errors.Join(cause, err)).withFlow(f.name)
	}
	if action == "" {
		action = DefaultAction
	}
	return action, nil
}

// wrap stamps the flow name onto an escaping engine error so callers can see
// which graph a nested failure surfaced from. Errors from nested flows keep
// their inner flow name.
func (f *Flow) wrap(err error) error {
	var fe *Error
	if errors.As(err, &fe) && fe.Flow == "" {
		fe.Flow = f.name
	}
	return err
}
