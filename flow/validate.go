package flow

import (
	"errors"
	"fmt"
	"sort"
)

// graphValidator lets composite units expose their wiring to a validation
// pass that spans nested flows. The visiting set breaks cycles introduced by
// flows that contain themselves, directly or through wrappers.
type graphValidator interface {
	validateGraph(visiting map[*Flow]struct{}) error
}

// Validate checks the flow's wiring without running it. It reports a joined
// error listing every problem found: a missing start unit, transitions
// registered on units the start can never reach, and declared actions that
// have neither a transition nor a terminal declaration. Nested flows are
// validated recursively. A nil return means the graph is runnable; label
// cycles are legal and not reported.
func (f *Flow) Validate() error {
	return f.validateGraph(make(map[*Flow]struct{}))
}

func (f *Flow) validateGraph(visiting map[*Flow]struct{}) error {
	if _, ok := visiting[f]; ok {
		return nil
	}
	visiting[f] = struct{}{}

	if f.start == nil {
		return newError(ErrCodeInvalidGraph, "", "flow has no start unit").withFlow(f.name)
	}

	reachable, order := f.reachableFromStart()

	var problems []error
	for _, unit := range order {
		decl, ok := unit.(interface{ Actions() []Action })
		if !ok {
			continue
		}
		for _, action := range decl.Actions() {
			if _, wired := f.transitions[unit][action]; wired {
				continue
			}
			if _, terminal := f.terminals[action]; terminal {
				continue
			}
			problems = append(problems, newError(ErrCodeInvalidGraph, unit.Name(),
				fmt.Sprintf("declared action %q has no transition and is not terminal", action)).
				withFlow(f.name))
		}
	}

	var orphaned []string
	for source := range f.transitions {
		if _, ok := reachable[source]; !ok {
			orphaned = append(orphaned, source.Name())
		}
	}
	sort.Strings(orphaned)
	for _, name := range orphaned {
		problems = append(problems, newError(ErrCodeInvalidGraph, name,
			"transitions registered on a unit unreachable from start").withFlow(f.name))
	}

	for _, unit := range order {
		if sub, ok := unit.(graphValidator); ok {
			if err := sub.validateGraph(visiting); err != nil {
				problems = append(problems, err)
			}
		}
	}

	return errors.Join(problems...)
}

// reachableFromStart walks the transition graph from the start unit and
// returns the reachable set plus a deterministic visit order.
func (f *Flow) reachableFromStart() (map[Runner]struct{}, []Runner) {
	reachable := make(map[Runner]struct{})
	var order []Runner

	stack := []Runner{f.start}
	for len(stack) > 0 {
		unit := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := reachable[unit]; seen {
			continue
		}
		reachable[unit] = struct{}{}
		order = append(order, unit)

		targets := f.transitions[unit]
		actions := make([]Action, 0, len(targets))
		for action := range targets {
			actions = append(actions, action)
		}
		sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
		// Reverse push keeps the visit order aligned with sorted labels.
		for i := len(actions) - 1; i >= 0; i-- {
			stack = append(stack, targets[actions[i]])
		}
	}
	return reachable, order
}

// Validate checks the wiring of the wrapped flow, if it is validatable.
func (f *BatchFlow) Validate() error {
	return validateSub(f.sub, make(map[*Flow]struct{}))
}

func (f *BatchFlow) validateGraph(visiting map[*Flow]struct{}) error {
	return validateSub(f.sub, visiting)
}

// Validate checks the wiring of the wrapped flow, if it is validatable.
func (f *ParallelBatchFlow) Validate() error {
	return validateSub(f.sub, make(map[*Flow]struct{}))
}

func (f *ParallelBatchFlow) validateGraph(visiting map[*Flow]struct{}) error {
	return validateSub(f.sub, visiting)
}

func validateSub(sub Runner, visiting map[*Flow]struct{}) error {
	if gv, ok := sub.(graphValidator); ok {
		return gv.validateGraph(visiting)
	}
	return nil
}
