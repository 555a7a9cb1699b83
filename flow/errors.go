package flow

import (
	"context"
	"errors"
	"fmt"
)

// ErrCode classifies where in the lifecycle a failure originated.
type ErrCode string

const (
	// ErrCodePrep marks a failure in the prepare phase. Not retried.
	ErrCodePrep ErrCode = "prep_failed"
	// ErrCodeExecExhausted marks an execute phase that failed every attempt
	// and had no fallback (or none that could run).
	ErrCodeExecExhausted ErrCode = "exec_exhausted"
	// ErrCodeFallback marks a fallback hook that itself failed after retry
	// exhaustion. The original execute error remains reachable via errors.Is.
	ErrCodeFallback ErrCode = "fallback_failed"
	// ErrCodePost marks a failure in the finalize phase. Not retried.
	ErrCodePost ErrCode = "post_failed"
	// ErrCodeBatchItem marks an unrecoverable sub-item failure inside a batch
	// operation. BatchIndex identifies the item.
	ErrCodeBatchItem ErrCode = "batch_item_failed"
	// ErrCodeFlowFallback marks a flow-level fallback hook that failed.
	ErrCodeFlowFallback ErrCode = "flow_fallback_failed"
	// ErrCodeCancelled marks an execution cut short by context cancellation.
	ErrCodeCancelled ErrCode = "cancelled"
	// ErrCodeInvalidGraph marks a structural problem detected at build or
	// validation time (nil start, dead labels, unreachable targets).
	ErrCodeInvalidGraph ErrCode = "invalid_graph"
)

// Error is the structured failure the engine propagates to callers. It
// records which unit raised the failure and, for batch operations, which
// sub-item, so callers can diagnose a run without re-tracing the graph.
type Error struct {
	// Code classifies the failing lifecycle stage.
	Code ErrCode
	// Node is the name of the unit that raised the failure.
	Node string
	// Flow is the name of the innermost flow the failure escaped from.
	// Empty for a unit run outside any flow.
	Flow string
	// Attempts is the number of execute attempts made, when applicable.
	Attempts int
	// BatchIndex is the zero-based input index of the failing sub-item,
	// or -1 when the failure is not item-scoped.
	BatchIndex int
	// Message is a short human-readable description.
	Message string
	// Cause is the underlying error, reachable through errors.Unwrap.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	where := e.Node
	if e.Flow != "" && e.Node != "" {
		where = e.Flow + "/" + e.Node
	} else if e.Flow != "" {
		where = e.Flow
	}
	out := msg
	if where != "" {
		out = fmt.Sprintf("%s: %s", where, msg)
	}
	if e.BatchIndex >= 0 {
		out = fmt.Sprintf("%s (item %d)", out, e.BatchIndex)
	}
	if e.Cause != nil {
		out = fmt.Sprintf("%s: %v", out, e.Cause)
	}
	return out
}

// Unwrap exposes the underlying cause to errors.Is and errors.As.
func (e *Error) Unwrap() error { return e.Cause }

func newError(code ErrCode, node, message string) *Error {
	return &Error{Code: code, Node: node, Message: message, BatchIndex: -1}
}

// withCause attaches the underlying error.
func (e *Error) withCause(cause error) *Error {
	e.Cause = cause
	return e
}

// withAttempts records how many execute attempts were made.
func (e *Error) withAttempts(n int) *Error {
	e.Attempts = n
	return e
}

// withIndex records the failing sub-item index.
func (e *Error) withIndex(i int) *Error {
	e.BatchIndex = i
	return e
}

// withFlow records the innermost flow the failure escaped from.
func (e *Error) withFlow(name string) *Error {
	e.Flow = name
	return e
}

// CodeOf extracts the ErrCode from err, unwrapping as needed. It returns ""
// when err carries no engine error.
func CodeOf(err error) ErrCode {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCancelled reports whether err stems from context cancellation, either as
// an engine-tagged cancellation or a raw context error.
func IsCancelled(err error) bool {
	if CodeOf(err) == ErrCodeCancelled {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
