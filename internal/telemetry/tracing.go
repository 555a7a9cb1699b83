// =============================================================================
// MarketFlow Workflow Tracing Observer
// =============================================================================
// Mirrors workflow lifecycle callbacks into OpenTelemetry spans: one span per
// flow traversal and per node lifecycle, with retry, fallback, batch-item and
// scratch-merge activity attached as span events.
// =============================================================================

package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BaSui01/marketflow/flow"
)

const instrumentationName = "github.com/BaSui01/marketflow/internal/telemetry"

// Observer converts workflow lifecycle events into spans. Lifecycle
// callbacks carry unit names rather than contexts, so parentage is
// reconstructed from a stack of open spans: each new span is parented to the
// innermost span open at its start. Sequential traversals nest exactly;
// concurrent batch iterations attach to the batch unit's span as an
// approximate parent.
//
// Safe for concurrent use. One Observer should cover one run tree at a time;
// create a fresh Observer per run to keep traces of concurrent runs apart.
type Observer struct {
	tracer trace.Tracer

	mu     sync.Mutex
	stacks map[string][]*spanEntry
	active []*spanEntry
}

type spanEntry struct {
	key  string
	span trace.Span
}

// NewObserver creates a tracing observer backed by the global tracer
// provider. With telemetry disabled the global provider is noop and the
// observer costs close to nothing.
func NewObserver() *Observer {
	return &Observer{
		tracer: otel.Tracer(instrumentationName),
		stacks: make(map[string][]*spanEntry),
	}
}

var _ flow.Observer = (*Observer)(nil)

// FlowStarted opens a span for the flow traversal.
func (o *Observer) FlowStarted(name string) {
	o.push("flow:"+name, "flow."+name, attribute.String("marketflow.flow", name))
}

// FlowFinished closes the flow span with its result action and status.
func (o *Observer) FlowFinished(name string, action flow.Action, err error, elapsed time.Duration) {
	if span := o.pop("flow:" + name); span != nil {
		finishSpan(span, string(action), err)
	}
}

// NodeStarted opens a span for the unit lifecycle.
func (o *Observer) NodeStarted(name string) {
	o.push("node:"+name, "node."+name, attribute.String("marketflow.node", name))
}

// NodeFinished closes the unit span with its result action and status.
func (o *Observer) NodeFinished(name string, action flow.Action, err error, elapsed time.Duration) {
	if span := o.pop("node:" + name); span != nil {
		finishSpan(span, string(action), err)
	}
}

// RetryScheduled attaches a retry event to the unit's open span.
func (o *Observer) RetryScheduled(name string, attempt int, wait time.Duration, cause error) {
	if span := o.peek("node:" + name); span != nil {
		span.AddEvent("retry scheduled", trace.WithAttributes(
			attribute.Int("marketflow.attempt", attempt),
			attribute.String("marketflow.wait", wait.String()),
			attribute.String("marketflow.cause", cause.Error()),
		))
	}
}

// FallbackInvoked attaches a fallback event to the unit's open span.
func (o *Observer) FallbackInvoked(name string, cause error) {
	if span := o.peek("node:" + name); span != nil {
		span.AddEvent("fallback invoked", trace.WithAttributes(
			attribute.String("marketflow.cause", cause.Error()),
		))
	}
}

// BatchItemStarted attaches an item-start event to the batch unit's span.
func (o *Observer) BatchItemStarted(name string, index int) {
	if span := o.peek("node:" + name); span != nil {
		span.AddEvent("batch item started", trace.WithAttributes(
			attribute.Int("marketflow.item", index),
		))
	}
}

// BatchItemFinished attaches an item-finish event to the batch unit's span.
func (o *Observer) BatchItemFinished(name string, index int, err error) {
	if span := o.peek("node:" + name); span != nil {
		attrs := []attribute.KeyValue{attribute.Int("marketflow.item", index)}
		if err != nil {
			attrs = append(attrs, attribute.String("marketflow.error", err.Error()))
		}
		span.AddEvent("batch item finished", trace.WithAttributes(attrs...))
	}
}

// ScratchMerged attaches a merge event to the batch unit's span.
func (o *Observer) ScratchMerged(name string, forks int) {
	if span := o.peek("node:" + name); span != nil {
		span.AddEvent("scratch merged", trace.WithAttributes(
			attribute.Int("marketflow.forks", forks),
		))
	}
}

func (o *Observer) push(key, spanName string, attrs ...attribute.KeyValue) {
	o.mu.Lock()
	defer o.mu.Unlock()

	parent := context.Background()
	if n := len(o.active); n > 0 {
		parent = trace.ContextWithSpan(parent, o.active[n-1].span)
	}
	_, span := o.tracer.Start(parent, spanName, trace.WithAttributes(attrs...))

	entry := &spanEntry{key: key, span: span}
	o.stacks[key] = append(o.stacks[key], entry)
	o.active = append(o.active, entry)
}

func (o *Observer) pop(key string) trace.Span {
	o.mu.Lock()
	defer o.mu.Unlock()

	stack := o.stacks[key]
	if len(stack) == 0 {
		return nil
	}
	entry := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(o.stacks, key)
	} else {
		o.stacks[key] = stack[:len(stack)-1]
	}
	for i := len(o.active) - 1; i >= 0; i-- {
		if o.active[i] == entry {
			o.active = append(o.active[:i], o.active[i+1:]...)
			break
		}
	}
	return entry.span
}

func (o *Observer) peek(key string) trace.Span {
	o.mu.Lock()
	defer o.mu.Unlock()

	stack := o.stacks[key]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1].span
}

func finishSpan(span trace.Span, action string, err error) {
	span.SetAttributes(attribute.String("marketflow.action", action))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
