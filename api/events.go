package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/flow"
)

// ============================================================
// Event stream
// ============================================================

// Event types published on the hub.
const (
	EventConnected         = "connected"
	EventRunSubmitted      = "run_submitted"
	EventRunFinished       = "run_finished"
	EventRunFailed         = "run_failed"
	EventFlowStarted       = "flow_started"
	EventFlowFinished      = "flow_finished"
	EventNodeStarted       = "node_started"
	EventNodeFinished      = "node_finished"
	EventRetryScheduled    = "retry_scheduled"
	EventFallbackInvoked   = "fallback_invoked"
	EventBatchItemStarted  = "batch_item_started"
	EventBatchItemFinished = "batch_item_finished"
	EventScratchMerged     = "scratch_merged"
)

// Event is one entry on the live run event feed.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	Flow      string    `json:"flow,omitempty"`
	Node      string    `json:"node,omitempty"`
	Action    string    `json:"action,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Index     int       `json:"index,omitempty"`
	Forks     int       `json:"forks,omitempty"`
	Error     string    `json:"error,omitempty"`
	Duration  string    `json:"duration,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHub fans run lifecycle events out to WebSocket subscribers. Publishing
// never blocks: a subscriber that cannot keep up has events dropped rather
// than stalling the run that produced them.
type EventHub struct {
	logger *zap.Logger
	buffer int

	mu     sync.RWMutex
	subs   map[*hubSubscriber]struct{}
	closed bool

	dropped atomic.Int64
}

type hubSubscriber struct {
	ch    chan Event
	runID string // empty matches every run
}

// NewEventHub creates a hub whose subscriber channels buffer up to buffer
// events each.
func NewEventHub(buffer int, logger *zap.Logger) *EventHub {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHub{
		logger: logger.With(zap.String("component", "event_hub")),
		buffer: buffer,
		subs:   make(map[*hubSubscriber]struct{}),
	}
}

// Subscribe registers a subscriber. When runID is non-empty, only events for
// that run are delivered. The cancel func releases the subscription and
// closes the channel; it is safe to call more than once.
func (h *EventHub) Subscribe(runID string) (<-chan Event, func()) {
	sub := &hubSubscriber{
		ch:    make(chan Event, h.buffer),
		runID: runID,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[sub]; ok {
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers ev to every matching subscriber without blocking.
func (h *EventHub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		if sub.runID != "" && sub.runID != ev.RunID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *EventHub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of events discarded for slow subscribers.
func (h *EventHub) Dropped() int64 {
	return h.dropped.Load()
}

// Close disconnects every subscriber and rejects further publishes.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// ============================================================
// Flow observer bridge
// ============================================================

// Observer returns a flow.Observer that publishes the run's lifecycle events
// to the hub. Wire it into an orchestrator via
// marketing.WithObserverFactory(hub.Observer).
func (h *EventHub) Observer(runID, flowName string) flow.Observer {
	return &hubObserver{hub: h, runID: runID, flow: flowName}
}

type hubObserver struct {
	hub   *EventHub
	runID string
	flow  string
}

func (o *hubObserver) publish(ev Event) {
	ev.RunID = o.runID
	if ev.Flow == "" {
		ev.Flow = o.flow
	}
	o.hub.Publish(ev)
}

func (o *hubObserver) FlowStarted(flowName string) {
	o.publish(Event{Type: EventFlowStarted, Flow: flowName})
}

func (o *hubObserver) FlowFinished(flowName string, action flow.Action, err error, elapsed time.Duration) {
	ev := Event{Type: EventFlowFinished, Flow: flowName, Action: string(action), Duration: elapsed.String()}
	if err != nil {
		ev.Error = err.Error()
	}
	o.publish(ev)
}

func (o *hubObserver) NodeStarted(node string) {
	o.publish(Event{Type: EventNodeStarted, Node: node})
}

func (o *hubObserver) NodeFinished(node string, action flow.Action, err error, elapsed time.Duration) {
	ev := Event{Type: EventNodeFinished, Node: node, Action: string(action), Duration: elapsed.String()}
	if err != nil {
		ev.Error = err.Error()
	}
	o.publish(ev)
}

func (o *hubObserver) RetryScheduled(node string, attempt int, wait time.Duration, cause error) {
	ev := Event{Type: EventRetryScheduled, Node: node, Attempt: attempt, Duration: wait.String()}
	if cause != nil {
		ev.Error = cause.Error()
	}
	o.publish(ev)
}

func (o *hubObserver) FallbackInvoked(node string, cause error) {
	ev := Event{Type: EventFallbackInvoked, Node: node}
	if cause != nil {
		ev.Error = cause.Error()
	}
	o.publish(ev)
}

func (o *hubObserver) BatchItemStarted(node string, index int) {
	o.publish(Event{Type: EventBatchItemStarted, Node: node, Index: index})
}

func (o *hubObserver) BatchItemFinished(node string, index int, err error) {
	ev := Event{Type: EventBatchItemFinished, Node: node, Index: index}
	if err != nil {
		ev.Error = err.Error()
	}
	o.publish(ev)
}

func (o *hubObserver) ScratchMerged(node string, forks int) {
	o.publish(Event{Type: EventScratchMerged, Node: node, Forks: forks})
}

// ============================================================
// WebSocket endpoint
// ============================================================

// wsWriteTimeout bounds a single event write to one subscriber.
const wsWriteTimeout = 10 * time.Second

// ServeEvents returns the GET /v1/events handler. Clients receive a
// "connected" hello followed by the live event feed as JSON text frames.
// The optional run_id query parameter narrows the feed to a single run.
func ServeEvents(hub *EventHub, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusInternalError, "stream closed")

		runID := r.URL.Query().Get("run_id")
		events, cancel := hub.Subscribe(runID)
		defer cancel()

		// The feed is write-only; CloseRead discards client frames and
		// cancels the context when the peer goes away.
		ctx := conn.CloseRead(r.Context())

		hello := Event{Type: EventConnected, RunID: runID, Timestamp: time.Now()}
		if err := wsjson.Write(ctx, conn, hello); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "")
				return
			case ev, ok := <-events:
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "feed closed")
					return
				}
				writeCtx, cancelWrite := context.WithTimeout(ctx, wsWriteTimeout)
				err := wsjson.Write(writeCtx, conn, ev)
				cancelWrite()
				if err != nil {
					logger.Debug("websocket write failed", zap.Error(err))
					return
				}
			}
		}
	}
}
