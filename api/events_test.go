package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/marketflow/flow"
)

// =============================================================================
// 🧪 EventHub 测试
// =============================================================================

func TestEventHub_PublishSubscribe(t *testing.T) {
	hub := NewEventHub(16, zap.NewNop())
	defer hub.Close()

	events, cancel := hub.Subscribe("")
	defer cancel()

	assert.Equal(t, 1, hub.SubscriberCount())

	hub.Publish(Event{Type: EventRunSubmitted, RunID: "r1", Flow: "content_creation"})

	ev := <-events
	assert.Equal(t, EventRunSubmitted, ev.Type)
	assert.Equal(t, "r1", ev.RunID)
	assert.Equal(t, "content_creation", ev.Flow)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEventHub_RunFilter(t *testing.T) {
	hub := NewEventHub(16, zap.NewNop())
	defer hub.Close()

	events, cancel := hub.Subscribe("r2")
	defer cancel()

	hub.Publish(Event{Type: EventNodeStarted, RunID: "r1", Node: "research"})
	hub.Publish(Event{Type: EventNodeStarted, RunID: "r2", Node: "research"})

	ev := <-events
	assert.Equal(t, "r2", ev.RunID)

	select {
	case extra := <-events:
		t.Fatalf("unexpected event for run %s", extra.RunID)
	default:
	}
}

func TestEventHub_DropsOnSlowSubscriber(t *testing.T) {
	hub := NewEventHub(1, zap.NewNop())
	defer hub.Close()

	events, cancel := hub.Subscribe("")
	defer cancel()

	hub.Publish(Event{Type: EventNodeStarted, RunID: "r1", Node: "first"})
	hub.Publish(Event{Type: EventNodeStarted, RunID: "r1", Node: "second"})

	assert.Equal(t, int64(1), hub.Dropped())

	ev := <-events
	assert.Equal(t, "first", ev.Node)
}

func TestEventHub_CancelAndClose(t *testing.T) {
	hub := NewEventHub(16, zap.NewNop())

	events, cancel := hub.Subscribe("")
	cancel()
	cancel() // 幂等

	_, open := <-events
	assert.False(t, open)
	assert.Equal(t, 0, hub.SubscriberCount())

	events2, cancel2 := hub.Subscribe("")
	defer cancel2()
	hub.Close()

	_, open = <-events2
	assert.False(t, open)

	// Close 之后的发布与订阅均为空操作
	hub.Publish(Event{Type: EventRunFinished, RunID: "r1"})
	events3, _ := hub.Subscribe("")
	_, open = <-events3
	assert.False(t, open)
}

func TestEventHub_Observer(t *testing.T) {
	hub := NewEventHub(32, zap.NewNop())
	defer hub.Close()

	events, cancel := hub.Subscribe("")
	defer cancel()

	obs := hub.Observer("r1", "content_creation")
	obs.FlowStarted("content_creation")
	obs.NodeStarted("research")
	obs.NodeFinished("research", flow.DefaultAction, nil, 120*time.Millisecond)
	obs.RetryScheduled("research", 1, 2*time.Second, errors.New("transient"))
	obs.FallbackInvoked("research", errors.New("exhausted"))
	obs.BatchItemStarted("channel_adaptation", 0)
	obs.BatchItemFinished("channel_adaptation", 0, nil)
	obs.ScratchMerged("channel_adaptation", 4)
	obs.FlowFinished("content_creation", flow.DefaultAction, nil, time.Second)

	var got []Event
	for i := 0; i < 9; i++ {
		got = append(got, <-events)
	}

	wantTypes := []string{
		EventFlowStarted,
		EventNodeStarted,
		EventNodeFinished,
		EventRetryScheduled,
		EventFallbackInvoked,
		EventBatchItemStarted,
		EventBatchItemFinished,
		EventScratchMerged,
		EventFlowFinished,
	}
	for i, want := range wantTypes {
		assert.Equal(t, want, got[i].Type, "event %d", i)
		assert.Equal(t, "r1", got[i].RunID)
	}

	finished := got[2]
	assert.Equal(t, "research", finished.Node)
	assert.Equal(t, string(flow.DefaultAction), finished.Action)
	assert.Equal(t, "120ms", finished.Duration)

	retry := got[3]
	assert.Equal(t, 1, retry.Attempt)
	assert.Equal(t, "2s", retry.Duration)
	assert.Equal(t, "transient", retry.Error)

	merged := got[7]
	assert.Equal(t, 4, merged.Forks)

	flowDone := got[8]
	assert.Equal(t, "content_creation", flowDone.Flow)
	assert.Empty(t, flowDone.Error)
}

// =============================================================================
// 🔌 WebSocket 端点测试
// =============================================================================

func TestServeEvents_WebSocket(t *testing.T) {
	hub := NewEventHub(16, zap.NewNop())
	defer hub.Close()

	srv := httptest.NewServer(ServeEvents(hub, zap.NewNop()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// 订阅在 hello 写出之前注册，读到 hello 即可安全发布
	var hello Event
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	assert.Equal(t, EventConnected, hello.Type)

	hub.Publish(Event{Type: EventFlowStarted, RunID: "r1", Flow: "content_creation"})

	var ev Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, EventFlowStarted, ev.Type)
	assert.Equal(t, "r1", ev.RunID)
}

func TestServeEvents_RunFilterQuery(t *testing.T) {
	hub := NewEventHub(16, zap.NewNop())
	defer hub.Close()

	srv := httptest.NewServer(ServeEvents(hub, zap.NewNop()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL+"?run_id=r2", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var hello Event
	require.NoError(t, wsjson.Read(ctx, conn, &hello))
	assert.Equal(t, EventConnected, hello.Type)
	assert.Equal(t, "r2", hello.RunID)

	hub.Publish(Event{Type: EventNodeStarted, RunID: "r1", Node: "other"})
	hub.Publish(Event{Type: EventNodeStarted, RunID: "r2", Node: "mine"})

	var ev Event
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "r2", ev.RunID)
	assert.Equal(t, "mine", ev.Node)
}

func TestServeEvents_HubCloseEndsStream(t *testing.T) {
	hub := NewEventHub(16, zap.NewNop())

	srv := httptest.NewServer(ServeEvents(hub, zap.NewNop()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var hello Event
	require.NoError(t, wsjson.Read(ctx, conn, &hello))

	hub.Close()

	var ev Event
	err = wsjson.Read(ctx, conn, &ev)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}
