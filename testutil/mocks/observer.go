// RecordingObserver 的流程观察者测试模拟实现。
//
// 线程安全地记录全部生命周期回调，供断言检查。
package mocks

import (
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/marketflow/flow"
)

// --- RecordingObserver 结构 ---

// ObserverEvent 记录单次回调
type ObserverEvent struct {
	Kind    string // flow_started, node_finished, retry_scheduled 等
	Flow    string
	Node    string
	Action  flow.Action
	Err     error
	Elapsed time.Duration
	Attempt int
	Index   int
	Forks   int
}

// String 返回便于测试失败输出阅读的描述
func (e ObserverEvent) String() string {
	switch e.Kind {
	case "flow_started":
		return fmt.Sprintf("flow_started(%s)", e.Flow)
	case "flow_finished":
		return fmt.Sprintf("flow_finished(%s, %s, err=%v)", e.Flow, e.Action, e.Err)
	case "node_started":
		return fmt.Sprintf("node_started(%s)", e.Node)
	case "node_finished":
		return fmt.Sprintf("node_finished(%s, %s, err=%v)", e.Node, e.Action, e.Err)
	case "retry_scheduled":
		return fmt.Sprintf("retry_scheduled(%s, attempt=%d)", e.Node, e.Attempt)
	case "fallback_invoked":
		return fmt.Sprintf("fallback_invoked(%s, cause=%v)", e.Node, e.Err)
	case "batch_item_started":
		return fmt.Sprintf("batch_item_started(%s, %d)", e.Node, e.Index)
	case "batch_item_finished":
		return fmt.Sprintf("batch_item_finished(%s, %d, err=%v)", e.Node, e.Index, e.Err)
	case "scratch_merged":
		return fmt.Sprintf("scratch_merged(%s, forks=%d)", e.Node, e.Forks)
	}
	return e.Kind
}

// RecordingObserver 是 flow.Observer 的记录实现，
// 并行批处理会并发回调，因此内部用互斥锁保护
type RecordingObserver struct {
	mu     sync.Mutex
	events []ObserverEvent
}

// NewRecordingObserver 创建新的 RecordingObserver
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{}
}

func (r *RecordingObserver) append(e ObserverEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// --- flow.Observer 实现 ---

func (r *RecordingObserver) FlowStarted(name string) {
	r.append(ObserverEvent{Kind: "flow_started", Flow: name})
}

func (r *RecordingObserver) FlowFinished(name string, action flow.Action, err error, elapsed time.Duration) {
	r.append(ObserverEvent{Kind: "flow_finished", Flow: name, Action: action, Err: err, Elapsed: elapsed})
}

func (r *RecordingObserver) NodeStarted(node string) {
	r.append(ObserverEvent{Kind: "node_started", Node: node})
}

func (r *RecordingObserver) NodeFinished(node string, action flow.Action, err error, elapsed time.Duration) {
	r.append(ObserverEvent{Kind: "node_finished", Node: node, Action: action, Err: err, Elapsed: elapsed})
}

func (r *RecordingObserver) RetryScheduled(node string, attempt int, wait time.Duration, cause error) {
	r.append(ObserverEvent{Kind: "retry_scheduled", Node: node, Attempt: attempt, Elapsed: wait, Err: cause})
}

func (r *RecordingObserver) FallbackInvoked(node string, cause error) {
	r.append(ObserverEvent{Kind: "fallback_invoked", Node: node, Err: cause})
}

func (r *RecordingObserver) BatchItemStarted(node string, index int) {
	r.append(ObserverEvent{Kind: "batch_item_started", Node: node, Index: index})
}

func (r *RecordingObserver) BatchItemFinished(node string, index int, err error) {
	r.append(ObserverEvent{Kind: "batch_item_finished", Node: node, Index: index, Err: err})
}

func (r *RecordingObserver) ScratchMerged(node string, forks int) {
	r.append(ObserverEvent{Kind: "scratch_merged", Node: node, Forks: forks})
}

// --- 事件检查 ---

// Events 返回事件记录副本
func (r *RecordingObserver) Events() []ObserverEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ObserverEvent(nil), r.events...)
}

// EventsOfKind 返回指定类型的事件
func (r *RecordingObserver) EventsOfKind(kind string) []ObserverEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ObserverEvent
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Nodes 按启动顺序返回节点名，重复启动会重复出现
func (r *RecordingObserver) Nodes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Kind == "node_started" {
			out = append(out, e.Node)
		}
	}
	return out
}

// Retries 返回重试调度次数
func (r *RecordingObserver) Retries() int {
	return len(r.EventsOfKind("retry_scheduled"))
}

// Reset 清空事件记录
func (r *RecordingObserver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var _ flow.Observer = (*RecordingObserver)(nil)
