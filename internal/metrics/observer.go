package metrics

import (
	"time"

	"github.com/BaSui01/marketflow/flow"
)

// =============================================================================
// 👁️ 工作流指标观察器
// =============================================================================

// Observer 将工作流生命周期事件转换为 Prometheus 指标。
// 通过 flow.WithObserver 挂载到运行上下文。
type Observer struct {
	collector *Collector
}

// NewObserver 创建工作流指标观察器
func NewObserver(collector *Collector) *Observer {
	return &Observer{collector: collector}
}

var _ flow.Observer = (*Observer)(nil)

// FlowStarted 记录工作流开始
func (o *Observer) FlowStarted(name string) {
	o.collector.RecordFlowStarted(name)
}

// FlowFinished 记录工作流完成
func (o *Observer) FlowFinished(name string, action flow.Action, err error, elapsed time.Duration) {
	o.collector.RecordFlowRun(name, runStatus(err), elapsed)
}

// NodeStarted 节点开始时无需记录
func (o *Observer) NodeStarted(name string) {}

// NodeFinished 记录节点执行
func (o *Observer) NodeFinished(name string, action flow.Action, err error, elapsed time.Duration) {
	o.collector.RecordNodeRun(name, runStatus(err), elapsed)
}

// RetryScheduled 记录节点重试
func (o *Observer) RetryScheduled(name string, attempt int, wait time.Duration, cause error) {
	o.collector.RecordNodeRetry(name)
}

// FallbackInvoked 记录降级调用
func (o *Observer) FallbackInvoked(name string, cause error) {
	o.collector.RecordFallback(name)
}

// BatchItemStarted 批处理项开始时无需记录
func (o *Observer) BatchItemStarted(name string, index int) {}

// BatchItemFinished 记录批处理项完成
func (o *Observer) BatchItemFinished(name string, index int, err error) {
	o.collector.RecordBatchItem(name, runStatus(err))
}

// ScratchMerged 暂存合并无需记录
func (o *Observer) ScratchMerged(name string, forks int) {}

// runStatus 将错误转换为指标状态标签
func runStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
