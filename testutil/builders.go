// =============================================================================
// 🏗️ Store 构造器
// =============================================================================
// 按营销域惯用键构造工作流输入，避免测试里手写 map 键名
//
// 使用方法:
//
//	store := testutil.NewStoreBuilder().WithTopic("launch").Build()
//	inputs := testutil.NewStoreBuilder().WithContentID("c-1").Inputs()
// =============================================================================
package testutil

import (
	"github.com/BaSui01/marketflow/flow"
)

// StoreBuilder 逐键累积工作流输入
type StoreBuilder struct {
	kv map[string]any
}

// NewStoreBuilder 创建空的构造器
func NewStoreBuilder() *StoreBuilder {
	return &StoreBuilder{kv: make(map[string]any)}
}

// WithTopic 设置研究与生成的主题
func (b *StoreBuilder) WithTopic(topic string) *StoreBuilder {
	b.kv["topic"] = topic
	return b
}

// WithContentID 设置内容标识
func (b *StoreBuilder) WithContentID(id string) *StoreBuilder {
	b.kv["content_id"] = id
	return b
}

// WithContentType 设置内容类型（blog、email、social、ad）
func (b *StoreBuilder) WithContentType(ct string) *StoreBuilder {
	b.kv["content_type"] = ct
	return b
}

// WithAudience 设置目标受众
func (b *StoreBuilder) WithAudience(audience string) *StoreBuilder {
	b.kv["target_audience"] = audience
	return b
}

// WithGeneratedContent 预置已生成的内容，跳过创作阶段的流程用
func (b *StoreBuilder) WithGeneratedContent(content string) *StoreBuilder {
	b.kv["generated_content"] = content
	return b
}

// WithStrategyFocus 设置 GTM 分支取向（channels 或 messaging）
func (b *StoreBuilder) WithStrategyFocus(focus string) *StoreBuilder {
	b.kv["strategy_focus"] = focus
	return b
}

// With 设置任意键
func (b *StoreBuilder) With(key string, v any) *StoreBuilder {
	b.kv[key] = v
	return b
}

// Inputs 返回键值副本，交给 Orchestrator.Run
func (b *StoreBuilder) Inputs() map[string]any {
	out := make(map[string]any, len(b.kv))
	for k, v := range b.kv {
		out[k] = v
	}
	return out
}

// Build 返回新的共享 Store，交给 flow.Runner.Run
func (b *StoreBuilder) Build() *flow.Store {
	return flow.NewStoreFrom(b.Inputs())
}
