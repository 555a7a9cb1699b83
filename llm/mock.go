// MockProvider 的 LLM 提供商模拟实现。
//
// 支持固定响应、错误注入与调用记录，用于测试和离线演示运行。
package llm

import (
	"context"
	"sync"
	"time"
)

// MockProvider is an in-memory Provider for tests and offline demo runs.
type MockProvider struct {
	mu sync.RWMutex

	// 响应配置
	response string
	err      error

	// 行为控制
	delay          time.Duration
	failAfter      int // 在第 N 次调用后失败（0 表示禁用）
	callCount      int
	completionFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// 调用记录
	calls []*ChatRequest
}

// NewMockProvider creates a MockProvider with a canned response.
func NewMockProvider() *MockProvider {
	return &MockProvider{response: "Mock response"}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置模拟延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 在第 n 次调用后开始返回错误
func (m *MockProvider) WithFailAfter(n int, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	m.err = err
	return m
}

// WithCompletionFunc 完全接管 Completion 行为
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// Name returns "mock".
func (m *MockProvider) Name() string { return "mock" }

// Completion returns the configured response or error.
func (m *MockProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.callCount++
	count := m.callCount
	m.calls = append(m.calls, req)
	response := m.response
	err := m.err
	delay := m.delay
	failAfter := m.failAfter
	fn := m.completionFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil && (failAfter == 0 || count > failAfter) {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = "mock-model"
	}
	prompt := CountMessages(model, req.Messages)
	completion := CountTokens(model, response)
	return &ChatResponse{
		Provider: "mock",
		Model:    model,
		Choices: []ChatChoice{
			{Index: 0, FinishReason: "stop", Message: Message{Role: RoleAssistant, Content: response}},
		},
		Usage: ChatUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
		CreatedAt: time.Now(),
	}, nil
}

// CallCount 返回 Completion 被调用的次数
func (m *MockProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// Calls 返回所有记录的请求
func (m *MockProvider) Calls() []*ChatRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ChatRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// Reset 清空调用记录
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.calls = nil
}
