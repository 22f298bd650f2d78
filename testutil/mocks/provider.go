// Package mocks 提供 llm.Provider 的测试模拟实现。
//
// 支持固定响应、逐次脚本、流式输出与错误注入场景。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/zhinengmahua/litscreen/llm"
	"github.com/zhinengmahua/litscreen/types"
)

// MockProvider 是 llm.Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	// 响应配置
	content string
	usage   *llm.ChatUsage
	err     error

	// scripted 逐次调用脚本；耗尽后回落到固定响应
	scripted []ScriptedCall

	// 调用记录
	calls []*llm.ChatRequest

	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
	streamFunc     func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)
}

// ScriptedCall 单次调用的脚本化行为。
type ScriptedCall struct {
	Content string
	Usage   *llm.ChatUsage
	Err     error
}

// NewMockProvider 创建新的 MockProvider，默认返回合法的 unsure 判定。
func NewMockProvider() *MockProvider {
	return &MockProvider{
		content: `{"decision":"unsure","notes":{}}`,
	}
}

// WithContent 设置固定响应内容。
func (m *MockProvider) WithContent(content string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = content
	return m
}

// WithUsage 设置固定 usage 报告。
func (m *MockProvider) WithUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = &llm.ChatUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
	return m
}

// WithError 设置固定错误。
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithScript 设置逐次调用脚本，按顺序消费。
func (m *MockProvider) WithScript(calls ...ScriptedCall) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted = calls
	return m
}

// WithCompletionFunc 完全接管 Completion 行为。
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// WithStreamFunc 完全接管 Stream 行为。
func (m *MockProvider) WithStreamFunc(fn func(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFunc = fn
	return m
}

// TransientError 构造可重试的上游错误。
func TransientError(msg string) *types.Error {
	return types.NewError(types.ErrUpstreamError, msg).WithRetryable(true).WithProvider("mock")
}

// CallCount 返回累计调用次数。
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls 返回记录的请求副本。
func (m *MockProvider) Calls() []*llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*llm.ChatRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) next(req *llm.ChatRequest) (string, *llm.ChatUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)

	if len(m.scripted) > 0 {
		call := m.scripted[0]
		m.scripted = m.scripted[1:]
		return call.Content, call.Usage, call.Err
	}
	return m.content, m.usage, m.err
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true, Latency: time.Millisecond}, nil
}

func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	fn := m.completionFunc
	m.mu.Unlock()
	if fn != nil {
		m.mu.Lock()
		m.calls = append(m.calls, req)
		m.mu.Unlock()
		return fn(ctx, req)
	}

	content, usage, err := m.next(req)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{
		ID:       "mock-1",
		Provider: "mock",
		Model:    req.Model,
		Choices: []llm.ChatChoice{
			{Index: 0, FinishReason: "stop", Message: llm.Message{Role: llm.RoleAssistant, Content: content}},
		},
		Usage: usage,
	}, nil
}

func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	fn := m.streamFunc
	m.mu.Unlock()
	if fn != nil {
		m.mu.Lock()
		m.calls = append(m.calls, req)
		m.mu.Unlock()
		return fn(ctx, req)
	}

	content, usage, err := m.next(req)
	if err != nil {
		return nil, err
	}

	ch := make(chan llm.StreamChunk, len(content)/4+2)
	go func() {
		defer close(ch)
		// 将内容切成小块模拟增量返回
		for i := 0; i < len(content); i += 4 {
			end := i + 4
			if end > len(content) {
				end = len(content)
			}
			ch <- llm.StreamChunk{
				Model: req.Model,
				Delta: llm.Message{Role: llm.RoleAssistant, Content: content[i:end]},
			}
		}
		ch <- llm.StreamChunk{Model: req.Model, FinishReason: "stop", Usage: usage}
	}()
	return ch, nil
}
