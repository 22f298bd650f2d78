// Package screen 实现文献筛选的批量分类引擎：
// 将一批 prompt 文本并发送入 LLM 判定 include/exclude/unsure，
// 过程中执行 TPM 限流、有界重试、费用累计与结果规范化。
// 所有失败模式都降级为 unsure 加说明注记，对调用方是全函数。
package screen

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhinengmahua/litscreen/internal/metrics"
	"github.com/zhinengmahua/litscreen/llm"
	"github.com/zhinengmahua/litscreen/llm/retry"
	"github.com/zhinengmahua/litscreen/llm/tokenizer"
	"github.com/zhinengmahua/litscreen/providers"
	"github.com/zhinengmahua/litscreen/providers/openai"
	"github.com/zhinengmahua/litscreen/screen/cache"
	"github.com/zhinengmahua/litscreen/screen/pricing"
	"github.com/zhinengmahua/litscreen/screen/ratelimit"
	"github.com/zhinengmahua/litscreen/types"
)

// 诊断注记。解析失败时填入 Notes，绝不为下游留空。
const (
	NoteNonJSON          = "non-JSON response"
	NoteInvalidDecision  = "invalid decision value"
	NoteModelMissing     = "model configuration missing"
	NoteRetriesExhausted = "invocation failed after retries"
	NoteTaskPanic        = "concurrent task exception"
	NoteBatchCancelled   = "batch cancelled"
)

// ModelMap 阶段名 → 模型名的路由表，
// 例如 {"stage1": "gpt-4.1-mini", "stage2": "gpt-4.1", "stage3": "gpt-4o"}。
type ModelMap map[string]string

// DefaultStages 默认只启用 stage3。
// 多阶段升级是显式可配置的策略，绝不默认假定全部阶段生效。
func DefaultStages() []string { return []string{"stage3"} }

// Config 筛选引擎配置。
type Config struct {
	// SystemPrompt 系统提示词，由外部注入，核心不关心其内容
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
	// Models 阶段路由表
	Models ModelMap `json:"models" yaml:"models"`
	// Stages 启用的阶段序列，空则为 DefaultStages()
	Stages []string `json:"stages,omitempty" yaml:"stages,omitempty"`
	// Workers 并发 worker 数，<=1 表示严格串行，建议 1-5
	Workers int `json:"workers" yaml:"workers"`
	// MaxRetries 单次调用最大尝试次数（含首次），默认 8
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// Temperature 采样温度，默认 0 保证确定性输出
	Temperature float32 `json:"temperature" yaml:"temperature"`
	// Stream 流式返回；流式下 usage 可能缺失，此时跳过计费
	Stream bool `json:"stream" yaml:"stream"`
	// Timeout 单次 Provider 调用超时，默认 60s
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// RateLimit 限流配置
	RateLimit ratelimit.Config `json:"rate_limit" yaml:"rate_limit"`
	// Pricing 单价表覆盖；空则用内置表
	Pricing pricing.Table `json:"pricing,omitempty" yaml:"pricing,omitempty"`
}

func (c *Config) applyDefaults() {
	if len(c.Stages) == 0 {
		c.Stages = DefaultStages()
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.MaxRetries < 1 {
		c.MaxRetries = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}

// admitter 抽象限流放行，由 ratelimit.TPMLimiter 满足；可替换以便测试。
type admitter interface {
	Admit(ctx context.Context, tokens int) (time.Duration, error)
}

// Screener 批量筛选引擎。并发安全；一次流水线运行共享一个实例。
type Screener struct {
	cfg      Config
	provider llm.Provider
	limiter  admitter
	tracker  *pricing.Tracker
	retryer  retry.Retryer
	cache    *cache.DecisionCache
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// Option 配置 Screener 的可选部件。
type Option func(*Screener)

// WithLogger 注入自定义 zap logger。
func WithLogger(logger *zap.Logger) Option {
	return func(s *Screener) { s.logger = logger }
}

// WithCache 启用决策缓存。
func WithCache(c *cache.DecisionCache) Option {
	return func(s *Screener) { s.cache = c }
}

// WithMetrics 启用指标收集。
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Screener) { s.metrics = m }
}

// WithRetryer 覆盖默认重试器（测试用）。
func WithRetryer(r retry.Retryer) Option {
	return func(s *Screener) { s.retryer = r }
}

// New 创建筛选引擎。provider 必须非 nil。
func New(provider llm.Provider, cfg Config, opts ...Option) *Screener {
	cfg.applyDefaults()

	s := &Screener{
		cfg:      cfg,
		provider: provider,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.limiter = ratelimit.New(cfg.RateLimit, s.logger)
	s.tracker = pricing.NewTracker(cfg.Pricing, s.logger)

	if s.retryer == nil {
		policy := retry.DefaultRetryPolicy()
		policy.MaxAttempts = cfg.MaxRetries
		s.retryer = retry.NewBackoffRetryer(policy, s.logger)
	}

	tokenizer.RegisterOpenAITokenizers()
	return s
}

// NewOpenAI 用 OpenAI Provider 创建筛选引擎的便捷入口。
func NewOpenAI(apiKey string, cfg Config, opts ...Option) *Screener {
	p := openai.New(providers.OpenAIConfig{APIKey: apiKey, Timeout: cfg.Timeout}, nil)
	return New(p, cfg, opts...)
}

// Usage 返回累计 token 与费用快照，供运营报表使用。
func (s *Screener) Usage() pricing.Totals {
	return s.tracker.Totals()
}

// HealthCheck 透传底层 Provider 的健康检查。
func (s *Screener) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return s.provider.HealthCheck(ctx)
}

// ReviewSingle 按配置的阶段序列对单条文本执行筛选。
// 某阶段返回非 unsure 即提前停止；最后一个阶段的结果无条件返回。
// 绝不返回错误：一切失败模式都降级为 unsure 加注记。
func (s *Screener) ReviewSingle(ctx context.Context, text string) types.Result {
	last := len(s.cfg.Stages) - 1
	for i, stage := range s.cfg.Stages {
		model, ok := s.cfg.Models[stage]
		if !ok || model == "" {
			// 路由表缺失：不发起任何网络调用，直接按项结清
			s.logger.Error("模型映射缺失",
				zap.String("stage", stage))
			return types.Result{Decision: types.DecisionUnsure, Notes: NoteModelMissing}
		}

		res := s.callWithRetries(ctx, text, model)
		if res.Decision != types.DecisionUnsure || i == last {
			s.metrics.RecordDecision(model, string(res.Decision))
			return res
		}
	}

	// 不可达的兜底
	return types.Result{Decision: types.DecisionUnsure, Notes: NoteModelMissing}
}

// callWithRetries 对单次模型调用套用有界指数退避重试。
// 仅瞬态错误（网络/超时/上游 5xx/限流）触发重试；
// 解析与校验失败在 invoke 内直接化为终态结果，不经过重试循环。
func (s *Screener) callWithRetries(ctx context.Context, text, model string) types.Result {
	cacheKey := cache.Key(model, s.cfg.SystemPrompt, text)
	if res, ok := s.cache.Get(ctx, cacheKey); ok {
		s.metrics.RecordCacheHit("decision")
		return res
	}
	s.metrics.RecordCacheMiss("decision")

	attempts := 0
	res, err := retry.DoWithResultTyped[types.Result](s.retryer, ctx, func() (types.Result, error) {
		attempts++
		if attempts > 1 {
			s.metrics.RecordRetry(model)
		}
		return s.invoke(ctx, text, model)
	})
	if err != nil {
		// 取消不是重试耗尽：调用方主动止损时注记如实区分
		if ctx.Err() != nil {
			s.logger.Warn("调用因 context 取消而中止",
				zap.String("model", model),
				zap.Error(err))
			return types.Result{Decision: types.DecisionUnsure, Notes: NoteBatchCancelled}
		}
		s.logger.Error("模型最终调用失败",
			zap.String("model", model),
			zap.Error(err))
		return types.Result{Decision: types.DecisionUnsure, Notes: NoteRetriesExhausted}
	}

	if cacheable(res) {
		s.cache.Set(ctx, cacheKey, res)
	}
	return res
}

// cacheable 只缓存来自成功解析的判定，诊断性降级结果不进缓存。
func cacheable(res types.Result) bool {
	switch res.Notes {
	case NoteNonJSON, NoteInvalidDecision, NoteModelMissing, NoteRetriesExhausted:
		return false
	}
	return true
}

// invoke 真正执行一次 Provider 调用：
//  1. 估算 system prompt + text 的 token 数（仅用于限流）；
//  2. TPM 限流放行；
//  3. 发起一次请求（流式或非流式），要求 json_object 结构化输出；
//  4. usage 可用时累计 token 与费用（计费真值来自 Provider）；
//  5. 解析 decision 与 notes 并规范化。
//
// 返回的 error 仅在瞬态失败时非 nil，由上层重试循环处理；
// 解析/校验失败是该次尝试的终态低置信结果。
func (s *Screener) invoke(ctx context.Context, text, model string) (types.Result, error) {
	estimated := tokenizer.Estimate(model, s.cfg.SystemPrompt) + tokenizer.Estimate(model, text)

	waited, err := s.limiter.Admit(ctx, estimated)
	if err != nil {
		return types.Result{}, err
	}
	if waited > 0 {
		s.metrics.RecordRateLimitWait(model)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req := &llm.ChatRequest{
		TraceID:     uuid.NewString(),
		Model:       model,
		Temperature: s.cfg.Temperature,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: strings.TrimSpace(s.cfg.SystemPrompt)},
			{Role: llm.RoleUser, Content: text},
		},
		ResponseFormat: &llm.ResponseFormat{Type: "json_object"},
		Timeout:        s.cfg.Timeout,
	}

	start := time.Now()
	content, usage, err := s.complete(callCtx, req)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordLLMRequest(s.provider.Name(), model, "error", duration, 0, 0, 0)
		s.logger.Debug("Provider 调用失败",
			zap.String("trace_id", req.TraceID),
			zap.String("model", model),
			zap.Error(err))
		return types.Result{}, err
	}

	// 计费：只信 Provider 报告的 usage；流式缺失时跳过而非估算
	var cost float64
	promptTokens, completionTokens := 0, 0
	if usage != nil {
		promptTokens = usage.PromptTokens
		completionTokens = usage.CompletionTokens
		used := usage.PromptTokens + usage.CompletionTokens
		cost = s.tracker.Add(model, used)
		totals := s.tracker.Totals()
		s.logger.Debug("用量统计",
			zap.String("model", model),
			zap.Int("used_tokens", used),
			zap.Int64("total_tokens", totals.Tokens),
			zap.Float64("cost", cost),
			zap.Float64("total_cost", totals.Cost))
	}
	s.metrics.RecordLLMRequest(s.provider.Name(), model, "success", duration, promptTokens, completionTokens, cost)

	return s.parseResult(content, model), nil
}

// complete 按配置走流式或非流式路径，返回文本内容与 usage（可能为 nil）。
func (s *Screener) complete(ctx context.Context, req *llm.ChatRequest) (string, *llm.ChatUsage, error) {
	if !s.cfg.Stream {
		resp, err := s.provider.Completion(ctx, req)
		if err != nil {
			return "", nil, err
		}
		return resp.Content(), resp.Usage, nil
	}

	ch, err := s.provider.Stream(ctx, req)
	if err != nil {
		return "", nil, err
	}

	// 流式模式：累积各 chunk 的增量内容
	var sb strings.Builder
	var usage *llm.ChatUsage
	for chunk := range ch {
		if chunk.Err != nil {
			return "", nil, chunk.Err
		}
		sb.WriteString(chunk.Delta.Content)
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	return sb.String(), usage, nil
}

// parseResult 解析模型返回的 JSON 并校验 decision 字段。
// 解析失败不重试：重试无法可靠修复模型的畸形输出。
func (s *Screener) parseResult(content, model string) types.Result {
	var payload struct {
		Decision string          `json:"decision"`
		Notes    json.RawMessage `json:"notes"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		s.logger.Warn("模型返回内容无法解析为 JSON",
			zap.String("model", model),
			zap.Error(err))
		return types.Result{Decision: types.DecisionUnsure, Notes: NoteNonJSON}
	}

	normalized, ok := types.ParseDecision(payload.Decision)
	if !ok {
		s.logger.Warn("模型返回非法 decision 值",
			zap.String("model", model),
			zap.String("raw_decision", payload.Decision))
		return types.Result{Decision: types.DecisionUnsure, Notes: NoteInvalidDecision}
	}

	notes := "{}"
	if len(payload.Notes) > 0 {
		notes = string(payload.Notes)
	}
	return types.Result{Decision: normalized, Notes: notes}
}
