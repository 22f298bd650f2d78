package screen

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhinengmahua/litscreen/internal/metrics"
	"github.com/zhinengmahua/litscreen/llm/retry"
	"github.com/zhinengmahua/litscreen/testutil"
	"github.com/zhinengmahua/litscreen/testutil/mocks"
	"github.com/zhinengmahua/litscreen/types"
)

// fastRetryer 毫秒级退避，避免拖慢测试。
func fastRetryer(maxAttempts int) retry.Retryer {
	return retry.NewBackoffRetryer(&retry.RetryPolicy{
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		Jitter:       false,
		Retryable:    types.IsRetryable,
	}, zap.NewNop())
}

func testConfig() Config {
	return Config{
		SystemPrompt: "screening criteria",
		Models:       ModelMap{"stage3": "gpt-4o-mini"},
		Workers:      1,
		MaxRetries:   3,
	}
}

func newTestScreener(p *mocks.MockProvider, cfg Config) *Screener {
	return New(p, cfg, WithLogger(zap.NewNop()), WithRetryer(fastRetryer(cfg.MaxRetries)))
}

func TestReviewSingle_NormalizesDecision(t *testing.T) {
	p := mocks.NewMockProvider().
		WithContent(`{"decision":"Include ","notes":{}}`).
		WithUsage(100, 20)
	s := newTestScreener(p, testConfig())

	res := s.ReviewSingle(testutil.TestContext(t), "title\n\nabstract")
	assert.Equal(t, types.DecisionInclude, res.Decision)
	assert.Equal(t, "{}", res.Notes)
	assert.Equal(t, 1, p.CallCount())
}

func TestReviewSingle_SerializesNotes(t *testing.T) {
	p := mocks.NewMockProvider().
		WithContent(`{"decision":"exclude","notes":{"c1":{"status":"fail","evidence":"no LLM"}}}`)
	s := newTestScreener(p, testConfig())

	res := s.ReviewSingle(testutil.TestContext(t), "text")
	assert.Equal(t, types.DecisionExclude, res.Decision)
	assert.JSONEq(t, `{"c1":{"status":"fail","evidence":"no LLM"}}`, res.Notes)
}

func TestReviewSingle_NonJSONNotRetried(t *testing.T) {
	p := mocks.NewMockProvider().WithContent("I think this should be included because...")
	s := newTestScreener(p, testConfig())

	res := s.ReviewSingle(testutil.TestContext(t), "text")
	assert.Equal(t, types.DecisionUnsure, res.Decision)
	assert.Equal(t, NoteNonJSON, res.Notes)
	assert.Equal(t, 1, p.CallCount(), "畸形输出不应触发重试")
}

func TestReviewSingle_InvalidDecisionValue(t *testing.T) {
	p := mocks.NewMockProvider().WithContent(`{"decision":"definitely!","notes":{}}`)
	s := newTestScreener(p, testConfig())

	res := s.ReviewSingle(testutil.TestContext(t), "text")
	assert.Equal(t, types.DecisionUnsure, res.Decision)
	assert.Equal(t, NoteInvalidDecision, res.Notes)
	assert.Equal(t, 1, p.CallCount())
}

func TestReviewSingle_MissingDecisionField(t *testing.T) {
	p := mocks.NewMockProvider().WithContent(`{"notes":{}}`)
	s := newTestScreener(p, testConfig())

	res := s.ReviewSingle(testutil.TestContext(t), "text")
	assert.Equal(t, types.DecisionUnsure, res.Decision)
	assert.Equal(t, NoteInvalidDecision, res.Notes)
}

func TestReviewSingle_ModelConfigurationMissing(t *testing.T) {
	p := mocks.NewMockProvider()
	cfg := testConfig()
	cfg.Models = ModelMap{} // stage3 未配置
	s := newTestScreener(p, cfg)

	res := s.ReviewSingle(testutil.TestContext(t), "text")
	assert.Equal(t, types.DecisionUnsure, res.Decision)
	assert.Equal(t, NoteModelMissing, res.Notes)
	assert.Equal(t, 0, p.CallCount(), "路由缺失不应发起网络调用")
}

func TestReviewSingle_TransientFailuresThenSuccess(t *testing.T) {
	p := mocks.NewMockProvider().WithScript(
		mocks.ScriptedCall{Err: mocks.TransientError("timeout")},
		mocks.ScriptedCall{Err: mocks.TransientError("502")},
		mocks.ScriptedCall{Content: `{"decision":"include","notes":{}}`},
	)
	s := newTestScreener(p, testConfig())

	res := s.ReviewSingle(testutil.TestContext(t), "text")
	assert.Equal(t, types.DecisionInclude, res.Decision)
	assert.Equal(t, 3, p.CallCount(), "两次瞬态失败后第三次成功")
}

func TestReviewSingle_RetriesExhausted(t *testing.T) {
	p := mocks.NewMockProvider().WithError(mocks.TransientError("always down"))
	cfg := testConfig()
	cfg.MaxRetries = 4
	s := newTestScreener(p, cfg)

	res := s.ReviewSingle(testutil.TestContext(t), "text")
	assert.Equal(t, types.DecisionUnsure, res.Decision)
	assert.Equal(t, NoteRetriesExhausted, res.Notes)
	assert.Equal(t, 4, p.CallCount(), "耗尽后不应有更多调用")
}

func TestReviewSingle_CancelledContextNotReportedAsExhausted(t *testing.T) {
	p := mocks.NewMockProvider().WithError(mocks.TransientError("down"))
	s := newTestScreener(p, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := s.ReviewSingle(ctx, "text")
	assert.Equal(t, types.DecisionUnsure, res.Decision)
	assert.Equal(t, NoteBatchCancelled, res.Notes, "主动取消不应伪装成重试耗尽")
	assert.Equal(t, 1, p.CallCount(), "取消后不应继续重试")
}

// stubAdmitter 以固定时长模拟限流放行。
type stubAdmitter struct {
	waited time.Duration
}

func (a *stubAdmitter) Admit(ctx context.Context, tokens int) (time.Duration, error) {
	return a.waited, nil
}

func TestInvoke_RecordsRateLimitWait(t *testing.T) {
	p := mocks.NewMockProvider().WithContent(`{"decision":"include","notes":{}}`)
	collector := metrics.NewCollector("litscreen_rlwait_test", zap.NewNop())
	s := New(p, testConfig(),
		WithLogger(zap.NewNop()),
		WithRetryer(fastRetryer(3)),
		WithMetrics(collector))

	// 放行阻塞过的调用计入等待指标
	s.limiter = &stubAdmitter{waited: 2 * time.Second}
	_ = s.ReviewSingle(testutil.TestContext(t), "blocked")

	// 未阻塞的放行不计入
	s.limiter = &stubAdmitter{}
	_ = s.ReviewSingle(testutil.TestContext(t), "free")

	expected := strings.NewReader(`
# HELP litscreen_rlwait_test_rate_limit_waits_total Total number of TPM rate limit waits
# TYPE litscreen_rlwait_test_rate_limit_waits_total counter
litscreen_rlwait_test_rate_limit_waits_total{model="gpt-4o-mini"} 1
`)
	require.NoError(t, promtestutil.GatherAndCompare(prometheus.DefaultGatherer, expected,
		"litscreen_rlwait_test_rate_limit_waits_total"))
}

func TestReviewSingle_StageEscalation(t *testing.T) {
	cfg := testConfig()
	cfg.Models = ModelMap{"stage1": "gpt-4.1-mini", "stage3": "gpt-4o"}
	cfg.Stages = []string{"stage1", "stage3"}

	// stage1 返回 unsure，升级到 stage3 得到 exclude
	p := mocks.NewMockProvider().WithScript(
		mocks.ScriptedCall{Content: `{"decision":"unsure","notes":{}}`},
		mocks.ScriptedCall{Content: `{"decision":"exclude","notes":{}}`},
	)
	s := newTestScreener(p, cfg)

	res := s.ReviewSingle(testutil.TestContext(t), "text")
	assert.Equal(t, types.DecisionExclude, res.Decision)

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "gpt-4.1-mini", calls[0].Model)
	assert.Equal(t, "gpt-4o", calls[1].Model)
}

func TestReviewSingle_StageEscalationStopsEarly(t *testing.T) {
	cfg := testConfig()
	cfg.Models = ModelMap{"stage1": "gpt-4.1-mini", "stage3": "gpt-4o"}
	cfg.Stages = []string{"stage1", "stage3"}

	p := mocks.NewMockProvider().WithContent(`{"decision":"include","notes":{}}`)
	s := newTestScreener(p, cfg)

	res := s.ReviewSingle(testutil.TestContext(t), "text")
	assert.Equal(t, types.DecisionInclude, res.Decision)
	assert.Equal(t, 1, p.CallCount(), "拿到确定结论后不应继续升级")
}

func TestReviewSingle_DefaultStagesOnlyStage3(t *testing.T) {
	cfg := testConfig()
	cfg.Stages = nil // 默认仅 stage3
	cfg.Models = ModelMap{"stage1": "a", "stage2": "b", "stage3": "gpt-4o"}

	p := mocks.NewMockProvider().WithContent(`{"decision":"unsure","notes":{}}`)
	s := newTestScreener(p, cfg)

	_ = s.ReviewSingle(testutil.TestContext(t), "text")
	calls := p.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gpt-4o", calls[0].Model, "默认只应调用 stage3 模型")
}

func TestUsage_AccumulatesFromProviderReport(t *testing.T) {
	p := mocks.NewMockProvider().
		WithContent(`{"decision":"include","notes":{}}`).
		WithUsage(100, 50)
	cfg := testConfig()
	cfg.Pricing = map[string]float64{"gpt-4o-mini": 0.01}
	s := newTestScreener(p, cfg)

	ctx := testutil.TestContext(t)
	_ = s.ReviewSingle(ctx, "a")
	_ = s.ReviewSingle(ctx, "b")

	totals := s.Usage()
	assert.Equal(t, int64(300), totals.Tokens)
	assert.InDelta(t, 0.01*300/1000, totals.Cost, 1e-6)
}

func TestStreamMode_AccumulatesAndSkipsCostWithoutUsage(t *testing.T) {
	// 流式且 usage 缺失：跳过计费而非估算
	p := mocks.NewMockProvider().WithContent(`{"decision":"include","notes":{"via":"stream"}}`)
	cfg := testConfig()
	cfg.Stream = true
	s := newTestScreener(p, cfg)

	res := s.ReviewSingle(testutil.TestContext(t), "text")
	assert.Equal(t, types.DecisionInclude, res.Decision)
	assert.JSONEq(t, `{"via":"stream"}`, res.Notes)
	assert.Equal(t, int64(0), s.Usage().Tokens, "无 usage 时不应计费")
}

func TestReviewSingle_RequestShape(t *testing.T) {
	p := mocks.NewMockProvider().WithContent(`{"decision":"unsure","notes":{}}`)
	cfg := testConfig()
	cfg.Temperature = 0.2
	s := newTestScreener(p, cfg)

	_ = s.ReviewSingle(testutil.TestContext(t), "title\n\nabstract")

	calls := p.Calls()
	require.Len(t, calls, 1)
	req := calls[0]
	assert.NotEmpty(t, req.TraceID)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "screening criteria", req.Messages[0].Content)
	assert.Equal(t, "title\n\nabstract", req.Messages[1].Content)
	require.NotNil(t, req.ResponseFormat)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
	assert.Equal(t, float32(0.2), req.Temperature)
}
