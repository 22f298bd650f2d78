// Package pricing 提供按模型的单价表与并发安全的用量/费用累计。
package pricing

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultPricePer1K 未配置模型的保守兜底单价（USD / 1K tokens）。
const DefaultPricePer1K = 0.005

// costScale 费用以微美元整数存储，便于原子累加。
const costScale = 1e6

// Table 模型 → 每 1K token 单价（USD）。流水线运行期间只读。
type Table map[string]float64

// DefaultTable 返回内置单价表。可被配置覆盖。
func DefaultTable() Table {
	return Table{
		"gpt-4o":        0.005,
		"gpt-4o-mini":   0.00060,
		"gpt-4.1":       0.008,
		"gpt-4.1-mini":  0.0016,
		"gpt-4-turbo":   0.01,
		"gpt-3.5-turbo": 0.0015,
	}
}

// PricePer1K 返回模型单价；缺失时回退到保守默认值而非失败。
func (t Table) PricePer1K(model string) float64 {
	if t != nil {
		if p, ok := t[model]; ok {
			return p
		}
	}
	return DefaultPricePer1K
}

// Totals 累计用量快照。
type Totals struct {
	Tokens int64   `json:"tokens"`
	Cost   float64 `json:"cost"` // USD
}

// Tracker 跨所有并发调用共享的用量/费用累计器。
// 总量只通过原子累加更新：丢失更新会污染运营预算，属正确性问题。
type Tracker struct {
	table  Table
	logger *zap.Logger

	totalTokens atomic.Int64
	totalMicro  atomic.Int64 // 费用，微美元
}

// NewTracker 创建累计器。table 为 nil 时使用内置单价表。
func NewTracker(table Table, logger *zap.Logger) *Tracker {
	if table == nil {
		table = DefaultTable()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{table: table, logger: logger}
}

// Add 按模型单价计算本次调用费用（USD），原子累加总 token 与总费用，
// 返回本次增量费用供日志使用。
func (t *Tracker) Add(model string, usedTokens int) float64 {
	cost := t.table.PricePer1K(model) * float64(usedTokens) / 1000.0

	t.totalTokens.Add(int64(usedTokens))
	t.totalMicro.Add(int64(cost * costScale))

	t.logger.Debug("usage recorded",
		zap.String("model", model),
		zap.Int("tokens", usedTokens),
		zap.Float64("cost", cost))

	return cost
}

// Totals 返回当前累计快照。
func (t *Tracker) Totals() Totals {
	return Totals{
		Tokens: t.totalTokens.Load(),
		Cost:   float64(t.totalMicro.Load()) / costScale,
	}
}
