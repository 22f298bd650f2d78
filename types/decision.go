// Package types 提供 litscreen 的统一类型定义：
// 筛选决策枚举、分类结果与结构化错误。
package types

import (
	"strings"

	"go.uber.org/zap"
)

// Decision 文献筛选决策枚举。
// 取值封闭：include / exclude / unsure，按值比较。
type Decision string

const (
	// DecisionInclude 包含：该文献满足全部纳入标准。
	DecisionInclude Decision = "include"

	// DecisionExclude 排除：该文献不满足至少一项关键纳入标准。
	DecisionExclude Decision = "exclude"

	// DecisionUnsure 不确定：信息不足，或模型返回异常时的安全默认值。
	DecisionUnsure Decision = "unsure"
)

// ParseDecision 规范化模型返回的原始标签：TrimSpace + ToLower 后匹配。
// 第二个返回值报告标签是否为合法枚举值；不合法时返回 DecisionUnsure。
// 所有对原始标签的强制转换都必须经过这里。
func ParseDecision(raw string) (Decision, bool) {
	normalized := Decision(strings.ToLower(strings.TrimSpace(raw)))
	if !normalized.Valid() {
		return DecisionUnsure, false
	}
	return normalized, true
}

// DecisionFromRaw 将模型返回的原始标签安全转换为 Decision。
//
// 模型返回的 JSON 可能含大小写不一致或多余空白，统一做 TrimSpace +
// ToLower 后匹配。无法匹配时记录 WARN 日志并返回 DecisionUnsure，
// 保证上层流程对任意输入都有确定结果（全函数，幂等）。
func DecisionFromRaw(raw string, logger *zap.Logger) Decision {
	d, ok := ParseDecision(raw)
	if !ok {
		if logger == nil {
			logger = zap.L()
		}
		logger.Warn("无效的决策标签，已默认返回 unsure",
			zap.String("raw_label", raw))
	}
	return d
}

// Valid 报告 d 是否为三个合法枚举值之一。
func (d Decision) Valid() bool {
	switch d {
	case DecisionInclude, DecisionExclude, DecisionUnsure:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (d Decision) String() string { return string(d) }

// Result 单条文本的分类结果。
// Notes 为自由文本（通常是序列化后的判定依据）；解析失败时由调用方
// 填入诊断占位串，绝不为下游留空。
type Result struct {
	Decision Decision `json:"decision"`
	Notes    string   `json:"notes"`
}
