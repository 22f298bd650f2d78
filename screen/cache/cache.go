// Package cache 提供可选的 Redis 决策缓存。
// 同一 (模型, 系统提示词, 文本) 的判定结果在去重后的批次间仍可能重复
// 出现，命中缓存可完全跳过限流与网络调用，降低延迟与费用。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zhinengmahua/litscreen/types"
)

const keyPrefix = "screen:decision:"

// Config 决策缓存配置。
type Config struct {
	// Addr Redis 地址；为空表示禁用缓存
	Addr string `json:"addr" yaml:"addr"`
	// Password Redis 密码
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	// DB Redis 库编号
	DB int `json:"db,omitempty" yaml:"db,omitempty"`
	// TTL 缓存条目存活时间，默认 24h
	TTL time.Duration `json:"ttl,omitempty" yaml:"ttl,omitempty"`
}

// DecisionCache Redis 决策缓存。零值/nil 安全：Get 恒 miss，Set 为空操作。
type DecisionCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// New 根据配置创建缓存；Addr 为空时返回 nil（禁用）。
func New(cfg Config, logger *zap.Logger) *DecisionCache {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg.TTL, logger)
}

// NewWithClient 用已有客户端创建缓存（测试注入 miniredis 用）。
func NewWithClient(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *DecisionCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionCache{client: client, ttl: ttl, logger: logger}
}

// Key 生成确定性缓存键：sha256(model|systemPrompt|text) 前 16 字节。
func Key(model, systemPrompt, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(systemPrompt))
	h.Write([]byte{0})
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return keyPrefix + hex.EncodeToString(sum[:16])
}

// Get 查询缓存。miss 或任何 Redis 故障都返回 ok=false：
// 缓存故障只降级为未命中，绝不让一次判定失败。
func (c *DecisionCache) Get(ctx context.Context, key string) (types.Result, bool) {
	if c == nil || c.client == nil {
		return types.Result{}, false
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("decision cache get failed", zap.Error(err))
		}
		return types.Result{}, false
	}

	var res types.Result
	if err := json.Unmarshal(raw, &res); err != nil || !res.Decision.Valid() {
		c.logger.Warn("decision cache entry corrupt, ignoring", zap.String("key", key))
		return types.Result{}, false
	}
	return res, true
}

// Set 写入缓存；失败只记日志。
func (c *DecisionCache) Set(ctx context.Context, key string, res types.Result) {
	if c == nil || c.client == nil {
		return
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("decision cache set failed", zap.Error(err))
	}
}
