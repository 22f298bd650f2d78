// =============================================================================
// 📦 litscreen 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Provider:  DefaultProviderConfig(),
		Screen:    DefaultScreenConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Cache:     DefaultCacheConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultProviderConfig 返回默认上游服务配置
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		APIKey:  "",
		BaseURL: "",
		Timeout: 60 * time.Second,
	}
}

// DefaultScreenConfig 返回默认筛选引擎配置
func DefaultScreenConfig() ScreenConfig {
	return ScreenConfig{
		Models: map[string]string{
			"stage3": "gpt-4o",
		},
		Stages:      []string{"stage3"},
		Workers:     3,
		MaxRetries:  8,
		Temperature: 0,
		Stream:      false,
		Timeout:     60 * time.Second,
	}
}

// DefaultRateLimitConfig 返回默认限流配置
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		TPMLimit: 0,
		RPMLimit: 0,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr: "",
		DB:   0,
		TTL:  24 * time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: false,
		Port:    9091,
	}
}
