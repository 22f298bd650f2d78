// =============================================================================
// 📦 litscreen 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("LITSCREEN").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhinengmahua/litscreen/providers"
	"github.com/zhinengmahua/litscreen/screen"
	"github.com/zhinengmahua/litscreen/screen/cache"
	"github.com/zhinengmahua/litscreen/screen/pricing"
	"github.com/zhinengmahua/litscreen/screen/ratelimit"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 litscreen 的完整配置结构
type Config struct {
	// Provider 上游 LLM 服务配置
	Provider ProviderConfig `yaml:"provider" env:"PROVIDER"`

	// Screen 筛选引擎配置
	Screen ScreenConfig `yaml:"screen" env:"SCREEN"`

	// RateLimit 限流配置
	RateLimit RateLimitConfig `yaml:"rate_limit" env:"RATE_LIMIT"`

	// Cache 决策缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ProviderConfig 上游服务配置
type ProviderConfig struct {
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 接口基地址，空则用官方端点
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 组织 ID
	Organization string `yaml:"organization" env:"ORGANIZATION"`
	// HTTP 超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ScreenConfig 筛选引擎配置（与 screen.Config 兼容）
type ScreenConfig struct {
	// 系统提示词；文件路径见 SystemPromptFile
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	// 系统提示词文件路径，优先级高于 SystemPrompt
	SystemPromptFile string `yaml:"system_prompt_file" env:"SYSTEM_PROMPT_FILE"`
	// 阶段 → 模型路由表（仅 YAML）
	Models map[string]string `yaml:"models" env:"-"`
	// 启用的阶段序列
	Stages []string `yaml:"stages" env:"STAGES"`
	// 并发 worker 数
	Workers int `yaml:"workers" env:"WORKERS"`
	// 单次调用最大尝试次数（含首次）
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 采样温度
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 是否流式返回
	Stream bool `yaml:"stream" env:"STREAM"`
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 单价表覆盖，模型名 → 每千 token 美元价（仅 YAML）
	Pricing map[string]float64 `yaml:"pricing" env:"-"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	// 每分钟 token 上限，0 禁用
	TPMLimit int `yaml:"tpm_limit" env:"TPM_LIMIT"`
	// 每分钟请求上限，0 禁用
	RPMLimit int `yaml:"rpm_limit" env:"RPM_LIMIT"`
}

// CacheConfig 决策缓存配置
type CacheConfig struct {
	// Redis 地址，空则禁用缓存
	Addr string `yaml:"addr" env:"ADDR"`
	// Redis 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// Redis 库编号
	DB int `yaml:"db" env:"DB"`
	// 条目存活时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用 Prometheus 指标
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标 HTTP 端口
	Port int `yaml:"port" env:"PORT"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "LITSCREEN",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 提示词文件展开
	if err := cfg.resolvePromptFile(); err != nil {
		return nil, err
	}

	// 5. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// resolvePromptFile 将 SystemPromptFile 的内容展开到 SystemPrompt
func (c *Config) resolvePromptFile() error {
	if c.Screen.SystemPromptFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.Screen.SystemPromptFile)
	if err != nil {
		return fmt.Errorf("failed to read system prompt file: %w", err)
	}
	c.Screen.SystemPrompt = string(data)
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Provider.APIKey == "" {
		errs = append(errs, "provider api_key is required")
	}
	if c.Screen.Workers < 1 {
		errs = append(errs, "workers must be positive")
	}
	if c.Screen.MaxRetries < 1 {
		errs = append(errs, "max_retries must be positive")
	}
	if c.Screen.Temperature < 0 || c.Screen.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}
	for _, stage := range c.Screen.Stages {
		if _, ok := c.Screen.Models[stage]; !ok {
			errs = append(errs, fmt.Sprintf("stage %q has no model configured", stage))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// =============================================================================
// 🔄 领域配置转换
// =============================================================================

// ToProvider 转换为 providers.OpenAIConfig
func (c *Config) ToProvider() providers.OpenAIConfig {
	return providers.OpenAIConfig{
		APIKey:       c.Provider.APIKey,
		BaseURL:      c.Provider.BaseURL,
		Organization: c.Provider.Organization,
		Timeout:      c.Provider.Timeout,
	}
}

// ToScreen 转换为 screen.Config
func (c *Config) ToScreen() screen.Config {
	return screen.Config{
		SystemPrompt: c.Screen.SystemPrompt,
		Models:       screen.ModelMap(c.Screen.Models),
		Stages:       c.Screen.Stages,
		Workers:      c.Screen.Workers,
		MaxRetries:   c.Screen.MaxRetries,
		Temperature:  float32(c.Screen.Temperature),
		Stream:       c.Screen.Stream,
		Timeout:      c.Screen.Timeout,
		RateLimit: ratelimit.Config{
			TPMLimit: c.RateLimit.TPMLimit,
			RPMLimit: c.RateLimit.RPMLimit,
		},
		Pricing: pricing.Table(c.Screen.Pricing),
	}
}

// ToCache 转换为 cache.Config
func (c *Config) ToCache() cache.Config {
	return cache.Config{
		Addr:     c.Cache.Addr,
		Password: c.Cache.Password,
		DB:       c.Cache.DB,
		TTL:      c.Cache.TTL,
	}
}
