// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证 Provider 默认值
	assert.Equal(t, 60*time.Second, cfg.Provider.Timeout)
	assert.Empty(t, cfg.Provider.APIKey)

	// 验证 Screen 默认值
	assert.Equal(t, []string{"stage3"}, cfg.Screen.Stages)
	assert.Equal(t, "gpt-4o", cfg.Screen.Models["stage3"])
	assert.Equal(t, 3, cfg.Screen.Workers)
	assert.Equal(t, 8, cfg.Screen.MaxRetries)
	assert.Zero(t, cfg.Screen.Temperature)
	assert.False(t, cfg.Screen.Stream)

	// 验证限流默认值：不配置则全部禁用
	assert.Zero(t, cfg.RateLimit.TPMLimit)
	assert.Zero(t, cfg.RateLimit.RPMLimit)

	// 验证缓存默认值：无地址即禁用
	assert.Empty(t, cfg.Cache.Addr)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)

	// 验证 Log 默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	// 不指定配置文件，应该返回默认值
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 3, cfg.Screen.Workers)
	assert.Equal(t, []string{"stage3"}, cfg.Screen.Stages)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	// 创建临时配置文件
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
provider:
  api_key: "sk-test"
  base_url: "https://proxy.example.com/v1"
  timeout: 90s

screen:
  system_prompt: "screening criteria"
  models:
    stage1: "gpt-4.1-mini"
    stage3: "gpt-4o"
  stages: ["stage1", "stage3"]
  workers: 5
  max_retries: 4
  temperature: 0.2
  stream: true
  pricing:
    gpt-4o: 0.01

rate_limit:
  tpm_limit: 200000
  rpm_limit: 500

cache:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 加载配置
	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 验证 YAML 值覆盖了默认值
	assert.Equal(t, "sk-test", cfg.Provider.APIKey)
	assert.Equal(t, "https://proxy.example.com/v1", cfg.Provider.BaseURL)
	assert.Equal(t, 90*time.Second, cfg.Provider.Timeout)

	assert.Equal(t, "screening criteria", cfg.Screen.SystemPrompt)
	assert.Equal(t, []string{"stage1", "stage3"}, cfg.Screen.Stages)
	assert.Equal(t, "gpt-4.1-mini", cfg.Screen.Models["stage1"])
	assert.Equal(t, 5, cfg.Screen.Workers)
	assert.Equal(t, 4, cfg.Screen.MaxRetries)
	assert.InDelta(t, 0.2, cfg.Screen.Temperature, 0.001)
	assert.True(t, cfg.Screen.Stream)
	assert.InDelta(t, 0.01, cfg.Screen.Pricing["gpt-4o"], 0.0001)

	assert.Equal(t, 200000, cfg.RateLimit.TPMLimit)
	assert.Equal(t, 500, cfg.RateLimit.RPMLimit)

	assert.Equal(t, "redis.example.com:6379", cfg.Cache.Addr)
	assert.Equal(t, "secret", cfg.Cache.Password)
	assert.Equal(t, 1, cfg.Cache.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	// 设置环境变量
	envVars := map[string]string{
		"LITSCREEN_PROVIDER_API_KEY":       "sk-env",
		"LITSCREEN_SCREEN_WORKERS":         "7",
		"LITSCREEN_SCREEN_MAX_RETRIES":     "2",
		"LITSCREEN_SCREEN_STAGES":          "stage2,stage3",
		"LITSCREEN_RATE_LIMIT_TPM_LIMIT":   "120000",
		"LITSCREEN_CACHE_ADDR":             "env-redis:6379",
		"LITSCREEN_LOG_LEVEL":              "warn",
		"LITSCREEN_SCREEN_TIMEOUT":         "45s",
	}

	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	// 加载配置
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	// 验证环境变量覆盖了默认值
	assert.Equal(t, "sk-env", cfg.Provider.APIKey)
	assert.Equal(t, 7, cfg.Screen.Workers)
	assert.Equal(t, 2, cfg.Screen.MaxRetries)
	assert.Equal(t, []string{"stage2", "stage3"}, cfg.Screen.Stages)
	assert.Equal(t, 120000, cfg.RateLimit.TPMLimit)
	assert.Equal(t, "env-redis:6379", cfg.Cache.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 45*time.Second, cfg.Screen.Timeout)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
provider:
  api_key: "sk-yaml"
screen:
  workers: 2
  system_prompt: "yaml prompt"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	// 设置环境变量（应该覆盖 YAML）
	os.Setenv("LITSCREEN_PROVIDER_API_KEY", "sk-env")
	os.Setenv("LITSCREEN_SCREEN_WORKERS", "9")
	defer func() {
		os.Unsetenv("LITSCREEN_PROVIDER_API_KEY")
		os.Unsetenv("LITSCREEN_SCREEN_WORKERS")
	}()

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	// 环境变量应该覆盖 YAML
	assert.Equal(t, "sk-env", cfg.Provider.APIKey)
	assert.Equal(t, 9, cfg.Screen.Workers)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, "yaml prompt", cfg.Screen.SystemPrompt)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	os.Setenv("MYAPP_SCREEN_WORKERS", "6")
	defer os.Unsetenv("MYAPP_SCREEN_WORKERS")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Screen.Workers)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/nonexistent/config.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Screen.Workers)
}

func TestLoader_MalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("{{{not yaml"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_SystemPromptFile(t *testing.T) {
	tmpDir := t.TempDir()
	promptPath := filepath.Join(tmpDir, "prompt.txt")
	require.NoError(t, os.WriteFile(promptPath, []byte("criteria from file"), 0644))

	configPath := filepath.Join(tmpDir, "config.yaml")
	yamlContent := "screen:\n  system_prompt_file: " + promptPath + "\n"
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "criteria from file", cfg.Screen.SystemPrompt)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Screen.Workers > 100 {
			return assert.AnError
		}
		return nil
	}

	os.Setenv("LITSCREEN_SCREEN_WORKERS", "500")
	defer os.Unsetenv("LITSCREEN_SCREEN_WORKERS")

	_, err := NewLoader().WithValidator(validator).Load()
	assert.Error(t, err)
}

// --- Validate 测试 ---

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-test"
	assert.NoError(t, cfg.Validate())

	cfg.Provider.APIKey = ""
	assert.Error(t, cfg.Validate())

	cfg.Provider.APIKey = "sk-test"
	cfg.Screen.Stages = []string{"stage9"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage9")
}

// --- 转换测试 ---

func TestConversions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "sk-test"
	cfg.Screen.Temperature = 0.3
	cfg.RateLimit.TPMLimit = 90000
	cfg.Cache.Addr = "localhost:6379"

	pc := cfg.ToProvider()
	assert.Equal(t, "sk-test", pc.APIKey)
	assert.Equal(t, 60*time.Second, pc.Timeout)

	sc := cfg.ToScreen()
	assert.Equal(t, "gpt-4o", sc.Models["stage3"])
	assert.InDelta(t, 0.3, float64(sc.Temperature), 0.001)
	assert.Equal(t, 90000, sc.RateLimit.TPMLimit)

	cc := cfg.ToCache()
	assert.Equal(t, "localhost:6379", cc.Addr)
	assert.Equal(t, 24*time.Hour, cc.TTL)
}
