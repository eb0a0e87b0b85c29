package embedding

import (
	"fmt"
	"time"

	"github.com/BaSui01/gatekeeper/config"
)

// LocalConfig configures the local (Ollama-style) embedding provider.
type LocalConfig struct {
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"` // nomic-embed-text
	Dimensions int           `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey     string        `json:"api_key" yaml:"api_key"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`           // text-embedding-3-small
	Dimensions int           `json:"dimensions,omitempty" yaml:"dimensions,omitempty"` // 256, 1024, 1536
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GeminiConfig 配置 Gemini 嵌入提供者.
type GeminiConfig struct {
	APIKey     string        `json:"api_key" yaml:"api_key"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"` // gemini-embedding-001
	Dimensions int           `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultLocalConfig returns default local embedding config.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		BaseURL:    "http://localhost:11434",
		Model:      "nomic-embed-text",
		Dimensions: 768,
		Timeout:    30 * time.Second,
	}
}

// DefaultOpenAIConfig returns default OpenAI embedding config.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    "https://api.openai.com",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
	}
}

// DefaultGeminiConfig 返回默认 Gemini 嵌入配置.
func DefaultGeminiConfig() GeminiConfig {
	return GeminiConfig{
		BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
		Model:      "gemini-embedding-001",
		Dimensions: 768,
		Timeout:    30 * time.Second,
	}
}

// ProvidersFromConfig 按 cfg.Providers 的顺序构建提供者列表.
// 未知名称返回错误; 缺少凭据的提供者仍会被构建, 由调用链在运行时跳过.
func ProvidersFromConfig(cfg config.EmbeddingConfig) ([]Provider, error) {
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		switch name {
		case "local":
			providers = append(providers, NewLocalProvider(LocalConfig{
				BaseURL:    cfg.Local.BaseURL,
				Model:      cfg.Local.Model,
				Dimensions: cfg.Local.Dimensions,
				Timeout:    cfg.Timeout,
			}))
		case "openai":
			providers = append(providers, NewOpenAIProvider(OpenAIConfig{
				APIKey:     cfg.OpenAI.APIKey,
				BaseURL:    cfg.OpenAI.BaseURL,
				Model:      cfg.OpenAI.Model,
				Dimensions: cfg.OpenAI.Dimensions,
				Timeout:    cfg.Timeout,
			}))
		case "gemini":
			providers = append(providers, NewGeminiProvider(GeminiConfig{
				APIKey:     cfg.Gemini.APIKey,
				BaseURL:    cfg.Gemini.BaseURL,
				Model:      cfg.Gemini.Model,
				Dimensions: cfg.Gemini.Dimensions,
				Timeout:    cfg.Timeout,
			}))
		default:
			return nil, fmt.Errorf("unknown embedding provider: %s", name)
		}
	}
	return providers, nil
}

// ChainConfigFromConfig 将嵌入配置转换为调用链配置.
func ChainConfigFromConfig(cfg config.EmbeddingConfig) ChainConfig {
	return ChainConfig{
		CallTimeout:    cfg.Timeout,
		BatchDelay:     cfg.BatchDelay,
		CacheSize:      cfg.CacheSize,
		CacheTTL:       cfg.CacheTTL,
		MaxInputChars:  cfg.MaxInputChars,
		MaxInputTokens: cfg.MaxInputTokens,
	}
}
