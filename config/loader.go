// =============================================================================
// 📦 Gatekeeper 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("GATEKEEPER").
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
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 Gatekeeper 检索核心的完整配置结构
type Config struct {
	// Mongo 文档存储配置（原生向量检索）
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Database SQL 存储配置（无原生索引，走暴力检索）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis 检索结果缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Embedding 嵌入服务配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Retrieval 分块与检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// MongoConfig MongoDB / Atlas 配置
type MongoConfig struct {
	// 连接串，为空时不启用 Mongo 存储
	URI string `yaml:"uri" env:"URI"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 分块向量集合
	ChunkCollection string `yaml:"chunk_collection" env:"CHUNK_COLLECTION"`
	// 事件向量集合
	EventCollection string `yaml:"event_collection" env:"EVENT_COLLECTION"`
	// Atlas Vector Search 索引名
	VectorIndex string `yaml:"vector_index" env:"VECTOR_INDEX"`
	// 向量字段路径
	VectorPath string `yaml:"vector_path" env:"VECTOR_PATH"`
	// 是否启用原生向量检索
	NativeSearch bool `yaml:"native_search" env:"NATIVE_SEARCH"`
	// 单次操作超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用 Redis 结果缓存（否则使用进程内缓存）
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite；为空时不启用
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// EmbeddingConfig 嵌入服务配置
type EmbeddingConfig struct {
	// 服务商偏好顺序，如 local,openai,gemini
	Providers []string `yaml:"providers" env:"PROVIDERS"`
	// 单次调用超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 批量嵌入两次调用之间的间隔
	BatchDelay time.Duration `yaml:"batch_delay" env:"BATCH_DELAY"`
	// 进程内缓存容量（条目数）
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
	// 缓存 TTL
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// 输入截断：最大字符数
	MaxInputChars int `yaml:"max_input_chars" env:"MAX_INPUT_CHARS"`
	// 输入截断：最大 token 数（>0 时优先于字符截断）
	MaxInputTokens int `yaml:"max_input_tokens" env:"MAX_INPUT_TOKENS"`

	Local  LocalEmbeddingConfig  `yaml:"local" env:"LOCAL"`
	OpenAI OpenAIEmbeddingConfig `yaml:"openai" env:"OPENAI"`
	Gemini GeminiEmbeddingConfig `yaml:"gemini" env:"GEMINI"`
}

// LocalEmbeddingConfig 本地（Ollama 风格）嵌入服务
type LocalEmbeddingConfig struct {
	BaseURL    string `yaml:"base_url" env:"BASE_URL"`
	Model      string `yaml:"model" env:"MODEL"`
	Dimensions int    `yaml:"dimensions" env:"DIMENSIONS"`
}

// OpenAIEmbeddingConfig OpenAI 嵌入服务
type OpenAIEmbeddingConfig struct {
	APIKey     string `yaml:"api_key" env:"API_KEY"`
	BaseURL    string `yaml:"base_url" env:"BASE_URL"`
	Model      string `yaml:"model" env:"MODEL"`
	Dimensions int    `yaml:"dimensions" env:"DIMENSIONS"`
}

// GeminiEmbeddingConfig Gemini 嵌入服务
type GeminiEmbeddingConfig struct {
	APIKey     string `yaml:"api_key" env:"API_KEY"`
	BaseURL    string `yaml:"base_url" env:"BASE_URL"`
	Model      string `yaml:"model" env:"MODEL"`
	Dimensions int    `yaml:"dimensions" env:"DIMENSIONS"`
}

// RetrievalConfig 分块与检索配置
type RetrievalConfig struct {
	// 分块大小（字符）
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 分块重叠（字符）
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	// 默认返回条数
	Limit int `yaml:"limit" env:"LIMIT"`
	// 默认最小相似度
	MinSimilarity float64 `yaml:"min_similarity" env:"MIN_SIMILARITY"`
	// 原生检索候选池大小
	NumCandidates int `yaml:"num_candidates" env:"NUM_CANDIDATES"`
	// 暴力检索候选池大小
	FallbackPoolSize int `yaml:"fallback_pool_size" env:"FALLBACK_POOL_SIZE"`
	// 检索结果缓存 TTL（0 表示禁用）
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// 摘录最大长度
	ExcerptLength int `yaml:"excerpt_length" env:"EXCERPT_LENGTH"`
	// 单次检索超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// serve 命令暴露 /metrics 的地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 两者都设置时运维端口使用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
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

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
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
		envPrefix:  "GATEKEEPER",
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
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

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

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

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

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	r := c.Retrieval
	if r.ChunkSize < MinChunkSize || r.ChunkSize > MaxChunkSize {
		errs = append(errs, fmt.Sprintf("chunk_size must be within [%d, %d]", MinChunkSize, MaxChunkSize))
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap > r.ChunkSize/2 {
		errs = append(errs, "chunk_overlap must be within [0, chunk_size/2]")
	}
	if r.MinSimilarity < -1 || r.MinSimilarity > 1 {
		errs = append(errs, "min_similarity must be between -1 and 1")
	}
	if r.Limit <= 0 {
		errs = append(errs, "limit must be positive")
	}
	if r.FallbackPoolSize < r.Limit {
		errs = append(errs, "fallback_pool_size must be >= limit")
	}

	if c.Mongo.URI == "" && c.Database.Driver == "" {
		errs = append(errs, "either mongo.uri or database.driver must be configured")
	}

	for _, p := range c.Embedding.Providers {
		switch p {
		case "local", "openai", "gemini":
		default:
			errs = append(errs, fmt.Sprintf("unknown embedding provider %q", p))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
