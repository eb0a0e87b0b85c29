// =============================================================================
// 📦 Gatekeeper 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// 分块大小边界（字符）
const (
	MinChunkSize = 400
	MaxChunkSize = 4000
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Mongo:     DefaultMongoConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Embedding: DefaultEmbeddingConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Metrics:   DefaultMetricsConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultMongoConfig 返回默认 Mongo 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:             "",
		Database:        "gatekeeper",
		ChunkCollection: "document_chunk_vectors",
		EventCollection: "order_event_vectors",
		VectorIndex:     "chunk_vector_index",
		VectorPath:      "embedding",
		NativeSearch:    true,
		Timeout:         10 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "gatekeeper",
		Password:        "",
		Name:            "gatekeeper.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置（本地优先，云端兜底）
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Providers:      []string{"local", "openai", "gemini"},
		Timeout:        30 * time.Second,
		BatchDelay:     100 * time.Millisecond,
		CacheSize:      2048,
		CacheTTL:       24 * time.Hour,
		MaxInputChars:  8000,
		MaxInputTokens: 0,
		Local: LocalEmbeddingConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
		},
		OpenAI: OpenAIEmbeddingConfig{
			BaseURL:    "https://api.openai.com",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
		},
		Gemini: GeminiEmbeddingConfig{
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
			Model:      "gemini-embedding-001",
			Dimensions: 768,
		},
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		ChunkSize:        1500,
		ChunkOverlap:     200,
		Limit:            5,
		MinSimilarity:    0.35,
		NumCandidates:    200,
		FallbackPoolSize: 200,
		CacheTTL:         15 * time.Minute,
		ExcerptLength:    600,
		Timeout:          10 * time.Second,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "gatekeeper",
		Addr:      ":9091",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "gatekeeper",
		SampleRate:   0.1,
	}
}
