package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Workspace  WorkspaceConfig
	SQLite     SQLiteConfig
	Vector     VectorConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Embedding  EmbeddingConfig
	Chunking   ChunkingConfig
	Retrieval  RetrievalConfig
	Enrichment EnrichmentConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host              string
	Port              int
	ReadTimeout       int
	WriteTimeout      int
	BodyLimit         int
	AllowedOrigins    []string
	RequestsPerMinute int
	Development       bool
}

type WorkspaceConfig struct {
	Default string
}

type SQLiteConfig struct {
	Path          string
	BusyTimeoutMS int
}

type VectorConfig struct {
	// Provider is one of milvus, qdrant or memory.
	Provider string
	Milvus   MilvusConfig
	Qdrant   QdrantConfig
}

type MilvusConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
}

type QdrantConfig struct {
	// Host and Port address the gRPC listener, 6334 by default.
	Host           string
	Port           int
	UseTLS         bool
	APIKey         string
	CollectionName string
	TimeoutSec     int
}

type RedisConfig struct {
	Enabled            bool
	Host               string
	Port               int
	Password           string
	DB                 int
	EmbeddingTTLMinute int
}

type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type EmbeddingConfig struct {
	// Provider is one of openai, ollama or hashing.
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Dim            int
	BatchSize      int
	RequestDelayMS int
	MaxConcurrency int
	TimeoutSec     int
}

type ChunkingConfig struct {
	SizeTokens    int
	OverlapTokens int
}

type RetrievalConfig struct {
	TopK             int
	MaxContextChunks int
	ReputationBoost  float64
}

type EnrichmentConfig struct {
	Enabled       bool
	MinConfidence float64
	MaxDocs       int
	MaxPerTopic   int
	MaxResults    int
	MinPageChars  int
	TimeoutSec    int
	// SearchProvider is google or serpapi.
	SearchProvider string
	GoogleAPIKey   string
	GoogleCX       string
	SerpAPIKey     string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path when given, otherwise from the
// default search locations. Environment variables prefixed with DOCQA_
// override both.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/docqa")
	}

	// Keys without a default are invisible to AutomaticEnv during Unmarshal,
	// so every key, secrets included, has one in setDefaults.
	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.normalize()

	return &config, nil
}

func (c *Config) normalize() {
	if c.Embedding.BatchSize < 1 {
		c.Embedding.BatchSize = 1
	}
	if c.Embedding.MaxConcurrency < 1 {
		c.Embedding.MaxConcurrency = 1
	}
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	c.Vector.Provider = strings.ToLower(c.Vector.Provider)
	c.Embedding.Provider = strings.ToLower(c.Embedding.Provider)
	c.Enrichment.SearchProvider = strings.ToLower(c.Enrichment.SearchProvider)
}

// LLMEnabled reports whether an external model key is configured.
func (c *Config) LLMEnabled() bool {
	return c.LLM.APIKey != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 26214400)
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:3000", "http://127.0.0.1:3000"})
	v.SetDefault("server.requestsPerMinute", 120)
	v.SetDefault("server.development", true)

	v.SetDefault("workspace.default", "default")

	v.SetDefault("sqlite.path", "./data/docqa.db")
	v.SetDefault("sqlite.busyTimeoutMS", 5000)

	v.SetDefault("vector.provider", "milvus")
	v.SetDefault("vector.milvus.endpoint", "localhost:19530")
	v.SetDefault("vector.milvus.collectionName", "docqa_chunks")
	v.SetDefault("vector.milvus.apiKey", "")
	v.SetDefault("vector.qdrant.host", "localhost")
	v.SetDefault("vector.qdrant.port", 6334)
	v.SetDefault("vector.qdrant.useTLS", false)
	v.SetDefault("vector.qdrant.apiKey", "")
	v.SetDefault("vector.qdrant.collectionName", "docqa_chunks")
	v.SetDefault("vector.qdrant.timeoutSec", 10)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embeddingTTLMinute", 1440)

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 30)

	v.SetDefault("embedding.provider", "hashing")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.apiKey", "")
	v.SetDefault("embedding.baseURL", "")
	v.SetDefault("embedding.dim", 384)
	v.SetDefault("embedding.batchSize", 64)
	v.SetDefault("embedding.requestDelayMS", 1000)
	v.SetDefault("embedding.maxConcurrency", 1)
	v.SetDefault("embedding.timeoutSec", 60)

	v.SetDefault("chunking.sizeTokens", 500)
	v.SetDefault("chunking.overlapTokens", 75)

	v.SetDefault("retrieval.topK", 20)
	v.SetDefault("retrieval.maxContextChunks", 6)
	v.SetDefault("retrieval.reputationBoost", 0.1)

	v.SetDefault("enrichment.enabled", false)
	v.SetDefault("enrichment.minConfidence", 0.2)
	v.SetDefault("enrichment.maxDocs", 3)
	v.SetDefault("enrichment.maxPerTopic", 1)
	v.SetDefault("enrichment.maxResults", 3)
	v.SetDefault("enrichment.minPageChars", 500)
	v.SetDefault("enrichment.timeoutSec", 10)
	v.SetDefault("enrichment.searchProvider", "google")
	v.SetDefault("enrichment.googleAPIKey", "")
	v.SetDefault("enrichment.googleCX", "")
	v.SetDefault("enrichment.serpAPIKey", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
