package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingDatabaseURL is returned when the postgres backend has no DSN
	ErrMissingDatabaseURL = errors.New("database url is required")
	// ErrUnknownVectorBackend is returned for a vector backend other than postgres or chromem
	ErrUnknownVectorBackend = errors.New("unknown vector backend")
	// ErrInvalidChunking is returned when chunk overlap is not smaller than chunk size
	ErrInvalidChunking = errors.New("chunk overlap must be smaller than chunk size")
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Vector    VectorConfig    `yaml:"vector"`
	EmbedLLM  LLMConfig       `yaml:"embed_llm"`
	ChatLLM   LLMConfig       `yaml:"chat_llm"`
	RAG       RAGConfig       `yaml:"rag"`
	Credits   CreditsConfig   `yaml:"credits"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Email     EmailConfig     `yaml:"email"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	// Driver is pgdriver (default) or pq
	Driver string `yaml:"driver"`
	Debug  bool   `yaml:"debug"`
}

type VectorConfig struct {
	// Backend is postgres or chromem
	Backend       string `yaml:"backend"`
	Dimensions    int    `yaml:"dimensions"`
	ChromemPath   string `yaml:"chromem_path"`
	InMemory      bool   `yaml:"in_memory"`
	EncryptionKey string `yaml:"encryption_key"`
}

type LLMConfig struct {
	// Provider is openai (any OpenAI compatible endpoint) or ollama
	Provider  string `yaml:"provider"`
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

type RAGConfig struct {
	ChunkSize     int     `yaml:"chunk_size"`
	ChunkOverlap  int     `yaml:"chunk_overlap"`
	TopK          int     `yaml:"top_k"`
	MinSimilarity float32 `yaml:"min_similarity"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	MaxHistory    int     `yaml:"max_history"`
	IngestWorkers int     `yaml:"ingest_workers"`
}

type CreditsConfig struct {
	DefaultPlan string    `yaml:"default_plan"`
	Thresholds  []float64 `yaml:"thresholds"`
}

type ScraperConfig struct {
	BaseURL string        `yaml:"base_url"`
	Key     string        `yaml:"key"`
	Timeout time.Duration `yaml:"timeout"`
	MapMax  int           `yaml:"map_max"`
}

type EmailConfig struct {
	BaseURL string `yaml:"base_url"`
	Key     string `yaml:"key"`
	From    string `yaml:"from"`
}

type RateLimitConfig struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	IdleTTL           time.Duration `yaml:"idle_ttl"`
}

const (
	defaultAddr          = ":8080"
	defaultChunkSize     = 1000 // runes
	defaultChunkOverlap  = 0
	defaultTopK          = 5
	defaultMinSimilarity = 0.2
	defaultDimensions    = 1536
)

// LoadConfig reads a YAML config file. ${VAR} references are expanded from the
// environment, which is seeded from a .env file in the working directory when present.
func LoadConfig(path string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML config data, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 90 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 20 << 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "pgdriver"
	}
	if c.Vector.Backend == "" {
		c.Vector.Backend = "postgres"
	}
	if c.Vector.Dimensions == 0 {
		c.Vector.Dimensions = defaultDimensions
	}
	if c.Vector.ChromemPath == "" {
		c.Vector.ChromemPath = "./chromemdb"
	}
	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = "openai"
	}
	if c.EmbedLLM.BatchSize == 0 {
		c.EmbedLLM.BatchSize = 64
	}
	if c.ChatLLM.Provider == "" {
		c.ChatLLM.Provider = "openai"
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = defaultChunkSize
		c.RAG.ChunkOverlap = defaultChunkOverlap
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = defaultTopK
	}
	if c.RAG.MinSimilarity == 0 {
		c.RAG.MinSimilarity = defaultMinSimilarity
	}
	if c.RAG.Temperature == 0 {
		c.RAG.Temperature = 0.3
	}
	if c.RAG.MaxTokens == 0 {
		c.RAG.MaxTokens = 600
	}
	if c.RAG.MaxHistory == 0 {
		c.RAG.MaxHistory = 10
	}
	if c.RAG.IngestWorkers == 0 {
		c.RAG.IngestWorkers = 4
	}
	if c.Credits.DefaultPlan == "" {
		c.Credits.DefaultPlan = "starter"
	}
	if len(c.Credits.Thresholds) == 0 {
		c.Credits.Thresholds = []float64{80, 100}
	}
	if c.Scraper.BaseURL == "" {
		c.Scraper.BaseURL = "https://api.firecrawl.dev"
	}
	if c.Scraper.Timeout == 0 {
		c.Scraper.Timeout = 60 * time.Second
	}
	if c.Scraper.MapMax == 0 {
		c.Scraper.MapMax = 200
	}
	if c.Email.BaseURL == "" {
		c.Email.BaseURL = "https://api.resend.com"
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 5
	}
	if c.RateLimit.IdleTTL == 0 {
		c.RateLimit.IdleTTL = 10 * time.Minute
	}
}

// Validate checks settings that have no sensible default
func (c *Config) Validate() error {
	switch strings.ToLower(c.Vector.Backend) {
	case "postgres", "chromem":
	default:
		return fmt.Errorf("%w: %s", ErrUnknownVectorBackend, c.Vector.Backend)
	}
	if c.Database.URL == "" {
		return ErrMissingDatabaseURL
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return ErrInvalidChunking
	}
	return nil
}
