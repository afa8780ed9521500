package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the corpora service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	AI       AIConfig       `yaml:"ai"`
	Cache    CacheConfig    `yaml:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL         string `yaml:"url"`
	SSLCertPath string `yaml:"ssl_cert_path"`
}

// StorageConfig holds object storage settings. Private and public documents
// live in separate buckets; the visibility class picks the bucket.
type StorageConfig struct {
	Region        string `yaml:"region"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	PrivateBucket string `yaml:"private_bucket"`
	PublicBucket  string `yaml:"public_bucket"`
}

// AIConfig holds embedding and completion provider settings.
type AIConfig struct {
	// EmbedProvider is "gemini" or "openai" (any OpenAI-compatible endpoint).
	EmbedProvider string `yaml:"embed_provider"`
	GeminiAPIKey  string `yaml:"gemini_api_key"`
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`
	EmbedModel    string `yaml:"embed_model"`
	EmbedDim      int    `yaml:"embed_dim"`
	GenModel      string `yaml:"gen_model"`
}

// CacheConfig holds the optional Redis embedding cache settings.
type CacheConfig struct {
	Enabled bool     `yaml:"enabled"`
	Addrs   []string `yaml:"addrs"`
	TTLSec  int      `yaml:"ttl_sec"`
}

// PipelineConfig tunes the ingestion pipeline and the retriever.
type PipelineConfig struct {
	// BatchCap bounds how many documents a single orchestrator run advances
	// per stage.
	BatchCap int `yaml:"batch_cap"`
	// ChunkStrategy is "window" or "semantic".
	ChunkStrategy string `yaml:"chunk_strategy"`
	// WindowSize is the fixed window width in characters for the
	// deterministic strategy.
	WindowSize int `yaml:"window_size"`
	// SemanticBlockSize is the raw block width in characters handed to the
	// completion model for semantic segmentation.
	SemanticBlockSize int `yaml:"semantic_block_size"`
	// EmbedBatchSize is how many chunk texts go into one embedding request.
	EmbedBatchSize int `yaml:"embed_batch_size"`
	// MinTextLength is the extraction floor; shorter output fails the document.
	MinTextLength int `yaml:"min_text_length"`
	// MaxRetries dead-letters a document after this many transient failures.
	MaxRetries int `yaml:"max_retries"`
	// RetryCooldownSec is the base cooldown; it doubles per recorded failure.
	RetryCooldownSec int `yaml:"retry_cooldown_sec"`
	// StageTimeoutSec bounds a single document stage execution.
	StageTimeoutSec int `yaml:"stage_timeout_sec"`

	// Retrieval budget defaults.
	ContextTokenLimit int     `yaml:"context_token_limit"`
	MaxChunkTokens    int     `yaml:"max_chunk_tokens"`
	RelevanceCeiling  float64 `yaml:"relevance_ceiling"`
	SearchTopK        int     `yaml:"search_top_k"`
}

// AuthConfig holds credentials for the two authenticated surfaces: JWT for
// user-facing endpoints (tokens minted by the external auth service) and a
// static shared secret for the continue-processing trigger.
type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	PipelineSecret string `yaml:"pipeline_secret"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from a YAML file by environment name (local, dev,
// prod). A .env file, if present, is loaded first so ${VAR} references in the
// YAML resolve against it.
func Load(env string) (Config, error) {
	_ = godotenv.Load()

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port <= 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 15
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-2"
	}
	if c.AI.EmbedProvider == "" {
		c.AI.EmbedProvider = "gemini"
	}
	if c.AI.EmbedModel == "" {
		c.AI.EmbedModel = "text-embedding-004"
	}
	if c.AI.EmbedDim <= 0 {
		c.AI.EmbedDim = 768
	}
	if c.AI.GenModel == "" {
		c.AI.GenModel = "gemini-1.5-flash"
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 24 * 3600
	}
	if c.Pipeline.BatchCap <= 0 {
		c.Pipeline.BatchCap = 10
	}
	if c.Pipeline.ChunkStrategy == "" {
		c.Pipeline.ChunkStrategy = "window"
	}
	if c.Pipeline.WindowSize <= 0 {
		c.Pipeline.WindowSize = 1000
	}
	if c.Pipeline.SemanticBlockSize <= 0 {
		c.Pipeline.SemanticBlockSize = 12000
	}
	if c.Pipeline.EmbedBatchSize <= 0 {
		c.Pipeline.EmbedBatchSize = 16
	}
	if c.Pipeline.MinTextLength <= 0 {
		c.Pipeline.MinTextLength = 20
	}
	if c.Pipeline.MaxRetries <= 0 {
		c.Pipeline.MaxRetries = 5
	}
	if c.Pipeline.RetryCooldownSec <= 0 {
		c.Pipeline.RetryCooldownSec = 60
	}
	if c.Pipeline.StageTimeoutSec <= 0 {
		c.Pipeline.StageTimeoutSec = 300
	}
	if c.Pipeline.ContextTokenLimit <= 0 {
		c.Pipeline.ContextTokenLimit = 3000
	}
	if c.Pipeline.MaxChunkTokens <= 0 {
		c.Pipeline.MaxChunkTokens = 800
	}
	if c.Pipeline.RelevanceCeiling <= 0 {
		c.Pipeline.RelevanceCeiling = 3.5
	}
	if c.Pipeline.SearchTopK <= 0 {
		c.Pipeline.SearchTopK = 20
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	switch c.Pipeline.ChunkStrategy {
	case "window", "semantic":
	default:
		return fmt.Errorf("pipeline.chunk_strategy must be \"window\" or \"semantic\", got %q", c.Pipeline.ChunkStrategy)
	}
	switch c.AI.EmbedProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("ai.embed_provider must be \"gemini\" or \"openai\", got %q", c.AI.EmbedProvider)
	}
	if c.Auth.PipelineSecret == "" {
		return fmt.Errorf("auth.pipeline_secret is required")
	}
	if c.Cache.Enabled && len(c.Cache.Addrs) == 0 {
		return fmt.Errorf("cache.addrs is required when cache is enabled")
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
