// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or /etc/hslu-rag/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - AI: provider selection, generation model, embedder model/dimension
//   - Storage: PostgreSQL connection (see storage.go)
//   - Pipeline: chunking, retrieval, context assembly and timeout tunables
//   - HTTP: listen address, CORS, proxy trust
//
// Security: the PostgreSQL password is masked in MarshalJSON/String.
// Validation: range checks in validation.go, fail-fast on Load.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the generation model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidEmbedderDimension indicates the embedding dimensionality is out of range.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidChunking indicates chunk size/overlap settings are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidRetrieval indicates retrieval threshold settings are out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval configuration")

	// ErrInvalidTimeout indicates a timeout setting is non-positive or inconsistent.
	ErrInvalidTimeout = errors.New("invalid timeout configuration")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// DefaultEmbedderModel is the default Gemini embedder model.
// gemini-embedding-001 supports truncation to 768 dimensions via
// OutputDimensionality; the pgvector schema uses vector(768).
const DefaultEmbedderModel = "gemini-embedding-001"

// DefaultEmbedderDimension matches the vector(768) column in db/migrations.
const DefaultEmbedderDimension = 768

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// AI provider and model configuration
	Provider          string  `mapstructure:"provider" json:"provider"`       // "gemini" (default), "ollama", "openai"
	ModelName         string  `mapstructure:"model_name" json:"model_name"`   // e.g. "gemini-2.5-flash", "llama3.3", "gpt-4o"
	Temperature       float32 `mapstructure:"temperature" json:"temperature"`
	MaxOutputTokens   int     `mapstructure:"max_output_tokens" json:"max_output_tokens"`
	EmbedderModel     string  `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderDimension int     `mapstructure:"embedder_dimension" json:"embedder_dimension"`

	// Ollama configuration (only used when provider is "ollama")
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Chunking configuration
	ChunkMaxTokens     int `mapstructure:"chunk_max_tokens" json:"chunk_max_tokens"`
	ChunkOverlapTokens int `mapstructure:"chunk_overlap_tokens" json:"chunk_overlap_tokens"`
	MaxDocumentBytes   int `mapstructure:"max_document_bytes" json:"max_document_bytes"`

	// Retrieval configuration
	RetrieveTopK   int     `mapstructure:"retrieve_top_k" json:"retrieve_top_k"`
	MinSimilarity  float64 `mapstructure:"min_similarity" json:"min_similarity"`
	NearTieEpsilon float64 `mapstructure:"near_tie_epsilon" json:"near_tie_epsilon"`

	// Context assembly configuration
	ContextMaxTokens int     `mapstructure:"context_max_tokens" json:"context_max_tokens"`
	DedupThreshold   float64 `mapstructure:"dedup_threshold" json:"dedup_threshold"`

	// Conversation configuration
	HistoryTurns    int  `mapstructure:"history_turns" json:"history_turns"`
	IncludeHistory  bool `mapstructure:"include_history" json:"include_history"`
	AllowUngrounded bool `mapstructure:"allow_ungrounded" json:"allow_ungrounded"`

	// Per-call and pipeline timeouts
	EmbedTimeout    time.Duration `mapstructure:"embed_timeout" json:"embed_timeout"`
	SearchTimeout   time.Duration `mapstructure:"search_timeout" json:"search_timeout"`
	GenerateTimeout time.Duration `mapstructure:"generate_timeout" json:"generate_timeout"`
	QueryBudget     time.Duration `mapstructure:"query_budget" json:"query_budget"`

	// Retry configuration for provider calls
	RetryAttempts int           `mapstructure:"retry_attempts" json:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff" json:"retry_backoff"`

	// HTTP server configuration
	HTTPAddr    string   `mapstructure:"http_addr" json:"http_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`

	// Trace export. An empty endpoint disables tracing.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
	Environment  string `mapstructure:"environment" json:"environment"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/hslu-rag")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{".", "/etc/hslu-rag"},
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL, when set, overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// AI defaults
	viper.SetDefault("provider", ProviderGemini)
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.2)
	viper.SetDefault("max_output_tokens", 1024)
	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("embedder_dimension", DefaultEmbedderDimension)

	// Ollama defaults
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "hslu_rag")
	viper.SetDefault("postgres_password", "hslu_rag_dev_password")
	viper.SetDefault("postgres_db_name", "hslu_rag")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Chunking defaults
	viper.SetDefault("chunk_max_tokens", 400)
	viper.SetDefault("chunk_overlap_tokens", 60)
	viper.SetDefault("max_document_bytes", 2*1024*1024)

	// Retrieval defaults
	viper.SetDefault("retrieve_top_k", 5)
	viper.SetDefault("min_similarity", 0.5)
	viper.SetDefault("near_tie_epsilon", 0.02)

	// Context assembly defaults
	viper.SetDefault("context_max_tokens", 1800)
	viper.SetDefault("dedup_threshold", 0.9)

	// Conversation defaults
	viper.SetDefault("history_turns", 5)
	viper.SetDefault("include_history", false)
	viper.SetDefault("allow_ungrounded", false)

	// Timeout defaults
	viper.SetDefault("embed_timeout", 10*time.Second)
	viper.SetDefault("search_timeout", 10*time.Second)
	viper.SetDefault("generate_timeout", 60*time.Second)
	viper.SetDefault("query_budget", 90*time.Second)

	// Retry defaults
	viper.SetDefault("retry_attempts", 3)
	viper.SetDefault("retry_backoff", 500*time.Millisecond)

	// HTTP defaults
	viper.SetDefault("http_addr", "127.0.0.1:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("trust_proxy", false)

	// Tracing defaults (disabled until an endpoint is configured)
	viper.SetDefault("otlp_endpoint", "")
	viper.SetDefault("service_name", "hslu-rag")
	viper.SetDefault("environment", "dev")
}

// bindEnvVariables binds environment overrides explicitly.
// API keys (GEMINI_API_KEY, OPENAI_API_KEY) are read directly by the Genkit
// provider plugins, not via Viper; Validate checks their presence.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime condition.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "RAG_PROVIDER")
	mustBind("model_name", "RAG_MODEL_NAME")
	mustBind("embedder_model", "RAG_EMBEDDER_MODEL")
	mustBind("ollama_host", "RAG_OLLAMA_HOST")
	mustBind("http_addr", "RAG_HTTP_ADDR")
	mustBind("cors_origins", "RAG_CORS_ORIGINS")
	mustBind("trust_proxy", "RAG_TRUST_PROXY")
	mustBind("include_history", "RAG_INCLUDE_HISTORY")
	mustBind("allow_ungrounded", "RAG_ALLOW_UNGROUNDED")
	mustBind("postgres_password", "RAG_POSTGRES_PASSWORD")
	mustBind("otlp_endpoint", "RAG_OTLP_ENDPOINT")
	mustBind("environment", "RAG_ENVIRONMENT")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Short secrets are
// fully masked; longer ones keep two leading and trailing characters for
// debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}

// FullModelName returns the provider-qualified model name for Genkit.
// Examples: "googleai/gemini-2.5-flash", "ollama/llama3.3", "openai/gpt-4o".
// If ModelName already contains a "/", it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}
