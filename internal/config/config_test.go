package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Provider:           ProviderGemini,
		ModelName:          "gemini-2.5-flash",
		Temperature:        0.2,
		MaxOutputTokens:    1024,
		EmbedderModel:      DefaultEmbedderModel,
		EmbedderDimension:  DefaultEmbedderDimension,
		OllamaHost:         "http://localhost:11434",
		PostgresHost:       "localhost",
		PostgresPort:       5432,
		PostgresUser:       "hslu_rag",
		PostgresPassword:   "secret-password-value",
		PostgresDBName:     "hslu_rag",
		PostgresSSLMode:    "disable",
		ChunkMaxTokens:     400,
		ChunkOverlapTokens: 60,
		MaxDocumentBytes:   2 * 1024 * 1024,
		RetrieveTopK:       5,
		MinSimilarity:      0.5,
		NearTieEpsilon:     0.02,
		ContextMaxTokens:   1800,
		DedupThreshold:     0.9,
		HistoryTurns:       5,
		EmbedTimeout:       10 * time.Second,
		SearchTimeout:      10 * time.Second,
		GenerateTimeout:    60 * time.Second,
		QueryBudget:        90 * time.Second,
		RetryAttempts:      3,
		RetryBackoff:       500 * time.Millisecond,
		HTTPAddr:           "127.0.0.1:8080",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"unknown provider", func(c *Config) { c.Provider = "anthropic" }, ErrInvalidProvider},
		{"empty model", func(c *Config) { c.ModelName = "  " }, ErrInvalidModelName},
		{"empty embedder", func(c *Config) { c.EmbedderModel = "" }, ErrInvalidEmbedderModel},
		{"zero dimension", func(c *Config) { c.EmbedderDimension = 0 }, ErrInvalidEmbedderDimension},
		{"overlap equals chunk size", func(c *Config) { c.ChunkOverlapTokens = c.ChunkMaxTokens }, ErrInvalidChunking},
		{"negative overlap", func(c *Config) { c.ChunkOverlapTokens = -1 }, ErrInvalidChunking},
		{"zero top-k", func(c *Config) { c.RetrieveTopK = 0 }, ErrInvalidRetrieval},
		{"similarity above one", func(c *Config) { c.MinSimilarity = 1.5 }, ErrInvalidRetrieval},
		{"budget below generate timeout", func(c *Config) { c.QueryBudget = time.Second }, ErrInvalidTimeout},
		{"zero embed timeout", func(c *Config) { c.EmbedTimeout = 0 }, ErrInvalidTimeout},
		{"empty host", func(c *Config) { c.PostgresHost = "" }, ErrInvalidPostgresHost},
		{"port out of range", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
		{"bad ssl mode", func(c *Config) { c.PostgresSSLMode = "maybe" }, ErrInvalidPostgresSSLMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFullModelName(t *testing.T) {
	tests := []struct {
		provider string
		model    string
		want     string
	}{
		{ProviderGemini, "gemini-2.5-flash", "googleai/gemini-2.5-flash"},
		{ProviderOllama, "llama3.3", "ollama/llama3.3"},
		{ProviderOpenAI, "gpt-4o", "openai/gpt-4o"},
		{ProviderGemini, "googleai/gemini-2.5-pro", "googleai/gemini-2.5-pro"},
	}
	for _, tt := range tests {
		c := &Config{Provider: tt.provider, ModelName: tt.model}
		if got := c.FullModelName(); got != tt.want {
			t.Errorf("FullModelName(%s, %s) = %q, want %q", tt.provider, tt.model, got, tt.want)
		}
	}
}

func TestMarshalJSONMasksPassword(t *testing.T) {
	cfg := validConfig()
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), cfg.PostgresPassword) {
		t.Fatal("marshaled config contains plaintext password")
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	masked, _ := m["postgres_password"].(string)
	if masked == "" || masked == cfg.PostgresPassword {
		t.Fatalf("postgres_password not masked: %q", masked)
	}
}

func TestStringMasksPassword(t *testing.T) {
	cfg := validConfig()
	if s := cfg.String(); strings.Contains(s, cfg.PostgresPassword) {
		t.Fatal("String() contains plaintext password")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", maskedValue},
		{"12345678", maskedValue},
	}
	for _, tt := range tests {
		if got := maskSecret(tt.in); got != tt.want {
			t.Errorf("maskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := maskSecret("super-secret-password")
	if strings.Contains(long, "super-secret") {
		t.Errorf("maskSecret leaked content: %q", long)
	}
	if !strings.HasPrefix(long, "su") || !strings.HasSuffix(long, "rd") {
		t.Errorf("maskSecret lost debug affixes: %q", long)
	}
}

func TestPostgresConnectionString(t *testing.T) {
	cfg := validConfig()
	dsn := cfg.PostgresConnectionString()
	for _, part := range []string{"host=localhost", "port=5432", "dbname=hslu_rag", "sslmode=disable"} {
		if !strings.Contains(dsn, part) {
			t.Errorf("DSN missing %q: %s", part, dsn)
		}
	}

	cfg.PostgresPassword = "has space"
	if dsn := cfg.PostgresConnectionString(); !strings.Contains(dsn, "password='has space'") {
		t.Errorf("DSN did not quote password with space: %s", dsn)
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := validConfig()
	cfg.PostgresPassword = "p@ss/word"
	u := cfg.PostgresURL()
	if !strings.HasPrefix(u, "postgres://") {
		t.Fatalf("unexpected scheme: %s", u)
	}
	if strings.Contains(u, "p@ss/word") {
		t.Errorf("URL did not percent-encode password: %s", u)
	}
}

func TestParseDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://app:pw@db.internal:6432/courses?sslmode=require")

	cfg := validConfig()
	if err := cfg.parseDatabaseURL(); err != nil {
		t.Fatalf("parseDatabaseURL: %v", err)
	}
	if cfg.PostgresHost != "db.internal" || cfg.PostgresPort != 6432 {
		t.Errorf("host/port = %s:%d", cfg.PostgresHost, cfg.PostgresPort)
	}
	if cfg.PostgresUser != "app" || cfg.PostgresPassword != "pw" {
		t.Errorf("credentials not applied")
	}
	if cfg.PostgresDBName != "courses" || cfg.PostgresSSLMode != "require" {
		t.Errorf("dbname/sslmode = %s/%s", cfg.PostgresDBName, cfg.PostgresSSLMode)
	}
}

func TestParseDatabaseURLRejectsOtherSchemes(t *testing.T) {
	t.Setenv("DATABASE_URL", "mysql://root@localhost/db")

	cfg := validConfig()
	if err := cfg.parseDatabaseURL(); err == nil {
		t.Fatal("expected error for mysql scheme")
	}
}
