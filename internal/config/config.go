package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// Hard deadline for an interactive translate, milliseconds.
	RequestDeadlineMS int `mapstructure:"D_REQUEST_DEADLINE_MS"`

	// Batch job queue.
	JobMaxConcurrent int `mapstructure:"JOB_MAX_CONCURRENT"`
	JobItemDelayMS   int `mapstructure:"JOB_ITEM_DELAY_MS"`
	JobRetentionMS   int `mapstructure:"JOB_RETENTION_MS"`

	// External embedding model.
	EmbeddingAPIURL    string `mapstructure:"EMBEDDING_API_URL"`
	EmbeddingAPIKey    string `mapstructure:"EMBEDDING_API_KEY"`
	EmbeddingModel     string `mapstructure:"EMBEDDING_MODEL"`
	EmbeddingDim       int    `mapstructure:"EMBEDDING_DIM"`
	EmbeddingTimeoutMS int    `mapstructure:"EMBEDDING_TIMEOUT_MS"`

	// External LLM adjudicator.
	LLMAPIURL    string `mapstructure:"LLM_API_URL"`
	LLMAPIKey    string `mapstructure:"LLM_API_KEY"`
	LLMModel     string `mapstructure:"LLM_MODEL"`
	LLMMaxTokens int    `mapstructure:"LLM_MAX_TOKENS"`
	LLMTimeoutMS int    `mapstructure:"LLM_TIMEOUT_MS"`

	// Upstream WHO ICD API (connectivity probe only).
	WHOBaseURL      string `mapstructure:"WHO_BASE_URL"`
	WHOClientID     string `mapstructure:"WHO_CLIENT_ID"`
	WHOClientSecret string `mapstructure:"WHO_CLIENT_SECRET"`
	WHOTokenURL     string `mapstructure:"WHO_TOKEN_URL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("D_REQUEST_DEADLINE_MS", 25_000)
	v.SetDefault("JOB_MAX_CONCURRENT", 3)
	v.SetDefault("JOB_ITEM_DELAY_MS", 500)
	v.SetDefault("JOB_RETENTION_MS", 86_400_000)
	v.SetDefault("EMBEDDING_DIM", 768)
	v.SetDefault("EMBEDDING_MODEL", "embedding-001")
	v.SetDefault("EMBEDDING_TIMEOUT_MS", 10_000)
	v.SetDefault("LLM_MODEL", "gemini-2.0-flash")
	v.SetDefault("LLM_MAX_TOKENS", 1024)
	v.SetDefault("LLM_TIMEOUT_MS", 15_000)
	v.SetDefault("WHO_BASE_URL", "https://id.who.int/icd")
	v.SetDefault("WHO_TOKEN_URL", "https://icdaccessmanagement.who.int/connect/token")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"CORS_ORIGINS", "D_REQUEST_DEADLINE_MS",
		"JOB_MAX_CONCURRENT", "JOB_ITEM_DELAY_MS", "JOB_RETENTION_MS",
		"EMBEDDING_API_URL", "EMBEDDING_API_KEY", "EMBEDDING_MODEL",
		"EMBEDDING_DIM", "EMBEDDING_TIMEOUT_MS",
		"LLM_API_URL", "LLM_API_KEY", "LLM_MODEL", "LLM_MAX_TOKENS", "LLM_TIMEOUT_MS",
		"WHO_BASE_URL", "WHO_CLIENT_ID", "WHO_CLIENT_SECRET", "WHO_TOKEN_URL",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks knobs that would otherwise fail at an awkward moment deep
// inside a request. Embedding and LLM credentials are optional: without them
// the pipeline degrades to lexical retrieval and the fallback paths.
func (c *Config) Validate() error {
	if c.EmbeddingDim != 768 {
		return fmt.Errorf("EMBEDDING_DIM must be 768 to match the stored vector columns, got %d", c.EmbeddingDim)
	}
	if c.RequestDeadlineMS <= 0 {
		return fmt.Errorf("D_REQUEST_DEADLINE_MS must be positive, got %d", c.RequestDeadlineMS)
	}
	if c.JobMaxConcurrent <= 0 {
		return fmt.Errorf("JOB_MAX_CONCURRENT must be positive, got %d", c.JobMaxConcurrent)
	}
	if c.LLMAPIURL != "" && c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required when LLM_API_URL is set")
	}
	if c.EmbeddingAPIURL != "" && c.EmbeddingAPIKey == "" {
		return fmt.Errorf("EMBEDDING_API_KEY is required when EMBEDDING_API_URL is set")
	}
	return nil
}
