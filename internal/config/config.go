// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all application configuration.
type Config struct {
	Port          string
	FrontendURL   string
	BaseURL       string
	DBPath        string
	DocumentDir   string
	AuthSecret    string
	MaxRounds     int
	Anthropic     AnthropicConfig
	TranscriptLog TranscriptLogConfig
}

// AnthropicConfig selects the plan generator. With an empty APIKey the
// server falls back to the scripted generator.
type AnthropicConfig struct {
	APIKey string
	Model  string
	URL    string
}

// TranscriptLogConfig controls NDJSON session transcript logging.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		BaseURL:     getEnv("BASE_URL", "http://localhost:8080"),
		DBPath:      getEnv("DB_PATH", "./data/planforge.db"),
		DocumentDir: getEnv("DOCUMENT_DIR", "./data/documents"),
		AuthSecret:  getEnv("AUTH_SECRET", ""),
		MaxRounds:   getEnvInt("MAX_CLARIFICATION_ROUNDS", 5),
		Anthropic: AnthropicConfig{
			APIKey: getEnv("ANTHROPIC_API_KEY", ""),
			Model:  getEnv("ANTHROPIC_MODEL", ""),
			URL:    getEnv("ANTHROPIC_URL", ""),
		},
		TranscriptLog: TranscriptLogConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			QueueSize: queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("BASE_URL cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.DocumentDir == "" {
		return fmt.Errorf("DOCUMENT_DIR cannot be empty")
	}
	if c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET cannot be empty")
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("MAX_CLARIFICATION_ROUNDS must be > 0")
	}
	if c.TranscriptLog.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	if c.TranscriptLog.QueueSize <= 0 {
		return fmt.Errorf("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
