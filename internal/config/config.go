// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/deusflow/newsdesk/internal/storage"
)

const (
	SummarizerOpenAI = "openai"
	SummarizerGemini = "gemini"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory" // JSON snapshot at DATABASE_URL
)

type Config struct {
	// Storage settings
	DatabaseDriver string
	DatabaseURL    string
	DataDir        string

	// Feed and rule files
	FeedsPath   string
	IncludePath string
	ExcludePath string

	// Ingest settings
	PerFeed           int
	PoliteDelay       time.Duration
	DomainMinGap      time.Duration
	RequestTimeout    time.Duration
	UserAgent         string
	FingerprintPrefix int

	// Summarizer settings
	Summarizer      string // "openai" or "gemini"
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	GeminiAPIKey    string
	GeminiModel     string
	InputCharCap    int
	MaxOutputTokens int
	RetryAttempts   int
	RetryDelay      time.Duration

	// API settings
	HTTPAddr           string
	RefreshToken       string
	RefreshMinInterval time.Duration
	HomePoolSize       int

	// App settings
	Debug    bool
	LogLevel string
}

func Load() (*Config, error) {
	cfg := &Config{
		DatabaseDriver: strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", DriverSQLite)),
		DataDir:        getEnvOrDefault("DATA_DIR", "data"),

		PerFeed:           getEnvIntOrDefault("PER_FEED", 5),
		PoliteDelay:       time.Duration(getEnvIntOrDefault("POLITE_DELAY_MS", 300)) * time.Millisecond,
		DomainMinGap:      time.Duration(getEnvIntOrDefault("DOMAIN_MIN_GAP_MS", 1000)) * time.Millisecond,
		RequestTimeout:    time.Duration(getEnvIntOrDefault("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		UserAgent:         getEnvOrDefault("USER_AGENT", "newsdesk/1.0 (+https://github.com/deusflow/newsdesk)"),
		FingerprintPrefix: getEnvIntOrDefault("FINGERPRINT_PREFIX", 2000),

		Summarizer:      strings.ToLower(getEnvOrDefault("SUMMARIZER", SummarizerOpenAI)),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:     getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		InputCharCap:    getEnvIntOrDefault("INPUT_CHAR_CAP", 12000),
		MaxOutputTokens: getEnvIntOrDefault("MAX_OUTPUT_TOKENS", 360),
		RetryAttempts:   getEnvIntOrDefault("RETRY_ATTEMPTS", 3),
		RetryDelay:      time.Duration(getEnvIntOrDefault("RETRY_DELAY_MS", 1000)) * time.Millisecond,

		HTTPAddr:           getEnvOrDefault("HTTP_ADDR", ":8080"),
		RefreshToken:       os.Getenv("REFRESH_TOKEN"),
		RefreshMinInterval: time.Duration(getEnvIntOrDefault("REFRESH_MIN_INTERVAL_SECONDS", 60)) * time.Second,
		HomePoolSize:       getEnvIntOrDefault("HOME_POOL_SIZE", 100),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", filepath.Join(cfg.DataDir, "cache.sqlite"))
	cfg.FeedsPath = getEnvOrDefault("FEEDS_PATH", filepath.Join(cfg.DataDir, "feeds.txt"))
	cfg.IncludePath = getEnvOrDefault("INCLUDE_PATH", filepath.Join(cfg.DataDir, "include.txt"))
	cfg.ExcludePath = getEnvOrDefault("EXCLUDE_PATH", filepath.Join(cfg.DataDir, "exclude.txt"))

	// The summarizer never asks for fewer than this many tokens.
	if cfg.MaxOutputTokens < 360 {
		cfg.MaxOutputTokens = 360
	}

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}

	return cfg, cfg.Validate()
}

// SettingsPath is where server settings are persisted.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.DataDir, "settings.json")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be 'sqlite', 'postgres' or 'memory'")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Summarizer != SummarizerOpenAI && c.Summarizer != SummarizerGemini {
		return fmt.Errorf("SUMMARIZER must be 'openai' or 'gemini'")
	}
	if c.PerFeed <= 0 {
		return fmt.Errorf("PER_FEED must be positive")
	}
	if c.PoliteDelay < 0 || c.DomainMinGap < 0 {
		return fmt.Errorf("POLITE_DELAY_MS and DOMAIN_MIN_GAP_MS must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.FingerprintPrefix <= 0 {
		return fmt.Errorf("FINGERPRINT_PREFIX must be positive")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}
	if c.HomePoolSize <= 0 || c.HomePoolSize > storage.MaxRecentLimit {
		return fmt.Errorf("HOME_POOL_SIZE must be between 1 and %d", storage.MaxRecentLimit)
	}
	return nil
}

// ValidateSummarizer checks the credentials of the selected backend. Only
// commands that actually summarize call it.
func (c *Config) ValidateSummarizer() error {
	switch c.Summarizer {
	case SummarizerOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	case SummarizerGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	}
	return nil
}
