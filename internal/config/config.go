// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider kinds.
const (
	ProviderOpenAI = "openai"
	ProviderGrpc   = "grpc"
)

// ConfigurationError reports a missing or unusable required setting. It is
// fatal at startup and never retried.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s %s", e.Key, e.Reason)
}

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	Provider        ProviderConfig
	DefaultModel    string
	MemoryWindow    int // trailing history messages included in each prompt
	SessionTTL      time.Duration
	SweepInterval   time.Duration
	MaxRequestBody  int64
	GrpcHealthAddr  string
	RateLimit       RateLimitConfig
	ConversationLog ConversationLogConfig
}

// ProviderConfig selects and configures the completion provider.
type ProviderConfig struct {
	Kind     string
	APIKey   string // GROQ_API_KEY
	BaseURL  string
	Timeout  time.Duration
	GrpcAddr string
}

// RateLimitConfig bounds chat requests per anonymous user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/gene.db"),
		Provider: ProviderConfig{
			Kind:     strings.ToLower(getEnv("PROVIDER", ProviderOpenAI)),
			APIKey:   strings.TrimSpace(os.Getenv("GROQ_API_KEY")),
			BaseURL:  getEnv("PROVIDER_BASE_URL", ""),
			Timeout:  getEnvDuration("PROVIDER_TIMEOUT", 60*time.Second),
			GrpcAddr: getEnv("COMPLETION_GRPC_ADDR", ""),
		},
		DefaultModel:   getEnv("DEFAULT_MODEL", "llama3-70b-8192"),
		MemoryWindow:   getEnvInt("MEMORY_WINDOW", 10),
		SessionTTL:     getEnvDuration("SESSION_TTL", 60*time.Minute),
		SweepInterval:  getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
		MaxRequestBody: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		GrpcHealthAddr: getEnv("GRPC_HEALTH_ADDR", ""),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
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
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if c.MemoryWindow < 0 {
		return fmt.Errorf("MEMORY_WINDOW must be >= 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.MaxRequestBody <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// Validate checks the provider selection and its credential.
func (p ProviderConfig) Validate() error {
	switch p.Kind {
	case ProviderOpenAI:
		if p.APIKey == "" {
			return &ConfigurationError{Key: "GROQ_API_KEY", Reason: "is not set"}
		}
	case ProviderGrpc:
		if p.GrpcAddr == "" {
			return &ConfigurationError{Key: "COMPLETION_GRPC_ADDR", Reason: "is required when PROVIDER=grpc"}
		}
	default:
		return &ConfigurationError{Key: "PROVIDER", Reason: fmt.Sprintf("has unsupported value %q", p.Kind)}
	}
	return nil
}

// IsConfigurationError reports whether err stems from a missing required setting.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
