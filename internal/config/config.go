// Package config reads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the full service configuration, one struct per concern.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Storage  StorageConfig
	Auth     AuthConfig
	AI       AIConfig
	Chat     ChatConfig
	Log      LogConfig
}

// ServerConfig holds listener and timeout settings, in seconds.
type ServerConfig struct {
	Port            int
	Environment     string
	ShutdownTimeout int
	RequestTimeout  int
}

// DatabaseConfig holds Postgres pool settings.
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig holds cache settings; an empty Host disables caching.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NATSConfig holds event bus settings; an empty URL disables events.
type NATSConfig struct {
	URL  string
	Name string
}

// StorageConfig holds source archive settings; an empty Endpoint
// disables archiving.
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
}

// AuthConfig holds token validation configuration.
type AuthConfig struct {
	JWTSecret string
}

// AIConfig holds embed and completion provider configuration.
type AIConfig struct {
	APIKey           string
	BaseURL          string
	Model            string
	EmbeddingModel   string
	EmbeddingAPIKey  string
	MaxTokens        int
	Temperature      float64
	EmbedTimeoutSec  int
	StreamTimeoutSec int
}

// ChatConfig holds answer pipeline configuration.
type ChatConfig struct {
	RelayStrategy string // passthrough or replay
	VectorTopK    int
	KeywordTopK   int
	MinSimilarity float64
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level     string
	Format    string
	AddSource bool
}

// Load loads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("PORT", 8080),
			Environment:     getEnv("ENVIRONMENT", "development"),
			ShutdownTimeout: getEnvAsInt("SHUTDOWN_TIMEOUT", 30),
			RequestTimeout:  getEnvAsInt("REQUEST_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "rowsage"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		NATS: NATSConfig{
			URL:  getEnv("NATS_URL", ""),
			Name: getEnv("NATS_CLIENT_NAME", "rowsage"),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("STORAGE_ENDPOINT", ""),
			AccessKeyID:     getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
			SecretAccessKey: getEnv("STORAGE_SECRET_KEY", "minioadmin"),
			BucketName:      getEnv("STORAGE_BUCKET", "rowsage"),
			UseSSL:          getEnvAsBool("STORAGE_USE_SSL", false),
			Region:          getEnv("STORAGE_REGION", "us-east-1"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		AI: AIConfig{
			APIKey:           getEnv("OPENAI_API_KEY", ""),
			BaseURL:          getEnv("OPENAI_BASE_URL", ""),
			Model:            getEnv("AI_MODEL", "gpt-4o-mini"),
			EmbeddingModel:   getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingAPIKey:  getEnv("EMBEDDING_API_KEY", ""),
			MaxTokens:        getEnvAsInt("AI_MAX_TOKENS", 1024),
			Temperature:      getEnvAsFloat("AI_TEMPERATURE", 0.2),
			EmbedTimeoutSec:  getEnvAsInt("EMBED_TIMEOUT", 10),
			StreamTimeoutSec: getEnvAsInt("STREAM_TIMEOUT", 120),
		},
		Chat: ChatConfig{
			RelayStrategy: getEnv("RELAY_STRATEGY", "replay"),
			VectorTopK:    getEnvAsInt("VECTOR_TOP_K", 5),
			KeywordTopK:   getEnvAsInt("KEYWORD_TOP_K", 6),
			MinSimilarity: getEnvAsFloat("MIN_SIMILARITY", 0.25),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			AddSource: getEnvAsBool("LOG_ADD_SOURCE", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects combinations that cannot run. Most fields have
// workable defaults; production additionally requires real secrets.
func (c *Config) Validate() error {
	if c.Server.Environment == "production" {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET must be set in production")
		}
		if c.AI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY must be set in production")
		}
	}
	switch c.Chat.RelayStrategy {
	case "passthrough", "replay":
	default:
		return fmt.Errorf("invalid RELAY_STRATEGY %q: must be passthrough or replay", c.Chat.RelayStrategy)
	}
	return nil
}

// EmbeddingKey returns the key used for the embed service, falling back to
// the completion key. Vector retrieval is enabled when this is non-empty.
func (c *AIConfig) EmbeddingKey() string {
	if c.EmbeddingAPIKey != "" {
		return c.EmbeddingAPIKey
	}
	return c.APIKey
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
