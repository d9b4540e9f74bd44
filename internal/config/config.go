package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the reference backend's configuration, read from the environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	LLM      LLMConfig
	Storage  StorageConfig
	Ingest   IngestConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	// RateLimitRPS is the per-client request rate; 0 disables limiting.
	RateLimitRPS    float64
	RateLimitBurst  int
}

// DatabaseConfig selects Postgres when URL is set; otherwise the backend
// keeps everything in memory.
type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	// MigrationsPath overrides the SQL files compiled into the binary.
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	// JWTSecret enables bearer-token auth on /api/v1 when set.
	JWTSecret string
	TokenTTL  time.Duration
}

type LLMConfig struct {
	OpenAIKey        string
	OpenAIBaseURL    string
	AnthropicKey     string
	OllamaURL        string
	DefaultProvider  string
	DefaultModel     string
	FallbackProvider string
	MaxRetries       int
}

type StorageConfig struct {
	Backend     string // "local" or "supabase"
	LocalDir    string
	SupabaseURL string
	SupabaseKey string
	Bucket      string
}

type IngestConfig struct {
	Queue          string // "inline" or "asynq"
	Concurrency    int
	ChunkSize      int
	ChunkOverlap   int
	MaxUploadBytes int64
	SearchCacheTTL time.Duration
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	shutdown, err := getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	tokenTTL, err := getEnvDuration("AUTH_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid AUTH_TOKEN_TTL: %w", err)
	}

	maxRetries, err := getEnvInt("LLM_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("invalid LLM_MAX_RETRIES: %w", err)
	}

	concurrency, err := getEnvInt("INGEST_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid INGEST_CONCURRENCY: %w", err)
	}

	chunkSize, err := getEnvInt("INGEST_CHUNK_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("invalid INGEST_CHUNK_SIZE: %w", err)
	}

	chunkOverlap, err := getEnvInt("INGEST_CHUNK_OVERLAP", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid INGEST_CHUNK_OVERLAP: %w", err)
	}

	maxUpload, err := getEnvInt("INGEST_MAX_UPLOAD_MB", 50)
	if err != nil {
		return nil, fmt.Errorf("invalid INGEST_MAX_UPLOAD_MB: %w", err)
	}

	rateRPS, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "100"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	rateBurst, err := getEnvInt("RATE_LIMIT_BURST", 200)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	searchTTL, err := getEnvDuration("SEARCH_CACHE_TTL", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid SEARCH_CACHE_TTL: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            port,
			ShutdownTimeout: shutdown,
			CORSOrigins:     strings.Split(getEnv("CORS_ORIGINS", "*"), ","),
			RateLimitRPS:    rateRPS,
			RateLimitBurst:  rateBurst,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  tokenTTL,
		},
		LLM: LLMConfig{
			OpenAIKey:        getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
			AnthropicKey:     getEnv("ANTHROPIC_API_KEY", ""),
			OllamaURL:        getEnv("OLLAMA_URL", ""),
			DefaultProvider:  getEnv("LLM_DEFAULT_PROVIDER", "openai"),
			DefaultModel:     getEnv("LLM_DEFAULT_MODEL", "gpt-4o-mini"),
			FallbackProvider: getEnv("LLM_FALLBACK_PROVIDER", ""),
			MaxRetries:       maxRetries,
		},
		Storage: StorageConfig{
			Backend:     getEnv("STORAGE_BACKEND", "local"),
			LocalDir:    getEnv("STORAGE_DIR", "data/blobs"),
			SupabaseURL: getEnv("SUPABASE_URL", ""),
			SupabaseKey: getEnv("SUPABASE_SERVICE_KEY", ""),
			Bucket:      getEnv("STORAGE_BUCKET", "documents"),
		},
		Ingest: IngestConfig{
			Queue:          getEnv("INGEST_QUEUE", "inline"),
			Concurrency:    concurrency,
			ChunkSize:      chunkSize,
			ChunkOverlap:   chunkOverlap,
			MaxUploadBytes: int64(maxUpload) << 20,
			SearchCacheTTL: searchTTL,
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var problems []string
	if c.Ingest.Queue != "inline" && c.Ingest.Queue != "asynq" {
		problems = append(problems, "INGEST_QUEUE must be inline or asynq")
	}
	if c.Ingest.Queue == "asynq" && c.Redis.Addr == "" {
		problems = append(problems, "REDIS_ADDR (required by INGEST_QUEUE=asynq)")
	}
	if c.Ingest.ChunkSize <= 0 || c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		problems = append(problems, "INGEST_CHUNK_OVERLAP must be below INGEST_CHUNK_SIZE")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			problems = append(problems, "STORAGE_DIR")
		}
	case "supabase":
		if c.Storage.SupabaseURL == "" || c.Storage.SupabaseKey == "" {
			problems = append(problems, "SUPABASE_URL and SUPABASE_SERVICE_KEY (required by STORAGE_BACKEND=supabase)")
		}
	default:
		problems = append(problems, "STORAGE_BACKEND must be local or supabase")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, ", "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}
