package common

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	OCR      OCRConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Monitor  MonitorConfig
	Billing  BillingConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" or "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// OCRConfig holds settings for the remote transcription service.
type OCRConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// StorageConfig selects and configures the image storage backend.
type StorageConfig struct {
	Backend   string // "s3" or "gcs"
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// GCS only; empty means application default credentials.
	CredentialsFile string
}

// RedisConfig holds connection settings shared by the queue and checkpoint store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QueueConfig holds MonitorTask queue settings.
type QueueConfig struct {
	Backend      string // "redis" or "memory"
	Name         string
	MaxAttempts  int
	RetryBackoff time.Duration
}

// MonitorConfig bounds the monitor task processor.
type MonitorConfig struct {
	Workers           int
	PollInterval      time.Duration
	MaxPollAttempts   int
	MaxPollsPerTask   int
	MaxPollsGlobal    int
	CheckpointEvery   int
	SubmitConcurrency int
}

// BillingConfig holds usage pricing.
type BillingConfig struct {
	UnitCost int64
}

// LogConfig controls the slog handler built by the binaries.
type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			AutoMigrate:      getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Server: ServerConfig{
			GRPCAddr: getEnv("GRPC_ADDR", ":8080"),
		},
		OCR: OCRConfig{
			BaseURL:      getEnv("OCR_BASE_URL", ""),
			APIKey:       getEnv("OCR_API_KEY", ""),
			Timeout:      getEnvAsDuration("OCR_TIMEOUT", 30*time.Second),
			MaxRetries:   getEnvAsInt("OCR_MAX_RETRIES", 5),
			RetryBackoff: getEnvAsDuration("OCR_RETRY_BACKOFF", time.Second),
		},
		Storage: StorageConfig{
			Backend:         getEnv("STORAGE_BACKEND", "s3"),
			Bucket:          getEnv("STORAGE_BUCKET", ""),
			Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
			AccessKey:       getEnv("S3_ACCESS_KEY", ""),
			SecretKey:       getEnv("S3_SECRET_KEY", ""),
			UseSSL:          getEnvAsBool("S3_USE_SSL", false),
			CredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			Backend:      getEnv("QUEUE_BACKEND", "redis"),
			Name:         getEnv("QUEUE_NAME", "transcription:monitor"),
			MaxAttempts:  getEnvAsInt("QUEUE_MAX_ATTEMPTS", 5),
			RetryBackoff: getEnvAsDuration("QUEUE_RETRY_BACKOFF", 10*time.Second),
		},
		Monitor: MonitorConfig{
			Workers:           getEnvAsInt("MONITOR_WORKERS", 50),
			PollInterval:      getEnvAsDuration("MONITOR_POLL_INTERVAL", 2*time.Second),
			MaxPollAttempts:   getEnvAsInt("MONITOR_MAX_POLL_ATTEMPTS", 43200),
			MaxPollsPerTask:   getEnvAsInt("MONITOR_MAX_POLLS_PER_TASK", 32),
			MaxPollsGlobal:    getEnvAsInt("MONITOR_MAX_POLLS_GLOBAL", 0),
			CheckpointEvery:   getEnvAsInt("MONITOR_CHECKPOINT_EVERY", 30),
			SubmitConcurrency: getEnvAsInt("SUBMIT_CONCURRENCY", 16),
		},
		Billing: BillingConfig{
			UnitCost: getEnvAsInt64("TRANSCRIPTION_UNIT_COST", 1),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.OCR.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "OCR_BASE_URL is required", ErrInvalidInput)
	}
	if c.OCR.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OCR_API_KEY is required", ErrInvalidInput)
	}
	if c.Storage.Bucket == "" {
		return NewAppError("CONFIG_ERROR", "STORAGE_BUCKET is required", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR is required", ErrInvalidInput)
	}
	if c.Billing.UnitCost <= 0 {
		return NewAppError("CONFIG_ERROR", "TRANSCRIPTION_UNIT_COST must be positive", ErrInvalidInput)
	}
	if c.Monitor.Workers <= 0 {
		return NewAppError("CONFIG_ERROR", "MONITOR_WORKERS must be positive", ErrInvalidInput)
	}
	switch c.Queue.Backend {
	case "redis", "memory":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown QUEUE_BACKEND %q", c.Queue.Backend), ErrInvalidInput)
	}
	return nil
}

// NewLogger builds the process logger from LogConfig.
func (c LogConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
