package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Storage backend names accepted in STORAGE_TYPE
const (
	StorageMemory     = "memory"
	StorageMongoDB    = "mongodb"
	StoragePostgreSQL = "postgresql"
	StorageDynamoDB   = "dynamodb"
)

// Config holds all configuration for the application
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Server  ServerConfig  `yaml:"server"`
	Notify  NotifyConfig  `yaml:"notify"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig holds storage-related configuration
type StorageConfig struct {
	Type           string        `yaml:"type"` // "memory", "mongodb", "postgresql", "dynamodb"; empty selects by URI
	MongoDBURI     string        `yaml:"mongodb_uri"`
	MongoDBName    string        `yaml:"mongodb_db"`
	PostgresURI    string        `yaml:"postgres_uri"`
	Region         string        `yaml:"region"` // For AWS DynamoDB
	TableName      string        `yaml:"table_name"`
	Endpoint       string        `yaml:"endpoint"` // Custom endpoint for local testing
	DataDir        string        `yaml:"data_dir"` // File mirror for the memory backend; empty keeps it in memory only
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LedgerConfig holds the attempt-limit policy
type LedgerConfig struct {
	MaxAttempts        int `yaml:"max_attempts"`
	LimitReachedStatus int `yaml:"limit_reached_status"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	CORSOrigin     string        `yaml:"cors_origin"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
}

// NotifyConfig holds transactional email configuration
type NotifyConfig struct {
	ResendAPIKey string        `yaml:"resend_api_key"`
	APIURL       string        `yaml:"api_url"`
	FromEmail    string        `yaml:"from_email"`
	ReplyTo      string        `yaml:"reply_to"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryCount   int           `yaml:"retry_count"`
	QueueSize    int           `yaml:"queue_size"`
	OnFeedback   bool          `yaml:"on_feedback"`
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

func defaults() Config {
	return Config{
		Storage: StorageConfig{
			MongoDBName:    "aippoint_interviews",
			Region:         "us-west-2",
			TableName:      "interview",
			ConnectTimeout: 10 * time.Second,
		},
		Ledger: LedgerConfig{
			MaxAttempts:        3,
			LimitReachedStatus: http.StatusForbidden,
		},
		Server: ServerConfig{
			Port:           3000,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			CORSOrigin:     "*",
			RateLimitRPS:   10,
			RateLimitBurst: 20,
		},
		Notify: NotifyConfig{
			APIURL:     "https://api.resend.com/emails",
			FromEmail:  "noreply@aippoint.ai",
			ReplyTo:    "support@aippoint.ai",
			Timeout:    10 * time.Second,
			RetryCount: 3,
			QueueSize:  100,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from .env.local/.env, an optional YAML file named
// by CONFIG_FILE, and environment variables, in increasing precedence.
func Load() (*Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	applyEnv(&cfg)

	cfg.Storage.Type = resolveStorageType(cfg.Storage)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Storage
	s.Type = strings.ToLower(getEnv("STORAGE_TYPE", s.Type))
	s.MongoDBURI = getEnv("MONGODB_URI", s.MongoDBURI)
	s.MongoDBName = getEnv("MONGODB_DB", s.MongoDBName)
	s.PostgresURI = getEnv("POSTGRES_URI", s.PostgresURI)
	s.Region = getEnv("AWS_REGION", s.Region)
	s.TableName = getEnv("TABLE_NAME", s.TableName)
	s.Endpoint = getEnv("DYNAMODB_ENDPOINT", s.Endpoint) // For local DynamoDB
	s.DataDir = getEnv("DATA_DIR", s.DataDir)
	s.ConnectTimeout = getEnvDuration("STORAGE_CONNECT_TIMEOUT", s.ConnectTimeout)

	cfg.Ledger.MaxAttempts = getEnvInt("MAX_ATTEMPTS", cfg.Ledger.MaxAttempts)
	cfg.Ledger.LimitReachedStatus = getEnvInt("LIMIT_REACHED_STATUS", cfg.Ledger.LimitReachedStatus)

	srv := &cfg.Server
	srv.Port = getEnvInt("SERVER_PORT", getEnvInt("PORT", srv.Port))
	srv.ReadTimeout = getEnvDuration("READ_TIMEOUT", srv.ReadTimeout)
	srv.WriteTimeout = getEnvDuration("WRITE_TIMEOUT", srv.WriteTimeout)
	srv.CORSOrigin = getEnv("CORS_ORIGIN", srv.CORSOrigin)
	srv.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", srv.RateLimitRPS)
	srv.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", srv.RateLimitBurst)

	n := &cfg.Notify
	n.ResendAPIKey = getEnv("RESEND_API_KEY", n.ResendAPIKey)
	n.APIURL = getEnv("RESEND_API_URL", n.APIURL)
	n.FromEmail = getEnv("FROM_EMAIL", n.FromEmail)
	n.ReplyTo = getEnv("REPLY_TO_EMAIL", n.ReplyTo)
	n.Timeout = getEnvDuration("EMAIL_TIMEOUT", n.Timeout)
	n.RetryCount = getEnvInt("EMAIL_RETRY_COUNT", n.RetryCount)
	n.QueueSize = getEnvInt("NOTIFY_QUEUE_SIZE", n.QueueSize)
	n.OnFeedback = getEnvBool("NOTIFY_ON_FEEDBACK", n.OnFeedback)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

// resolveStorageType picks a backend from the connection strings when none
// was named explicitly.
func resolveStorageType(s StorageConfig) string {
	if s.Type != "" {
		return s.Type
	}
	switch {
	case s.MongoDBURI != "":
		return StorageMongoDB
	case s.PostgresURI != "":
		return StoragePostgreSQL
	default:
		return StorageMemory
	}
}

// Validate checks cross-field constraints and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.Storage.Type {
	case StorageMemory, StorageDynamoDB:
	case StorageMongoDB:
		if cfg.Storage.MongoDBURI == "" {
			errs = append(errs, "MONGODB_URI is required for mongodb storage")
		}
	case StoragePostgreSQL:
		if cfg.Storage.PostgresURI == "" {
			errs = append(errs, "POSTGRES_URI is required for postgresql storage")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported storage type: %s", cfg.Storage.Type))
	}

	if cfg.Ledger.MaxAttempts < 1 {
		errs = append(errs, "MAX_ATTEMPTS must be >= 1")
	}
	if s := cfg.Ledger.LimitReachedStatus; s != http.StatusForbidden && s != http.StatusTooManyRequests {
		errs = append(errs, "LIMIT_REACHED_STATUS must be 403 or 429")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "SERVER_PORT must be 1..65535")
	}
	if cfg.Server.RateLimitRPS < 0 || cfg.Server.RateLimitBurst < 0 {
		errs = append(errs, "rate limit settings must be >= 0")
	}
	if cfg.Notify.RetryCount < 1 {
		errs = append(errs, "EMAIL_RETRY_COUNT must be >= 1")
	}
	if cfg.Notify.QueueSize < 1 {
		errs = append(errs, "NOTIFY_QUEUE_SIZE must be >= 1")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n- " + strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
