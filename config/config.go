package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Ingest    IngestConfig
	Retention RetentionConfig
	Archive   ArchiveConfig
	Auth      AuthConfig
	App       AppConfig
}

type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type IngestConfig struct {
	// ProjectKeys maps a project id to the key browsers report with,
	// e.g. "frontend:pk_live_abc123". Empty means every key is rejected.
	ProjectKeys map[string]string

	// PolicyPath points to an optional YAML filter-policy file.
	PolicyPath string

	MaxBodyBytes    int64
	SourceRate      float64 // reports per second per client IP
	SourceBurst     int
	ProjectRateMax  int64 // reports per project per window, 0 disables
	ProjectRateSpan time.Duration
}

type RetentionConfig struct {
	Days         int
	SweepSpec    string // cron spec, six fields
	SweepEnabled bool
	BatchSize    int
}

type ArchiveConfig struct {
	Bucket      string
	Region      string
	Prefix      string
	Concurrency int
}

type AuthConfig struct {
	// FirebaseCredentialsPath enables Firebase ID token auth for the
	// dashboard API when set.
	FirebaseCredentialsPath string

	// APIKey is the static fallback for the dashboard API.
	APIKey string
}

type AppConfig struct {
	Environment string
	LogLevel    string
	Version     string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSOrigins:     getEnvAsSlice("CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "cspwatch"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Ingest: IngestConfig{
			ProjectKeys:     getEnvAsKeyMap("PROJECT_KEYS"),
			PolicyPath:      getEnv("INGEST_POLICY_PATH", ""),
			MaxBodyBytes:    int64(getEnvAsInt("INGEST_MAX_BODY_BYTES", 1<<20)),
			SourceRate:      getEnvAsFloat("INGEST_SOURCE_RATE", 5),
			SourceBurst:     getEnvAsInt("INGEST_SOURCE_BURST", 20),
			ProjectRateMax:  int64(getEnvAsInt("INGEST_PROJECT_RATE_MAX", 0)),
			ProjectRateSpan: getEnvAsDuration("INGEST_PROJECT_RATE_SPAN", time.Minute),
		},
		Retention: RetentionConfig{
			Days:         getEnvAsInt("RETENTION_DAYS", 90),
			SweepSpec:    getEnv("RETENTION_SWEEP_SPEC", "0 0 3 * * *"),
			SweepEnabled: getEnvAsBool("RETENTION_SWEEP_ENABLED", true),
			BatchSize:    getEnvAsInt("RETENTION_BATCH_SIZE", 1000),
		},
		Archive: ArchiveConfig{
			Bucket:      getEnv("ARCHIVE_S3_BUCKET", ""),
			Region:      getEnv("ARCHIVE_S3_REGION", "us-east-1"),
			Prefix:      getEnv("ARCHIVE_S3_PREFIX", "csp-archive"),
			Concurrency: getEnvAsInt("ARCHIVE_CONCURRENCY", 4),
		},
		Auth: AuthConfig{
			FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			APIKey:                  getEnv("API_KEY", ""),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}

	if c.Retention.Days < 1 {
		return fmt.Errorf("RETENTION_DAYS must be at least 1")
	}

	if c.Ingest.MaxBodyBytes < 1024 {
		return fmt.Errorf("INGEST_MAX_BODY_BYTES must be at least 1024")
	}

	return nil
}

// DSN renders the libpq-style connection string shared by the pgx and
// database/sql consumers.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("Warning: Invalid float for %s, using default: %v", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid boolean for %s, using default: %v", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Warning: Invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvAsKeyMap parses "project:key,project2:key2" pairs.
func getEnvAsKeyMap(key string) map[string]string {
	valueStr := os.Getenv(key)
	out := make(map[string]string)
	if valueStr == "" {
		return out
	}

	for _, pair := range strings.Split(valueStr, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, secret, ok := strings.Cut(pair, ":")
		if !ok || name == "" || secret == "" {
			log.Printf("Warning: Skipping malformed %s entry %q", key, pair)
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(secret)
	}
	return out
}
