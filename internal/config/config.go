package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kwatson/querydesk/pkg/models"
)

// Config holds all configuration for the querydesk server.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Jobs     JobsConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	// URL may be empty; the status cache then degrades to always-miss.
	URL string
}

type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type JobsConfig struct {
	MaxActiveJobs   int
	TypeLimits      map[models.JobType]int
	Retention       time.Duration
	CleanupSchedule string
	StatusCacheTTL  time.Duration

	DefaultQuestionTimeout time.Duration
	MaxConcurrentQuestions int
	MaxQuestionsPerRequest int
}

// Load reads configuration from the environment (and an optional .env file)
// and returns a validated Config.
func Load() (*Config, error) {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("QUERYDESK_PORT", 8080),
			Env:      envString("QUERYDESK_ENV", "development"),
			LogLevel: envString("QUERYDESK_LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Provider: ProviderConfig{
			BaseURL: os.Getenv("ANYTHINGLLM_BASE_URL"),
			APIKey:  os.Getenv("ANYTHINGLLM_API_KEY"),
			Timeout: envDuration("ANYTHINGLLM_TIMEOUT", 60*time.Second),
		},
		Jobs: JobsConfig{
			MaxActiveJobs:   envInt("QUERYDESK_MAX_ACTIVE_JOBS", 5),
			TypeLimits:      loadTypeLimits(),
			Retention:       envDuration("QUERYDESK_JOB_RETENTION", 7*24*time.Hour),
			CleanupSchedule: envString("QUERYDESK_CLEANUP_SCHEDULE", "@hourly"),
			StatusCacheTTL:  envDuration("QUERYDESK_STATUS_CACHE_TTL", 5*time.Minute),

			DefaultQuestionTimeout: envDurationSecs("QUERYDESK_QUESTION_TIMEOUT_SECS", 300*time.Second),
			MaxConcurrentQuestions: envInt("QUERYDESK_MAX_CONCURRENT_QUESTIONS", 3),
			MaxQuestionsPerRequest: envInt("QUERYDESK_MAX_QUESTIONS_PER_REQUEST", 50),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadTypeLimits resolves per-type admission ceilings once at startup.
// A type without an env var carries no type-specific limit.
func loadTypeLimits() map[models.JobType]int {
	keys := map[models.JobType]string{
		models.JobTypeDocumentUpload:     "QUERYDESK_MAX_DOCUMENT_UPLOAD_JOBS",
		models.JobTypeQuestionProcessing: "QUERYDESK_MAX_QUESTION_PROCESSING_JOBS",
		models.JobTypeWorkspaceCreation:  "QUERYDESK_MAX_WORKSPACE_CREATION_JOBS",
		models.JobTypeWorkspaceDeletion:  "QUERYDESK_MAX_WORKSPACE_DELETION_JOBS",
	}

	limits := make(map[models.JobType]int)
	for jobType, key := range keys {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limits[jobType] = n
			}
		}
	}
	return limits
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("ANYTHINGLLM_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
		return fmt.Errorf("ANYTHINGLLM_BASE_URL must start with http:// or https://, got %q", c.Provider.BaseURL)
	}

	if c.Jobs.MaxActiveJobs < 1 {
		return fmt.Errorf("QUERYDESK_MAX_ACTIVE_JOBS must be at least 1, got %d", c.Jobs.MaxActiveJobs)
	}
	if c.Jobs.MaxConcurrentQuestions < 1 || c.Jobs.MaxConcurrentQuestions > 10 {
		return fmt.Errorf("QUERYDESK_MAX_CONCURRENT_QUESTIONS must be between 1 and 10, got %d", c.Jobs.MaxConcurrentQuestions)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
