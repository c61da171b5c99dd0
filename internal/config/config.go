package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the meshgen server and refresher.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Webhook  WebhookConfig
	Storage  StorageConfig
	Jobs     JobsConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
	// CORSOrigins lists browser origins allowed to call the API.
	CORSOrigins []string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// ProviderConfig configures the external 3D generation provider.
type ProviderConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// WebhookURL is handed to the provider at task creation so it can push status.
	WebhookURL string
}

type WebhookConfig struct {
	Secret string
}

// StorageConfig configures the owned bucket that mirrored artifacts land in.
type StorageConfig struct {
	Bucket        string
	PublicBaseURL string
	MirrorTimeout time.Duration
	MirrorMaxSize int64
}

type JobsConfig struct {
	TTL                time.Duration
	RefreshConcurrency int
	RefreshInterval    time.Duration
	RefreshBatchLimit  int
}

type AuthConfig struct {
	BootstrapAdminKey  string
	RateLimitPerMinute int
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        envInt("MESHGEN_PORT", 8080),
			Env:         envString("MESHGEN_ENV", "development"),
			CORSOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
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
			BaseURL:    os.Getenv("PROVIDER_BASE_URL"),
			APIKey:     os.Getenv("PROVIDER_API_KEY"),
			Timeout:    envDuration("PROVIDER_TIMEOUT", 30*time.Second),
			WebhookURL: os.Getenv("PROVIDER_WEBHOOK_URL"),
		},
		Webhook: WebhookConfig{
			Secret: os.Getenv("WEBHOOK_SECRET"),
		},
		Storage: StorageConfig{
			Bucket:        os.Getenv("GCS_BUCKET"),
			PublicBaseURL: envString("GCS_PUBLIC_BASE_URL", "https://storage.googleapis.com"),
			MirrorTimeout: envDurationSecs("MIRROR_TIMEOUT_SECS", 120*time.Second),
			MirrorMaxSize: int64(envInt("MIRROR_MAX_BYTES", 200<<20)),
		},
		Jobs: JobsConfig{
			TTL:                envDuration("JOB_TTL", 24*time.Hour),
			RefreshConcurrency: envInt("REFRESH_CONCURRENCY", 4),
			RefreshInterval:    envDuration("REFRESH_INTERVAL", 2*time.Minute),
			RefreshBatchLimit:  envInt("REFRESH_BATCH_LIMIT", 500),
		},
		Auth: AuthConfig{
			BootstrapAdminKey:  os.Getenv("BOOTSTRAP_ADMIN_KEY"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("PROVIDER_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Provider.BaseURL, "http://") && !strings.HasPrefix(c.Provider.BaseURL, "https://") {
		return fmt.Errorf("PROVIDER_BASE_URL must start with http:// or https://, got %q", c.Provider.BaseURL)
	}
	if c.Provider.APIKey == "" {
		return fmt.Errorf("PROVIDER_API_KEY is required")
	}

	// An empty secret would make every webhook fail verification; refuse to start instead.
	if c.Webhook.Secret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("GCS_BUCKET is required")
	}

	if c.Jobs.TTL <= 0 {
		return fmt.Errorf("JOB_TTL must be positive, got %s", c.Jobs.TTL)
	}
	if c.Jobs.RefreshConcurrency <= 0 {
		return fmt.Errorf("REFRESH_CONCURRENCY must be positive, got %d", c.Jobs.RefreshConcurrency)
	}
	if c.Jobs.RefreshInterval <= 0 {
		return fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", c.Jobs.RefreshInterval)
	}

	if c.Auth.BootstrapAdminKey != "" && len(c.Auth.BootstrapAdminKey) < 16 {
		return fmt.Errorf("BOOTSTRAP_ADMIN_KEY must be at least 16 characters")
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

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
