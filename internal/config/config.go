package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the GoVault API.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Remote   RemoteConfig
	MinIO    MinIOConfig
	Quota    QuotaConfig
	Auth     AuthConfig
	Metrics  MetricsConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// RemoteConfig selects and parameterizes the physical storage backend.
type RemoteConfig struct {
	// Driver is "local" or "minio".
	Driver    string
	LocalRoot string
	PublicURL string
}

// MinIOConfig carries MinIO connection information.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// QuotaConfig holds default per-user allocations applied at account creation.
type QuotaConfig struct {
	DefaultMemoryBytes int64
	DefaultAPICalls    int64
}

// AuthConfig groups authentication-related settings.
type AuthConfig struct {
	TokenSecret string
	TokenTTL    time.Duration
	BcryptCost  int
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("GOVAULT_API_HOST", "0.0.0.0"),
			Port:         getInt("GOVAULT_API_PORT", 8080),
			ReadTimeout:  getDuration("GOVAULT_API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("GOVAULT_API_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("GOVAULT_API_IDLE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     getString("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getString("POSTGRES_USER", "govault_app"),
			Password: getString("POSTGRES_PASSWORD", "change-me"),
			Database: getString("POSTGRES_DB", "govault"),
			SSLMode:  strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
		},
		Remote: RemoteConfig{
			Driver:    strings.ToLower(getString("GOVAULT_REMOTE_DRIVER", "local")),
			LocalRoot: getString("GOVAULT_REMOTE_LOCAL_ROOT", "./data/volumes"),
			PublicURL: getString("GOVAULT_REMOTE_PUBLIC_URL", "http://localhost:8080/v1"),
		},
		MinIO: MinIOConfig{
			Endpoint:        getString("MINIO_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getString("MINIO_ROOT_USER", "govault"),
			SecretAccessKey: getString("MINIO_ROOT_PASSWORD", "change-me-strong-password"),
			Bucket:          getString("MINIO_BUCKET", "govault"),
			UseSSL:          getBool("MINIO_USE_SSL", false),
			Region:          getString("MINIO_REGION", ""),
		},
		Quota: QuotaConfig{
			DefaultMemoryBytes: getInt64("GOVAULT_QUOTA_MEMORY_BYTES", 500_000_000),
			DefaultAPICalls:    getInt64("GOVAULT_QUOTA_API_CALLS", 10_000),
		},
		Auth: loadAuthConfig(),
		Metrics: MetricsConfig{
			PrometheusPath: getString("GOVAULT_METRICS_PATH", "/metrics"),
		},
	}

	if cfg.Remote.Driver != "local" && cfg.Remote.Driver != "minio" {
		return Config{}, fmt.Errorf("unknown remote driver %q", cfg.Remote.Driver)
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		val = strings.ToLower(strings.TrimSpace(val))
		switch val {
		case "1", "true", "t", "yes", "y":
			return true
		case "0", "false", "f", "no", "n":
			return false
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func loadAuthConfig() AuthConfig {
	cost := getInt("GOVAULT_AUTH_BCRYPT_COST", 12)
	if cost < 4 || cost > 31 {
		cost = 12
	}

	return AuthConfig{
		TokenSecret: getString("GOVAULT_JWT_SECRET", "change-me-to-a-32-byte-secret"),
		TokenTTL:    getDuration("GOVAULT_AUTH_TOKEN_TTL", 12*time.Hour),
		BcryptCost:  cost,
	}
}
