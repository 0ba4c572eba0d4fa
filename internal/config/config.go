// Package config loads application configuration from environment variables.
package config

import (
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Placeholder credentials shipped in sample configs. Remote storage stays off
// until both are replaced.
const (
	PlaceholderSupabaseURL = "YOUR_SUPABASE_URL"
	PlaceholderSupabaseKey = "YOUR_SUPABASE_ANON_KEY"
)

const (
	ProviderSupabase = "supabase"
	ProviderMinio    = "minio"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Port     string
	AppEnv   string
	LogLevel string
	// LogFormat is "json" or "console".
	LogFormat string

	DatabaseURL string
	RedisURL    string // optional; enables shared session revocation

	JWTSecret     string
	SessionTTL    time.Duration
	AuthRateLimit int // auth requests per minute per client IP

	// BaseURL is the public origin of this service; local files are served
	// under BaseURL + "/uploads".
	BaseURL        string
	UploadDir      string
	MaxFileSize    int64
	MaxRequestSize int64

	StorageProvider string

	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	// S3-compatible storage (MinIO locally, any S3 provider in production)
	StorageEndpoint   string
	StorageAccessKey  string
	StorageSecretKey  string
	StorageBucket     string
	StorageUseSSL     bool
	StoragePublicBase string
}

// Load reads configuration from a .env file (if present) and environment variables.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found, reading from environment")
	}

	port := getEnv("PORT", "8080")
	return &Config{
		Port:      port,
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		DatabaseURL: getEnv("DATABASE_URL", postgresURLFromEnv()),
		RedisURL:    getEnv("REDIS_URL", ""),

		JWTSecret:     getEnv("JWT_SECRET", "change_me_in_production"),
		SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
		AuthRateLimit: getEnvInt("AUTH_RATE_LIMIT", 20),

		BaseURL:        strings.TrimRight(getEnv("BASE_URL", "http://localhost:"+port), "/"),
		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		MaxFileSize:    getEnvInt64("MAX_FILE_SIZE", 50<<20),
		MaxRequestSize: getEnvInt64("MAX_REQUEST_SIZE", 200<<20),

		StorageProvider: strings.ToLower(getEnv("STORAGE_PROVIDER", ProviderSupabase)),

		SupabaseURL:    strings.TrimRight(getEnv("SUPABASE_URL", PlaceholderSupabaseURL), "/"),
		SupabaseKey:    getEnv("SUPABASE_KEY", PlaceholderSupabaseKey),
		SupabaseBucket: getEnv("SUPABASE_BUCKET", "3d-objects"),

		StorageEndpoint:   getEnv("STORAGE_ENDPOINT", ""),
		StorageAccessKey:  getEnv("STORAGE_ACCESS_KEY", "minioadmin"),
		StorageSecretKey:  getEnv("STORAGE_SECRET_KEY", "minioadmin"),
		StorageBucket:     getEnv("STORAGE_BUCKET", "3d-objects"),
		StorageUseSSL:     getEnvBool("STORAGE_USE_SSL", false),
		StoragePublicBase: getEnv("STORAGE_PUBLIC_BASE", "http://localhost:9000/3d-objects"),
	}
}

// IsProduction returns true when the app is running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// RemoteStorageEnabled reports whether the selected remote provider has real
// credentials. New uploads go to local disk otherwise.
func (c *Config) RemoteStorageEnabled() bool {
	switch c.StorageProvider {
	case ProviderMinio:
		return c.StorageEndpoint != ""
	case ProviderSupabase:
		return c.SupabaseURL != "" && c.SupabaseURL != PlaceholderSupabaseURL &&
			c.SupabaseKey != "" && c.SupabaseKey != PlaceholderSupabaseKey
	default:
		return false
	}
}

// LocalBaseURL is the public prefix of locally stored files.
func (c *Config) LocalBaseURL() string {
	return c.BaseURL + "/uploads"
}

// postgresURLFromEnv builds a DSN from the libpq-style PG* variables.
func postgresURLFromEnv() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(getEnv("PGUSER", "modelvault"), getEnv("PGPASSWORD", "modelvault")),
		Host:     net.JoinHostPort(getEnv("PGHOST", "localhost"), getEnv("PGPORT", "5432")),
		Path:     "/" + getEnv("PGDATABASE", "modelvault"),
		RawQuery: "sslmode=" + getEnv("PGSSLMODE", "disable"),
	}
	return u.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func getEnvInt64(key string, fallback int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
