package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr string
	PublicURL  string
	CORSOrigin string

	DBDriver     string
	DBPath       string
	DBConnection string

	BlobBackend   string
	BlobLocalPath string
	S3Bucket      string
	S3Region      string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3PathStyle   bool
	S3PublicURL   string

	CacheBackend  string
	CacheTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	AuthMode          string
	ClerkJWTPublicKey string
	ClerkIssuer       string

	VisionBackend string
	ClaudeAPIKey  string
	ClaudeModel   string

	UploadConcurrency int
	MaxUploadBytes    int64

	LogLevel  string
	LogFile   string
	SentryDSN string
}

// Load reads the environment, after applying a .env file if one exists.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		PublicURL:  getEnv("PUBLIC_URL", "http://localhost:8080"),
		CORSOrigin: getEnv("CORS_ORIGIN", "http://localhost:3000"),

		DBDriver:     getEnv("DB_DRIVER", "sqlite"),
		DBPath:       getEnv("DB_PATH", "/data/homewiz.db"),
		DBConnection: getEnv("DB_CONNECTION", ""),

		BlobBackend:   getEnv("BLOB_BACKEND", "local"),
		BlobLocalPath: getEnv("BLOB_LOCAL_PATH", "/data/media"),
		S3Bucket:      getEnv("S3_BUCKET", ""),
		S3Region:      getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:    getEnv("S3_ENDPOINT", ""),
		S3AccessKey:   getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:   getEnv("S3_SECRET_KEY", ""),
		S3PathStyle:   getEnvBool("S3_PATH_STYLE", false),
		S3PublicURL:   getEnv("S3_PUBLIC_URL", ""),

		CacheBackend:  getEnv("CACHE_BACKEND", "memory"),
		CacheTTL:      getEnvDuration("CACHE_TTL", 5*time.Minute),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		RedisPrefix:   getEnv("REDIS_PREFIX", "homewiz:"),

		AuthMode:          getEnv("AUTH_MODE", "clerk"),
		ClerkJWTPublicKey: getEnv("CLERK_JWT_PUBLIC_KEY", ""),
		ClerkIssuer:       getEnv("CLERK_ISSUER", ""),

		VisionBackend: getEnv("VISION_BACKEND", "none"),
		ClaudeAPIKey:  getEnv("CLAUDE_API_KEY", ""),
		ClaudeModel:   getEnv("CLAUDE_MODEL", "claude-opus-4-6"),

		UploadConcurrency: getEnvInt("UPLOAD_CONCURRENCY", 4),
		MaxUploadBytes:    int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFile:   getEnv("LOG_FILE", ""),
		SentryDSN: getEnv("SENTRY_DSN", ""),
	}
}

// UsePostgres reports whether a Postgres connection string is configured.
// Without one the SQLite file at DBPath is used.
func (c *Config) UsePostgres() bool {
	return c.DBDriver == "pgx" && c.DBConnection != ""
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config invalid int, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config invalid bool, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config invalid duration, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return d
}
