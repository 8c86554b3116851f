package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	MongoURI    string
	MongoDB     string
	RedisURL    string
	FrontendURL string
	CORSOrigin  string

	// Google OAuth
	GoogleClientID     string
	GoogleClientSecret string
	RedirectURL        string

	// Session
	SessionTTL   time.Duration
	CookieSecure bool

	// Blob storage (MinIO / S3-compatible)
	BlobEndpoint  string
	BlobAccessKey string
	BlobSecretKey string
	BlobBucket    string
	BlobUseSSL    bool
	BlobPublicURL string
}

func Load() Config {
	// A .env next to the binary is optional, matching the original deployment.
	_ = godotenv.Load()

	return Config{
		Addr:        getenv("API_ADDR", ":3000"),
		MongoURI:    getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:     getenv("MONGO_DB", "keepsake"),
		RedisURL:    getenv("REDIS_URL", "redis://localhost:6379/0"),
		FrontendURL: getenv("FRONTEND_URL", "http://localhost:3001"),
		CORSOrigin:  getenv("KEEPSAKE_CORS_ORIGIN", "http://localhost:3001"),

		GoogleClientID:     getenv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getenv("GOOGLE_CLIENT_SECRET", ""),
		RedirectURL:        getenv("REDIRECT_URL", "http://localhost:3001/login"),

		SessionTTL:   time.Duration(getenvInt("KEEPSAKE_SESSION_TTL_SECONDS", 86400)) * time.Second,
		CookieSecure: getenvBool("KEEPSAKE_COOKIE_SECURE", false),

		BlobEndpoint:  getenv("BLOB_ENDPOINT", "localhost:9000"),
		BlobAccessKey: getenv("BLOB_ACCESS_KEY", ""),
		BlobSecretKey: getenv("BLOB_SECRET_KEY", ""),
		BlobBucket:    getenv("BLOB_BUCKET", "keepsake-photos"),
		BlobUseSSL:    getenvBool("BLOB_USE_SSL", false),
		BlobPublicURL: getenv("BLOB_PUBLIC_URL", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
