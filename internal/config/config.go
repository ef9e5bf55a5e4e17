package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr           string
	TLSEnabled           bool
	ArchiveBasePath      string
	ArchiveRetentionDays int
	ArchiveCompress      bool
	UpstreamGraphURL     string
	UpstreamStatusURL    string
	UpstreamUser         string
	UpstreamPassword     string
	PollInterval         time.Duration
	RateLimit            int
	RateLimitWindow      time.Duration
	S3Bucket             string
	S3Region             string
	S3Endpoint           string
	S3AccessKey          string
	S3SecretKey          string
	PostgresUser         string
	PostgresPassword     string
	PostgresHost         string
	PostgresPort         string
	PostgresDatabase     string
	PostgresSSLMode      string
}

func Load() *Config {
	cfg := &Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		TLSEnabled:           getEnvBool("TLS_ENABLED", false),
		ArchiveBasePath:      getEnv("ARCHIVE_BASE_PATH", "data/archives"),
		ArchiveRetentionDays: getEnvInt("ARCHIVE_RETENTION_DAYS", 90),
		ArchiveCompress:      getEnvBool("ARCHIVE_COMPRESS", true),
		UpstreamGraphURL:     mustGetEnv("UPSTREAM_GRAPH_URL"),
		UpstreamStatusURL:    getEnv("UPSTREAM_STATUS_URL", ""),
		UpstreamUser:         getEnv("UPSTREAM_USER", ""),
		UpstreamPassword:     getEnv("UPSTREAM_PASSWORD", ""),
		PollInterval:         getEnvDuration("POLL_INTERVAL", 10*time.Minute),
		RateLimit:            getEnvInt("RATE_LIMIT", 100),
		RateLimitWindow:      getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		S3Bucket:             getEnv("S3_BUCKET", "etna-archives"),
		S3Region:             getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:           getEnv("S3_ENDPOINT", ""),
		S3AccessKey:          getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:          getEnv("AWS_SECRET_ACCESS_KEY", ""),
		PostgresUser:         getEnv("POSTGRES_USER", "etna"),
		PostgresPassword:     getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:         getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:         getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase:     getEnv("POSTGRES_DATABASE", "etna_archive"),
		PostgresSSLMode:      getEnv("POSTGRES_SSL_MODE", "disable"),
	}

	if cfg.S3Endpoint != "" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		panic("AWS credentials must be provided when S3_ENDPOINT is set")
	}

	return cfg
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("Missing required environment variable: " + key)
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
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
