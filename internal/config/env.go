package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/markdave123-py/Structa/internal/logger"
)

type Config struct {
	UnstructuredAPIKey string
	UnstructuredURL    string
	OutputDir          string
	RequestTimeout     time.Duration
	MaxRetries         int
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	RateLimit          int
	Workers            int
	UseReadability     bool

	LLMProvider     string
	GeminiAPIKey    string
	GenModel        string
	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIProjectID string

	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	AwsEndpoint  string
	BucketName   string

	DatabaseURL string
	Port        string
	JWTSecret   string

	LogLevel  string
	LogJSON   bool
	Telemetry bool
}

// LoadConfig loads .env (if present) and reads the environment. Nothing is
// required up front; each command checks the settings it needs.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		UnstructuredAPIKey: getEnv("UNSTRUCTURED_API", ""),
		UnstructuredURL:    getEnv("UNSTRUCTURED_URL", "https://api.unstructuredapp.io/general/v0/general"),
		OutputDir:          getEnv("OUTPUT_DIR", "data/jsons"),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 5*time.Minute),
		MaxRetries:         getEnvInt("MAX_RETRIES", 0),
		RetryBaseDelay:     getEnvDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:      getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
		RateLimit:          getEnvInt("RATE_LIMIT", 0),
		Workers:            getEnvInt("WORKERS", 2),
		UseReadability:     getEnvBool("USE_READABILITY", false),
		LLMProvider:        strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GenModel:           getEnv("GEN_MODEL", "gemini-1.5-flash"),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIProjectID:    getEnv("OPENAI_PROJECT_ID", ""),
		AwsAccessKey:       getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:       getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:          getEnv("AWS_REGION", "us-east-2"),
		AwsEndpoint:        getEnv("AWS_ENDPOINT", ""),
		BucketName:         getEnv("BUCKET_NAME", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		Port:               getEnv("PORT", "8080"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogJSON:            getEnvBool("LOG_JSON", false),
		Telemetry:          getEnvBool("TELEMETRY", false),
	}

	if cfg.MaxRetries < 0 {
		logger.Warn("MAX_RETRIES is negative, disabling retries", "value", cfg.MaxRetries)
		cfg.MaxRetries = 0
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	return cfg
}

// ObjectStorageEnabled reports whether S3 credentials and a bucket are set.
func (c *Config) ObjectStorageEnabled() bool {
	return c.AwsAccessKey != "" && c.AwsSecretKey != "" && c.BucketName != ""
}

// Helper to read environment variables with a default fallback. Empty
// values count as unset.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn("not a bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn("not a duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
