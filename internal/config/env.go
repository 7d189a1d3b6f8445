package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	DatabaseURL string
	Port        string
	LogLevel    string

	// External source
	SvsBaseURL    string
	SvsRateLimit  float64
	SvsMaxRetries int
	SvsRetryDelay float64

	// Embedding backend: "gemini" (remote) or "ollama" (local)
	EmbedBackend  string
	EmbedModel    string
	EmbedDim      int
	OllamaBaseURL string

	// Chat generation
	GenModel string
	AIAPIKey string

	// Thumbnail object cache
	AwsAccessKey string
	AwsSecretKey string
	AwsRegion    string
	BucketName   string

	CorsOrigins []string
}

// LoadConfig loads the environment variables and returns config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		SvsBaseURL:    getEnv("SVS_BASE_URL", "https://svs.gsfc.nasa.gov"),
		SvsRateLimit:  getEnvFloat("SVS_RATE_LIMIT", 2.0),
		SvsMaxRetries: getEnvInt("SVS_MAX_RETRIES", 3),
		SvsRetryDelay: getEnvFloat("SVS_RETRY_DELAY", 5.0),

		EmbedBackend:  getEnv("EMBED_BACKEND", "gemini"),
		EmbedModel:    getEnv("EMBED_MODEL", "text-embedding-004"),
		EmbedDim:      getEnvInt("EMBED_DIM", 768),
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),

		GenModel: getEnv("GEN_MODEL", "gemini-1.5-flash"),
		AIAPIKey: getEnv("GEMINI_API_KEY", ""),

		AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:    getEnv("AWS_REGION", "us-east-2"),
		BucketName:   getEnv("BUCKET_NAME", "svscope-thumbnails"),

		CorsOrigins: []string{getEnv("CORS_ORIGIN", "http://localhost:3000")},
	}

	if cfg.DatabaseURL == "" {
		logrus.Fatal("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
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
		logrus.Warnf("%s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logrus.Warnf("%s=%q not a float, using default %g", key, v, def)
		return def
	}
	return f
}
