package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// SigningKey derives the key that decrypts stored provider credentials.
	SigningKey string

	// Provider defaults
	DefaultProvider      string
	ProviderTimeout      time.Duration
	MaxOutputTokens      int
	VLLMMaxOutputTokens  int
	OpenAIAPIKey         string
	AllowSharedOpenAIKey bool
	OpenAIBaseURL        string
	OllamaServerURL      string
	VLLMServerURL        string
	GeminiAPIKey         string
	AllowSharedGeminiKey bool
	AWSRegion            string
	BedrockEndpoint      string

	RetrievalBaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
	ShutdownTimeout    time.Duration
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		SigningKey: getEnv("SIGNING_KEY", ""),

		DefaultProvider:      strings.ToLower(strings.TrimSpace(getEnv("DEFAULT_PROVIDER", ""))),
		ProviderTimeout:      getEnvAsDuration("PROVIDER_TIMEOUT", 60*time.Second),
		MaxOutputTokens:      getEnvAsInt("MAX_OUTPUT_TOKENS", 2048),
		VLLMMaxOutputTokens:  getEnvAsInt("VLLM_MAX_OUTPUT_TOKENS", 8192),
		OpenAIAPIKey:         getEnv("OPENAI_API_KEY", ""),
		AllowSharedOpenAIKey: getEnvAsBool("ALLOW_SHARED_OPENAI_KEY", false),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OllamaServerURL:      getEnv("OLLAMA_SERVER_URL", ""),
		VLLMServerURL:        getEnv("VLLM_SERVER_URL", ""),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", ""),
		AllowSharedGeminiKey: getEnvAsBool("ALLOW_SHARED_GEMINI_KEY", false),
		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
		BedrockEndpoint:      getEnv("BEDROCK_ENDPOINT_OVERRIDE", ""),

		RetrievalBaseURL: getEnv("RETRIEVAL_BASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
		ShutdownTimeout:    getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
