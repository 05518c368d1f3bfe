package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey       string
	DatabaseURL        string
	HTTPPort           string
	LogLevel           string
	JWTSecret          string
	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string
	FrontendURL        string

	// Dispatcher tuning
	DispatchConcurrency int // shared in-flight capability call bound
	CapabilityTimeoutMS int // per capability call
	RequestTimeoutMS    int // whole query
	MaxRetryAttempts    int
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	AppConfig = Config{
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		DatabaseURL:         getEnv("DATABASE_URL", "workspace_assistant.db"),
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:           getEnv("JWT_SECRET", ""),
		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		OAuthRedirectURL:    getEnv("OAUTH_REDIRECT_URL", "http://localhost:8080/v1/auth/callback"),
		FrontendURL:         getEnv("FRONTEND_URL", "http://localhost:3000"),
		DispatchConcurrency: getEnvAsInt("DISPATCH_CONCURRENCY", 8),
		CapabilityTimeoutMS: getEnvAsInt("CAPABILITY_TIMEOUT_MS", 15000),
		RequestTimeoutMS:    getEnvAsInt("REQUEST_TIMEOUT_MS", 60000),
		MaxRetryAttempts:    getEnvAsInt("MAX_RETRY_ATTEMPTS", 3),
	}

	if AppConfig.GeminiAPIKey == "" {
		log.Fatal("GEMINI_API_KEY environment variable is required")
	}

	if AppConfig.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	if AppConfig.GoogleClientID == "" || AppConfig.GoogleClientSecret == "" {
		log.Fatal("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET environment variables are required")
	}
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
