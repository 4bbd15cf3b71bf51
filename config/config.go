package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the process configuration read from the environment.
type Config struct {
	Port   string
	AppEnv string

	// Database. DatabaseURL is the application (caller-scoped) role,
	// AdminDatabaseURL the elevated role used for admin paths and migrations.
	DBType           string // postgres, sqlite
	DatabaseURL      string
	AdminDatabaseURL string
	DBMaxOpenConns   int

	JWTSecret string

	// Redis cache for public SOS pages. Disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SosCacheTTL   time.Duration

	LogLevel  string
	LogFormat string

	FrontendURL string

	AdminName      string
	AdminEmail     string
	AdminPassword  string
	SeedSampleData bool

	LoginRateLimit int

	FirebaseStorageBucket string
	// JSON document or file path; empty uses application default credentials.
	GoogleCredentials string
}

func LoadEnv() error {
	// A missing .env is fine: in production the variables come from the host.
	_ = godotenv.Load()
	return nil
}

// ValidateEnv checks that critical environment variables are set.
func ValidateEnv() error {
	var missing []string

	if os.Getenv("JWT_SECRET") == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if os.Getenv("DATABASE_URL") == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return fmt.Errorf("critical environment variables not set: %v", missing)
	}

	if os.Getenv("FRONTEND_URL") == "" {
		log.Println("WARNING: FRONTEND_URL not set - CORS defaults to http://localhost:3000")
	}
	if os.Getenv("ADMIN_DATABASE_URL") == "" {
		log.Println("WARNING: ADMIN_DATABASE_URL not set - admin paths share the application connection")
	}
	if os.Getenv("FIREBASE_STORAGE_BUCKET") == "" {
		log.Println("WARNING: FIREBASE_STORAGE_BUCKET not set - profile photo upload is disabled")
	}

	return nil
}

// Load validates the environment and returns the typed configuration.
func Load() (*Config, error) {
	if err := ValidateEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                  GetEnv("PORT", "8080"),
		AppEnv:                GetEnv("APP_ENV", "development"),
		DBType:                strings.ToLower(GetEnv("DB_TYPE", "postgres")),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DBMaxOpenConns:        getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		RedisAddr:             GetEnv("REDIS_ADDR", ""),
		RedisPassword:         GetEnv("REDIS_PASSWORD", ""),
		RedisDB:               getEnvAsInt("REDIS_DB", 0),
		SosCacheTTL:           getEnvAsDuration("SOS_CACHE_TTL", time.Minute),
		LogLevel:              GetEnv("LOG_LEVEL", "info"),
		LogFormat:             GetEnv("LOG_FORMAT", "json"),
		FrontendURL:           GetEnv("FRONTEND_URL", "http://localhost:3000"),
		AdminName:             GetEnv("ADMIN_NAME", "Administrador"),
		AdminEmail:            GetEnv("ADMIN_EMAIL", "admin@sosband.local"),
		AdminPassword:         GetEnv("ADMIN_PASSWORD", ""),
		SeedSampleData:        getEnvAsBool("SEED_SAMPLE_DATA", false),
		LoginRateLimit:        getEnvAsInt("LOGIN_RATE_LIMIT", 10),
		FirebaseStorageBucket: GetEnv("FIREBASE_STORAGE_BUCKET", ""),
		GoogleCredentials:     GetEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
	}
	cfg.AdminDatabaseURL = GetEnv("ADMIN_DATABASE_URL", cfg.DatabaseURL)

	switch cfg.DBType {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", cfg.DBType)
	}
	if cfg.LoginRateLimit <= 0 {
		return nil, fmt.Errorf("LOGIN_RATE_LIMIT must be positive")
	}

	return cfg, nil
}

// IsProduction reports whether cookies should be marked Secure.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
