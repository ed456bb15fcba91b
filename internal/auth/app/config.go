package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Issuer   string // Issuer claim for access tokens (default: optistrat-admin)
	Audience string // Audience claim for access tokens (default: same as issuer)

	DatabaseFile string // Path to SQLite database file (default: ./adminauth.db)
	PepperFile   string // Path to file containing pepper for password hashing (default: ./pepper)

	AccessTokenTTL time.Duration // Access token lifetime (default: 15m)
	ChallengeTTL   time.Duration // Second-factor challenge lifetime (default: 5m)

	LoginMaxAttempts int           // Attempt budget per origin for login (default: 5)
	LoginWindow      time.Duration // Login attempt window (default: 15m)
	ChatMaxAttempts  int           // Attempt budget per origin for the chat policy (default: 20)
	ChatWindow       time.Duration // Chat attempt window (default: 1m)

	BootstrapAdminEmail    string // Optional: seed admin principal when store is empty
	BootstrapAdminPassword string // Optional: password for the seed admin (generated if empty)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	cfg := Config{
		Issuer:   getEnvOrDefault("AUTH_ISSUER", "optistrat-admin"),
		Audience: os.Getenv("AUTH_AUDIENCE"),

		DatabaseFile: getEnvOrDefault("AUTH_DATABASE_FILE", "adminauth.db"),
		PepperFile:   getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),

		AccessTokenTTL: getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
		ChallengeTTL:   getEnvDurationOrDefault("AUTH_CHALLENGE_TTL", 5*time.Minute),

		LoginMaxAttempts: getEnvIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LoginWindow:      getEnvDurationOrDefault("LOGIN_WINDOW", 15*time.Minute),
		ChatMaxAttempts:  getEnvIntOrDefault("CHAT_MAX_ATTEMPTS", 20),
		ChatWindow:       getEnvDurationOrDefault("CHAT_WINDOW", time.Minute),

		BootstrapAdminEmail:    os.Getenv("BOOTSTRAP_ADMIN_EMAIL"),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}

	if cfg.Audience == "" {
		cfg.Audience = cfg.Issuer
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Try parsing as integer minutes (for backwards compatibility)
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}

	return defaultValue
}
