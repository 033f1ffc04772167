// Package config provides application configuration loaded from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	App        AppConfig
	Auth       AuthConfig
	Logging    LoggingConfig
	QuickBooks QuickBooksConfig
	PrintQueue PrintQueueConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// DatabaseConfig holds connection settings. Driver is "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
	Debug      bool
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Dev        bool
	Migrations bool
	Seed       bool
}

// AuthConfig holds the secret shared with the sign-in provider for session
// cookie signatures.
type AuthConfig struct {
	SessionSecret string
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level    string
	Format   string // "text" or "json"
	RingSize int    // recent records kept for diagnostics
}

// QuickBooksConfig holds the Intuit OAuth app and webhook settings.
type QuickBooksConfig struct {
	ClientID      string
	ClientSecret  string
	RedirectURL   string
	Environment   string // "sandbox" or "production"
	WebhookSecret string // webhook verifier token
	APIBaseURL    string // overrides the environment default when set
	Timeout       time.Duration
}

// PrintQueueConfig holds label printing settings.
type PrintQueueConfig struct {
	BatchSize int
}

// DSN returns the PostgreSQL connection string in key=value format.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL returns the PostgreSQL connection string in URL format.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// APIBase returns the QuickBooks accounting API base URL.
func (q QuickBooksConfig) APIBase() string {
	if q.APIBaseURL != "" {
		return strings.TrimRight(q.APIBaseURL, "/")
	}
	if q.Environment == "production" {
		return "https://quickbooks.api.intuit.com"
	}
	return "https://sandbox-quickbooks.api.intuit.com"
}

// Configured reports whether the OAuth app credentials are present.
func (q QuickBooksConfig) Configured() bool {
	return q.ClientID != "" && q.ClientSecret != ""
}

// Load reads configuration from environment variables.
// It uses sensible defaults for local development.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "8080"),
			ReadTimeout:  getEnvInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout: getEnvInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:  getEnvInt("SERVER_IDLE_TIMEOUT", 60),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "postgres"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnvInt("DB_PORT", 5432),
			User:       getEnv("DB_USER", "spacovers"),
			Password:   getEnv("DB_PASSWORD", "spacovers"),
			DBName:     getEnv("DB_NAME", "spacovers"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "spacovers.db"),
			Debug:      getEnvBool("DB_DEBUG", false),
		},
		App: AppConfig{
			Dev:        getEnvBool("DEV", true),
			Migrations: getEnvBool("MIGRATIONS", false),
			Seed:       getEnvBool("DB_SEED", true),
		},
		Auth: AuthConfig{
			SessionSecret: getEnv("SESSION_SECRET", "devsessionsecret"),
		},
		Logging: LoggingConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Format:   getEnv("LOG_FORMAT", "text"),
			RingSize: getEnvInt("LOG_RING_SIZE", 500),
		},
		QuickBooks: QuickBooksConfig{
			ClientID:      getEnv("QBO_CLIENT_ID", ""),
			ClientSecret:  getEnv("QBO_CLIENT_SECRET", ""),
			RedirectURL:   getEnv("QBO_REDIRECT_URL", "http://localhost:8080/api/qbo/callback"),
			Environment:   getEnv("QBO_ENVIRONMENT", "sandbox"),
			WebhookSecret: getEnv("QBO_WEBHOOK_VERIFIER_TOKEN", ""),
			APIBaseURL:    getEnv("QBO_API_BASE_URL", ""),
			Timeout:       time.Duration(getEnvInt("QBO_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		PrintQueue: PrintQueueConfig{
			BatchSize: getEnvInt("PRINT_BATCH_SIZE", 4),
		},
	}
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default.
// Accepts "1", "true", "yes" as true; everything else is false.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "1" || value == "true" || value == "yes"
}
