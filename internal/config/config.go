package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port                   string
	APIBaseURL             string        // remote gate-management backend
	CacheDir               string        // local session cache directory
	CachePassphrase        string        // at-rest encryption key material
	RefreshMargin          time.Duration // refresh tokens this close to expiry
	PermissionSyncInterval time.Duration // periodic /auth/me re-fetch
	Environment            string        // development, staging, production
}

// Load loads configuration from environment variables and validates for production
func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Port:                   getEnv("PORT", "7465"),
		APIBaseURL:             getEnv("API_BASE_URL", "http://localhost:8000"),
		CacheDir:               getEnv("SESSION_CACHE_DIR", defaultCacheDir()),
		CachePassphrase:        getEnv("SESSION_CACHE_PASSPHRASE", ""),
		RefreshMargin:          getDurationEnv("SESSION_REFRESH_MARGIN", time.Minute),
		PermissionSyncInterval: getDurationEnv("PERMISSION_SYNC_INTERVAL", 5*time.Minute),
		Environment:            getEnv("ENVIRONMENT", "development"),
	}

	// Validate production configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	return cfg
}

// Validate checks configuration for security and correctness
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL must be set")
	}
	if c.RefreshMargin < 0 {
		return fmt.Errorf("SESSION_REFRESH_MARGIN must not be negative")
	}
	if c.PermissionSyncInterval < time.Second {
		return fmt.Errorf("PERMISSION_SYNC_INTERVAL must be at least 1s (got %s)", c.PermissionSyncInterval)
	}

	// Production environment requires tokens encrypted at rest
	if c.IsProduction() {
		if c.CachePassphrase == "" || c.CachePassphrase == "change-this-in-production" {
			return fmt.Errorf("SESSION_CACHE_PASSPHRASE must be set to a strong random value in production")
		}

		if len(c.CachePassphrase) < 32 {
			return fmt.Errorf("SESSION_CACHE_PASSPHRASE must be at least 32 characters in production (got %d)", len(c.CachePassphrase))
		}

		if strings.HasPrefix(c.APIBaseURL, "http://") {
			log.Println("WARNING: API_BASE_URL is not HTTPS; bearer tokens will travel in the clear")
		}
	} else if c.CachePassphrase == "" {
		log.Println("Session cache will be stored unencrypted (no SESSION_CACHE_PASSPHRASE set)")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == ""
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir + "/gatepass-agent"
	}
	return ".gatepass-agent"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid duration for %s (%q), using default %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
