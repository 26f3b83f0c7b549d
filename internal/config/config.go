package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken string

	// Database
	DatabasePath string

	// Default timezone used when neither channel nor server sets one
	DefaultTimezone string

	// Minutes past a raid's end time before the scheduler force-completes it
	ExpiryGraceMinutes int

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:    os.Getenv("DISCORD_BOT_TOKEN"),
		DatabasePath:    getEnvOrDefault("DATABASE_PATH", "./data/gyms.db"),
		DefaultTimezone: getEnvOrDefault("DEFAULT_TIMEZONE", "UTC"),
		LogLevel:        getEnvOrDefault("LOG_LEVEL", "info"),
	}

	graceStr := getEnvOrDefault("EXPIRY_GRACE_MINUTES", "5")
	grace, err := strconv.Atoi(graceStr)
	if err != nil {
		return nil, fmt.Errorf("invalid EXPIRY_GRACE_MINUTES: %w", err)
	}
	cfg.ExpiryGraceMinutes = grace

	// Validate required fields
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TIMEZONE: %w", err)
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
