// Package config centralises configuration parsing for the user counter
// service.
package config

import (
	"os"
	"strconv"
)

// Config captures runtime configuration values for the user counter service.
type Config struct {
	HTTPAddress  string
	DatabasePath string
	Debug        bool
}

// Load reads environment variables into Config, applying defaults suited to
// local use. Command-line flags may override the result.
func Load() Config {
	return Config{
		HTTPAddress:  getEnv("USERCOUNTER_HTTP_ADDRESS", "127.0.0.1:5000"),
		DatabasePath: getEnv("USERCOUNTER_DATABASE_PATH", "user_tracking.db"),
		Debug:        getBoolEnv("USERCOUNTER_DEBUG", false),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
