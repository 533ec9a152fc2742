// Package config loads exchange startup settings with a simple
// layering: defaults, overridden by an optional .env file, overridden
// by the process environment. cmd/server further layers cobra flags
// on top.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything the exchange needs to start listening.
type Config struct {
	Address  string
	Port     int
	LogLevel string
}

// Default returns the built-in baseline, used when neither a .env file
// nor the environment overrides a field.
func Default() Config {
	return Config{
		Address:  "0.0.0.0",
		Port:     9090,
		LogLevel: "info",
	}
}

// Load applies the .env-then-environment layering on top of Default.
// envPath may be empty, in which case godotenv looks for .env in the
// working directory; a missing file is not an error.
func Load(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("EXCHANGE_ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv("EXCHANGE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("EXCHANGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}
