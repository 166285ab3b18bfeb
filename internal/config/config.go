package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// Database
	SQLiteDBPath string
	DataBackend  string // sqlite or memory

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Account data source (Tarabut-style open banking gateway)
	BankBaseURL      string
	BankTokenURL     string
	BankClientID     string
	BankClientSecret string
	BankTimeout      time.Duration

	// Classifier
	GeminiModel         string
	ClassifyTimeout     time.Duration
	ClassifyConcurrency int

	// Aggregation
	TopCategories int

	// Worker
	SyncWindowDays int
	SyncInterval   time.Duration
}

func Load() *Config {
	cfg := &Config{
		Port:         getEnv("PORT", "8081"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/masarif.db"),
		DataBackend:  getEnv("DATA_BACKEND", "sqlite"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "masarif"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "sync_accounts"),

		BankBaseURL:      getEnv("BANK_BASE_URL", "https://api.sau.sandbox.tarabutgateway.io"),
		BankTokenURL:     getEnv("BANK_TOKEN_URL", "https://oauth.tarabutgateway.io/sandbox/token"),
		BankClientID:     getEnv("BANK_CLIENT_ID", ""),
		BankClientSecret: getEnv("BANK_CLIENT_SECRET", ""),
		BankTimeout:      getEnvDuration("BANK_TIMEOUT", 30*time.Second),

		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		ClassifyTimeout:     getEnvDuration("CLASSIFY_TIMEOUT", 15*time.Second),
		ClassifyConcurrency: getEnvInt("CLASSIFY_CONCURRENCY", 4),

		TopCategories: getEnvInt("TOP_CATEGORIES", 5),

		SyncWindowDays: getEnvInt("SYNC_WINDOW_DAYS", 90),
		SyncInterval:   getEnvDuration("SYNC_INTERVAL", 6*time.Hour),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate data backend
	if c.DataBackend != "sqlite" && c.DataBackend != "memory" {
		errors = append(errors, fmt.Sprintf("invalid data backend '%s': must be 'sqlite' or 'memory'", c.DataBackend))
	}

	// Validate SQLite configuration if backend is sqlite
	if c.DataBackend == "sqlite" {
		if c.SQLiteDBPath == "" {
			errors = append(errors, "SQLite database path cannot be empty when using sqlite backend")
		} else {
			dir := filepath.Dir(c.SQLiteDBPath)
			if dir != "." && dir != "" {
				if _, err := os.Stat(dir); os.IsNotExist(err) {
					if err := os.MkdirAll(dir, 0755); err != nil {
						errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
					}
				}
			}
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}

		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate bank gateway configuration
	if c.BankBaseURL != "" {
		if parsedURL, err := url.Parse(c.BankBaseURL); err != nil || parsedURL.Scheme == "" {
			errors = append(errors, fmt.Sprintf("invalid bank base URL '%s'", c.BankBaseURL))
		}
	}
	if c.BankTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid bank timeout %v: must be at least 1 second", c.BankTimeout))
	}

	// Validate classifier configuration
	if c.ClassifyTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid classify timeout %v: must be at least 1 second", c.ClassifyTimeout))
	}
	if c.ClassifyConcurrency < 1 {
		errors = append(errors, fmt.Sprintf("invalid classify concurrency %d: must be at least 1", c.ClassifyConcurrency))
	} else if c.ClassifyConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid classify concurrency %d: must be at most 64", c.ClassifyConcurrency))
	}

	// Validate aggregation configuration
	if c.TopCategories < 1 {
		errors = append(errors, fmt.Sprintf("invalid top categories %d: must be at least 1", c.TopCategories))
	} else if c.TopCategories > 12 {
		errors = append(errors, fmt.Sprintf("invalid top categories %d: must be at most 12", c.TopCategories))
	}

	// Validate worker configuration
	if c.SyncWindowDays < 1 {
		errors = append(errors, fmt.Sprintf("invalid sync window %d days: must be at least 1", c.SyncWindowDays))
	} else if c.SyncWindowDays > 365 {
		errors = append(errors, fmt.Sprintf("invalid sync window %d days: must be at most 365", c.SyncWindowDays))
	}

	if c.SyncInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at least 1 minute", c.SyncInterval))
	} else if c.SyncInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid sync interval %v: must be at most 7 days", c.SyncInterval))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
