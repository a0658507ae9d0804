// Package config provides configuration loading from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the gcamreader CLI.
type Config struct {
	QueryTimeout time.Duration // GCAMREADER_QUERY_TIMEOUT_MS, default 300000ms (5m), 0 disables
	HTTPTimeout  time.Duration // GCAMREADER_HTTP_TIMEOUT_MS, default 0 (context-governed only)
	Workers      int           // GCAMREADER_WORKERS, default 0 (NumCPU)
	DocCacheSize int           // GCAMREADER_DOC_CACHE_SIZE, default 32
	Delim        string        // GCAMREADER_DELIM, default "|"

	// Logging configuration
	LogLevel      string // GCAMREADER_LOG_LEVEL, default "info"
	LogFile       string // GCAMREADER_LOG_FILE, default "" (stderr only)
	LogMaxSizeMB  int    // GCAMREADER_LOG_MAX_SIZE_MB, default 10
	LogMaxBackups int    // GCAMREADER_LOG_MAX_BACKUPS, default 3
	LogMaxAgeDays int    // GCAMREADER_LOG_MAX_AGE_DAYS, default 28
	LogCompress   bool   // GCAMREADER_LOG_COMPRESS, default true
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		QueryTimeout: getEnvDurationMs("GCAMREADER_QUERY_TIMEOUT_MS", 300000),
		HTTPTimeout:  getEnvDurationMs("GCAMREADER_HTTP_TIMEOUT_MS", 0),
		Workers:      getEnvInt("GCAMREADER_WORKERS", 0),
		DocCacheSize: getEnvInt("GCAMREADER_DOC_CACHE_SIZE", 32),
		Delim:        getEnvString("GCAMREADER_DELIM", "|"),

		LogLevel:      getEnvString("GCAMREADER_LOG_LEVEL", "info"),
		LogFile:       getEnvString("GCAMREADER_LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("GCAMREADER_LOG_MAX_SIZE_MB", 10),
		LogMaxBackups: getEnvInt("GCAMREADER_LOG_MAX_BACKUPS", 3),
		LogMaxAgeDays: getEnvInt("GCAMREADER_LOG_MAX_AGE_DAYS", 28),
		LogCompress:   getEnvBool("GCAMREADER_LOG_COMPRESS", true),
	}
}

// Delimiter returns the configured output delimiter as a rune.
func (c *Config) Delimiter() rune {
	if c.Delim == "" {
		return '|'
	}
	return []rune(c.Delim)[0]
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDurationMs(key string, defaultMs int) time.Duration {
	ms := getEnvInt(key, defaultMs)
	return time.Duration(ms) * time.Millisecond
}
