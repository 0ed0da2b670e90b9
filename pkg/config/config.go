// Package config loads engine configuration from the environment and
// agency profiles from YAML files.
package config

import "os"

// Config holds engine configuration.
type Config struct {
	LogLevel     string
	DatabaseURL  string
	SQLitePath   string
	RedisAddr    string
	ProfilesDir  string
	AgencyCode   string
	ProvisionRPS float64
}

// Load reads configuration from environment variables, with defaults
// suitable for a single-node deployment.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "data/dealflow.db"
	}

	profilesDir := os.Getenv("PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	agencyCode := os.Getenv("AGENCY_CODE")
	if agencyCode == "" {
		agencyCode = "default"
	}

	return &Config{
		LogLevel:     logLevel,
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SQLitePath:   sqlitePath,
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		ProfilesDir:  profilesDir,
		AgencyCode:   agencyCode,
		ProvisionRPS: 25,
	}
}
