// Package config loads service configuration from the environment and
// verification policy profiles from YAML.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	RedisURL    string
	ProfilesDir string
	Profile     string
	JWTSecret   string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		// Default to a local file-backed SQLite database
		dbURL = "file:chaoscore.db"
	}

	profilesDir := os.Getenv("PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	profile := os.Getenv("POLICY_PROFILE")
	if profile == "" {
		profile = "default"
	}

	return &Config{
		Port:        port,
		LogLevel:    logLevel,
		DatabaseURL: dbURL,
		RedisURL:    os.Getenv("REDIS_URL"),
		ProfilesDir: profilesDir,
		Profile:     profile,
		JWTSecret:   os.Getenv("JWT_SECRET"),
		S3Bucket:    os.Getenv("S3_BUCKET"),
		S3Region:    os.Getenv("S3_REGION"),
		S3Endpoint:  os.Getenv("S3_ENDPOINT"),
	}
}
