package config

import "os"

// Config holds daemon configuration.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	ProfilesDir string
	Profile     string
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
		dbURL = "heirloom.db"
	}

	profilesDir := os.Getenv("PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	profile := os.Getenv("VAULT_PROFILE")
	if profile == "" {
		profile = "default"
	}

	return &Config{
		Port:        port,
		LogLevel:    logLevel,
		DatabaseURL: dbURL,
		ProfilesDir: profilesDir,
		Profile:     profile,
	}
}
