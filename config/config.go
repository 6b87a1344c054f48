package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envVarPrefix = "YTDL"

var validLogLevels = map[string]bool{
	"DEBUG": true,
	"INFO":  true,
	"WARN":  true,
	"ERROR": true,
}

// Config holds the process configuration read from the environment
type Config struct {
	Port             int      `envconfig:"PORT" default:"8080"`
	DownloadLocation string   `envconfig:"DOWNLOAD_LOCATION"`
	LogLevel         string   `envconfig:"LOG_LEVEL" default:"INFO"`
	CORSOrigins      []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000,http://localhost:5173,http://localhost:5174"`
	GinMode          string   `envconfig:"GIN_MODE" default:"release"`
	FragmentThreads  int      `envconfig:"FRAGMENT_THREADS" default:"4"`
	ScriptDir        string   `envconfig:"SCRIPT_DIR"`
	SettingsFile     string   `envconfig:"SETTINGS_FILE"`
}

// LoadConfig reads an optional .env file and then the YTDL_* environment variables.
// envFiles defaults to ".env" in the working directory.
func LoadConfig(envFiles ...string) (*Config, []string, error) {
	var warnings []string
	if err := godotenv.Load(envFiles...); err != nil {
		warnings = append(warnings, fmt.Sprintf(".env file not loaded: %v", err))
	}

	var c Config
	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, warnings, fmt.Errorf("parsing environment variables: %w", err)
	}

	c.LogLevel = strings.ToUpper(c.LogLevel)
	if c.DownloadLocation == "" {
		c.DownloadLocation = DefaultDownloadLocation()
	}
	if c.SettingsFile == "" {
		c.SettingsFile = DefaultSettingsFile()
	}

	return &c, warnings, nil
}

// Validate checks the values the server cannot start without
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: %s_PORT must be between 1 and 65535", c.Port, envVarPrefix)
	}

	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s. Valid levels are: DEBUG, INFO, WARN, ERROR", c.LogLevel)
	}

	switch c.GinMode {
	case "", "debug", "release", "test":
	default:
		return fmt.Errorf("invalid gin mode: %s. Valid modes are: debug, release, test", c.GinMode)
	}

	if c.FragmentThreads < 1 {
		return fmt.Errorf("fragment threads must be at least 1, got: %d", c.FragmentThreads)
	}

	if strings.TrimSpace(c.DownloadLocation) == "" {
		return fmt.Errorf("missing required configuration: %s_DOWNLOAD_LOCATION", envVarPrefix)
	}

	return nil
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DefaultDownloadLocation is the user's Downloads folder
func DefaultDownloadLocation() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "downloads")
	}
	return filepath.Join(homeDir, "Downloads")
}

// DefaultSettingsFile is where user settings live when YTDL_SETTINGS_FILE is unset
func DefaultSettingsFile() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".yt-downloader-settings.json"
	}
	return filepath.Join(homeDir, ".yt-downloader-settings.json")
}
