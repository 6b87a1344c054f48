package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Settings represents the user's personal settings
type Settings struct {
	DownloadLocation string `json:"downloadLocation"`
}

// SettingsStore persists Settings as JSON at a fixed path
type SettingsStore struct {
	path     string
	fallback string
	mu       sync.RWMutex
}

// NewSettingsStore creates a store at path. fallback is the download location used
// until the user picks one.
func NewSettingsStore(path, fallback string) *SettingsStore {
	return &SettingsStore{path: path, fallback: fallback}
}

// Path returns the settings file location
func (s *SettingsStore) Path() string {
	return s.path
}

// Load reads the settings file, returning defaults when it does not exist
func (s *SettingsStore) Load() (*Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &Settings{DownloadLocation: s.fallback}, nil
	}
	if err != nil {
		return nil, err
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if settings.DownloadLocation == "" {
		settings.DownloadLocation = s.fallback
	}
	return &settings, nil
}

// Save writes the settings file
func (s *SettingsStore) Save(settings *Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0644)
}

// DownloadLocation returns the configured output directory, falling back to the
// default when the settings file is unreadable.
func (s *SettingsStore) DownloadLocation() string {
	settings, err := s.Load()
	if err != nil || settings.DownloadLocation == "" {
		return s.fallback
	}
	return settings.DownloadLocation
}

// ValidateDownloadLocation creates path if needed and checks that it is a writable
// directory.
func ValidateDownloadLocation(path string) error {
	if path == "" {
		return fmt.Errorf("download location cannot be empty")
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(path, 0755); err != nil {
			return err
		}
	case err != nil:
		return err
	case !info.IsDir():
		return fmt.Errorf("%s is not a directory", path)
	}

	testFile := filepath.Join(path, ".yt-downloader-write-test")
	file, err := os.Create(testFile)
	if err != nil {
		return err
	}
	file.Close()
	os.Remove(testFile)

	return nil
}
