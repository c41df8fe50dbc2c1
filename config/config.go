// Package config provides configuration loading and management for Fieldcheck.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Fieldcheck configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Geocoder GeocoderConfig `yaml:"geocoder"`
	Location LocationConfig `yaml:"location"`
	Upload   UploadConfig   `yaml:"upload"`
	NATS     NATSConfig     `yaml:"nats"`
	UI       UIConfig       `yaml:"ui"`
}

// BackendConfig configures the attendance backend connection
type BackendConfig struct {
	// URL is the attendance backend base URL
	URL string `yaml:"url"`
	// Timeout is the per-request timeout for backend calls
	Timeout time.Duration `yaml:"timeout"`
}

// GeocoderConfig configures the reverse-geocoding service
type GeocoderConfig struct {
	// URL is the reverse-geocoding endpoint
	URL string `yaml:"url"`
	// Language is the localityLanguage query parameter value
	Language string `yaml:"language"`
	// Timeout bounds how long address resolution may take; the workflow
	// never waits on geocoding beyond this
	Timeout time.Duration `yaml:"timeout"`
}

// LocationConfig configures position acquisition
type LocationConfig struct {
	// HighAccuracy requests a high-accuracy fix from the provider
	HighAccuracy bool `yaml:"high_accuracy"`
	// Timeout is the maximum time to wait for a position fix
	Timeout time.Duration `yaml:"timeout"`
	// MaxAge is the oldest cached fix the provider may return (0 = fresh only)
	MaxAge time.Duration `yaml:"max_age"`
}

// UploadConfig configures photo uploads
type UploadConfig struct {
	// MaxBytes caps the photo size accepted before any network call
	MaxBytes int64 `yaml:"max_bytes"`
	// Timeout is the per-phase timeout for upload requests
	Timeout time.Duration `yaml:"timeout"`
}

// NATSConfig configures the optional transition-event publisher
type NATSConfig struct {
	// URL is the NATS server URL (empty = publishing disabled)
	URL string `yaml:"url"`
	// SubjectPrefix is prepended to transition-event subjects
	SubjectPrefix string `yaml:"subject_prefix"`
}

// UIConfig holds cosmetic tuning surfaced to callers
type UIConfig struct {
	// CloseDelay is how long the caller should keep the workflow view
	// open after completion without a photo
	CloseDelay time.Duration `yaml:"close_delay"`
	// CloseDelayWithPhoto applies when a photo was attached, giving the
	// user time to see the upload outcome
	CloseDelayWithPhoto time.Duration `yaml:"close_delay_with_photo"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:     "http://localhost:8080",
			Timeout: 10 * time.Second,
		},
		Geocoder: GeocoderConfig{
			URL:      "https://api.bigdatacloud.net/data/reverse-geocode-client",
			Language: "en",
			Timeout:  5 * time.Second,
		},
		Location: LocationConfig{
			HighAccuracy: true,
			Timeout:      15 * time.Second,
			MaxAge:       0,
		},
		Upload: UploadConfig{
			MaxBytes: 5 * 1024 * 1024,
			Timeout:  30 * time.Second,
		},
		NATS: NATSConfig{
			URL:           "",
			SubjectPrefix: "fieldcheck",
		},
		UI: UIConfig{
			CloseDelay:          500 * time.Millisecond,
			CloseDelayWithPhoto: 1500 * time.Millisecond,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if _, err := url.Parse(c.Backend.URL); err != nil {
		return fmt.Errorf("backend.url is invalid: %w", err)
	}
	if c.Geocoder.URL == "" {
		return fmt.Errorf("geocoder.url is required")
	}
	if c.Location.Timeout <= 0 {
		return fmt.Errorf("location.timeout must be positive")
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Backend
	if other.Backend.URL != "" {
		c.Backend.URL = other.Backend.URL
	}
	if other.Backend.Timeout != 0 {
		c.Backend.Timeout = other.Backend.Timeout
	}

	// Geocoder
	if other.Geocoder.URL != "" {
		c.Geocoder.URL = other.Geocoder.URL
	}
	if other.Geocoder.Language != "" {
		c.Geocoder.Language = other.Geocoder.Language
	}
	if other.Geocoder.Timeout != 0 {
		c.Geocoder.Timeout = other.Geocoder.Timeout
	}

	// Location
	if other.Location.HighAccuracy {
		c.Location.HighAccuracy = true
	}
	if other.Location.Timeout != 0 {
		c.Location.Timeout = other.Location.Timeout
	}
	if other.Location.MaxAge != 0 {
		c.Location.MaxAge = other.Location.MaxAge
	}

	// Upload
	if other.Upload.MaxBytes != 0 {
		c.Upload.MaxBytes = other.Upload.MaxBytes
	}
	if other.Upload.Timeout != 0 {
		c.Upload.Timeout = other.Upload.Timeout
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.SubjectPrefix != "" {
		c.NATS.SubjectPrefix = other.NATS.SubjectPrefix
	}

	// UI
	if other.UI.CloseDelay != 0 {
		c.UI.CloseDelay = other.UI.CloseDelay
	}
	if other.UI.CloseDelayWithPhoto != 0 {
		c.UI.CloseDelayWithPhoto = other.UI.CloseDelayWithPhoto
	}
}
