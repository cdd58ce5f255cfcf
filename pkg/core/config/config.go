// ============================================================================
// meinSPRACHWERK (mSW) - Lokale Spracherkennung
// ============================================================================
//
// Package:     config
// Description: TOML-based application configuration with defaults
// Author:      Mike Stoffels with Claude
// Created:     2026-06-28
// License:     MIT
// ============================================================================

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the complete application configuration
type Config struct {
	General GeneralConfig `toml:"general"`
	Engine  EngineConfig  `toml:"engine"`
	VAD     VADConfig     `toml:"vad"`
	Server  ServerConfig  `toml:"server"`
	Store   StoreConfig   `toml:"store"`
}

// GeneralConfig holds general application settings
type GeneralConfig struct {
	Name        string `toml:"name"`
	Environment string `toml:"environment"`
	DataDir     string `toml:"data_dir"`
	LogLevel    string `toml:"log_level"`
	LogFormat   string `toml:"log_format"`
}

// EngineConfig holds transcription engine configuration
type EngineConfig struct {
	ModelDir                 string  `toml:"model_dir"`
	Language                 string  `toml:"language"`
	Task                     string  `toml:"task"`
	Temperature              float32 `toml:"temperature"`
	TemperatureIncrement     float32 `toml:"temperature_increment"`
	TemperatureFallbackCount int     `toml:"temperature_fallback_count"`
	SampleLength             int     `toml:"sample_length"`
	TopK                     int     `toml:"top_k"`
	CompressionRatioLimit    float32 `toml:"compression_ratio_threshold"`
	LogProbLimit             float32 `toml:"logprob_threshold"`
	FirstTokenLogProbLimit   float32 `toml:"first_token_logprob_threshold"`
	NoSpeechLimit            float32 `toml:"no_speech_threshold"`
	WordTimestamps           bool    `toml:"word_timestamps"`
	WithoutTimestamps        bool    `toml:"without_timestamps"`
	Workers                  int     `toml:"workers"`
	Chunking                 string  `toml:"chunking"`
}

// VADConfig holds voice activity detection settings
type VADConfig struct {
	Mode              string   `toml:"mode"`
	Aggressiveness    int      `toml:"aggressiveness"`
	EnergyThreshold   float32  `toml:"energy_threshold"`
	MinSilenceDuration Duration `toml:"min_silence_duration"`
	MinSpeechDuration  Duration `toml:"min_speech_duration"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int      `toml:"port"`
	Host          string   `toml:"host"`
	ReadTimeout   Duration `toml:"read_timeout"`
	WriteTimeout  Duration `toml:"write_timeout"`
	MaxUploadSize int64    `toml:"max_upload_size"`
}

// StoreConfig holds transcription archive settings
type StoreConfig struct {
	Enabled       bool   `toml:"enabled"`
	Path          string `toml:"path"`
	RetentionDays int    `toml:"retention_days"`
}

// Duration wraps time.Duration for TOML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load loads configuration from a TOML file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults
	cfg.applyDefaults()

	// Expand environment variables in path fields
	cfg.expandEnvVars()

	return &cfg, nil
}

// LoadFromEnv loads configuration from the MSW_CONFIG environment variable
func LoadFromEnv() (*Config, error) {
	path := os.Getenv("MSW_CONFIG")
	if path == "" {
		// Try default locations
		defaultPaths := []string{
			"./configs/config.toml",
			"./config.toml",
			filepath.Join(os.Getenv("HOME"), ".config/meinsprachwerk/config.toml"),
		}
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		// No file anywhere: run on defaults
		cfg := &Config{}
		cfg.applyDefaults()
		cfg.expandEnvVars()
		return cfg, nil
	}

	return Load(path)
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// General
	if c.General.Name == "" {
		c.General.Name = "meinSPRACHWERK"
	}
	if c.General.Environment == "" {
		c.General.Environment = "development"
	}
	if c.General.DataDir == "" {
		c.General.DataDir = "./data"
	}
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.General.LogFormat == "" {
		c.General.LogFormat = "json"
	}

	// Engine
	if c.Engine.Task == "" {
		c.Engine.Task = "transcribe"
	}
	if c.Engine.TemperatureIncrement == 0 {
		c.Engine.TemperatureIncrement = 0.2
	}
	if c.Engine.TemperatureFallbackCount == 0 {
		c.Engine.TemperatureFallbackCount = 5
	}
	if c.Engine.SampleLength == 0 {
		c.Engine.SampleLength = 224
	}
	if c.Engine.TopK == 0 {
		c.Engine.TopK = 5
	}
	if c.Engine.CompressionRatioLimit == 0 {
		c.Engine.CompressionRatioLimit = 2.4
	}
	if c.Engine.LogProbLimit == 0 {
		c.Engine.LogProbLimit = -1.0
	}
	if c.Engine.FirstTokenLogProbLimit == 0 {
		c.Engine.FirstTokenLogProbLimit = -1.5
	}
	if c.Engine.NoSpeechLimit == 0 {
		c.Engine.NoSpeechLimit = 0.6
	}
	if c.Engine.Chunking == "" {
		c.Engine.Chunking = "none"
	}

	// VAD
	if c.VAD.Mode == "" {
		c.VAD.Mode = "energy"
	}
	if c.VAD.Aggressiveness == 0 {
		c.VAD.Aggressiveness = 2
	}
	if c.VAD.EnergyThreshold == 0 {
		c.VAD.EnergyThreshold = 0.022
	}
	if c.VAD.MinSilenceDuration.Duration == 0 {
		c.VAD.MinSilenceDuration.Duration = 600 * time.Millisecond
	}
	if c.VAD.MinSpeechDuration.Duration == 0 {
		c.VAD.MinSpeechDuration.Duration = 250 * time.Millisecond
	}

	// Server
	if c.Server.Port == 0 {
		c.Server.Port = 50060
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout.Duration = 60 * time.Second
	}
	if c.Server.WriteTimeout.Duration == 0 {
		c.Server.WriteTimeout.Duration = 600 * time.Second
	}
	if c.Server.MaxUploadSize == 0 {
		c.Server.MaxUploadSize = 512 << 20
	}

	// Store
	if c.Store.Path == "" {
		c.Store.Path = "./data/transcriptions.db"
	}
	if c.Store.RetentionDays == 0 {
		c.Store.RetentionDays = 90
	}
}

// expandEnvVars expands environment variables in configuration values
func (c *Config) expandEnvVars() {
	c.General.DataDir = os.ExpandEnv(c.General.DataDir)
	c.Engine.ModelDir = os.ExpandEnv(c.Engine.ModelDir)
	c.Store.Path = os.ExpandEnv(c.Store.Path)
}

// ServerAddress returns the listen address for the HTTP server
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
