package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDuration_UnmarshalText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"seconds", "30s", 30 * time.Second, false},
		{"minutes", "5m", 5 * time.Minute, false},
		{"complex", "1h30m", 90 * time.Minute, false},
		{"milliseconds", "100ms", 100 * time.Millisecond, false},
		{"invalid", "invalid", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := d.UnmarshalText([]byte(tt.input))

			if (err != nil) != tt.wantErr {
				t.Errorf("UnmarshalText() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && d.Duration != tt.expected {
				t.Errorf("UnmarshalText() = %v, want %v", d.Duration, tt.expected)
			}
		})
	}
}

func TestDuration_MarshalText(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds", 30 * time.Second, "30s"},
		{"minutes", 5 * time.Minute, "5m0s"},
		{"hours", 2 * time.Hour, "2h0m0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Duration{tt.duration}
			result, err := d.MarshalText()

			if err != nil {
				t.Errorf("MarshalText() error = %v", err)
				return
			}

			if string(result) != tt.expected {
				t.Errorf("MarshalText() = %v, want %v", string(result), tt.expected)
			}
		})
	}
}

func TestConfig_applyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	// General defaults
	if cfg.General.Name != "meinSPRACHWERK" {
		t.Errorf("General.Name = %v, want meinSPRACHWERK", cfg.General.Name)
	}
	if cfg.General.Environment != "development" {
		t.Errorf("General.Environment = %v, want development", cfg.General.Environment)
	}
	if cfg.General.LogLevel != "info" {
		t.Errorf("General.LogLevel = %v, want info", cfg.General.LogLevel)
	}

	// Engine defaults
	if cfg.Engine.Task != "transcribe" {
		t.Errorf("Engine.Task = %v, want transcribe", cfg.Engine.Task)
	}
	if cfg.Engine.TemperatureFallbackCount != 5 {
		t.Errorf("Engine.TemperatureFallbackCount = %v, want 5", cfg.Engine.TemperatureFallbackCount)
	}
	if cfg.Engine.SampleLength != 224 {
		t.Errorf("Engine.SampleLength = %v, want 224", cfg.Engine.SampleLength)
	}
	if cfg.Engine.TopK != 5 {
		t.Errorf("Engine.TopK = %v, want 5", cfg.Engine.TopK)
	}
	if cfg.Engine.CompressionRatioLimit != 2.4 {
		t.Errorf("Engine.CompressionRatioLimit = %v, want 2.4", cfg.Engine.CompressionRatioLimit)
	}
	if cfg.Engine.LogProbLimit != -1.0 {
		t.Errorf("Engine.LogProbLimit = %v, want -1.0", cfg.Engine.LogProbLimit)
	}
	if cfg.Engine.NoSpeechLimit != 0.6 {
		t.Errorf("Engine.NoSpeechLimit = %v, want 0.6", cfg.Engine.NoSpeechLimit)
	}

	// VAD defaults
	if cfg.VAD.Mode != "energy" {
		t.Errorf("VAD.Mode = %v, want energy", cfg.VAD.Mode)
	}
	if cfg.VAD.MinSilenceDuration.Duration != 600*time.Millisecond {
		t.Errorf("VAD.MinSilenceDuration = %v, want 600ms", cfg.VAD.MinSilenceDuration.Duration)
	}

	// Server defaults
	if cfg.Server.Port != 50060 {
		t.Errorf("Server.Port = %v, want 50060", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %v, want 0.0.0.0", cfg.Server.Host)
	}

	// Store defaults
	if cfg.Store.Path != "./data/transcriptions.db" {
		t.Errorf("Store.Path = %v, want ./data/transcriptions.db", cfg.Store.Path)
	}
	if cfg.Store.RetentionDays != 90 {
		t.Errorf("Store.RetentionDays = %v, want 90", cfg.Store.RetentionDays)
	}
}

func TestConfig_ServerAddress(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if got := cfg.ServerAddress(); got != "0.0.0.0:50060" {
		t.Errorf("ServerAddress() = %v, want 0.0.0.0:50060", got)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("Load() expected error for non-existent file")
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	// Create temp config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[general]
name = "TestSPRACHWERK"
environment = "test"

[engine]
language = "de"
temperature_fallback_count = 3
word_timestamps = true

[server]
port = 9999
host = "127.0.0.1"
read_timeout = "45s"
`

	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.General.Name != "TestSPRACHWERK" {
		t.Errorf("General.Name = %v, want TestSPRACHWERK", cfg.General.Name)
	}
	if cfg.Engine.Language != "de" {
		t.Errorf("Engine.Language = %v, want de", cfg.Engine.Language)
	}
	if cfg.Engine.TemperatureFallbackCount != 3 {
		t.Errorf("Engine.TemperatureFallbackCount = %v, want 3", cfg.Engine.TemperatureFallbackCount)
	}
	if !cfg.Engine.WordTimestamps {
		t.Error("Engine.WordTimestamps should be true")
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %v, want 9999", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout.Duration != 45*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 45s", cfg.Server.ReadTimeout.Duration)
	}

	// Check defaults were applied for missing values
	if cfg.Engine.Task != "transcribe" {
		t.Errorf("Engine.Task = %v, want transcribe (default)", cfg.Engine.Task)
	}
	if cfg.Store.RetentionDays != 90 {
		t.Errorf("Store.RetentionDays = %v, want 90 (default)", cfg.Store.RetentionDays)
	}
}

func TestConfig_expandEnvVars(t *testing.T) {
	os.Setenv("TEST_MODEL_DIR", "/opt/models")
	defer os.Unsetenv("TEST_MODEL_DIR")

	cfg := &Config{
		Engine: EngineConfig{
			ModelDir: "$TEST_MODEL_DIR/whisper",
		},
	}

	cfg.expandEnvVars()

	if cfg.Engine.ModelDir != "/opt/models/whisper" {
		t.Errorf("ModelDir = %v, want /opt/models/whisper", cfg.Engine.ModelDir)
	}
}

func TestLoadFromEnv_NoConfigFound(t *testing.T) {
	original := os.Getenv("MSW_CONFIG")
	os.Unsetenv("MSW_CONFIG")
	defer func() {
		if original != "" {
			os.Setenv("MSW_CONFIG", original)
		}
	}()

	// Change to a temp directory without config files
	originalWd, _ := os.Getwd()
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	defer os.Chdir(originalWd)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want defaults without error", err)
	}
	if cfg.Server.Port != 50060 {
		t.Errorf("Server.Port = %v, want default 50060", cfg.Server.Port)
	}
}
