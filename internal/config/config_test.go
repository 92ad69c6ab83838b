/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnvVars = []string{
	ConfigFileEnv,
	"LOQA_HOST", "LOQA_PORT", "LOQA_READ_TIMEOUT", "LOQA_WRITE_TIMEOUT",
	"LOQA_SHUTDOWN_TIMEOUT", "LOQA_CORS_ORIGINS", "LOQA_DATA_DIR", "LOQA_HISTORY_DB", "LOQA_HISTORY_RETENTION",
	"TTS_BACKEND", "TTS_PYTHON", "TTS_SAMPLE_RATE",
	"TASK_CLEANUP_SCHEDULE", "TASK_MAX_AGE", "TASK_MAX_ENTRIES",
	"WHISPER_ENABLED", "WHISPER_MODEL_PATH", "WHISPER_LANGUAGE",
	"LOG_LEVEL", "LOG_FORMAT", "LOG_FILE",
	"NATS_URL", "NATS_SUBJECT_PREFIX", "NATS_MAX_RECONNECT", "NATS_RECONNECT_WAIT",
	"METRICS_ENABLED",
}

// clearEnvVars blanks every variable Load reads; t.Setenv restores them afterwards.
func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8000)
	}
	if cfg.Storage.DataDir != "./data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "./data")
	}
	if cfg.TTS.SampleRate != 24000 {
		t.Errorf("TTS.SampleRate = %d, want %d", cfg.TTS.SampleRate, 24000)
	}
	if cfg.TTS.Backend != "" {
		t.Errorf("TTS.Backend = %q, want platform detection", cfg.TTS.Backend)
	}
	if cfg.Tasks.MaxAge != 24*time.Hour {
		t.Errorf("Tasks.MaxAge = %v, want %v", cfg.Tasks.MaxAge, 24*time.Hour)
	}
	if cfg.Tasks.CleanupSchedule != "@every 1h" {
		t.Errorf("Tasks.CleanupSchedule = %q, want %q", cfg.Tasks.CleanupSchedule, "@every 1h")
	}
	if cfg.NATS.URL != "" {
		t.Errorf("NATS.URL = %q, want publishing disabled by default", cfg.NATS.URL)
	}
	if len(cfg.Server.CORSOrigins) != 4 {
		t.Errorf("Server.CORSOrigins = %v, want 4 defaults", cfg.Server.CORSOrigins)
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name: "Server settings",
			envVars: map[string]string{
				"LOQA_HOST":         "127.0.0.1",
				"LOQA_PORT":         "9001",
				"LOQA_CORS_ORIGINS": "http://a.test, http://b.test",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Server.Host != "127.0.0.1" {
					t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
				}
				if cfg.Server.Port != 9001 {
					t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9001)
				}
				if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b.test" {
					t.Errorf("Server.CORSOrigins = %v", cfg.Server.CORSOrigins)
				}
			},
		},
		{
			name: "TTS and task settings",
			envVars: map[string]string{
				"TTS_BACKEND":           "pytorch",
				"TTS_SAMPLE_RATE":       "16000",
				"TASK_MAX_AGE":          "2h",
				"TASK_CLEANUP_SCHEDULE": "off",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.TTS.Backend != "pytorch" {
					t.Errorf("TTS.Backend = %q, want %q", cfg.TTS.Backend, "pytorch")
				}
				if cfg.TTS.SampleRate != 16000 {
					t.Errorf("TTS.SampleRate = %d, want %d", cfg.TTS.SampleRate, 16000)
				}
				if cfg.Tasks.MaxAge != 2*time.Hour {
					t.Errorf("Tasks.MaxAge = %v, want %v", cfg.Tasks.MaxAge, 2*time.Hour)
				}
				if cfg.Tasks.CleanupSchedule != "" {
					t.Errorf("Tasks.CleanupSchedule = %q, want disabled", cfg.Tasks.CleanupSchedule)
				}
			},
		},
		{
			name: "Invalid numbers fall back to defaults",
			envVars: map[string]string{
				"LOQA_PORT":       "not-a-number",
				"WHISPER_ENABLED": "maybe",
			},
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Server.Port != 8000 {
					t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8000)
				}
				if !cfg.Transcription.Enabled {
					t.Error("Transcription.Enabled should keep its default")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnvVars(t)
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			tt.validate(t, cfg)
		})
	}
}

func TestLoad_ConfigFileWithEnvOverride(t *testing.T) {
	clearEnvVars(t)

	path := filepath.Join(t.TempDir(), "voice.toml")
	content := `
[server]
port = 9100
write_timeout = "10m"

[storage]
data_dir = "/srv/voice"

[tasks]
max_age = "6h"
max_entries = 50

[nats]
url = "nats://file:4222"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	t.Setenv(ConfigFileEnv, path)
	t.Setenv("LOQA_PORT", "9200")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9200 {
		t.Errorf("env should win over file: Server.Port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 10*time.Minute {
		t.Errorf("Server.WriteTimeout = %v, want 10m", cfg.Server.WriteTimeout)
	}
	if cfg.Storage.DataDir != "/srv/voice" {
		t.Errorf("Storage.DataDir = %q, want /srv/voice", cfg.Storage.DataDir)
	}
	if cfg.Tasks.MaxAge != 6*time.Hour || cfg.Tasks.MaxEntries != 50 {
		t.Errorf("Tasks = %+v", cfg.Tasks)
	}
	if cfg.NATS.URL != "nats://file:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
	if cfg.Transcription.ModelPath != "./models/ggml-base.en.bin" {
		t.Errorf("unset file keys should keep defaults, got %q", cfg.Transcription.ModelPath)
	}
}

func TestLoad_ConfigFileErrors(t *testing.T) {
	dir := t.TempDir()

	badDuration := filepath.Join(dir, "bad-duration.toml")
	_ = os.WriteFile(badDuration, []byte("[tasks]\nmax_age = \"forever\"\n"), 0o600)

	badSyntax := filepath.Join(dir, "bad-syntax.toml")
	_ = os.WriteFile(badSyntax, []byte("[server\nport = 1\n"), 0o600)

	for _, path := range []string{badDuration, badSyntax, filepath.Join(dir, "missing.toml")} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			clearEnvVars(t)
			t.Setenv(ConfigFileEnv, path)

			if _, err := Load(); err == nil {
				t.Error("Load() expected error but got none")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "Defaults are valid", mutate: func(c *Config) {}},
		{name: "Port zero", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "Port too large", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "Empty data dir", mutate: func(c *Config) { c.Storage.DataDir = "" }, wantErr: true},
		{name: "Negative history retention", mutate: func(c *Config) { c.Storage.HistoryRetention = -time.Hour }, wantErr: true},
		{name: "History kept forever", mutate: func(c *Config) { c.Storage.HistoryRetention = 0 }},
		{name: "Unknown backend", mutate: func(c *Config) { c.TTS.Backend = "tpu" }, wantErr: true},
		{name: "MLX backend", mutate: func(c *Config) { c.TTS.Backend = "mlx" }},
		{name: "Zero sample rate", mutate: func(c *Config) { c.TTS.SampleRate = 0 }, wantErr: true},
		{name: "Zero max age", mutate: func(c *Config) { c.Tasks.MaxAge = 0 }, wantErr: true},
		{name: "Negative max entries", mutate: func(c *Config) { c.Tasks.MaxEntries = -1 }, wantErr: true},
		{name: "Bad cron spec", mutate: func(c *Config) { c.Tasks.CleanupSchedule = "every now and then" }, wantErr: true},
		{name: "Standard cron spec", mutate: func(c *Config) { c.Tasks.CleanupSchedule = "*/15 * * * *" }},
		{name: "Sweep disabled", mutate: func(c *Config) { c.Tasks.CleanupSchedule = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr && err == nil {
				t.Error("validate() expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("validate() unexpected error: %v", err)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	cfg := Default()
	cfg.Server.Host = "localhost"
	cfg.Server.Port = 8123

	if got := cfg.Address(); got != "localhost:8123" {
		t.Errorf("Address() = %q, want %q", got, "localhost:8123")
	}
}
