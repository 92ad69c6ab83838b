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
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// ConfigFileEnv names the environment variable pointing at an optional TOML file.
const ConfigFileEnv = "LOQA_VOICE_CONFIG"

// Config holds all configuration for the voice service
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	TTS           TTSConfig
	Tasks         TasksConfig
	Transcription TranscriptionConfig
	Logging       LoggingConfig
	NATS          NATSConfig
	Metrics       MetricsConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // Sync generations can take minutes
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// StorageConfig holds on-disk locations
type StorageConfig struct {
	DataDir     string // voices/ and generations/ live under here
	HistoryPath string // SQLite generation history; empty disables it

	// HistoryRetention bounds how long run records are kept. Zero keeps them forever.
	HistoryRetention time.Duration
}

// TTSConfig holds synthesis backend configuration
type TTSConfig struct {
	Backend    string // Overrides platform detection when set ("mlx", "pytorch")
	PythonPath string // Interpreter used to drive mlx_audio
	SampleRate int
}

// TasksConfig controls the in-memory task registry
type TasksConfig struct {
	CleanupSchedule string        // cron spec; empty disables the periodic sweep
	MaxAge          time.Duration // terminal tasks older than this are swept
	MaxEntries      int           // 0 means unbounded
}

// TranscriptionConfig holds speech-to-text configuration
type TranscriptionConfig struct {
	Enabled   bool
	ModelPath string
	Language  string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
	File   string
}

// NATSConfig holds NATS messaging configuration; an empty URL disables publishing
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool
}

// fileConfig mirrors Config for TOML decoding. Durations are strings so that
// "90s" style values work in the file.
type fileConfig struct {
	Server struct {
		Host            *string  `toml:"host"`
		Port            *int     `toml:"port"`
		ReadTimeout     *string  `toml:"read_timeout"`
		WriteTimeout    *string  `toml:"write_timeout"`
		ShutdownTimeout *string  `toml:"shutdown_timeout"`
		CORSOrigins     []string `toml:"cors_origins"`
	} `toml:"server"`
	Storage struct {
		DataDir     *string `toml:"data_dir"`
		HistoryPath      *string `toml:"history_path"`
		HistoryRetention *string `toml:"history_retention"`
	} `toml:"storage"`
	TTS struct {
		Backend    *string `toml:"backend"`
		PythonPath *string `toml:"python_path"`
		SampleRate *int    `toml:"sample_rate"`
	} `toml:"tts"`
	Tasks struct {
		CleanupSchedule *string `toml:"cleanup_schedule"`
		MaxAge          *string `toml:"max_age"`
		MaxEntries      *int    `toml:"max_entries"`
	} `toml:"tasks"`
	Transcription struct {
		Enabled   *bool   `toml:"enabled"`
		ModelPath *string `toml:"model_path"`
		Language  *string `toml:"language"`
	} `toml:"transcription"`
	Logging struct {
		Level  *string `toml:"level"`
		Format *string `toml:"format"`
		File   *string `toml:"file"`
	} `toml:"logging"`
	NATS struct {
		URL           *string `toml:"url"`
		SubjectPrefix *string `toml:"subject_prefix"`
	} `toml:"nats"`
	Metrics struct {
		Enabled *bool `toml:"enabled"`
	} `toml:"metrics"`
}

// Default returns the built-in configuration before any file or env overrides
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins: []string{
				"http://localhost:3000",
				"http://localhost:5173",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:5173",
			},
		},
		Storage: StorageConfig{
			DataDir:          "./data",
			HistoryPath:      "./data/history.db",
			HistoryRetention: 30 * 24 * time.Hour,
		},
		TTS: TTSConfig{
			PythonPath: "python",
			SampleRate: 24000,
		},
		Tasks: TasksConfig{
			CleanupSchedule: "@every 1h",
			MaxAge:          24 * time.Hour,
			MaxEntries:      1000,
		},
		Transcription: TranscriptionConfig{
			Enabled:   true,
			ModelPath: "./models/ggml-base.en.bin",
			Language:  "auto",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		NATS: NATSConfig{
			SubjectPrefix: "loqa.voice",
			MaxReconnect:  10,
			ReconnectWait: 2 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load builds configuration from defaults, an optional TOML file named by
// LOQA_VOICE_CONFIG, and finally environment variables.
func Load() (*Config, error) {
	config := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := config.applyFile(path); err != nil {
			return nil, err
		}
	}

	config.applyEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setString(&c.Server.Host, fc.Server.Host)
	setInt(&c.Server.Port, fc.Server.Port)
	if len(fc.Server.CORSOrigins) > 0 {
		c.Server.CORSOrigins = fc.Server.CORSOrigins
	}
	setString(&c.Storage.DataDir, fc.Storage.DataDir)
	setString(&c.Storage.HistoryPath, fc.Storage.HistoryPath)
	setString(&c.TTS.Backend, fc.TTS.Backend)
	setString(&c.TTS.PythonPath, fc.TTS.PythonPath)
	setInt(&c.TTS.SampleRate, fc.TTS.SampleRate)
	setString(&c.Tasks.CleanupSchedule, fc.Tasks.CleanupSchedule)
	setInt(&c.Tasks.MaxEntries, fc.Tasks.MaxEntries)
	setBool(&c.Transcription.Enabled, fc.Transcription.Enabled)
	setString(&c.Transcription.ModelPath, fc.Transcription.ModelPath)
	setString(&c.Transcription.Language, fc.Transcription.Language)
	setString(&c.Logging.Level, fc.Logging.Level)
	setString(&c.Logging.Format, fc.Logging.Format)
	setString(&c.Logging.File, fc.Logging.File)
	setString(&c.NATS.URL, fc.NATS.URL)
	setString(&c.NATS.SubjectPrefix, fc.NATS.SubjectPrefix)
	setBool(&c.Metrics.Enabled, fc.Metrics.Enabled)

	durations := []struct {
		name string
		dst  *time.Duration
		src  *string
	}{
		{"server.read_timeout", &c.Server.ReadTimeout, fc.Server.ReadTimeout},
		{"server.write_timeout", &c.Server.WriteTimeout, fc.Server.WriteTimeout},
		{"server.shutdown_timeout", &c.Server.ShutdownTimeout, fc.Server.ShutdownTimeout},
		{"storage.history_retention", &c.Storage.HistoryRetention, fc.Storage.HistoryRetention},
		{"tasks.max_age", &c.Tasks.MaxAge, fc.Tasks.MaxAge},
	}
	for _, d := range durations {
		if d.src == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.src)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvString("LOQA_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("LOQA_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("LOQA_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("LOQA_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("LOQA_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.CORSOrigins = getEnvList("LOQA_CORS_ORIGINS", c.Server.CORSOrigins)

	c.Storage.DataDir = getEnvString("LOQA_DATA_DIR", c.Storage.DataDir)
	c.Storage.HistoryPath = getEnvString("LOQA_HISTORY_DB", c.Storage.HistoryPath)
	c.Storage.HistoryRetention = getEnvDuration("LOQA_HISTORY_RETENTION", c.Storage.HistoryRetention)

	c.TTS.Backend = getEnvString("TTS_BACKEND", c.TTS.Backend)
	c.TTS.PythonPath = getEnvString("TTS_PYTHON", c.TTS.PythonPath)
	c.TTS.SampleRate = getEnvInt("TTS_SAMPLE_RATE", c.TTS.SampleRate)

	c.Tasks.CleanupSchedule = getEnvString("TASK_CLEANUP_SCHEDULE", c.Tasks.CleanupSchedule)
	if strings.EqualFold(c.Tasks.CleanupSchedule, "off") {
		c.Tasks.CleanupSchedule = ""
	}
	c.Tasks.MaxAge = getEnvDuration("TASK_MAX_AGE", c.Tasks.MaxAge)
	c.Tasks.MaxEntries = getEnvInt("TASK_MAX_ENTRIES", c.Tasks.MaxEntries)

	c.Transcription.Enabled = getEnvBool("WHISPER_ENABLED", c.Transcription.Enabled)
	c.Transcription.ModelPath = getEnvString("WHISPER_MODEL_PATH", c.Transcription.ModelPath)
	c.Transcription.Language = getEnvString("WHISPER_LANGUAGE", c.Transcription.Language)

	c.Logging.Level = getEnvString("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnvString("LOG_FORMAT", c.Logging.Format)
	c.Logging.File = getEnvString("LOG_FILE", c.Logging.File)

	c.NATS.URL = getEnvString("NATS_URL", c.NATS.URL)
	c.NATS.SubjectPrefix = getEnvString("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)
	c.NATS.MaxReconnect = getEnvInt("NATS_MAX_RECONNECT", c.NATS.MaxReconnect)
	c.NATS.ReconnectWait = getEnvDuration("NATS_RECONNECT_WAIT", c.NATS.ReconnectWait)

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("data directory must be provided")
	}

	if c.Storage.HistoryRetention < 0 {
		return fmt.Errorf("history retention must not be negative: %s", c.Storage.HistoryRetention)
	}

	switch c.TTS.Backend {
	case "", "mlx", "pytorch":
	default:
		return fmt.Errorf("unknown TTS backend: %q", c.TTS.Backend)
	}

	if c.TTS.SampleRate <= 0 {
		return fmt.Errorf("TTS sample rate must be positive: %d", c.TTS.SampleRate)
	}

	if c.Tasks.MaxAge <= 0 {
		return fmt.Errorf("task max age must be positive: %s", c.Tasks.MaxAge)
	}

	if c.Tasks.MaxEntries < 0 {
		return fmt.Errorf("task max entries must not be negative: %d", c.Tasks.MaxEntries)
	}

	if c.Tasks.CleanupSchedule != "" {
		if _, err := cron.ParseStandard(c.Tasks.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid task cleanup schedule %q: %w", c.Tasks.CleanupSchedule, err)
		}
	}

	return nil
}

// Address returns host:port for the HTTP listener
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
