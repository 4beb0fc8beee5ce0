// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/logmonitor/lib/journal"
)

// Config is the configuration shared by logmonitord and
// logmonitor-ingest. Both operate on the same journal store, so the
// store settings live in one file rather than being mirrored across
// flag sets.
type Config struct {
	// JournalDir is the journal store directory.
	JournalDir string `yaml:"journal_dir"`

	// RotateAfterBytes rotates the active segment at this size.
	RotateAfterBytes int64 `yaml:"rotate_after_bytes"`

	// MaxSegments caps retained rotated segments; the oldest are
	// vacuumed beyond the cap. Zero keeps everything.
	MaxSegments int `yaml:"max_segments"`

	// Compression is the rotated-segment storage mode: "zstd",
	// "lz4", or "none".
	Compression string `yaml:"compression"`

	// LogLevel is the slog level for service diagnostics: "debug",
	// "info", "warn", or "error".
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	stateHome := os.Getenv("XDG_STATE_HOME")
	if stateHome == "" {
		home, _ := os.UserHomeDir()
		stateHome = filepath.Join(home, ".local", "state")
	}
	return &Config{
		JournalDir:       filepath.Join(stateHome, "logmonitor", "journal"),
		RotateAfterBytes: journal.DefaultRotateAfterBytes,
		MaxSegments:      0,
		Compression:      journal.CompressionZstd.String(),
		LogLevel:         "info",
	}
}

// LoadFile loads a configuration file over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.JournalDir == "" {
		errs = append(errs, fmt.Errorf("journal_dir is required"))
	}
	if c.RotateAfterBytes < 0 {
		errs = append(errs, fmt.Errorf("rotate_after_bytes must not be negative"))
	}
	if c.MaxSegments < 0 {
		errs = append(errs, fmt.Errorf("max_segments must not be negative"))
	}
	if _, err := journal.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// JournalCompression returns the parsed compression mode. Call
// Validate first; an invalid mode falls back to zstd here.
func (c *Config) JournalCompression() journal.Compression {
	compression, err := journal.ParseCompression(c.Compression)
	if err != nil {
		return journal.CompressionZstd
	}
	return compression
}

// SlogLevel returns the parsed log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log_level: %q", c.LogLevel)
	}
}

// JournalOptions builds the writer options for this configuration.
func (c *Config) JournalOptions() journal.Options {
	return journal.Options{
		RotateAfterBytes: c.RotateAfterBytes,
		Compression:      c.JournalCompression(),
		MaxSegments:      c.MaxSegments,
	}
}
