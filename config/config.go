// config.go - TOML configuration for tools embedding the engine.
// SPDX-FileCopyrightText: © 2023 Light Labs
// SPDX-License-Identifier: AGPL-3.0-only

// Package config loads engine configuration from TOML files.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Light-Labs/ryder-client/ryder"
)

// Config is the on-disk configuration surface.
type Config struct {
	// Port is the serial port name, e.g. /dev/ttyUSB0 or COM3. Empty
	// means enumerate and take the first attached device.
	Port string `toml:"port"`

	// BaudRate defaults to 115200.
	BaudRate int `toml:"baud_rate"`

	// Lock sets ryder.Options.Lock, the transport-level port lock
	// setting, which the serial transport does not act on.
	Lock *bool `toml:"lock"`

	// ReconnectIntervalMS is the reconnect timer period in
	// milliseconds. Defaults to 1000.
	ReconnectIntervalMS int `toml:"reconnect_interval_ms"`

	// RejectOnLocked fails queued exchanges when the device reports it
	// is PIN-locked.
	RejectOnLocked bool `toml:"reject_on_locked"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	cfg := new(Config)
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a TOML configuration from a byte blob.
func Parse(b []byte) (*Config, error) {
	cfg := new(Config)
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.BaudRate < 0 {
		return errors.New("config: baud_rate must be positive")
	}
	if c.ReconnectIntervalMS < 0 {
		return errors.New("config: reconnect_interval_ms must be positive")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	return nil
}

// EngineOptions translates the configuration into engine options.
func (c *Config) EngineOptions() *ryder.Options {
	opts := ryder.DefaultOptions()
	if c.BaudRate != 0 {
		opts.BaudRate = c.BaudRate
	}
	if c.Lock != nil {
		opts.Lock = *c.Lock
	}
	if c.ReconnectIntervalMS != 0 {
		opts.ReconnectInterval = time.Duration(c.ReconnectIntervalMS) * time.Millisecond
	}
	opts.RejectOnLocked = c.RejectOnLocked
	opts.Debug = c.LogLevel == "debug"
	return opts
}
