// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Wardgate Contributors

// Package config loads and validates the wardgate configuration from file
// and environment, with environment variables (prefix WARDGATE_) taking
// precedence over file values.
package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	warderr "github.com/wardgate-dev/wardgate/pkg/errors"
)

// Config is the top-level wardgate configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Plugins  PluginsConfig  `mapstructure:"plugins"`
	Hooks    HooksConfig    `mapstructure:"hooks"`
	Detector DetectorConfig `mapstructure:"detector"`
	Tools    ToolsConfig    `mapstructure:"tools"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// StorageConfig selects the audit sink backend. Path is the data directory
// for file-backed backends; it is created on first start.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// PluginsConfig controls plugin discovery.
type PluginsConfig struct {
	Dir string `mapstructure:"dir"`
}

// HooksConfig bounds hook handler execution.
type HooksConfig struct {
	BeforeTimeout    time.Duration `mapstructure:"before_timeout"`
	AfterTimeout     time.Duration `mapstructure:"after_timeout"`
	PersistTimeout   time.Duration `mapstructure:"persist_timeout"`
	AfterConcurrency int           `mapstructure:"after_concurrency"`
	DrainGrace       time.Duration `mapstructure:"drain_grace"`
}

// DetectorConfig adds operator-supplied signatures on top of the built-in
// registry.
type DetectorConfig struct {
	Signatures []SignatureConfig `mapstructure:"signatures"`
}

// SignatureConfig is one operator-supplied detection signature.
type SignatureConfig struct {
	ID       string `mapstructure:"id"`
	Pattern  string `mapstructure:"pattern"`
	Severity string `mapstructure:"severity"`
}

// ToolsConfig bounds tool execution.
type ToolsConfig struct {
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout"`
}

// Load reads configuration from the given path (or defaults only when path
// is empty) with environment variable overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.listen", "127.0.0.1:18820")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.path", "data")
	v.SetDefault("plugins.dir", "plugins")
	v.SetDefault("hooks.before_timeout", "5s")
	v.SetDefault("hooks.after_timeout", "10s")
	v.SetDefault("hooks.persist_timeout", "5s")
	v.SetDefault("hooks.after_concurrency", 16)
	v.SetDefault("hooks.drain_grace", "5s")
	v.SetDefault("tools.execution_timeout", "60s")

	v.SetEnvPrefix("WARDGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, warderr.Wrapf(err, warderr.CodeConfigLoadReadFailure, "reading config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, warderr.Wrap(err, warderr.CodeConfigValidateInvalidValue, "unmarshalling config")
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, warderr.Wrap(errors.Join(errs...), warderr.CodeConfigValidateInvalidValue, "validating config")
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found, collecting all issues rather than stopping at
// the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateHooks()...)
	errs = append(errs, c.validateDetector()...)
	errs = append(errs, c.validateTools()...)

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
			"config: server.listen must not be empty"))
		return errs
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q", c.Server.Listen))
		return errs
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	validBackends := map[string]bool{"sqlite": true, "memory": true}
	if !validBackends[c.Storage.Backend] {
		errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
			"config: storage.backend must be one of [sqlite, memory], got %q", c.Storage.Backend))
	}
	if c.Storage.Backend == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
			"config: storage.path must not be empty for the sqlite backend"))
	}

	return errs
}

func (c *Config) validateHooks() []error {
	var errs []error

	durations := []struct {
		key string
		val time.Duration
	}{
		{"hooks.before_timeout", c.Hooks.BeforeTimeout},
		{"hooks.after_timeout", c.Hooks.AfterTimeout},
		{"hooks.persist_timeout", c.Hooks.PersistTimeout},
		{"hooks.drain_grace", c.Hooks.DrainGrace},
	}
	for _, d := range durations {
		if d.val <= 0 {
			errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
				"config: %s must be positive, got %s", d.key, d.val))
		}
	}

	if c.Hooks.AfterConcurrency < 1 {
		errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
			"config: hooks.after_concurrency must be at least 1, got %d", c.Hooks.AfterConcurrency))
	}

	return errs
}

func (c *Config) validateDetector() []error {
	var errs []error

	seen := make(map[string]bool, len(c.Detector.Signatures))
	for i, sig := range c.Detector.Signatures {
		if sig.ID == "" {
			errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
				"config: detector.signatures[%d].id must not be empty", i))
		} else if seen[sig.ID] {
			errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
				"config: detector.signatures[%d]: duplicate id %q", i, sig.ID))
		}
		seen[sig.ID] = true

		if sig.Pattern == "" {
			errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
				"config: detector.signatures[%d].pattern must not be empty", i))
		}

		validSeverities := map[string]bool{"info": true, "warn": true, "block": true}
		if !validSeverities[sig.Severity] {
			errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
				"config: detector.signatures[%d].severity must be one of [info, warn, block], got %q",
				i, sig.Severity))
		}
	}

	return errs
}

func (c *Config) validateTools() []error {
	var errs []error

	if c.Tools.ExecutionTimeout <= 0 {
		errs = append(errs, warderr.Errorf(warderr.CodeConfigValidateInvalidValue,
			"config: tools.execution_timeout must be positive, got %s", c.Tools.ExecutionTimeout))
	}

	return errs
}
