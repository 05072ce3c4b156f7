// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for the remote build driver.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Broker configures how the driver reaches the local scheduler daemon.
	Broker BrokerConfig `yaml:"broker"`

	// Compiler configures the local compiler and preprocessor binaries.
	Compiler CompilerConfig `yaml:"compiler"`

	// Redundancy configures the N-way redundant-compile gate (§4.6).
	Redundancy RedundancyConfig `yaml:"redundancy"`

	// Policy configures the strict-verification and fallback behavior.
	Policy PolicyConfig `yaml:"policy"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Broker     *BrokerConfig     `yaml:"broker,omitempty"`
	Compiler   *CompilerConfig   `yaml:"compiler,omitempty"`
	Redundancy *RedundancyConfig `yaml:"redundancy,omitempty"`
	Policy     *PolicyConfig     `yaml:"policy,omitempty"`
}

// BrokerConfig configures the local broker connection (C4/C6).
type BrokerConfig struct {
	// SocketPath is the Unix socket the local scheduler daemon listens on.
	// Default: /run/icecc/broker.sock
	SocketPath string `yaml:"socket_path"`

	// PreferredHost, when set, is sent to the broker as GET_CS's
	// preferred host hint (§6 ICECC_PREFERRED_HOST equivalent).
	PreferredHost string `yaml:"preferred_host"`
}

// CompilerConfig configures the binaries the local fallback probe and
// the redundant path's shared preprocess step invoke directly (C5).
type CompilerConfig struct {
	// PreprocessorCommand is the binary invoked with -E.
	// Default: cc
	PreprocessorCommand string `yaml:"preprocessor_command"`

	// CompilerCommand is the binary invoked with -c/-o for local builds.
	// Default: cc
	CompilerCommand string `yaml:"compiler_command"`

	// EnvironmentDescriptor mirrors ICECC_VERSION: a comma-separated
	// list of [platform:]path[=prefix] entries naming the toolchain
	// tarballs the catalog offers (C1).
	EnvironmentDescriptor string `yaml:"environment_descriptor"`

	// Prefix selects the prefix-qualified subset of EnvironmentDescriptor
	// entries, mirroring ICECC_VERSION_PREFIX (§4.1 rule 2).
	Prefix string `yaml:"prefix"`
}

// RedundancyConfig configures the N-way redundant-compile gate.
type RedundancyConfig struct {
	// Permill is the probability, in parts per thousand, that an
	// eligible GCC-family non-streaming job is built three times and
	// digest-compared (§4.6 decision step 2). 0 disables redundancy.
	// Default: 0
	Permill int `yaml:"permill"`
}

// PolicyConfig configures session-level policy decisions (C4 Options).
type PolicyConfig struct {
	// IgnoreUnverifiedHosts disables the strict-mode gate that rejects
	// compile servers below the minimum verifying protocol version
	// (§4.4 step 3). Default: false (production), true (development)
	IgnoreUnverifiedHosts bool `yaml:"ignore_unverified_hosts"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They ensure all fields have sensible zero-values, and cmd/icecc-run
// uses them unchanged when no config file is given.
func Default() *Config {
	return &Config{
		Environment: Development,
		Broker: BrokerConfig{
			SocketPath: "/run/icecc/broker.sock",
		},
		Compiler: CompilerConfig{
			PreprocessorCommand: "cc",
			CompilerCommand:     "cc",
		},
		Redundancy: RedundancyConfig{
			Permill: 0,
		},
		Policy: PolicyConfig{
			IgnoreUnverifiedHosts: true,
		},
	}
}

// Load loads configuration from the ICECC_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if ICECC_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("ICECC_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("ICECC_CONFIG environment variable not set; " +
			"set it to the path of your icecc.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: close the unverified-host escape hatch.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Policy: &PolicyConfig{
					IgnoreUnverifiedHosts: false,
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Broker != nil {
		if overrides.Broker.SocketPath != "" {
			c.Broker.SocketPath = overrides.Broker.SocketPath
		}
		if overrides.Broker.PreferredHost != "" {
			c.Broker.PreferredHost = overrides.Broker.PreferredHost
		}
	}

	if overrides.Compiler != nil {
		if overrides.Compiler.PreprocessorCommand != "" {
			c.Compiler.PreprocessorCommand = overrides.Compiler.PreprocessorCommand
		}
		if overrides.Compiler.CompilerCommand != "" {
			c.Compiler.CompilerCommand = overrides.Compiler.CompilerCommand
		}
		if overrides.Compiler.EnvironmentDescriptor != "" {
			c.Compiler.EnvironmentDescriptor = overrides.Compiler.EnvironmentDescriptor
		}
		if overrides.Compiler.Prefix != "" {
			c.Compiler.Prefix = overrides.Compiler.Prefix
		}
	}

	if overrides.Redundancy != nil {
		c.Redundancy.Permill = overrides.Redundancy.Permill
	}

	if overrides.Policy != nil {
		// IgnoreUnverifiedHosts is a bool, so we always apply it from overrides.
		c.Policy.IgnoreUnverifiedHosts = overrides.Policy.IgnoreUnverifiedHosts
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Broker.SocketPath = expandVars(c.Broker.SocketPath, vars)
	c.Compiler.EnvironmentDescriptor = expandVars(c.Compiler.EnvironmentDescriptor, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Broker.SocketPath == "" {
		errs = append(errs, fmt.Errorf("broker.socket_path is required"))
	}

	if c.Compiler.CompilerCommand == "" {
		errs = append(errs, fmt.Errorf("compiler.compiler_command is required"))
	}

	if c.Redundancy.Permill < 0 || c.Redundancy.Permill > 1000 {
		errs = append(errs, fmt.Errorf("redundancy.permill must be between 0 and 1000"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// BinaryPath resolves name to an absolute path via exec.LookPath,
// used for the compiler/preprocessor commands when the config gives a
// bare name instead of a path.
func BinaryPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH", name)
	}
	return path, nil
}
