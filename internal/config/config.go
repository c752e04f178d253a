// Package config loads the service configuration. Sources are layered:
// built-in defaults, then an optional YAML file, then GOVIZIER_* environment
// variables. Command-line flags are applied on top by the cmd package.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GOVIZIER_"

// ConfigPathEnvVar names a YAML file to load when no path is given.
const ConfigPathEnvVar = EnvPrefix + "CONFIG"

// Topologies accepted by ServerConfig.Topology.
const (
	TopologyColocated   = "colocated"
	TopologyDistributed = "distributed"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Policy  PolicyConfig  `koanf:"policy"`
	Breaker BreakerConfig `koanf:"breaker"`
	Log     LogConfig     `koanf:"log"`
}

type ServerConfig struct {
	Host            string        `koanf:"host" validate:"required"`
	Port            int           `koanf:"port" validate:"gte=0,lte=65535"`
	PolicyPort      int           `koanf:"policy_port" validate:"gte=0,lte=65535"` // distributed topology only
	Topology        string        `koanf:"topology" validate:"oneof=colocated distributed"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	ForwardTimeout  time.Duration `koanf:"forward_timeout" validate:"gt=0"` // front -> policy and policy -> store calls
}

type StoreConfig struct {
	Kind string `koanf:"kind" validate:"oneof=memory fs badger sqlite"`
	Path string `koanf:"path" validate:"required_if=Kind fs"`
}

type PolicyConfig struct {
	DefaultAlgorithm string `koanf:"default_algorithm" validate:"required"`
}

// BreakerConfig tunes the circuit breaker guarding remote calls.
type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests" validate:"gte=1"`
	Interval         time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"gte=1"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			PolicyPort:      0, // ephemeral
			Topology:        TopologyColocated,
			ShutdownTimeout: 10 * time.Second,
			ForwardTimeout:  30 * time.Second,
		},
		Store: StoreConfig{
			Kind: "memory",
			Path: "",
		},
		Policy: PolicyConfig{
			DefaultAlgorithm: "EAGLE_STRATEGY",
		},
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          10 * time.Second,
			FailureThreshold: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty, in which case the file
// named by GOVIZIER_CONFIG is used if set.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// envTransformFunc maps GOVIZIER_SECTION_KEY to section.key. The first
// underscore after the prefix separates the section; the rest belong to the key:
//   - GOVIZIER_SERVER_PORT -> server.port
//   - GOVIZIER_SERVER_POLICY_PORT -> server.policy_port
//   - GOVIZIER_CONFIG -> skipped
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok || rest == "" {
		return ""
	}
	return section + "." + rest
}

var validate = validator.New()

// Validate checks field constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// Addr joins host and port.
func (s ServerConfig) Addr(port int) string {
	return fmt.Sprintf("%s:%d", s.Host, port)
}
