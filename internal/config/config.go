// Package config loads the ambient daemon configuration (log level/
// format, metrics listen address, trust-store path): viper for
// environment + file layering, mapstructure decode hooks for
// non-primitive fields, go-playground/validator for validation. This
// firmware has no database, control-plane API, cache, admin-bootstrap,
// lock manager, or Kerberos configuration to carry — no persisted
// state is required beyond the Settings tree a running instance builds
// at boot time — so this Config stays deliberately small.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/netboot/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server. When
// Enabled is false, no metrics are collected or served.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" validate:"omitempty,hostname_port" yaml:"addr"`
}

// TrustConfig names the PKCS#7/CMS trust roots used to verify signed
// kernels/initrds (spec §4.8).
type TrustConfig struct {
	RootsPath string `mapstructure:"roots_path" validate:"omitempty" yaml:"roots_path"`
}

// LimitsConfig bounds how much memory a single boot attempt may pull
// off the network before the fetch is abandoned with errcode.NoBufs.
type LimitsConfig struct {
	MaxImageSize bytesize.ByteSize `mapstructure:"max_image_size" yaml:"max_image_size"`
}

// Config is the complete ambient configuration for a netboot firmware
// instance.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Trust   TrustConfig   `mapstructure:"trust" yaml:"trust"`
	Limits  LimitsConfig  `mapstructure:"limits" yaml:"limits"`
}

// byteSizeDecodeHook lets a human-readable string such as "256Mi" in a
// YAML config file or NETBOOT_LIMITS_MAX_IMAGE_SIZE env var decode
// straight into a bytesize.ByteSize field, the same decode-hook
// composition pkg/config wires for its own non-primitive fields.
func byteSizeDecodeHook(from, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(bytesize.ByteSize(0)) || from.Kind() != reflect.String {
		return data, nil
	}
	return bytesize.ParseByteSize(data.(string))
}

var validate = validator.New()

// Load reads configuration from configPath (or the default XDG
// location if empty) over DefaultConfig. Environment variables
// (NETBOOT_* prefix) override only keys that the config file sets;
// when no config file is found, DefaultConfig is returned as is and
// the environment is not consulted.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if !found {
		return cfg, nil
	}

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		byteSizeDecodeHook,
	)
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the configuration a fresh instance boots with
// when no config file is present.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "INFO", Format: "text", Output: "stderr"},
		Metrics: MetricsConfig{Enabled: false, Addr: "127.0.0.1:9090"},
		Trust:   TrustConfig{RootsPath: ""},
		Limits:  LimitsConfig{MaxImageSize: 64 * bytesize.MiB},
	}
}

// Save writes cfg to path in YAML form, matching
// pkg/config.SaveConfig's yaml.Marshal-direct approach so yaml struct
// tags are honored.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NETBOOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(configDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("config: read file: %w", err)
	}
	return true, nil
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "netboot")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "netboot")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the
// default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(DefaultConfigPath())
	return err == nil
}
