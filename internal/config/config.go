// Package config provides Viper-based configuration loading for the
// client gateway.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GatewayConfig holds the client-facing listener settings.
type GatewayConfig struct {
	// Host is the bind address for the client listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the client listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-read deadline on client connections.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-write deadline on client connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// LoginSecret is the hex-encoded 32-byte shared secret used to verify
	// login tokens.
	LoginSecret string `mapstructure:"login_secret"`
	// ServerVersion is reported for diagnostics; clients send theirs at
	// login.
	ServerVersion string `mapstructure:"server_version"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// Secret decodes the configured login secret.
//
// Precondition: LoginSecret must be 64 hex characters.
// Postcondition: Returns the 32-byte key or a non-nil error.
func (g GatewayConfig) Secret() ([]byte, error) {
	key, err := hex.DecodeString(g.LoginSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding login secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("login secret must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// BusConfig holds the upstream routing director connection settings.
type BusConfig struct {
	// Host is the director's address.
	Host string `mapstructure:"host"`
	// Port is the director's TCP port.
	Port int `mapstructure:"port"`
}

// Addr returns the "host:port" director address.
func (b BusConfig) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// ChannelConfig holds the session channel allocation range.
type ChannelConfig struct {
	// Min is the lowest allocatable channel (inclusive).
	Min uint64 `mapstructure:"min"`
	// Max is the highest allocatable channel (inclusive).
	Max uint64 `mapstructure:"max"`
}

// SchemaConfig holds the object schema lookup settings.
type SchemaConfig struct {
	// Path is the schema YAML file location.
	Path string `mapstructure:"path"`
	// AvatarClass is the class name used for avatar objects.
	AvatarClass string `mapstructure:"avatar_class"`
	// AccountClass is the class name holding the account avatar-set field.
	AccountClass string `mapstructure:"account_class"`
	// AvatarSetField is the account field naming an account's avatars.
	AvatarSetField string `mapstructure:"avatar_set_field"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Gateway  GatewayConfig `mapstructure:"gateway"`
	Bus      BusConfig     `mapstructure:"bus"`
	Channels ChannelConfig `mapstructure:"channels"`
	Schema   SchemaConfig  `mapstructure:"schema"`
	Logging  LoggingConfig `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error
// describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateGateway(c.Gateway); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateBus(c.Bus); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateChannels(c.Channels); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateSchema(c.Schema); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGateway(g GatewayConfig) error {
	var errs []string
	if g.Port < 1 || g.Port > 65535 {
		errs = append(errs, fmt.Sprintf("gateway.port must be 1-65535, got %d", g.Port))
	}
	if g.ReadTimeout < 0 {
		errs = append(errs, "gateway.read_timeout must not be negative")
	}
	if g.WriteTimeout < 0 {
		errs = append(errs, "gateway.write_timeout must not be negative")
	}
	if _, err := g.Secret(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway.login_secret invalid: %v", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateBus(b BusConfig) error {
	var errs []string
	if b.Host == "" {
		errs = append(errs, "bus.host must not be empty")
	}
	if b.Port < 1 || b.Port > 65535 {
		errs = append(errs, fmt.Sprintf("bus.port must be 1-65535, got %d", b.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateChannels(ch ChannelConfig) error {
	if ch.Min == 0 {
		return fmt.Errorf("channels.min must be > 0")
	}
	if ch.Min > ch.Max {
		return fmt.Errorf("channels.min (%d) must not exceed channels.max (%d)", ch.Min, ch.Max)
	}
	return nil
}

func validateSchema(s SchemaConfig) error {
	var errs []string
	if s.Path == "" {
		errs = append(errs, "schema.path must not be empty")
	}
	if s.AvatarClass == "" {
		errs = append(errs, "schema.avatar_class must not be empty")
	}
	if s.AccountClass == "" {
		errs = append(errs, "schema.account_class must not be empty")
	}
	if s.AvatarSetField == "" {
		errs = append(errs, "schema.avatar_set_field must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with GATEWAY_ prefix
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 6667)
	v.SetDefault("gateway.read_timeout", "5m")
	v.SetDefault("gateway.write_timeout", "30s")
	v.SetDefault("gateway.server_version", "dev")

	v.SetDefault("bus.host", "127.0.0.1")
	v.SetDefault("bus.port", 7100)

	v.SetDefault("channels.min", 1000000)
	v.SetDefault("channels.max", 1009999)

	v.SetDefault("schema.path", "configs/schema.yaml")
	v.SetDefault("schema.avatar_class", "Avatar")
	v.SetDefault("schema.account_class", "Account")
	v.SetDefault("schema.avatar_set_field", "AvatarSet")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
