// Package config loads server and client settings from TOML files.
package config

import (
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/Zereker/xorsock"
	"github.com/Zereker/xorsock/obfuscate"
)

// EnvLogLevel overrides the configured log level.
const EnvLogLevel = "XORSOCK_LOG_LEVEL"

// ServerConfig holds the settings of xorsock-server.
type ServerConfig struct {
	Host         string
	Port         int
	Key          obfuscate.Key
	MaxFrameSize uint32
	IdleTimeout  time.Duration
	MetricsAddr  string
	LogLevel     string
}

// ClientConfig holds the settings of xorsock-client.
type ClientConfig struct {
	Key          obfuscate.Key
	DialTimeout  time.Duration
	IOTimeout    time.Duration
	MaxFrameSize uint32
	LogLevel     string
}

// DefaultServerConfig listens on every interface on port 5000 with the
// default key and no limits.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:     xorsock.DefaultPort,
		Key:      obfuscate.DefaultKey,
		LogLevel: "info",
	}
}

// DefaultClientConfig uses the default key and never times out.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Key:      obfuscate.DefaultKey,
		LogLevel: "info",
	}
}

type serverFile struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Key          string `toml:"key"`
	MaxFrameSize int64  `toml:"max_frame_size"`
	IdleTimeout  string `toml:"idle_timeout"`
	MetricsAddr  string `toml:"metrics_addr"`
	LogLevel     string `toml:"log_level"`
}

type clientFile struct {
	Key          string `toml:"key"`
	DialTimeout  string `toml:"dial_timeout"`
	IOTimeout    string `toml:"io_timeout"`
	MaxFrameSize int64  `toml:"max_frame_size"`
	LogLevel     string `toml:"log_level"`
}

// LoadServerConfig returns the defaults overlaid with the keys present in
// the file at path. An empty path returns the defaults.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return cfg, ValidateServerConfig(cfg)
	}

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, errors.Wrapf(err, "load server config (%s)", path)
	}

	if meta.IsDefined("host") {
		cfg.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("key") {
		cfg.Key = obfuscate.Key(raw.Key)
	}
	if meta.IsDefined("max_frame_size") {
		if cfg.MaxFrameSize, err = frameSize(raw.MaxFrameSize); err != nil {
			return ServerConfig{}, err
		}
	}
	if meta.IsDefined("idle_timeout") {
		if cfg.IdleTimeout, err = parseDuration("idle_timeout", raw.IdleTimeout); err != nil {
			return ServerConfig{}, err
		}
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err = ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadClientConfig returns the defaults overlaid with the keys present in
// the file at path. An empty path returns the defaults.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if path == "" {
		return cfg, nil
	}

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, errors.Wrapf(err, "load client config (%s)", path)
	}

	if meta.IsDefined("key") {
		cfg.Key = obfuscate.Key(raw.Key)
	}
	if meta.IsDefined("dial_timeout") {
		if cfg.DialTimeout, err = parseDuration("dial_timeout", raw.DialTimeout); err != nil {
			return ClientConfig{}, err
		}
	}
	if meta.IsDefined("io_timeout") {
		if cfg.IOTimeout, err = parseDuration("io_timeout", raw.IOTimeout); err != nil {
			return ClientConfig{}, err
		}
	}
	if meta.IsDefined("max_frame_size") {
		if cfg.MaxFrameSize, err = frameSize(raw.MaxFrameSize); err != nil {
			return ClientConfig{}, err
		}
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err = ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

// ValidateServerConfig checks the port, key, frame limit and timeout.
func ValidateServerConfig(cfg ServerConfig) error {
	if err := ValidatePort(cfg.Port); err != nil {
		return err
	}
	if err := cfg.Key.Validate(); err != nil {
		return errors.Wrap(err, "server config")
	}
	if err := xorsock.ValidateMaxFrameSize(cfg.MaxFrameSize); err != nil {
		return errors.Wrap(err, "server config")
	}
	if cfg.IdleTimeout < 0 {
		return errors.New("server config: idle_timeout must not be negative")
	}
	return nil
}

// ValidateClientConfig checks the key, frame limit and timeouts.
func ValidateClientConfig(cfg ClientConfig) error {
	if err := cfg.Key.Validate(); err != nil {
		return errors.Wrap(err, "client config")
	}
	if err := xorsock.ValidateMaxFrameSize(cfg.MaxFrameSize); err != nil {
		return errors.Wrap(err, "client config")
	}
	if cfg.DialTimeout < 0 || cfg.IOTimeout < 0 {
		return errors.New("client config: timeouts must not be negative")
	}
	return nil
}

// ValidatePort rejects ports outside 1..65535.
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.Errorf("invalid port: %d", port)
	}
	return nil
}

func parseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", field)
	}
	if d < 0 {
		return 0, errors.Errorf("%s must not be negative", field)
	}
	return d, nil
}

func frameSize(n int64) (uint32, error) {
	if n < 0 || n > int64(^uint32(0)) {
		return 0, errors.Errorf("max_frame_size out of range: %d", n)
	}
	return uint32(n), nil
}
