package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ServerConfig describes the token admin backend.
type ServerConfig struct {
	URL            string        `toml:"url" env:"QWEN_SERVER_URL"`
	Password       string        `toml:"password" env:"API_PASSWORD"`
	RequestTimeout time.Duration `toml:"request_timeout" env:"QWEN_REQUEST_TIMEOUT"`
}

// OAuthConfig tunes the device authorization flow.
type OAuthConfig struct {
	// OpenBrowser is a pointer so an absent key can default to true.
	OpenBrowser *bool `toml:"open_browser" env:"QWEN_OPEN_BROWSER"`
}

// LogConfig controls where and how the client logs.
type LogConfig struct {
	Environment string `toml:"environment" env:"ENVIRONMENT"`
	File        string `toml:"file" env:"LOG_FILE"`
}

// Config holds all qwenauth configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	OAuth  OAuthConfig  `toml:"oauth"`
	Log    LogConfig    `toml:"log"`
}

const (
	defaultServerURL      = "http://localhost:3008"
	defaultRequestTimeout = 15 * time.Second
)

// ServerURLOrDefault returns Server.URL if set, otherwise the local backend.
func (c Config) ServerURLOrDefault() string {
	if c.Server.URL != "" {
		return c.Server.URL
	}
	return defaultServerURL
}

// RequestTimeoutOrDefault returns Server.RequestTimeout if positive, otherwise 15s.
func (c Config) RequestTimeoutOrDefault() time.Duration {
	if c.Server.RequestTimeout > 0 {
		return c.Server.RequestTimeout
	}
	return defaultRequestTimeout
}

// OpenBrowserOrDefault reports whether the verification page should be opened.
func (c Config) OpenBrowserOrDefault() bool {
	if c.OAuth.OpenBrowser != nil {
		return *c.OAuth.OpenBrowser
	}
	return true
}

// LogFileOrDefault returns Log.File if set, otherwise a file next to the config.
func (c Config) LogFileOrDefault() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(configDir(), "qwenauth.log")
}

// LoadFrom reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// A .env file in the working directory is loaded first, then environment
// variables take precedence over file values:
//   - QWEN_SERVER_URL      overrides server.url
//   - API_PASSWORD         overrides server.password
//   - QWEN_REQUEST_TIMEOUT overrides server.request_timeout
//   - QWEN_OPEN_BROWSER    overrides oauth.open_browser
//   - ENVIRONMENT          overrides log.environment
//   - LOG_FILE             overrides log.file
func LoadFrom(path string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decoding %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfigPath returns the default path for the qwenauth config file.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.toml")
}

func configDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "qwenauth")
}

func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	return nil
}

// Save writes cfg to the given TOML file path, creating parent directories as needed.
// Existing file contents are overwritten. Permissions on the written file are 0600
// because the file holds the operator password.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	if encErr := toml.NewEncoder(f).Encode(cfg); encErr != nil {
		f.Close()
		return encErr
	}
	return f.Close()
}
