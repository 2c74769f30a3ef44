// Package config loads the modhub server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the base directory
const FileName = "modhub.yaml"

// Storage drivers
const (
	DriverFile = "file"
	DriverBolt = "bolt"
)

// Config is the root configuration structure.
type Config struct {
	HTTP               HTTPConfig    `yaml:"http"`
	Paths              PathsConfig   `yaml:"paths"`
	Storage            StorageConfig `yaml:"storage"`
	Auth               AuthConfig    `yaml:"auth"`
	Session            SessionConfig `yaml:"session"`
	AutomaticPushdowns []string      `yaml:"automaticPushdowns"`
	Modules            []string      `yaml:"modules"`
	Logging            LoggingConfig `yaml:"logging"`

	pushdowns []*regexp.Regexp
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// PathsConfig locates the directories the server uses.
type PathsConfig struct {
	Root  string `yaml:"root"`  // base path; modules/ and config/ live here
	Store string `yaml:"store"` // module state cache
	Temp  string `yaml:"temp"`
}

// StorageConfig selects the cache driver.
type StorageConfig struct {
	Driver string `yaml:"driver"` // "file" or "bolt"
}

// AuthConfig maps identifiers to passphrases. Omitting a table leaves that
// client type open; an empty table rejects every client of that type.
type AuthConfig struct {
	Frontend   map[string]string `yaml:"frontend"`
	Management map[string]string `yaml:"management"`
}

// SessionConfig configures HTTP session tokens.
type SessionConfig struct {
	Secret string        `yaml:"secret"`
	TTL    time.Duration `yaml:"ttl"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "console" or "json"
}

// Load reads configuration from a YAML file. Relative paths and defaults are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return finish(&cfg, root)
}

// Default returns the configuration used when root has no config file.
func Default(root string) (*Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	return finish(&Config{}, abs)
}

// LoadDir loads <root>/modhub.yaml, falling back to defaults when the file
// does not exist.
func LoadDir(root string) (*Config, error) {
	path := filepath.Join(root, FileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(root)
		}
		return nil, fmt.Errorf("stat config: %w", err)
	}
	return Load(path)
}

func finish(cfg *Config, root string) (*Config, error) {
	applyEnvOverrides(cfg)
	setDefaults(cfg, root)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// Pushdowns returns the compiled automatic pushdown patterns
func (c *Config) Pushdowns() []*regexp.Regexp {
	return c.pushdowns
}

// AllPaths returns every directory the server must create at startup
func (c *Config) AllPaths() []string {
	return []string{c.Paths.Root, c.Paths.Store, c.Paths.Temp}
}

// applyEnvOverrides applies MODHUB_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MODHUB_HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if v := os.Getenv("MODHUB_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Port = port
		}
	}
	if v := os.Getenv("MODHUB_STORE_PATH"); v != "" {
		cfg.Paths.Store = v
	}
	if v := os.Getenv("MODHUB_TEMP_PATH"); v != "" {
		cfg.Paths.Temp = v
	}
	if v := os.Getenv("MODHUB_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("MODHUB_SESSION_SECRET"); v != "" {
		cfg.Session.Secret = v
	}
	if v := os.Getenv("MODHUB_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = d
		}
	}
	if v := os.Getenv("MODHUB_MODULES"); v != "" {
		cfg.Modules = splitList(v)
	}
	if v := os.Getenv("MODHUB_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MODHUB_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setDefaults(cfg *Config, root string) {
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 12800
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 30 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}

	if cfg.Paths.Root == "" {
		cfg.Paths.Root = root
	}
	if cfg.Paths.Store == "" {
		cfg.Paths.Store = filepath.Join(cfg.Paths.Root, "store")
	} else if !filepath.IsAbs(cfg.Paths.Store) {
		cfg.Paths.Store = filepath.Join(cfg.Paths.Root, cfg.Paths.Store)
	}
	if cfg.Paths.Temp == "" {
		cfg.Paths.Temp = filepath.Join(os.TempDir(), "modhub")
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverFile
	}

	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 24 * time.Hour
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
}

func validate(cfg *Config) error {
	if cfg.HTTP.Port < 1 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", cfg.HTTP.Port)
	}

	validDrivers := map[string]bool{DriverFile: true, DriverBolt: true}
	if !validDrivers[cfg.Storage.Driver] {
		return fmt.Errorf("storage.driver must be 'file' or 'bolt', got %q", cfg.Storage.Driver)
	}

	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("logging.format must be 'console' or 'json', got %q", cfg.Logging.Format)
	}

	pushdowns, err := CompilePushdowns(cfg.AutomaticPushdowns)
	if err != nil {
		return err
	}
	cfg.pushdowns = pushdowns

	for _, name := range cfg.Modules {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("modules: empty module name")
		}
	}

	return nil
}

// CompilePushdowns compiles automatic pushdown patterns, case-insensitive
func CompilePushdowns(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("automaticPushdowns: invalid pattern %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
