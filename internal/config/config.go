package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Content Content `yaml:"content"`
	Storage Storage `yaml:"storage"`
	Worker  Worker  `yaml:"worker"`
	Policy  Policy  `yaml:"policy"`
	Log     Log     `yaml:"log"`
}

// Content contains Storm content API settings.
type Content struct {
	BaseURL     string `yaml:"base_url"`
	Version     string `yaml:"version"`
	AppID       string `yaml:"app_id"`
	Environment string `yaml:"environment"`
	AuthToken   string `yaml:"-"` // env-only, never in YAML
}

// Storage contains on-disk layout settings.
type Storage struct {
	Path        string `yaml:"path"`
	AssetsPath  string `yaml:"assets_path"`
	JournalPath string `yaml:"journal_path"`
}

// Worker contains background scheduler settings.
type Worker struct {
	Interval Duration `yaml:"interval"`
	Budget   Duration `yaml:"budget"`
}

// Policy contains network policy settings.
type Policy struct {
	UnmeteredOnly bool `yaml:"unmetered_only"`
}

// Log contains logging settings.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("STORMSYNC_CONFIG_PATH", "config/stormsync.yaml")

	// Missing file is not an error; defaults plus env vars suffice.
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Content: Content{
			Version:     "v1.0",
			Environment: "live",
		},
		Storage: Storage{
			Path:        "data/content",
			JournalPath: "data/stormsync.db",
		},
		Worker: Worker{
			Interval: Duration(6 * time.Hour),
			Budget:   Duration(9 * time.Minute),
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Content
	if v := os.Getenv("STORMSYNC_BASE_URL"); v != "" {
		cfg.Content.BaseURL = v
	}
	if v := os.Getenv("STORMSYNC_CONTENT_VERSION"); v != "" {
		cfg.Content.Version = v
	}
	if v := os.Getenv("STORMSYNC_APP_ID"); v != "" {
		cfg.Content.AppID = v
	}
	if v := os.Getenv("STORMSYNC_ENVIRONMENT"); v != "" {
		cfg.Content.Environment = v
	}
	if v := os.Getenv("STORMSYNC_AUTH_TOKEN"); v != "" {
		cfg.Content.AuthToken = v
	}

	// Storage
	if v := os.Getenv("STORMSYNC_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("STORMSYNC_ASSETS_PATH"); v != "" {
		cfg.Storage.AssetsPath = v
	}
	if v := os.Getenv("STORMSYNC_JOURNAL_PATH"); v != "" {
		cfg.Storage.JournalPath = v
	}

	// Worker
	if v := os.Getenv("STORMSYNC_WORKER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.Interval = Duration(d)
		}
	}
	if v := os.Getenv("STORMSYNC_WORKER_BUDGET"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Worker.Budget = Duration(d)
		}
	}

	// Policy
	if v := os.Getenv("STORMSYNC_UNMETERED_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Policy.UnmeteredOnly = b
		}
	}

	// Log
	if v := os.Getenv("STORMSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STORMSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
func (c *Config) validate() error {
	if c.Content.BaseURL == "" {
		return errors.New("content.base_url is required")
	}
	if c.Content.AppID == "" {
		return errors.New("content.app_id is required")
	}
	switch c.Content.Environment {
	case "live", "test":
	default:
		return fmt.Errorf("content.environment must be live or test, got %q", c.Content.Environment)
	}
	if c.Content.Environment == "test" && c.Content.AuthToken == "" {
		return errors.New("STORMSYNC_AUTH_TOKEN is required for the test environment")
	}
	if c.Storage.Path == "" {
		return errors.New("storage.path is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
