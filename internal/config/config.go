// Package config loads stashloop configuration: defaults, then an optional
// YAML or TOML file, then STASHLOOP_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "STASHLOOP"

type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Schedule ScheduleConfig `yaml:"schedule" toml:"schedule"`
	Policy   PolicyConfig   `yaml:"policy" toml:"policy"`
	Push     PushConfig     `yaml:"push" toml:"push"`
	Scrape   ScrapeConfig   `yaml:"scrape" toml:"scrape"`
	Log      LogConfig      `yaml:"log" toml:"log"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver" split_words:"true"` // sqlite | postgres
	Path   string `yaml:"path" toml:"path" split_words:"true"`
	DSN    string `yaml:"dsn,omitempty" toml:"dsn" split_words:"true"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr" split_words:"true"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret,omitempty" toml:"jwt_secret" split_words:"true"`
	CronSecret string        `yaml:"cron_secret,omitempty" toml:"cron_secret" split_words:"true"`
	Issuer     string        `yaml:"issuer" toml:"issuer" split_words:"true"`
	TokenTTL   time.Duration `yaml:"token_ttl" toml:"token_ttl" split_words:"true"`
}

// ScheduleConfig holds cron expressions for the daemon. An empty expression
// disables that job.
type ScheduleConfig struct {
	Fill        string `yaml:"fill" toml:"fill" split_words:"true"`
	Streaks     string `yaml:"streaks" toml:"streaks" split_words:"true"`
	Reminders   string `yaml:"reminders" toml:"reminders" split_words:"true"`
	Feeds       string `yaml:"feeds" toml:"feeds" split_words:"true"`
	Concurrency int    `yaml:"concurrency" toml:"concurrency" split_words:"true"`
}

// PolicyConfig holds the selection tunables and new-user defaults.
type PolicyConfig struct {
	Oversample   int    `yaml:"oversample" toml:"oversample" split_words:"true"`
	ItemsPerDay  int    `yaml:"items_per_day" toml:"items_per_day" split_words:"true"`
	ReminderHour int    `yaml:"reminder_hour" toml:"reminder_hour" split_words:"true"`
	Timezone     string `yaml:"timezone" toml:"timezone" split_words:"true"`
}

type PushConfig struct {
	Endpoint  string `yaml:"endpoint" toml:"endpoint" split_words:"true"`
	ChunkSize int    `yaml:"chunk_size" toml:"chunk_size" split_words:"true"`
	Title     string `yaml:"title" toml:"title" split_words:"true"`
	Body      string `yaml:"body" toml:"body" split_words:"true"`
}

type ScrapeConfig struct {
	UserAgent      string        `yaml:"user_agent" toml:"user_agent" split_words:"true"`
	Timeout        time.Duration `yaml:"timeout" toml:"timeout" split_words:"true"`
	FacebookAppID  string        `yaml:"facebook_app_id,omitempty" toml:"facebook_app_id" split_words:"true"`
	FacebookSecret string        `yaml:"facebook_app_secret,omitempty" toml:"facebook_app_secret" split_words:"true"`
	Disabled       bool          `yaml:"disabled" toml:"disabled" split_words:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level" split_words:"true"`   // debug|info|warn|error
	Format string `yaml:"format" toml:"format" split_words:"true"` // json|console
}

// Default returns a config with sensible defaults
func Default() *Config {
	cfg := &Config{}
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = "./stashloop.db"
	cfg.Server.Addr = ":8080"
	cfg.Auth.Issuer = "stashloop"
	cfg.Auth.TokenTTL = 30 * 24 * time.Hour
	cfg.Schedule.Fill = "0 * * * *"
	cfg.Schedule.Streaks = "55 * * * *"
	cfg.Schedule.Reminders = "0 * * * *"
	cfg.Schedule.Feeds = "*/30 * * * *"
	cfg.Schedule.Concurrency = 4
	cfg.Policy.Oversample = 4
	cfg.Policy.ItemsPerDay = 3
	cfg.Policy.ReminderHour = 9
	cfg.Policy.Timezone = "UTC"
	cfg.Push.Endpoint = "https://exp.host/--/api/v2/push/send"
	cfg.Push.ChunkSize = 90
	cfg.Push.Title = "Your saved gems are ready ✨"
	cfg.Push.Body = "Open StashLoop to review today’s picks."
	cfg.Scrape.UserAgent = "StashLoopBot/1.0"
	cfg.Scrape.Timeout = 10 * time.Second
	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	return cfg
}

// Load builds the configuration from defaults, the file at path (if it
// exists) and the environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// Validate checks ranges and resolves the configured timezone.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres", "postgresql", "pgx":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Policy.ItemsPerDay < 1 || c.Policy.ItemsPerDay > 20 {
		return fmt.Errorf("policy.items_per_day must be between 1 and 20, got %d", c.Policy.ItemsPerDay)
	}
	if c.Policy.ReminderHour < 0 || c.Policy.ReminderHour > 23 {
		return fmt.Errorf("policy.reminder_hour must be between 0 and 23, got %d", c.Policy.ReminderHour)
	}
	if c.Policy.Oversample < 0 {
		return fmt.Errorf("policy.oversample must not be negative, got %d", c.Policy.Oversample)
	}
	if _, err := time.LoadLocation(c.Policy.Timezone); err != nil {
		return fmt.Errorf("policy.timezone: %w", err)
	}
	if c.Push.ChunkSize < 1 {
		return fmt.Errorf("push.chunk_size must be positive, got %d", c.Push.ChunkSize)
	}
	if c.Schedule.Concurrency < 1 {
		c.Schedule.Concurrency = 1
	}
	return nil
}

// DSN is the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return c.Database.Path
}

// WriteYAML writes the configuration to path, creating parent directories.
func (c *Config) WriteYAML(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
