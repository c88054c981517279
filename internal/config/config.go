// Package config provides YAML-based configuration loading for the santa
// service, with secrets overridable from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Supported values for Platform.
const (
	PlatformDiscord = "discord"
	PlatformSlack   = "slack"
)

// Config is the top-level configuration, loaded from santa.yaml.
type Config struct {
	Santa    SantaConfig   `yaml:"santa"`
	Storage  StorageConfig `yaml:"storage"`
	Platform string        `yaml:"platform"`
	Discord  DiscordConfig `yaml:"discord"`
	Slack    SlackConfig   `yaml:"slack"`
	Jobs     JobsConfig    `yaml:"jobs"`
	Admin    AdminConfig   `yaml:"admin"`
	Log      LogConfig     `yaml:"log"`
}

// SantaConfig holds the limits applied to every exchange.
type SantaConfig struct {
	MinParticipants      int           `yaml:"min_participants"`
	MaxParticipants      int           `yaml:"max_participants"` // 0 means unlimited
	Timeout              time.Duration `yaml:"timeout"`
	ArchiveRetention     time.Duration `yaml:"archive_retention"`
	UnreachableRetention time.Duration `yaml:"unreachable_retention"`
	MaxMatchAttempts     int           `yaml:"max_match_attempts"`
	MaxInvalidPicks      int           `yaml:"max_invalid_picks"`
	NameMaxLength        int           `yaml:"name_max_length"`
}

// StorageConfig selects the registry backend.
type StorageConfig struct {
	Driver string      `yaml:"driver"` // memory, sqlite, mysql or redis
	DSN    string      `yaml:"dsn" env:"SANTA_STORAGE_DSN"`
	MySQL  MySQLConfig `yaml:"mysql"`
	Redis  RedisConfig `yaml:"redis"`
}

// MySQLConfig holds discrete MySQL connection settings, used when
// storage.dsn is empty.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password" env:"SANTA_STORAGE_PASSWORD"`
	Database string `yaml:"database"`
}

// RedisConfig holds connection settings for the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password" env:"SANTA_REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token" env:"SANTA_DISCORD_TOKEN"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token" env:"SANTA_SLACK_BOT_TOKEN"`
	AppToken string `yaml:"app_token" env:"SANTA_SLACK_APP_TOKEN"`
}

// JobsConfig holds the cron schedules of the background sweeps.
type JobsConfig struct {
	Expire string `yaml:"expire"`
	Purge  string `yaml:"purge"`
}

// AdminConfig configures the admin API and the users allowed to cancel any
// exchange.
type AdminConfig struct {
	Port    int      `yaml:"port"`
	Token   string   `yaml:"token" env:"SANTA_ADMIN_TOKEN"`
	UserIDs []string `yaml:"user_ids"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json or auto
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies environment overrides and returns a
// validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	s := &c.Santa
	if s.MinParticipants == 0 {
		s.MinParticipants = 3
	}
	if s.Timeout == 0 {
		s.Timeout = 7 * 24 * time.Hour
	}
	if s.ArchiveRetention == 0 {
		s.ArchiveRetention = 14 * 24 * time.Hour
	}
	if s.UnreachableRetention == 0 {
		s.UnreachableRetention = 28 * 24 * time.Hour
	}
	if s.MaxMatchAttempts == 0 {
		s.MaxMatchAttempts = 12
	}
	if s.MaxInvalidPicks == 0 {
		s.MaxInvalidPicks = 10
	}
	if s.NameMaxLength == 0 {
		s.NameMaxLength = 32
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = "santa.db"
	}
	if c.Storage.Driver == "mysql" && c.Storage.MySQL.Port == 0 {
		c.Storage.MySQL.Port = 3306
	}
	if c.Storage.Driver == "redis" && c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Jobs.Expire == "" {
		c.Jobs.Expire = "30 */6 * * *"
	}
	if c.Jobs.Purge == "" {
		c.Jobs.Purge = "0 6 * * *"
	}
	if c.Admin.Port == 0 {
		c.Admin.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "auto"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	s := c.Santa
	if s.MinParticipants < 2 {
		errs = append(errs, "santa.min_participants must be at least 2")
	}
	if s.MaxParticipants < 0 {
		errs = append(errs, "santa.max_participants must not be negative")
	}
	if s.MaxParticipants > 0 && s.MaxParticipants < s.MinParticipants {
		errs = append(errs, "santa.max_participants must not be below santa.min_participants")
	}
	if s.Timeout < 0 {
		errs = append(errs, "santa.timeout must not be negative")
	}
	if s.ArchiveRetention < 0 {
		errs = append(errs, "santa.archive_retention must not be negative")
	}
	if s.UnreachableRetention < 0 {
		errs = append(errs, "santa.unreachable_retention must not be negative")
	}
	if s.MaxMatchAttempts < 1 {
		errs = append(errs, "santa.max_match_attempts must be positive")
	}
	if s.MaxInvalidPicks < 1 {
		errs = append(errs, "santa.max_invalid_picks must be positive")
	}
	if s.NameMaxLength < 1 {
		errs = append(errs, "santa.name_max_length must be positive")
	}

	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "mysql":
		m := c.Storage.MySQL
		if c.Storage.DSN == "" && (m.Host == "" || m.Database == "") {
			errs = append(errs, "storage.dsn or storage.mysql.host and storage.mysql.database are required for mysql")
		}
	case "redis":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not supported", c.Storage.Driver))
	}

	switch c.Platform {
	case "":
	case PlatformDiscord:
		if c.Discord.BotToken == "" {
			errs = append(errs, "discord.bot_token is required")
		}
	case PlatformSlack:
		if c.Slack.BotToken == "" {
			errs = append(errs, "slack.bot_token is required")
		}
		if c.Slack.AppToken == "" {
			errs = append(errs, "slack.app_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("platform %q is not supported", c.Platform))
	}

	if _, err := ParseSchedule(c.Jobs.Expire); err != nil {
		errs = append(errs, fmt.Sprintf("jobs.expire: %v", err))
	}
	if _, err := ParseSchedule(c.Jobs.Purge); err != nil {
		errs = append(errs, fmt.Sprintf("jobs.purge: %v", err))
	}

	if c.Admin.Port < 0 || c.Admin.Port > 65535 {
		errs = append(errs, "admin.port is out of range")
	}
	switch c.Log.Format {
	case "text", "json", "auto":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not supported", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a standard 5-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(spec)
}

// IsAdmin reports whether userID (in the platform's own notation) is listed
// in admin.user_ids.
func (c *Config) IsAdmin(userID string) bool {
	for _, id := range c.Admin.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}
