package application

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"guild-backup/internal/backup"
	"guild-backup/internal/capture"
	"guild-backup/internal/logging"
	"guild-backup/internal/restore"
	"guild-backup/internal/scheduler"
)

// Config holds the application configuration
type Config struct {
	Discord  DiscordConfig       `mapstructure:"discord" yaml:"discord"`
	Backup   backup.SystemConfig `mapstructure:"backup" yaml:"backup"`
	Capture  capture.Config      `mapstructure:"capture" yaml:"capture"`
	Restore  restore.Config      `mapstructure:"restore" yaml:"restore"`
	Sessions SessionConfig       `mapstructure:"sessions" yaml:"sessions"`
	Registry RegistryConfig      `mapstructure:"registry" yaml:"registry"`
	Schedule scheduler.Config    `mapstructure:"schedule" yaml:"schedule"`
	Logging  LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Metrics  MetricsConfig       `mapstructure:"metrics" yaml:"metrics"`
}

type DiscordConfig struct {
	Token string `mapstructure:"token" yaml:"token"`
}

type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// RegistryConfig locates the cross-process restore registry
type RegistryConfig struct {
	Dir        string        `mapstructure:"dir" yaml:"dir"`
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultConfig returns production settings. Decoding a config file over it
// keeps every value the file leaves out.
func DefaultConfig() Config {
	c := Config{
		Capture: capture.DefaultConfig(),
		Restore: restore.DefaultConfig(),
	}
	c.SetDefaults()
	return c
}

// SetDefaults fills zero values in every section
func (c *Config) SetDefaults() {
	c.Backup.SetDefaults()
	c.Capture.SetDefaults()
	c.Restore.SetDefaults()
	c.Schedule.SetDefaults()
	if c.Sessions.TTL <= 0 {
		c.Sessions.TTL = restore.DefaultSessionTTL
	}
	if c.Registry.Dir == "" {
		c.Registry.Dir = defaultRegistryDir()
	}
	if c.Registry.StaleAfter == 0 {
		c.Registry.StaleAfter = 6 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = string(logging.LogLevelNormal)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate validates every section and reports all problems at once
func (c *Config) Validate() error {
	var errs backup.ValidationErrors
	collect := func(err error) {
		if err == nil {
			return
		}
		if v, ok := err.(backup.ValidationErrors); ok {
			errs = append(errs, v...)
			return
		}
		errs.Add("config", err.Error(), nil)
	}

	collect(c.Backup.Validate())
	collect(c.Restore.Validate())
	collect(c.Schedule.Validate())

	switch logging.LogLevel(c.Logging.Level) {
	case logging.LogLevelQuiet, logging.LogLevelNormal, logging.LogLevelVerbose, logging.LogLevelDebug:
	default:
		errs.Add("logging.level", "must be quiet, normal, verbose or debug", c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs.Add("logging.format", "must be text or json", c.Logging.Format)
	}
	if c.Registry.StaleAfter < 0 {
		errs.Add("registry.stale_after", "must not be negative", c.Registry.StaleAfter)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// LoggerConfig converts the logging section
func (c LoggingConfig) LoggerConfig() logging.Config {
	return logging.Config{
		Level:         logging.LogLevel(c.Level),
		Output:        os.Stderr,
		Format:        c.Format,
		LogFile:       c.File,
		MaxSizeMB:     c.MaxSizeMB,
		MaxBackups:    c.MaxBackups,
		MaxAgeDays:    c.MaxAgeDays,
		CompressFiles: c.Compress,
	}
}

// Redacted returns a copy with secrets masked
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Discord.Token = mask(c.Discord.Token)
	c.Backup.Storage.S3.SecretKey = mask(c.Backup.Storage.S3.SecretKey)
	c.Backup.Storage.Azure.AccountKey = mask(c.Backup.Storage.Azure.AccountKey)
	c.Backup.Encryption.Passphrase = mask(c.Backup.Encryption.Passphrase)
	return c
}

// SampleYAML renders the default configuration as a starting config file
func SampleYAML() (string, error) {
	c := DefaultConfig()
	c.Schedule.Targets = []string{"123456789012345678"}
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to render sample config: %w", err)
	}
	header := "# guild-backup configuration\n# Secrets may also be set through GUILD_BACKUP_* environment variables.\n"
	return header + string(data), nil
}

func defaultRegistryDir() string {
	if dir, err := os.UserCacheDir(); err == nil && strings.TrimSpace(dir) != "" {
		return filepath.Join(dir, "guild-backup", "restores")
	}
	return filepath.Join(".guild-backup", "restores")
}
