package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Addr              string   `yaml:"addr" toml:"addr"`
	DBDriver          string   `yaml:"db_driver" toml:"db_driver"`
	DBDSN             string   `yaml:"db_dsn" toml:"db_dsn"`
	ScreenshotsDir    string   `yaml:"screenshots_dir" toml:"screenshots_dir"`
	SessionsDir       string   `yaml:"sessions_dir" toml:"sessions_dir"`
	AllowedExtensions []string `yaml:"allowed_extensions" toml:"allowed_extensions"`
	Secret            string   `yaml:"secret" toml:"secret"`
	DefaultUsername   string   `yaml:"default_username" toml:"default_username"`
	DefaultPassword   string   `yaml:"default_password" toml:"default_password"`
	LogLevel          string   `yaml:"log_level" toml:"log_level"`
	LogPretty         bool     `yaml:"log_pretty" toml:"log_pretty"`
	MaxUploadBytes    int64    `yaml:"max_upload_bytes" toml:"max_upload_bytes"`
	SessionMaxAge     int      `yaml:"session_max_age" toml:"session_max_age"` // seconds
	FeedLimit         int      `yaml:"feed_limit" toml:"feed_limit"`
	ThumbSize         int      `yaml:"thumb_size" toml:"thumb_size"`
	ThumbMaxPixels    int      `yaml:"thumb_max_pixels" toml:"thumb_max_pixels"`
}

// Default returns the configuration used when no file is present. Fields a
// config file leaves empty are filled from here as well.
func Default() *Config {
	return &Config{
		Addr:              ":8080",
		DBDriver:          "sqlite3",
		DBDSN:             "shotomatic.db?_busy_timeout=5000&_journal_mode=WAL",
		ScreenshotsDir:    "screenshots",
		SessionsDir:       "sessions",
		AllowedExtensions: []string{"png", "jpg", "jpeg", "gif"},
		DefaultUsername:   "admin",
		DefaultPassword:   "default",
		LogLevel:          "info",
		MaxUploadBytes:    32 << 20,
		SessionMaxAge:     31 * 24 * 60 * 60,
		FeedLimit:         10,
		ThumbSize:         256,
		ThumbMaxPixels:    50_000_000,
	}
}

// Load reads filename as yaml or toml depending on its extension.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	config := Default()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(config); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", filename, err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("reading config from %s: %w", filename, err)
		}
	}

	return config, nil
}

// ApplyEnv overrides selected fields from the environment.
func (c *Config) ApplyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		c.Addr = ":" + port
	}
	if secret := os.Getenv("SHOTOMATIC_SECRET"); secret != "" {
		c.Secret = secret
	}
	if dsn := os.Getenv("SHOTOMATIC_DB_DSN"); dsn != "" {
		c.DBDSN = dsn
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Secret == "" {
		errs = append(errs, errors.New("secret is required"))
	}
	switch c.DBDriver {
	case "sqlite3", "postgres", "pgx":
	default:
		errs = append(errs, fmt.Errorf("unknown db_driver %q", c.DBDriver))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("db_dsn is required"))
	}
	if c.ScreenshotsDir == "" {
		errs = append(errs, errors.New("screenshots_dir is required"))
	}
	if len(c.AllowedExtensions) == 0 {
		errs = append(errs, errors.New("allowed_extensions must not be empty"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	if c.SessionMaxAge <= 0 {
		errs = append(errs, errors.New("session_max_age must be positive"))
	}
	if c.FeedLimit <= 0 {
		errs = append(errs, errors.New("feed_limit must be positive"))
	}
	if c.ThumbSize <= 0 {
		errs = append(errs, errors.New("thumb_size must be positive"))
	}
	if c.ThumbMaxPixels <= 0 {
		errs = append(errs, errors.New("thumb_max_pixels must be positive"))
	}
	return errors.Join(errs...)
}
