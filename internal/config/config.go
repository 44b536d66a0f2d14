package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AdminAuthConfig holds HTTP Basic Auth credentials for the admin endpoints.
// When nil (or either field empty) the admin surface is disabled.
type AdminAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration. Every field has a
// sensible default so a missing or partial config file still produces a
// working process; selected fields can also be overridden by environment
// variables (see ApplyEnv).
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for day grouping (e.g. "Europe/Bucharest").
	Timezone string `yaml:"timezone" json:"timezone"`

	// ArtifactDir is the directory holding per-calendar artifacts, the merged
	// schedule and the progress documents.
	ArtifactDir string `yaml:"artifact_dir" json:"artifact_dir"`

	// StorePath is the sqlite database file for calendar sources and manual events.
	StorePath string `yaml:"store_path" json:"store_path"`

	// ICSConcurrency bounds phase 1 of an extraction run.
	ICSConcurrency int `yaml:"ics_concurrency" json:"ics_concurrency"`

	// RenderConcurrency bounds phase 2 and the headless browser pool.
	RenderConcurrency int `yaml:"render_concurrency" json:"render_concurrency"`

	// ExtractIntervalMin is the minutes between scheduled extraction runs.
	ExtractIntervalMin int `yaml:"extract_interval_min" json:"extract_interval_min"`

	// RetentionDays is the horizon for the daily manual-event cleanup and the
	// half-width of the extraction window around "now".
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// DisableBackgroundTasks turns off the periodic fetcher and the daily
	// cleanup. Used by tests and single-shot workers.
	DisableBackgroundTasks bool `yaml:"disable_background_tasks" json:"disable_background_tasks"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level" json:"log_level"`

	// AdminAuth, if set, enables the authenticated admin endpoints.
	AdminAuth *AdminAuthConfig `yaml:"admin_auth,omitempty" json:"admin_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:             "127.0.0.1:8080",
		Timezone:           "Europe/Bucharest",
		ArtifactDir:        "./data/artifacts",
		StorePath:          "./data/app.db",
		ICSConcurrency:     8,
		RenderConcurrency:  4,
		ExtractIntervalMin: 60,
		RetentionDays:      60,
		LogLevel:           "info",
	}
}

// Normalize fills in missing/zero values so partially-filled configs behave
// like the defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = def.ArtifactDir
	}
	if c.StorePath == "" {
		c.StorePath = def.StorePath
	}
	if c.ICSConcurrency <= 0 {
		c.ICSConcurrency = def.ICSConcurrency
	}
	if c.RenderConcurrency <= 0 {
		c.RenderConcurrency = def.RenderConcurrency
	}
	if c.ExtractIntervalMin <= 0 {
		c.ExtractIntervalMin = def.ExtractIntervalMin
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = def.RetentionDays
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// ApplyEnv overlays the deployment knobs from environment variables onto c.
// Unset or malformed variables leave the current value in place.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("ARTIFACT_DIR"); v != "" {
		c.ArtifactDir = v
	}
	if v := os.Getenv("STORE_PATH"); v != "" {
		c.StorePath = v
	}
	if n, ok := envInt("ICS_CONCURRENCY"); ok {
		c.ICSConcurrency = n
	}
	if n, ok := envInt("RENDER_CONCURRENCY"); ok {
		c.RenderConcurrency = n
	}
	if n, ok := envInt("EXTRACT_INTERVAL_MIN"); ok {
		c.ExtractIntervalMin = n
	}
	if n, ok := envInt("RETENTION_DAYS"); ok {
		c.RetentionDays = n
	}
	if v := os.Getenv("DISABLE_BACKGROUND_TASKS"); v != "" {
		c.DisableBackgroundTasks = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	c.Normalize()
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Load loads configuration from the given YAML path.
//
// If the file does not exist, a default config is written there (0600) and
// returned. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	cfg.ApplyEnv()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms,
// creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".roomsched-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
