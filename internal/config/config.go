// Package config provides centralized configuration for fieldbox.
// Values are layered: defaults, then an optional YAML file, then .env files,
// then environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration values.
type Config struct {
	// Addr is the listen address of the local API.
	Addr string `yaml:"addr"`

	// DBPath is the path to the SQLite outbox database.
	DBPath string `yaml:"db_path"`

	// Endpoint is the remote collection endpoint used for items created
	// without one.
	Endpoint string `yaml:"endpoint"`

	// AppVersion is stamped on submissions that do not carry a version.
	AppVersion string `yaml:"app_version"`

	// WriteAction is the action tag of the record-write request.
	WriteAction string `yaml:"write_action"`

	// DefaultLot and DefaultLotCode are sent when a record has no lot.
	DefaultLot     string `yaml:"default_lot"`
	DefaultLotCode string `yaml:"default_lot_code"`

	// SyncInterval is the periodic drain interval.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// StartupDelay is the delay of the one-shot drain after startup.
	StartupDelay time.Duration `yaml:"startup_delay"`

	// HTTPTimeout bounds each request to the remote endpoint.
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	// ProbeURL enables the HTTP connectivity prober when set. Without it the
	// connectivity state is set through the API.
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// StartOnline is the initial state of the manual connectivity signal.
	StartOnline bool `yaml:"start_online"`

	// Asset cache. Disabled when AssetOrigin is empty.
	AssetOrigin  string `yaml:"asset_origin"`
	AssetDir     string `yaml:"asset_dir"`
	AssetVersion string `yaml:"asset_version"`
	OfflinePage  string `yaml:"offline_page"`

	// CORSOrigins lists the allowed CORS origins. Defaults to all.
	CORSOrigins []string `yaml:"cors_origins"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Addr:          "127.0.0.1:8787",
		DBPath:        "fieldbox.db",
		WriteAction:   "gravar_linha",
		SyncInterval:  60 * time.Second,
		StartupDelay:  2 * time.Second,
		HTTPTimeout:   60 * time.Second,
		ProbeInterval: 15 * time.Second,
		StartOnline:   true,
		AssetDir:      "assets-cache",
		AssetVersion:  "v7",
		OfflinePage:   "offline.html",
		CORSOrigins:   []string{"*"},
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// Load builds the configuration. path names an optional YAML file; when empty
// FIELDBOX_CONFIG is consulted. .env.local and .env in the working directory
// are loaded without overriding the real environment.
func Load(path string) (Config, error) {
	cfg := Defaults()

	LoadEnvFiles(".env.local", ".env")

	if path == "" {
		path = os.Getenv("FIELDBOX_CONFIG")
	}
	if path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

// Validate checks values that would make the daemon misbehave.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("config: db path is required")
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("config: sync interval must be positive, got %s", c.SyncInterval)
	}
	if c.ProbeURL != "" && c.ProbeInterval <= 0 {
		return fmt.Errorf("config: probe interval must be positive, got %s", c.ProbeInterval)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	return nil
}

// LoadEnvFiles loads the given dotenv files in order. Variables already set,
// by the environment or an earlier file, are kept. Missing files are ignored.
func LoadEnvFiles(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config file %s not found", path)
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.Addr = envOr("FIELDBOX_ADDR", c.Addr)
	c.DBPath = envOr("FIELDBOX_DB_PATH", c.DBPath)
	c.Endpoint = envOr("FIELDBOX_ENDPOINT", c.Endpoint)
	c.AppVersion = envOr("FIELDBOX_APP_VERSION", c.AppVersion)
	c.WriteAction = envOr("FIELDBOX_WRITE_ACTION", c.WriteAction)
	c.DefaultLot = envOr("FIELDBOX_DEFAULT_LOT", c.DefaultLot)
	c.DefaultLotCode = envOr("FIELDBOX_DEFAULT_LOT_CODE", c.DefaultLotCode)
	c.SyncInterval = envDuration("FIELDBOX_SYNC_INTERVAL", c.SyncInterval)
	c.StartupDelay = envDuration("FIELDBOX_STARTUP_DELAY", c.StartupDelay)
	c.HTTPTimeout = envDuration("FIELDBOX_HTTP_TIMEOUT", c.HTTPTimeout)
	c.ProbeURL = envOr("FIELDBOX_PROBE_URL", c.ProbeURL)
	c.ProbeInterval = envDuration("FIELDBOX_PROBE_INTERVAL", c.ProbeInterval)
	c.StartOnline = envBool("FIELDBOX_START_ONLINE", c.StartOnline)
	c.AssetOrigin = envOr("FIELDBOX_ASSET_ORIGIN", c.AssetOrigin)
	c.AssetDir = envOr("FIELDBOX_ASSET_DIR", c.AssetDir)
	c.AssetVersion = envOr("FIELDBOX_ASSET_VERSION", c.AssetVersion)
	c.OfflinePage = envOr("FIELDBOX_OFFLINE_PAGE", c.OfflinePage)
	c.CORSOrigins = envList("FIELDBOX_CORS_ORIGINS", c.CORSOrigins)
	c.LogLevel = envOr("FIELDBOX_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("FIELDBOX_LOG_FORMAT", c.LogFormat)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
