package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const defaultAppKey = "noc-orquestrador-local-key-change-me"

type Config struct {
	Env      string `toml:"env"`
	HttpPort string `toml:"http_port"`
	DBPath   string `toml:"db_path"`   // used when DBDriver=sqlite
	DBDriver string `toml:"db_driver"` // sqlite|postgres
	DBDsn    string `toml:"db_dsn"`    // used when DBDriver=postgres

	AppKey string `toml:"app_key"`

	Provider ProviderConfig `toml:"provider"`
	Sync     SyncConfig     `toml:"sync"`
	NatsURL  string         `toml:"nats_url"`
	Archive  ArchiveConfig  `toml:"archive"`
}

type ProviderConfig struct {
	BaseURL       string  `toml:"base_url"`
	DisableDelete bool    `toml:"disable_delete"`
	RatePerSec    float64 `toml:"rate_per_sec"`
}

type SyncConfig struct {
	Workers int    `toml:"workers"`
	LockDir string `toml:"lock_dir"`
}

// ArchiveConfig points at an S3-compatible bucket receiving sweep reports.
// Archiving is off while Endpoint or Bucket is empty.
type ArchiveConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Prefix    string `toml:"prefix"`
	UseSSL    bool   `toml:"use_ssl"`
}

func (a ArchiveConfig) Enabled() bool { return a.Endpoint != "" && a.Bucket != "" }

func defaults() *Config {
	return &Config{
		Env:      "dev",
		HttpPort: "8080",
		DBPath:   "data/noc.db",
		DBDriver: "sqlite",
		AppKey:   defaultAppKey,
		Provider: ProviderConfig{BaseURL: "https://api.hetzner.cloud/v1", RatePerSec: 10},
		Sync:     SyncConfig{Workers: 4, LockDir: os.TempDir()},
		Archive:  ArchiveConfig{Prefix: "reports"},
	}
}

// Load builds the configuration from defaults, then the TOML file named by
// NOC_CONFIG (if any), then environment variables.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("NOC_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.HttpPort = getEnv("HTTP_PORT", cfg.HttpPort)
	cfg.DBPath = getEnv("DB_PATH", cfg.DBPath)
	cfg.DBDriver = getEnv("DB_DRIVER", cfg.DBDriver)
	cfg.DBDsn = getEnv("DATABASE_URL", getEnv("DB_DSN", cfg.DBDsn))
	if cfg.DBDsn == "" && isPostgres(cfg.DBDriver) {
		cfg.DBDsn = dsnFromParts()
	}
	cfg.AppKey = getEnv("APP_KEY", cfg.AppKey)

	cfg.Provider.BaseURL = strings.TrimRight(getEnv("PROVIDER_API_BASE_URL", cfg.Provider.BaseURL), "/")
	cfg.Provider.DisableDelete = getBool("PROVIDER_DISABLE_DELETE", cfg.Provider.DisableDelete)
	cfg.Provider.RatePerSec = getFloat("PROVIDER_RATE_PER_SEC", cfg.Provider.RatePerSec)
	cfg.Sync.Workers = getInt("SYNC_WORKERS", cfg.Sync.Workers)
	if cfg.Sync.Workers < 1 {
		cfg.Sync.Workers = 1
	}
	cfg.Sync.LockDir = getEnv("LOCK_DIR", cfg.Sync.LockDir)
	cfg.NatsURL = getEnv("NATS_URL", cfg.NatsURL)

	cfg.Archive.Endpoint = getEnv("ARCHIVE_ENDPOINT", cfg.Archive.Endpoint)
	cfg.Archive.AccessKey = getEnv("ARCHIVE_ACCESS_KEY", cfg.Archive.AccessKey)
	cfg.Archive.SecretKey = getEnv("ARCHIVE_SECRET_KEY", cfg.Archive.SecretKey)
	cfg.Archive.Bucket = getEnv("ARCHIVE_BUCKET", cfg.Archive.Bucket)
	cfg.Archive.Region = getEnv("ARCHIVE_REGION", cfg.Archive.Region)
	cfg.Archive.Prefix = getEnv("ARCHIVE_PREFIX", cfg.Archive.Prefix)
	cfg.Archive.UseSSL = getBool("ARCHIVE_USE_SSL", cfg.Archive.UseSSL)
	return cfg, nil
}

func isPostgres(driver string) bool {
	d := strings.ToLower(strings.TrimSpace(driver))
	return d == "postgres" || d == "postgresql"
}

// IsPostgres reports whether the configured store is PostgreSQL.
func (c *Config) IsPostgres() bool { return isPostgres(c.DBDriver) }

func dsnFromParts() string {
	name := os.Getenv("DB_DATABASE")
	if name == "" {
		return ""
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(os.Getenv("DB_USERNAME"), os.Getenv("DB_PASSWORD")),
		Host:     getEnv("DB_HOST", "db") + ":" + getEnv("DB_PORT", "5432"),
		Path:     "/" + name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v > 0 {
		return v
	}
	return def
}
