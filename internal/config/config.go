// Package config loads settings from inspect.yaml, the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/abhiyant/inspect/internal/archive"
	"github.com/abhiyant/inspect/internal/logging"
	syncer "github.com/abhiyant/inspect/internal/sync"
)

// EnvPrefix is prepended to every environment override, e.g. INSPECT_STORE_PATH.
const EnvPrefix = "INSPECT"

type Config struct {
	Store  StoreConfig    `mapstructure:"store"`
	Remote RemoteConfig   `mapstructure:"remote"`
	Sync   SyncConfig     `mapstructure:"sync"`
	Log    logging.Config `mapstructure:"log"`
	Server ServerConfig   `mapstructure:"server"`
	Daemon DaemonConfig   `mapstructure:"daemon"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type RemoteConfig struct {
	Backend    string        `mapstructure:"backend"`
	Collection string        `mapstructure:"collection"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Redis      RedisConfig   `mapstructure:"redis"`
	MinIO      MinIOConfig   `mapstructure:"minio"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

type SyncConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	RateLimit    float64       `mapstructure:"rate_limit"`

	// Interval between background passes when serving. Zero disables them.
	Interval time.Duration `mapstructure:"interval"`
}

type ServerConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DaemonConfig struct {
	// Inbox is a directory watched for record files. Empty disables it.
	Inbox    string        `mapstructure:"inbox"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// Load reads configuration. When file is empty, inspect.yaml is searched in
// the working directory and $HOME/.inspect; a missing file is not an error.
// A .env file in the working directory is loaded first so its variables can
// feed the INSPECT_* overrides.
//
// The returned viper instance is kept so callers can Watch it.
func Load(file string) (*Config, *viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("inspect")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".inspect"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVariables(v)

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Watch re-decodes the configuration whenever the file changes and passes
// the result to onChange. Decode failures are reported through onError.
func Watch(v *viper.Viper, onChange func(*Config, fsnotify.Event), onError func(error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg, e)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "inspections.db")

	v.SetDefault("remote.backend", archive.BackendRedis)
	v.SetDefault("remote.collection", archive.DefaultCollection)
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.redis.addr", "localhost:6379")
	v.SetDefault("remote.redis.db", 0)
	v.SetDefault("remote.minio.endpoint", "localhost:9000")
	v.SetDefault("remote.minio.bucket", "inspect")
	v.SetDefault("remote.minio.use_ssl", false)

	v.SetDefault("sync.batch_size", 0)
	v.SetDefault("sync.max_retries", 0)
	v.SetDefault("sync.retry_backoff", time.Second)
	v.SetDefault("sync.rate_limit", 0)
	v.SetDefault("sync.interval", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("daemon.inbox", "")
	v.SetDefault("daemon.debounce", 250*time.Millisecond)
}

// bindEnvVariables maps the conventional credential variables alongside the
// INSPECT_* overrides.
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("remote.redis.addr", "INSPECT_REMOTE_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("remote.redis.password", "INSPECT_REMOTE_REDIS_PASSWORD", "REDIS_PASSWORD")

	v.BindEnv("remote.minio.endpoint", "INSPECT_REMOTE_MINIO_ENDPOINT", "MINIO_ENDPOINT")
	v.BindEnv("remote.minio.access_key", "INSPECT_REMOTE_MINIO_ACCESS_KEY", "MINIO_ACCESS_KEY")
	v.BindEnv("remote.minio.secret_key", "INSPECT_REMOTE_MINIO_SECRET_KEY", "MINIO_SECRET_KEY")
	v.BindEnv("remote.minio.bucket", "INSPECT_REMOTE_MINIO_BUCKET", "MINIO_BUCKET")
}

// Validate checks values viper cannot.
func (c *Config) Validate() error {
	switch c.Remote.Backend {
	case archive.BackendRedis, archive.BackendMinIO, archive.BackendMemory:
	default:
		return fmt.Errorf("remote.backend: unknown backend %q", c.Remote.Backend)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Sync.BatchSize < 0 || c.Sync.MaxRetries < 0 || c.Sync.RateLimit < 0 || c.Sync.Interval < 0 {
		return fmt.Errorf("sync settings must not be negative")
	}
	if c.Daemon.Debounce < 0 {
		return fmt.Errorf("daemon.debounce must not be negative")
	}
	return nil
}

// Archive returns the archive backend settings.
func (c *Config) Archive() archive.Config {
	return archive.Config{
		Backend:    c.Remote.Backend,
		Collection: c.Remote.Collection,
		Redis: archive.RedisConfig{
			Addr:     c.Remote.Redis.Addr,
			Password: c.Remote.Redis.Password,
			DB:       c.Remote.Redis.DB,
		},
		MinIO: archive.MinIOConfig{
			Endpoint:  c.Remote.MinIO.Endpoint,
			AccessKey: c.Remote.MinIO.AccessKey,
			SecretKey: c.Remote.MinIO.SecretKey,
			Bucket:    c.Remote.MinIO.Bucket,
			UseSSL:    c.Remote.MinIO.UseSSL,
		},
	}
}

// Policy returns the sync policy.
func (c *Config) Policy() syncer.Policy {
	return syncer.Policy{
		BatchSize:    c.Sync.BatchSize,
		MaxRetries:   c.Sync.MaxRetries,
		RetryBackoff: c.Sync.RetryBackoff,
		RateLimit:    c.Sync.RateLimit,
	}
}
