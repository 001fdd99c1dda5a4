// Package config loads tracecore process configuration: built-in defaults,
// then an optional YAML file, then TRACECORE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the environment variable holding the YAML file path.
const EnvConfigFile = "TRACECORE_CONFIG"

// Config is the full process configuration.
type Config struct {
	Deployer  string          `yaml:"deployer"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	Blob      BlobConfig      `yaml:"blob"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	OTel      OTelConfig      `yaml:"otel"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// StorageConfig selects the persistent store.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BlobConfig selects where committed events are archived. Driver "none"
// disables archiving.
type BlobConfig struct {
	Driver string   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root"`
	S3     S3Config `yaml:"s3"`
}

// S3Config holds S3 or MinIO settings for the archive.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

// RateLimitConfig bounds requests per caller. Requests <= 0 disables limiting.
type RateLimitConfig struct {
	Requests   int           `yaml:"requests"`
	Window     time.Duration `yaml:"window"`
	Burst      int           `yaml:"burst"`
	FailClosed bool          `yaml:"fail_closed"`
}

// RedisConfig switches rate limiting to a shared Redis counter when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MetricsConfig selects the metrics backend: prometheus, expvar or none.
type MetricsConfig struct {
	Backend string `yaml:"backend"`
}

// OTelConfig enables OTLP trace export when Endpoint is set.
type OTelConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Deployer: "deployer",
		HTTP:     HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Log:      LogConfig{Level: "info"},
		Storage:  StorageConfig{Driver: "memory", SQLitePath: "tracecore.db"},
		Blob:     BlobConfig{Driver: "none", FSRoot: "./archive", S3: S3Config{Region: "us-east-1"}},
		RateLimit: RateLimitConfig{
			Window: time.Minute,
		},
		Metrics: MetricsConfig{Backend: "prometheus"},
		OTel:    OTelConfig{ServiceName: "tracecored", SampleRatio: 1},
	}
}

// Load reads the file named by TRACECORE_CONFIG (if any) over the defaults
// and applies environment overrides.
func Load() (Config, error) {
	return LoadFrom(os.Getenv(EnvConfigFile), os.LookupEnv)
}

// LoadFrom is Load with an explicit file path and environment lookup.
func LoadFrom(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}
	env.str("TRACECORE_DEPLOYER", &cfg.Deployer)
	env.str("TRACECORE_HTTP_ADDR", &cfg.HTTP.Addr)
	env.duration("TRACECORE_SHUTDOWN_TIMEOUT", &cfg.HTTP.ShutdownTimeout)
	env.str("TRACECORE_LOG_LEVEL", &cfg.Log.Level)
	env.str("TRACECORE_STORAGE_DRIVER", &cfg.Storage.Driver)
	env.str("TRACECORE_SQLITE_PATH", &cfg.Storage.SQLitePath)
	env.str("TRACECORE_POSTGRES_DSN", &cfg.Storage.PostgresDSN)
	env.str("TRACECORE_BLOB_DRIVER", &cfg.Blob.Driver)
	env.str("TRACECORE_BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	env.str("TRACECORE_BLOB_S3_BUCKET", &cfg.Blob.S3.Bucket)
	env.str("TRACECORE_BLOB_S3_REGION", &cfg.Blob.S3.Region)
	env.str("TRACECORE_BLOB_S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	env.str("TRACECORE_BLOB_S3_ACCESS_KEY_ID", &cfg.Blob.S3.AccessKeyID)
	env.str("TRACECORE_BLOB_S3_SECRET_ACCESS_KEY", &cfg.Blob.S3.SecretAccessKey)
	env.boolean("TRACECORE_BLOB_S3_PATH_STYLE", &cfg.Blob.S3.PathStyle)
	env.integer("TRACECORE_RATE_LIMIT", &cfg.RateLimit.Requests)
	env.duration("TRACECORE_RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	env.integer("TRACECORE_RATE_LIMIT_BURST", &cfg.RateLimit.Burst)
	env.boolean("TRACECORE_RATE_LIMIT_FAIL_CLOSED", &cfg.RateLimit.FailClosed)
	env.str("TRACECORE_REDIS_ADDR", &cfg.Redis.Addr)
	env.str("TRACECORE_REDIS_PASSWORD", &cfg.Redis.Password)
	env.integer("TRACECORE_REDIS_DB", &cfg.Redis.DB)
	env.str("TRACECORE_METRICS", &cfg.Metrics.Backend)
	env.str("TRACECORE_OTEL_ENDPOINT", &cfg.OTel.Endpoint)
	env.boolean("TRACECORE_OTEL_INSECURE", &cfg.OTel.Insecure)
	env.str("TRACECORE_OTEL_SERVICE_NAME", &cfg.OTel.ServiceName)
	env.float("TRACECORE_OTEL_SAMPLE_RATIO", &cfg.OTel.SampleRatio)
	return errors.Join(env.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = f
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

// Validate rejects unknown drivers and inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Deployer) == "" {
		errs = append(errs, errors.New("deployer is required"))
	}
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case "none", "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket is required for the s3 driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	switch c.Metrics.Backend {
	case "prometheus", "expvar", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown metrics backend %q", c.Metrics.Backend))
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if c.OTel.SampleRatio < 0 || c.OTel.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("otel.sample_ratio %v outside [0,1]", c.OTel.SampleRatio))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses Level (debug, info, warn, error).
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", l.Level, err)
	}
	return level, nil
}
