package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fieldnote/fieldnote/pkg/observability"
)

// FileEnv names the variable pointing at an optional YAML config file
const FileEnv = "FIELDNOTE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Notify        NotifyConfig        `yaml:"notify"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the ops server configuration (health probes and metrics)
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds grant cache settings
type CacheConfig struct {
	// Backend is one of none, memory, redis
	Backend       string        `yaml:"backend"`
	Size          int           `yaml:"size"`
	TTL           time.Duration `yaml:"ttl"`
	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisPoolSize int           `yaml:"redis_pool_size"`
}

// SchedulerConfig holds the allocation push job settings
type SchedulerConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Interval     time.Duration `yaml:"interval"`
	Throttle     time.Duration `yaml:"throttle"`
	BatchSize    int           `yaml:"batch_size"`
	Concurrency  int           `yaml:"concurrency"`
	// WatchdogSchedule is a cron expression; empty disables the watchdog
	WatchdogSchedule string `yaml:"watchdog_schedule"`
}

// NotifyConfig holds push dispatcher settings
type NotifyConfig struct {
	// Dispatcher is one of http, log
	Dispatcher  string        `yaml:"dispatcher"`
	Endpoint    string        `yaml:"endpoint"`
	AccessToken string        `yaml:"access_token"`
	ChunkSize   int           `yaml:"chunk_size"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AuditConfig selects where grant changes are recorded
type AuditConfig struct {
	// Sink is one of none, db, file
	Sink     string `yaml:"sink"`
	Dir      string `yaml:"dir"`
	MaxSize  int64  `yaml:"max_size"`
	MaxFiles int    `yaml:"max_files"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`

	// OTelSampleRatio is the share of push runs traced, 0 to 1
	OTelSampleRatio float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts the settings for observability.InitOTel
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8081",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			URL:             "postgres://localhost/fieldnote?sslmode=disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{
			Backend:       "memory",
			Size:          10000,
			TTL:           30 * time.Second,
			RedisURL:      "redis://localhost:6379",
			RedisPoolSize: 10,
		},
		Scheduler: SchedulerConfig{
			InitialDelay:     60 * time.Second,
			Interval:         60 * time.Second,
			Throttle:         24 * time.Hour,
			BatchSize:        100,
			WatchdogSchedule: "@every 15m",
		},
		Notify: NotifyConfig{
			Dispatcher: "http",
			Endpoint:   "https://exp.host/--/api/v2/push/send",
			ChunkSize:  100,
			Timeout:    10 * time.Second,
		},
		Audit: AuditConfig{
			Sink:     "db",
			Dir:      "/var/log/fieldnote/audit",
			MaxSize:  100 * 1024 * 1024,
			MaxFiles: 10,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "fieldnote-scheduler",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads configuration from the file named by FIELDNOTE_CONFIG_FILE,
// if any, and then from environment variables
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(FileEnv))
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and environment variables, in that order of precedence
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Host = getEnv("FIELDNOTE_HOST", s.Host)
	s.Port = getEnv("FIELDNOTE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("FIELDNOTE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("FIELDNOTE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("FIELDNOTE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("FIELDNOTE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	d := &cfg.Database
	d.URL = getEnv("FIELDNOTE_DATABASE_URL", d.URL)
	d.MaxOpenConns = getEnvInt("FIELDNOTE_DATABASE_MAX_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("FIELDNOTE_DATABASE_MIN_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("FIELDNOTE_DATABASE_CONN_LIFETIME", d.ConnMaxLifetime)

	c := &cfg.Cache
	c.Backend = getEnv("FIELDNOTE_CACHE_BACKEND", c.Backend)
	c.Size = getEnvInt("FIELDNOTE_CACHE_SIZE", c.Size)
	c.TTL = getEnvDuration("FIELDNOTE_CACHE_TTL", c.TTL)
	c.RedisURL = getEnv("FIELDNOTE_REDIS_URL", c.RedisURL)
	c.RedisPassword = getEnv("FIELDNOTE_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("FIELDNOTE_REDIS_DB", c.RedisDB)
	c.RedisPoolSize = getEnvInt("FIELDNOTE_REDIS_POOL_SIZE", c.RedisPoolSize)

	j := &cfg.Scheduler
	j.InitialDelay = getEnvDuration("FIELDNOTE_PUSH_INITIAL_DELAY", j.InitialDelay)
	j.Interval = getEnvDuration("FIELDNOTE_PUSH_INTERVAL", j.Interval)
	j.Throttle = getEnvDuration("FIELDNOTE_PUSH_THROTTLE", j.Throttle)
	j.BatchSize = getEnvInt("FIELDNOTE_PUSH_BATCH_SIZE", j.BatchSize)
	j.Concurrency = getEnvInt("FIELDNOTE_PUSH_CONCURRENCY", j.Concurrency)
	j.WatchdogSchedule = getEnv("FIELDNOTE_WATCHDOG_SCHEDULE", j.WatchdogSchedule)

	n := &cfg.Notify
	n.Dispatcher = getEnv("FIELDNOTE_NOTIFY_DISPATCHER", n.Dispatcher)
	n.Endpoint = getEnv("FIELDNOTE_NOTIFY_ENDPOINT", n.Endpoint)
	n.AccessToken = getEnv("FIELDNOTE_NOTIFY_ACCESS_TOKEN", n.AccessToken)
	n.ChunkSize = getEnvInt("FIELDNOTE_NOTIFY_CHUNK_SIZE", n.ChunkSize)
	n.Timeout = getEnvDuration("FIELDNOTE_NOTIFY_TIMEOUT", n.Timeout)

	a := &cfg.Audit
	a.Sink = getEnv("FIELDNOTE_AUDIT_SINK", a.Sink)
	a.Dir = getEnv("FIELDNOTE_AUDIT_DIR", a.Dir)
	a.MaxFiles = getEnvInt("FIELDNOTE_AUDIT_MAX_FILES", a.MaxFiles)

	o := &cfg.Observability
	o.LogLevel = getEnv("FIELDNOTE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("FIELDNOTE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("FIELDNOTE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("FIELDNOTE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("FIELDNOTE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("FIELDNOTE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("FIELDNOTE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("FIELDNOTE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}

	switch c.Cache.Backend {
	case "none", "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("redis url is required when cache backend is redis")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s (must be none, memory, or redis)", c.Cache.Backend)
	}
	if c.Cache.Backend == "memory" && c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive")
	}

	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("push interval must be positive")
	}
	if c.Scheduler.InitialDelay < 0 {
		return fmt.Errorf("push initial delay must not be negative")
	}
	if c.Scheduler.Throttle <= 0 {
		return fmt.Errorf("push throttle must be positive")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("push batch size must be positive")
	}
	if c.Scheduler.Concurrency < 0 {
		return fmt.Errorf("push concurrency must not be negative")
	}

	switch c.Notify.Dispatcher {
	case "log":
	case "http":
		if c.Notify.Endpoint == "" {
			return fmt.Errorf("notify endpoint is required for the http dispatcher")
		}
	default:
		return fmt.Errorf("invalid notify dispatcher: %s (must be http or log)", c.Notify.Dispatcher)
	}

	switch c.Audit.Sink {
	case "none", "db":
	case "file":
		if c.Audit.Dir == "" {
			return fmt.Errorf("audit dir is required for the file sink")
		}
	default:
		return fmt.Errorf("invalid audit sink: %s (must be none, db, or file)", c.Audit.Sink)
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("otel endpoint is required when otel is enabled")
	}
	if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("otel sample ratio must be between 0 and 1, got %v", r)
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable or returns a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
