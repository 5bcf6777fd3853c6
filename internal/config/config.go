// Package config loads and validates syncboard configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage and cache drivers.
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
	DriverDisabled = "disabled"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	API       APIConfig       `mapstructure:"api"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Client    ClientConfig    `mapstructure:"client"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Progress  ProgressConfig  `mapstructure:"progress"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// APIConfig controls the dashboard surface.
type APIConfig struct {
	AllowRetry     bool          `mapstructure:"allow_retry"`
	TrackLimit     int           `mapstructure:"track_limit"`
	User           string        `mapstructure:"user"`
	Node           string        `mapstructure:"node"`
	Quality        string        `mapstructure:"quality"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

// DatabaseConfig points at the engine's fact store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// CacheConfig points at the engine's progress cache.
type CacheConfig struct {
	Driver    string        `mapstructure:"driver"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Timeout   time.Duration `mapstructure:"timeout"`
	ScanCount int64         `mapstructure:"scan_count"`
}

// TelemetryConfig points at the Jaeger query API. An empty base URL disables
// the telemetry log source.
type TelemetryConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Service  string        `mapstructure:"service"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Lookback time.Duration `mapstructure:"lookback"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// SchedulerConfig sets the background task periods.
type SchedulerConfig struct {
	CorrelationInterval time.Duration `mapstructure:"correlation_interval"`
	ProgressInterval    time.Duration `mapstructure:"progress_interval"`
	HealthInterval      time.Duration `mapstructure:"health_interval"`
	TaskTimeout         time.Duration `mapstructure:"task_timeout"`
}

// ClientConfig controls the watch command.
type ClientConfig struct {
	APIURL            string        `mapstructure:"api_url"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	BootRetryInterval time.Duration `mapstructure:"boot_retry_interval"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	LogLimit          int           `mapstructure:"log_limit"`
}

// LoggingConfig toggles development logging.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProgressConfig tunes transition events and their sinks.
type ProgressConfig struct {
	Step             int           `mapstructure:"step"`
	ActivityCapacity int           `mapstructure:"activity_capacity"`
	LogEvents        bool          `mapstructure:"log_events"`
	BufferSize       int           `mapstructure:"buffer_size"`
	MaxBatchEvents   int           `mapstructure:"max_batch_events"`
	MaxBatchWait     time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout      time.Duration `mapstructure:"sink_timeout"`
}

// Load builds a Config from disk/environment and validates every section.
func Load(path string) (Config, error) {
	cfg, err := read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadClient is Load for the watch command, which only needs the client and
// logging sections.
func LoadClient(path string) (Config, error) {
	cfg, err := read(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func read(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNCBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3124)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("api.allow_retry", false)
	v.SetDefault("api.track_limit", 100)
	v.SetDefault("api.user", "syncboard")
	v.SetDefault("api.node", "Postgres Bridge")
	v.SetDefault("api.quality", "FLAC")
	v.SetDefault("api.handler_timeout", 5*time.Second)
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.query_timeout", 3*time.Second)
	v.SetDefault("cache.driver", DriverRedis)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.key_prefix", "progress:")
	v.SetDefault("cache.timeout", time.Second)
	v.SetDefault("cache.scan_count", 256)
	v.SetDefault("telemetry.base_url", "")
	v.SetDefault("telemetry.service", "sync-engine")
	v.SetDefault("telemetry.timeout", 2*time.Second)
	v.SetDefault("telemetry.lookback", 15*time.Minute)
	v.SetDefault("tracing.service_name", "syncboard")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("scheduler.correlation_interval", 5*time.Second)
	v.SetDefault("scheduler.progress_interval", time.Second)
	v.SetDefault("scheduler.health_interval", 15*time.Second)
	v.SetDefault("scheduler.task_timeout", 10*time.Second)
	v.SetDefault("client.api_url", "http://localhost:3124")
	v.SetDefault("client.poll_interval", 2500*time.Millisecond)
	v.SetDefault("client.boot_retry_interval", 10*time.Second)
	v.SetDefault("client.request_timeout", 10*time.Second)
	v.SetDefault("client.log_limit", 20)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("progress.step", 10)
	v.SetDefault("progress.activity_capacity", 500)
	v.SetDefault("progress.log_events", false)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 10*time.Second)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.API.TrackLimit <= 0 {
		return fmt.Errorf("api.track_limit must be > 0")
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when database.driver is %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be one of %q or %q, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}
	switch c.Cache.Driver {
	case DriverRedis:
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr must be set when cache.driver is %q", DriverRedis)
		}
	case DriverMemory, DriverDisabled:
	default:
		return fmt.Errorf("cache.driver must be one of %q, %q or %q, got %q",
			DriverRedis, DriverMemory, DriverDisabled, c.Cache.Driver)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1]")
	}
	for name, d := range map[string]time.Duration{
		"scheduler.correlation_interval": c.Scheduler.CorrelationInterval,
		"scheduler.progress_interval":    c.Scheduler.ProgressInterval,
		"scheduler.health_interval":      c.Scheduler.HealthInterval,
	} {
		if d < time.Second {
			return fmt.Errorf("%s must be >= 1s", name)
		}
	}
	if c.Progress.Step < 1 || c.Progress.Step > 100 {
		return fmt.Errorf("progress.step must be within [1, 100]")
	}
	return c.ValidateClient()
}

// ValidateClient checks the sections the polling client reads.
func (c Config) ValidateClient() error {
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("client.poll_interval must be > 0")
	}
	if _, err := url.ParseRequestURI(c.Client.APIURL); err != nil {
		return fmt.Errorf("client.api_url: %w", err)
	}
	return nil
}
