// Package config loads beacond settings from a TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/fleetwatch/beacond/internal/validation"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds process configuration
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Redis    RedisConfig
	Database DatabaseConfig
	Registry RegistryConfig
	Liveness LivenessConfig
	Tasks    TaskConfig
	Tracing  TracingConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	GRPCPort string
	HTTPAddr string
}

type StorageConfig struct {
	Backend string
	Timeout time.Duration
}

type RedisConfig struct {
	Addr string
	// Journal appends fleet events to the Redis event log
	Journal bool
}

// DatabaseConfig describes the PostgreSQL connection
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN returns a lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RegistryConfig struct {
	MinIntervalSeconds    int64
	MissedBeaconThreshold int
	// MergePolicy is "overwrite" or "preserve_blank"
	MergePolicy string
}

type LivenessConfig struct {
	SweepInterval time.Duration
}

type TaskConfig struct {
	BatchLimit int
}

type TracingConfig struct {
	Endpoint    string
	ServiceName string
}

type LoggingConfig struct {
	Dir       string
	MaxSizeMB int64
	Debug     bool
}

type tomlConfig struct {
	Server struct {
		Port     string `toml:"port"`
		HTTPAddr string `toml:"http_addr"`
	} `toml:"server"`

	Storage struct {
		Backend string `toml:"backend"`
		Timeout string `toml:"timeout"`
	} `toml:"storage"`

	Redis struct {
		Addr    string `toml:"addr"`
		Journal *bool  `toml:"journal"`
	} `toml:"redis"`

	Database struct {
		Host    string `toml:"host"`
		Port    int    `toml:"port"`
		User    string `toml:"user"`
		DBName  string `toml:"dbname"`
		SSLMode string `toml:"sslmode"`
	} `toml:"database"`

	Registry struct {
		MinIntervalSeconds    *int64 `toml:"min_interval_seconds"`
		MissedBeaconThreshold int    `toml:"missed_beacon_threshold"`
		MergePolicy           string `toml:"merge_policy"`
	} `toml:"registry"`

	Liveness struct {
		SweepInterval string `toml:"sweep_interval"`
	} `toml:"liveness"`

	Tasks struct {
		BatchLimit int `toml:"batch_limit"`
	} `toml:"tasks"`

	Tracing struct {
		Endpoint    string `toml:"endpoint"`
		ServiceName string `toml:"service_name"`
	} `toml:"tracing"`

	Logging struct {
		Dir       string `toml:"dir"`
		MaxSizeMB int64  `toml:"max_size_mb"`
		Debug     bool   `toml:"debug"`
	} `toml:"logging"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort: "50051",
			HTTPAddr: ":8080",
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Timeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Journal: true,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "operator",
			DBName:  "beacond",
			SSLMode: "disable",
		},
		Registry: RegistryConfig{
			MinIntervalSeconds:    validation.DefaultMinIntervalSeconds,
			MissedBeaconThreshold: 1,
			MergePolicy:           "overwrite",
		},
		Liveness: LivenessConfig{
			SweepInterval: 15 * time.Second,
		},
		Tasks: TaskConfig{
			BatchLimit: 10,
		},
		Tracing: TracingConfig{
			ServiceName: "beacond",
		},
		Logging: LoggingConfig{
			MaxSizeMB: 50,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		var conf tomlConfig
		if _, err := toml.DecodeFile(path, &conf); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
		if err := cfg.apply(&conf); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(conf *tomlConfig) error {
	setString(&c.Server.GRPCPort, conf.Server.Port)
	setString(&c.Server.HTTPAddr, conf.Server.HTTPAddr)

	setString(&c.Storage.Backend, conf.Storage.Backend)
	if err := setDuration(&c.Storage.Timeout, "storage.timeout", conf.Storage.Timeout); err != nil {
		return err
	}

	setString(&c.Redis.Addr, conf.Redis.Addr)
	if conf.Redis.Journal != nil {
		c.Redis.Journal = *conf.Redis.Journal
	}

	setString(&c.Database.Host, conf.Database.Host)
	if conf.Database.Port != 0 {
		c.Database.Port = conf.Database.Port
	}
	setString(&c.Database.User, conf.Database.User)
	setString(&c.Database.DBName, conf.Database.DBName)
	setString(&c.Database.SSLMode, conf.Database.SSLMode)

	if conf.Registry.MinIntervalSeconds != nil {
		c.Registry.MinIntervalSeconds = *conf.Registry.MinIntervalSeconds
	}
	if conf.Registry.MissedBeaconThreshold != 0 {
		c.Registry.MissedBeaconThreshold = conf.Registry.MissedBeaconThreshold
	}
	setString(&c.Registry.MergePolicy, conf.Registry.MergePolicy)

	if err := setDuration(&c.Liveness.SweepInterval, "liveness.sweep_interval", conf.Liveness.SweepInterval); err != nil {
		return err
	}

	if conf.Tasks.BatchLimit != 0 {
		c.Tasks.BatchLimit = conf.Tasks.BatchLimit
	}

	setString(&c.Tracing.Endpoint, conf.Tracing.Endpoint)
	setString(&c.Tracing.ServiceName, conf.Tracing.ServiceName)

	setString(&c.Logging.Dir, conf.Logging.Dir)
	if conf.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = conf.Logging.MaxSizeMB
	}
	c.Logging.Debug = c.Logging.Debug || conf.Logging.Debug
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.Redis.Addr, os.Getenv("REDIS_ADDR"))
	setString(&c.Server.GRPCPort, os.Getenv("PORT"))
	setString(&c.Server.HTTPAddr, os.Getenv("HTTP_ADDR"))
	setString(&c.Storage.Backend, os.Getenv("STORE_BACKEND"))
	setString(&c.Database.Host, os.Getenv("DB_HOST"))

	// Try POSTGRES_PASSWORD first, fall back to DB_PASSWORD
	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = os.Getenv("DB_PASSWORD")
	}
	setString(&c.Database.Password, password)

	setString(&c.Tracing.Endpoint, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	setString(&c.Logging.Dir, os.Getenv("LOG_DIR"))

	if v := os.Getenv("DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			// Any non-boolean value still switches debug on
			debug = true
		}
		c.Logging.Debug = debug
	}
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Backend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.Timeout <= 0 {
		errs = append(errs, errors.New("storage.timeout must be positive"))
	}
	if c.Server.GRPCPort == "" {
		errs = append(errs, errors.New("server.port must be set"))
	}
	if c.Registry.MinIntervalSeconds <= 0 || c.Registry.MinIntervalSeconds >= validation.MaxIntervalSeconds {
		errs = append(errs, fmt.Errorf("registry.min_interval_seconds must be positive and below %d, got %d",
			validation.MaxIntervalSeconds, c.Registry.MinIntervalSeconds))
	}
	if c.Registry.MissedBeaconThreshold <= 0 {
		errs = append(errs, errors.New("registry.missed_beacon_threshold must be positive"))
	}
	switch c.Registry.MergePolicy {
	case "overwrite", "preserve_blank":
	default:
		errs = append(errs, fmt.Errorf("registry.merge_policy: unknown policy %q", c.Registry.MergePolicy))
	}
	if c.Liveness.SweepInterval <= 0 {
		errs = append(errs, errors.New("liveness.sweep_interval must be positive"))
	}
	if c.Tasks.BatchLimit <= 0 {
		errs = append(errs, errors.New("tasks.batch_limit must be positive"))
	}
	if c.Storage.Backend == BackendPostgres && c.Database.Password == "" {
		log.Printf("Warning: Neither POSTGRES_PASSWORD nor DB_PASSWORD environment variable is set")
	}

	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
