package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Simulator SimulatorConfig `koanf:"simulator"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Directory DirectoryConfig `koanf:"directory"`
	Watchdog  WatchdogConfig  `koanf:"watchdog"`
	Status    StatusConfig    `koanf:"status"`
	Log       LogConfig       `koanf:"log"`
}

// SimulatorConfig describes how to reach and talk to the cluster simulator
type SimulatorConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Username    string        `koanf:"username"`
	ReadTimeout time.Duration `koanf:"read_timeout"` // bounded wait for a single read
	DialTimeout time.Duration `koanf:"dial_timeout"`
	DialRetries uint64        `koanf:"dial_retries"` // extra connect attempts after the first
}

// SchedulerConfig tunes the placement engine thresholds. Scoring weights
// themselves live with the engine; only deployment-dependent values are
// exposed here.
type SchedulerConfig struct {
	QueryMode          string         `koanf:"query_mode"`            // "all" queries GETS All per job, "capable" queries GETS Capable with a GETS Avail fallback
	BackfillMaxRunTime int            `koanf:"backfill_max_run_time"` // jobs at or below this run time take the backfill fast-path
	DefaultBootTime    int            `koanf:"default_boot_time"`     // boot duration assumed for unknown server types
	BootTimes          map[string]int `koanf:"boot_times"`            // per-type boot durations, clock units
}

// Query modes
const (
	QueryModeAll     = "all"
	QueryModeCapable = "capable"
)

// DirectoryConfig controls the server directory store
type DirectoryConfig struct {
	TTL time.Duration `koanf:"ttl"` // entries not refreshed within the TTL expire
}

// WatchdogConfig controls the session stall detector
type WatchdogConfig struct {
	Enabled        bool          `koanf:"enabled"`
	Interval       time.Duration `koanf:"interval"`
	StallThreshold int           `koanf:"stall_threshold"` // consecutive idle intervals before the connection is closed
}

// StatusConfig controls the diagnostic HTTP status listener
type StatusConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// LogConfig controls logging output
type LogConfig struct {
	Level  string `koanf:"level"`  // debug | info | warn | error
	Format string `koanf:"format"` // text | json
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Simulator: SimulatorConfig{
			Host:        "localhost",
			Port:        50000,
			Username:    "client",
			ReadTimeout: 10 * time.Second,
			DialTimeout: 5 * time.Second,
			DialRetries: 3,
		},
		Scheduler: SchedulerConfig{
			QueryMode:          QueryModeAll,
			BackfillMaxRunTime: 600,
			DefaultBootTime:    60,
		},
		Directory: DirectoryConfig{
			TTL: 5 * time.Minute,
		},
		Watchdog: WatchdogConfig{
			Enabled:        true,
			Interval:       15 * time.Second,
			StallThreshold: 4,
		},
		Status: StatusConfig{
			Enabled:      false,
			Addr:         "127.0.0.1:8970",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from the specified file, applied on top of the
// defaults. An empty path returns the defaults unchanged.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		k := koanf.New(".")

		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}

		if err := k.Unmarshal("", cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Simulator.Host == "" {
		return fmt.Errorf("simulator.host is required")
	}
	if c.Simulator.Port <= 0 || c.Simulator.Port > 65535 {
		return fmt.Errorf("simulator.port must be in (0, 65535], got %d", c.Simulator.Port)
	}
	if c.Simulator.Username == "" {
		return fmt.Errorf("simulator.username is required")
	}
	if c.Simulator.ReadTimeout <= 0 {
		return fmt.Errorf("simulator.read_timeout must be positive")
	}

	if c.Scheduler.QueryMode != QueryModeAll && c.Scheduler.QueryMode != QueryModeCapable {
		return fmt.Errorf("scheduler.query_mode must be %q or %q, got %q",
			QueryModeAll, QueryModeCapable, c.Scheduler.QueryMode)
	}
	if c.Scheduler.BackfillMaxRunTime < 0 {
		return fmt.Errorf("scheduler.backfill_max_run_time must not be negative")
	}
	if c.Scheduler.DefaultBootTime <= 0 {
		return fmt.Errorf("scheduler.default_boot_time must be positive")
	}
	for serverType, bootTime := range c.Scheduler.BootTimes {
		if bootTime <= 0 {
			return fmt.Errorf("scheduler.boot_times[%s] must be positive", serverType)
		}
	}

	if c.Directory.TTL <= 0 {
		return fmt.Errorf("directory.ttl must be positive")
	}

	if c.Watchdog.Enabled {
		if c.Watchdog.Interval <= 0 {
			return fmt.Errorf("watchdog.interval must be positive when the watchdog is enabled")
		}
		if c.Watchdog.StallThreshold <= 0 {
			return fmt.Errorf("watchdog.stall_threshold must be positive when the watchdog is enabled")
		}
	}

	if c.Status.Enabled && c.Status.Addr == "" {
		return fmt.Errorf("status.addr is required when the status listener is enabled")
	}

	return nil
}

// Addr returns the simulator's host:port dial address.
func (c *SimulatorConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
