package flotilla

import (
	"fmt"
	"os"
	"time"

	"github.com/flotilla-dev/flotilla/pkg/pool"
	"github.com/flotilla-dev/flotilla/pkg/scoring"
	"github.com/pelletier/go-toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	MQTT     MQTTConfig     `toml:"mqtt"`
	Pool     PoolConfig     `toml:"pool"`
	Scoring  scoring.Config `toml:"scoring"`
	Workload WorkloadConfig `toml:"workload"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type MQTTConfig struct {
	URL       string `toml:"url"`
	ClientID  string `toml:"client_id"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	QoS       int    `toml:"qos"`
	BaseTopic string `toml:"base_topic"`
	Timeout   string `toml:"timeout"`
	CAPath    string `toml:"ca_path"`
	CertPath  string `toml:"cert_path"`
	KeyPath   string `toml:"key_path"`
}

type PoolConfig struct {
	MaxWorkers          int             `toml:"max_workers"`
	MaxIdle             int             `toml:"max_idle"`
	IdleTimeout         string          `toml:"idle_timeout"`
	DefaultConcurrency  int             `toml:"default_concurrency"`
	SpawnRetries        uint            `toml:"spawn_retries"`
	SpawnBackoff        string          `toml:"spawn_backoff"`
	SpawnLatency        string          `toml:"spawn_latency"`
	FallbackType        string          `toml:"fallback_type"`
	ShrinkIdleThreshold float64         `toml:"shrink_idle_threshold"`
	ShrinkWindow        string          `toml:"shrink_window"`
	OptimizeInterval    string          `toml:"optimize_interval"`
	WorkerTypes         []pool.TypeSpec `toml:"worker_types"`
}

type WorkloadConfig struct {
	SoftLoadCap  float64 `toml:"soft_load_cap"`
	EWMAAlpha    float64 `toml:"ewma_alpha"`
	RecentWindow int     `toml:"recent_window"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := tree.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		MQTT: MQTTConfig{
			QoS:       1,
			BaseTopic: "flotilla",
			Timeout:   "30s",
		},
		Pool: PoolConfig{
			MaxWorkers:          32,
			MaxIdle:             8,
			IdleTimeout:         "5m",
			DefaultConcurrency:  4,
			SpawnRetries:        3,
			SpawnBackoff:        "100ms",
			ShrinkIdleThreshold: 0.75,
			ShrinkWindow:        "1m",
			OptimizeInterval:    "30s",
		},
		Scoring: scoring.DefaultConfig(),
		Workload: WorkloadConfig{
			SoftLoadCap:  1.0,
			EWMAAlpha:    0.3,
			RecentWindow: 20,
		},
	}
}

// PoolManagerConfig converts the file representation into the pool
// manager's runtime configuration.
func (c *Config) PoolManagerConfig() (pool.Config, error) {
	idleTimeout, err := parseDuration("pool.idle_timeout", c.Pool.IdleTimeout)
	if err != nil {
		return pool.Config{}, err
	}
	spawnBackoff, err := parseDuration("pool.spawn_backoff", c.Pool.SpawnBackoff)
	if err != nil {
		return pool.Config{}, err
	}
	shrinkWindow, err := parseDuration("pool.shrink_window", c.Pool.ShrinkWindow)
	if err != nil {
		return pool.Config{}, err
	}

	return pool.Config{
		MaxWorkers:          c.Pool.MaxWorkers,
		MaxIdle:             c.Pool.MaxIdle,
		IdleTimeout:         idleTimeout,
		DefaultConcurrency:  c.Pool.DefaultConcurrency,
		SpawnRetries:        c.Pool.SpawnRetries,
		SpawnBackoff:        spawnBackoff,
		FallbackType:        c.Pool.FallbackType,
		ShrinkIdleThreshold: c.Pool.ShrinkIdleThreshold,
		ShrinkWindow:        shrinkWindow,
		WorkerTypes:         c.Pool.WorkerTypes,
	}, nil
}

func (c *Config) OptimizeInterval() (time.Duration, error) {
	return parseDuration("pool.optimize_interval", c.Pool.OptimizeInterval)
}

func (c *Config) SpawnLatency() (time.Duration, error) {
	if c.Pool.SpawnLatency == "" {
		return 0, nil
	}

	return parseDuration("pool.spawn_latency", c.Pool.SpawnLatency)
}

func (c *Config) MQTTTimeout() (time.Duration, error) {
	return parseDuration("mqtt.timeout", c.MQTT.Timeout)
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("error parsing %s: %w", key, err)
	}

	return d, nil
}
