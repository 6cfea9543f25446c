package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Members is the initial cluster membership; gossip refines it
	Members []string `yaml:"members"`
}

// Config represents the complete configuration for a GMU node
type Config struct {
	Server           ServerConfig           `yaml:"server"`
	CommitLog        CommitLogConfig        `yaml:"commit_log"`
	CommitQueue      CommitQueueConfig      `yaml:"commit_queue"`
	Transaction      TransactionConfig      `yaml:"transaction"`
	RemoteRead       RemoteReadConfig       `yaml:"remote_read"`
	NearCache        NearCacheConfig        `yaml:"near_cache"`
	GarbageCollector GarbageCollectorConfig `yaml:"garbage_collector"`
	Ownership        OwnershipConfig        `yaml:"ownership"`
	Gossip           GossipConfig           `yaml:"gossip"`
	Metrics          MetricsConfig          `yaml:"metrics"`
	Logging          LoggingConfig          `yaml:"logging"`
}

// CommitLogConfig holds commit log configuration
type CommitLogConfig struct {
	HistorySize int           `yaml:"history_size"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// CommitQueueConfig holds commit queue configuration
type CommitQueueConfig struct {
	DrainInterval time.Duration `yaml:"drain_interval"`
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
}

// TransactionConfig holds remote transaction configuration
type TransactionConfig struct {
	PrepareWaitTimeout  time.Duration `yaml:"prepare_wait_timeout"`
	FinishedTxCacheSize int           `yaml:"finished_tx_cache_size"`
}

// RemoteReadConfig holds remote read configuration
type RemoteReadConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// NearCacheConfig holds near-cache configuration
type NearCacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxSize         int64         `yaml:"max_size"`
	FrequencyWeight float64       `yaml:"frequency_weight"`
	RecencyWeight   float64       `yaml:"recency_weight"`
	AdaptiveWindow  time.Duration `yaml:"adaptive_window"`
}

// GarbageCollectorConfig holds garbage collection configuration
type GarbageCollectorConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MinRetained int           `yaml:"min_retained"`
}

// OwnershipConfig holds consistent-hash ownership configuration
type OwnershipConfig struct {
	VirtualNodes      int `yaml:"virtual_nodes"`
	ReplicationFactor int `yaml:"replication_factor"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and environment
// overrides, and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)
	applyEnvironmentOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50053
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.CommitLog.HistorySize == 0 {
		cfg.CommitLog.HistorySize = 4096
	}
	if cfg.CommitLog.WaitTimeout == 0 {
		cfg.CommitLog.WaitTimeout = 5 * time.Second
	}

	if cfg.CommitQueue.DrainInterval == 0 {
		cfg.CommitQueue.DrainInterval = 50 * time.Millisecond
	}
	if cfg.CommitQueue.Workers == 0 {
		cfg.CommitQueue.Workers = 2
	}
	if cfg.CommitQueue.QueueSize == 0 {
		cfg.CommitQueue.QueueSize = 64
	}

	if cfg.Transaction.PrepareWaitTimeout == 0 {
		cfg.Transaction.PrepareWaitTimeout = 10 * time.Second
	}
	if cfg.Transaction.FinishedTxCacheSize == 0 {
		cfg.Transaction.FinishedTxCacheSize = 65536
	}

	if cfg.RemoteRead.Timeout == 0 {
		cfg.RemoteRead.Timeout = 2 * time.Second
	}
	if cfg.RemoteRead.MaxRetries == 0 {
		cfg.RemoteRead.MaxRetries = 3
	}

	if cfg.NearCache.MaxSize == 0 {
		cfg.NearCache.MaxSize = 16 * 1024 * 1024
	}
	if cfg.NearCache.FrequencyWeight == 0 {
		cfg.NearCache.FrequencyWeight = 0.5
	}
	if cfg.NearCache.RecencyWeight == 0 {
		cfg.NearCache.RecencyWeight = 0.5
	}
	if cfg.NearCache.AdaptiveWindow == 0 {
		cfg.NearCache.AdaptiveWindow = time.Minute
	}

	if cfg.GarbageCollector.Interval == 0 {
		cfg.GarbageCollector.Interval = 30 * time.Second
	}
	if cfg.GarbageCollector.MinRetained == 0 {
		cfg.GarbageCollector.MinRetained = 1024
	}

	if cfg.Ownership.VirtualNodes == 0 {
		cfg.Ownership.VirtualNodes = 150
	}
	if cfg.Ownership.ReplicationFactor == 0 {
		cfg.Ownership.ReplicationFactor = 2
	}

	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}
	if cfg.Gossip.GossipInterval == 0 {
		cfg.Gossip.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Gossip.ProbeInterval == 0 {
		cfg.Gossip.ProbeInterval = time.Second
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// applyEnvironmentOverrides applies environment variable overrides to config
func applyEnvironmentOverrides(cfg *Config) {
	if nodeID := os.Getenv("GMU_NODE_ID"); nodeID != "" {
		cfg.Server.NodeID = nodeID
	}
	if port := os.Getenv("GMU_GOSSIP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Gossip.BindPort = p
		}
	}
	if port := os.Getenv("GMU_METRICS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Metrics.Port = p
		}
	}
	if level := os.Getenv("GMU_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.CommitLog.HistorySize < 1 {
		return fmt.Errorf("commit_log.history_size must be positive")
	}
	if c.GarbageCollector.MinRetained > c.CommitLog.HistorySize {
		return fmt.Errorf("garbage_collector.min_retained must not exceed commit_log.history_size")
	}
	if c.RemoteRead.MaxRetries < 0 {
		return fmt.Errorf("remote_read.max_retries must not be negative")
	}
	if c.Ownership.ReplicationFactor < 1 {
		return fmt.Errorf("ownership.replication_factor must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	return nil
}
