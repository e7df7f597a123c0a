package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Load loads configuration from file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default config locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")           // Current directory
		v.AddConfigPath("./configs")   // Project configs directory
		v.AddConfigPath("./config")    // Alternative config directory
		v.AddConfigPath("/etc/ringkv") // System-wide config
	}

	// Set defaults
	setDefaults(v)

	// Enable environment variable overrides (RINGKV_NODE_NAME -> node.name)
	v.SetEnvPrefix("RINGKV")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
			return parseConfig(v)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return parseConfig(v)
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server defaults
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)

	// Etcd defaults
	v.SetDefault("etcd.endpoints", d.Etcd.Endpoints)
	v.SetDefault("etcd.dial_timeout", d.Etcd.DialTimeout)

	// Coordination defaults
	v.SetDefault("coordination.backend", d.Coordination.Backend)
	v.SetDefault("coordination.prefix", d.Coordination.Prefix)
	v.SetDefault("coordination.lease_ttl", d.Coordination.LeaseTTL)

	// Cluster defaults
	v.SetDefault("cluster.name", d.Cluster.Name)
	v.SetDefault("cluster.seed_file", d.Cluster.SeedFile)
	v.SetDefault("cluster.control_timeout", d.Cluster.ControlTimeout)
	v.SetDefault("cluster.transfer_timeout", d.Cluster.TransferTimeout)
	v.SetDefault("cluster.registration_timeout", d.Cluster.RegistrationTimeout)
	v.SetDefault("cluster.recovery_policy", d.Cluster.RecoveryPolicy)

	// Node defaults
	v.SetDefault("node.name", d.Node.Name)
	v.SetDefault("node.host", d.Node.Host)
	v.SetDefault("node.port", d.Node.Port)
	v.SetDefault("node.data_dir", d.Node.DataDir)
	v.SetDefault("node.engine", d.Node.Engine)
	v.SetDefault("node.cache.policy", d.Node.Cache.Policy)
	v.SetDefault("node.cache.size", d.Node.Cache.Size)
	v.SetDefault("node.replication_port", d.Node.ReplicationPort)

	// Events defaults
	v.SetDefault("events.type", d.Events.Type)
	v.SetDefault("events.url", d.Events.URL)
	v.SetDefault("events.subject", d.Events.Subject)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output_path", d.Logging.OutputPath)
}

// parseConfig parses viper config into Config struct
func parseConfig(v *viper.Viper) (*Config, error) {
	var cfg Config

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Node.Port == 0 {
		cfg.Node.Port = cfg.Server.HTTPPort
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads configuration from file or returns default config
func LoadOrDefault(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		// Return default configuration
		return DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			HTTPPort: 7070,
		},
		Etcd: EtcdConfig{
			Endpoints:   []string{"http://localhost:2379"},
			DialTimeout: 5 * time.Second,
		},
		Coordination: CoordinationConfig{
			Backend:  "etcd",
			Prefix:   "/ringkv",
			LeaseTTL: 10 * time.Second,
		},
		Cluster: ClusterConfig{
			Name:                "orchestrator",
			SeedFile:            "./configs/nodes.txt",
			ControlTimeout:      5 * time.Second,
			TransferTimeout:     2 * time.Hour,
			RegistrationTimeout: 30 * time.Second,
			RecoveryPolicy:      RecoveryMarkUnavailable,
		},
		Node: NodeConfig{
			Name:    "node-1",
			Host:    "127.0.0.1",
			Port:    7070,
			DataDir: "./data",
			Engine:  "badger",
			Cache: CacheConfig{
				Policy: "none",
			},
		},
		Events: EventsConfig{
			Type:    "memory",
			URL:     "nats://localhost:4222",
			Subject: "ringkv",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}
