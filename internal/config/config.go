package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration. The orchestrator
// and node services share one file layout; each reads the sections it needs.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Etcd         EtcdConfig         `mapstructure:"etcd"`
	Coordination CoordinationConfig `mapstructure:"coordination"`
	Cluster      ClusterConfig      `mapstructure:"cluster"`
	Node         NodeConfig         `mapstructure:"node"`
	Events       EventsConfig       `mapstructure:"events"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig represents the HTTP listener (admin API on the orchestrator,
// data API on a node)
type ServerConfig struct {
	Host     string `mapstructure:"host"`      // Bind address (e.g., 0.0.0.0 for all interfaces)
	HTTPPort int    `mapstructure:"http_port"` // HTTP server port
}

// EtcdConfig represents etcd configuration
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
}

// CoordinationConfig selects the coordination store backing mailboxes,
// registrations and the committed ring
type CoordinationConfig struct {
	Backend  string        `mapstructure:"backend"`   // etcd (default), memory
	Prefix   string        `mapstructure:"prefix"`    // Key prefix (default: /ringkv)
	LeaseTTL time.Duration `mapstructure:"lease_ttl"` // TTL of node registration leases
}

// ClusterConfig represents orchestrator behaviour
type ClusterConfig struct {
	Name                string        `mapstructure:"name"`                 // Sender id the orchestrator signs control messages with
	SeedFile            string        `mapstructure:"seed_file"`            // "<name> <host> <port>" per line
	ControlTimeout      time.Duration `mapstructure:"control_timeout"`      // Deadline for ordinary acks
	TransferTimeout     time.Duration `mapstructure:"transfer_timeout"`     // Deadline for TRANSFER_COMPLETE
	RegistrationTimeout time.Duration `mapstructure:"registration_timeout"` // How long addNodes waits for a node to register
	RecoveryPolicy      string        `mapstructure:"recovery_policy"`      // mark-unavailable (default), evict
}

// NodeConfig represents a storage node
type NodeConfig struct {
	Name            string      `mapstructure:"name"`
	Host            string      `mapstructure:"host"`             // Advertised host; part of the node's ring identity
	Port            int         `mapstructure:"port"`             // Advertised data API port (default: server.http_port)
	DataDir         string      `mapstructure:"data_dir"`         // Badger directory
	Engine          string      `mapstructure:"engine"`           // memory, badger
	Cache           CacheConfig `mapstructure:"cache"`            // Read cache in front of the engine
	ReplicationPort int         `mapstructure:"replication_port"` // Replica ingress port (0 disables ingress)
	Backups         []string    `mapstructure:"backups"`          // host:port of backup ingresses
}

// CacheConfig represents the node read cache
type CacheConfig struct {
	Policy string `mapstructure:"policy"` // none, lru, 2q, arc
	Size   int    `mapstructure:"size"`
}

// EventsConfig represents the cluster event bus
type EventsConfig struct {
	Type     string `mapstructure:"type"`     // nats, redis, kafka, memory (default), none
	URL      string `mapstructure:"url"`      // Bus server URL (e.g., nats://localhost:4222, redis://localhost:6379)
	Username string `mapstructure:"username"` // Optional authentication
	Password string `mapstructure:"password"` // Optional authentication
	Subject  string `mapstructure:"subject"`  // Subject prefix (default: ringkv)

	// Redis-specific options
	RedisDB       int    `mapstructure:"redis_db"`       // Redis database number (default: 0)
	RedisStream   string `mapstructure:"redis_stream"`   // Redis stream prefix (default: "ringkv")
	RedisGroup    string `mapstructure:"redis_group"`    // Redis consumer group (default: "ringkv-group")
	RedisConsumer string `mapstructure:"redis_consumer"` // Redis consumer name (default: hostname)

	// Kafka-specific options
	KafkaBrokers []string `mapstructure:"kafka_brokers"`  // Kafka broker addresses
	KafkaGroupID string   `mapstructure:"kafka_group_id"` // Kafka consumer group ID
}

// AuthConfig represents authentication configuration
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`  // Enable/disable API key authentication
	APIKeys []string `mapstructure:"api_keys"` // List of valid API keys
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, file path
	TimeFormat string `mapstructure:"time_format"` // RFC3339, Unix, UnixMs, etc
}

// Recovery policies for a RUNNING node that disappears
const (
	RecoveryMarkUnavailable = "mark-unavailable"
	RecoveryEvict           = "evict"
)

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Coordination.Validate(); err != nil {
		return fmt.Errorf("coordination config: %w", err)
	}

	if c.Coordination.Backend == "etcd" {
		if err := c.Etcd.Validate(); err != nil {
			return fmt.Errorf("etcd config: %w", err)
		}
	}

	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("cluster config: %w", err)
	}

	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node config: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (c *ServerConfig) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	return nil
}

// Validate validates etcd configuration
func (c *EtcdConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("etcd.endpoints is required")
	}

	if c.DialTimeout <= 0 {
		return fmt.Errorf("etcd.dial_timeout must be positive")
	}

	return nil
}

// Validate validates coordination configuration
func (c *CoordinationConfig) Validate() error {
	if c.Backend != "etcd" && c.Backend != "memory" {
		return fmt.Errorf("coordination.backend must be 'etcd' or 'memory'")
	}

	if c.LeaseTTL < time.Second {
		return fmt.Errorf("coordination.lease_ttl must be at least 1s")
	}

	return nil
}

// Validate validates cluster configuration
func (c *ClusterConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("cluster.name is required")
	}

	if c.ControlTimeout <= 0 {
		return fmt.Errorf("cluster.control_timeout must be positive")
	}

	if c.TransferTimeout < c.ControlTimeout {
		return fmt.Errorf("cluster.transfer_timeout cannot be shorter than cluster.control_timeout")
	}

	if c.RegistrationTimeout <= 0 {
		return fmt.Errorf("cluster.registration_timeout must be positive")
	}

	if c.RecoveryPolicy != RecoveryMarkUnavailable && c.RecoveryPolicy != RecoveryEvict {
		return fmt.Errorf("cluster.recovery_policy must be '%s' or '%s'", RecoveryMarkUnavailable, RecoveryEvict)
	}

	return nil
}

// Validate validates node configuration
func (c *NodeConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("node.name is required")
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid node.port: %d", c.Port)
	}

	if c.ReplicationPort < 0 || c.ReplicationPort > 65535 {
		return fmt.Errorf("invalid node.replication_port: %d", c.ReplicationPort)
	}

	switch c.Engine {
	case "memory":
	case "badger":
		if c.DataDir == "" {
			return fmt.Errorf("node.data_dir is required for the badger engine")
		}
	default:
		return fmt.Errorf("node.engine must be 'memory' or 'badger'")
	}

	return c.Cache.Validate()
}

// Validate validates cache configuration
func (c *CacheConfig) Validate() error {
	validPolicies := map[string]bool{
		"none": true,
		"lru":  true,
		"2q":   true,
		"arc":  true,
	}

	if !validPolicies[c.Policy] {
		return fmt.Errorf("cache.policy must be one of: none, lru, 2q, arc")
	}

	if c.Policy != "none" && c.Size <= 0 {
		return fmt.Errorf("cache.size must be positive when a cache policy is set")
	}

	return nil
}

// Validate validates events configuration
func (c *EventsConfig) Validate() error {
	switch c.Type {
	case "", "memory", "none", "nats", "redis":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("events.kafka_brokers is required for kafka")
		}
	default:
		return fmt.Errorf("events.type must be one of: nats, redis, kafka, memory, none")
	}
	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
	}

	if !validFormats[c.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'console'")
	}

	return nil
}
