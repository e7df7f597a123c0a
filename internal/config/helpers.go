package config

import (
	"os"
	"strconv"
	"strings"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// EnsureDirectories ensures all required directories exist
func (c *Config) EnsureDirectories() error {
	if c.Node.Engine != "badger" {
		return nil
	}
	return os.MkdirAll(c.Node.DataDir, 0755)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Logging.Level == "debug" && c.Logging.Format == "console"
}

// GetServerAddress returns the HTTP bind address
func (c *Config) GetServerAddress() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.HTTPPort)
}

// GetReplicationAddress returns the replica ingress bind address, or ""
// when ingress is disabled
func (c *Config) GetReplicationAddress() string {
	if c.Node.ReplicationPort == 0 {
		return ""
	}
	return c.Server.Host + ":" + strconv.Itoa(c.Node.ReplicationPort)
}
