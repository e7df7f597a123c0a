package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "default config should be valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid http port",
			mutate:  func(c *Config) { c.Server.HTTPPort = 0 },
			wantErr: true,
		},
		{
			name:    "unknown coordination backend",
			mutate:  func(c *Config) { c.Coordination.Backend = "zookeeper" },
			wantErr: true,
		},
		{
			name: "memory backend ignores etcd",
			mutate: func(c *Config) {
				c.Coordination.Backend = "memory"
				c.Etcd.Endpoints = nil
			},
			wantErr: false,
		},
		{
			name:    "etcd backend needs endpoints",
			mutate:  func(c *Config) { c.Etcd.Endpoints = nil },
			wantErr: true,
		},
		{
			name:    "transfer timeout shorter than control timeout",
			mutate:  func(c *Config) { c.Cluster.TransferTimeout = time.Second },
			wantErr: true,
		},
		{
			name:    "unknown recovery policy",
			mutate:  func(c *Config) { c.Cluster.RecoveryPolicy = "promote" },
			wantErr: true,
		},
		{
			name:    "badger without data dir",
			mutate:  func(c *Config) { c.Node.DataDir = "" },
			wantErr: true,
		},
		{
			name:    "cache policy without size",
			mutate:  func(c *Config) { c.Node.Cache.Policy = "arc" },
			wantErr: true,
		},
		{
			name:    "kafka without brokers",
			mutate:  func(c *Config) { c.Events.Type = "kafka" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_port: 9000
coordination:
  backend: memory
cluster:
  recovery_policy: evict
  control_timeout: 2s
node:
  name: node-7
  engine: memory
  cache:
    policy: lru
    size: 128
  backups:
    - 10.0.0.2:7400
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Coordination.Backend)
	assert.Equal(t, RecoveryEvict, cfg.Cluster.RecoveryPolicy)
	assert.Equal(t, 2*time.Second, cfg.Cluster.ControlTimeout)
	assert.Equal(t, 2*time.Hour, cfg.Cluster.TransferTimeout)
	assert.Equal(t, "node-7", cfg.Node.Name)
	assert.Equal(t, "lru", cfg.Node.Cache.Policy)
	assert.Equal(t, []string{"10.0.0.2:7400"}, cfg.Node.Backups)
	assert.Equal(t, "/ringkv", cfg.Coordination.Prefix)
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node:\n  engine: memory\n"), 0644))

	t.Setenv("RINGKV_NODE_NAME", "from-env")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Node.Name)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestHelpers(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:7070", cfg.GetServerAddress())
	assert.Equal(t, "", cfg.GetReplicationAddress())

	cfg.Node.ReplicationPort = 7400
	assert.Equal(t, "0.0.0.0:7400", cfg.GetReplicationAddress())
}
