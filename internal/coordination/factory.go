package coordination

import (
	"fmt"

	"github.com/soltixdb/ringkv/internal/config"
	"github.com/soltixdb/ringkv/internal/logging"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Backends accepted by NewStore
const (
	BackendEtcd   = "etcd"
	BackendMemory = "memory"
)

// NewStore opens the coordination backend named by cfg.Coordination. The
// memory backend only coordinates components inside one process.
func NewStore(cfg *config.Config, logger *logging.Logger) (Store, error) {
	switch cfg.Coordination.Backend {
	case BackendEtcd, "":
		return openEtcd(clientv3.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			DialTimeout: cfg.Etcd.DialTimeout,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
		}, logger)
	case BackendMemory:
		logger.Warn("Using in-process coordination store; other processes cannot join")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported coordination backend: %s", cfg.Coordination.Backend)
	}
}
