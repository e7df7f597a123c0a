package coordination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/soltixdb/ringkv/internal/logging"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdStore implements Store on etcd. Ephemeral keys are bound to leases
// refreshed by a keep-alive loop.
type EtcdStore struct {
	client *clientv3.Client
	logger *logging.Logger
	owned  bool
}

// NewEtcdStore connects to etcd.
func NewEtcdStore(endpoints []string, dialTimeout time.Duration, logger *logging.Logger) (*EtcdStore, error) {
	return openEtcd(clientv3.Config{Endpoints: endpoints, DialTimeout: dialTimeout}, logger)
}

func openEtcd(cfg clientv3.Config, logger *logging.Logger) (*EtcdStore, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client, err := clientv3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	// clientv3.New does not fail on unreachable endpoints; probe once.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := client.Get(ctx, "/", clientv3.WithCountOnly()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach etcd: %w", err)
	}

	return &EtcdStore{client: client, logger: logger, owned: true}, nil
}

// NewEtcdStoreFromClient wraps an existing client. Close leaves it open.
func NewEtcdStoreFromClient(client *clientv3.Client, logger *logging.Logger) *EtcdStore {
	return &EtcdStore{client: client, logger: logger}
}

func (s *EtcdStore) Put(ctx context.Context, key string, value []byte) (int64, error) {
	resp, err := s.client.Put(ctx, key, string(value))
	if err != nil {
		return 0, fmt.Errorf("failed to put %s: %w", key, err)
	}
	return resp.Header.Revision, nil
}

// Get returns the value and the store revision at read time.
func (s *EtcdStore) Get(ctx context.Context, key string) ([]byte, int64, error) {
	resp, err := s.client.Get(ctx, key)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, resp.Header.Revision, ErrNotFound
	}
	return resp.Kvs[0].Value, resp.Header.Revision, nil
}

func (s *EtcdStore) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := s.client.Get(ctx, key, clientv3.WithCountOnly())
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return resp.Count > 0, nil
}

func (s *EtcdStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// CreateEphemeral writes key under a fresh lease and keeps the lease alive
// until Release or until keep-alives stop being acknowledged.
func (s *EtcdStore) CreateEphemeral(ctx context.Context, key string, value []byte, ttl time.Duration) (Lease, error) {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	grant, err := s.client.Grant(ctx, seconds)
	if err != nil {
		return nil, fmt.Errorf("failed to create lease: %w", err)
	}
	if _, err := s.client.Put(ctx, key, string(value), clientv3.WithLease(grant.ID)); err != nil {
		_, _ = s.client.Revoke(context.Background(), grant.ID)
		return nil, fmt.Errorf("failed to put ephemeral %s: %w", key, err)
	}

	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := s.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		_, _ = s.client.Revoke(context.Background(), grant.ID)
		return nil, fmt.Errorf("failed to start keep-alive: %w", err)
	}

	l := &etcdLease{
		client: s.client,
		id:     grant.ID,
		key:    key,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: s.logger,
	}
	go l.keepAlive(ch)

	s.logger.Debug("Ephemeral key created", "key", key, "lease_id", int64(grant.ID), "ttl", seconds)
	return l, nil
}

func (s *EtcdStore) Watch(ctx context.Context, key string, afterRev int64) <-chan Event {
	return s.watch(ctx, key, afterRev)
}

func (s *EtcdStore) WatchPrefix(ctx context.Context, prefix string, afterRev int64) <-chan Event {
	return s.watch(ctx, prefix, afterRev, clientv3.WithPrefix())
}

func (s *EtcdStore) watch(ctx context.Context, key string, afterRev int64, opts ...clientv3.OpOption) <-chan Event {
	if afterRev > 0 {
		opts = append(opts, clientv3.WithRev(afterRev+1))
	}
	// WithRequireLeader makes a partitioned member close the watch instead
	// of silently stalling.
	wch := s.client.Watch(clientv3.WithRequireLeader(ctx), key, opts...)

	out := make(chan Event)
	go func() {
		defer close(out)
		for resp := range wch {
			if err := resp.Err(); err != nil {
				s.logger.Warn("Watch interrupted", "key", key, "error", err)
				return
			}
			for _, ev := range resp.Events {
				e := Event{
					Key:      string(ev.Kv.Key),
					Value:    ev.Kv.Value,
					Revision: ev.Kv.ModRevision,
				}
				if ev.Type == clientv3.EventTypeDelete {
					e.Type = EventDelete
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close closes the client if the store created it.
// Done follows the client's lifetime.
func (s *EtcdStore) Done() <-chan struct{} {
	return s.client.Ctx().Done()
}

func (s *EtcdStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

type etcdLease struct {
	client *clientv3.Client
	id     clientv3.LeaseID
	key    string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	logger *logging.Logger
}

func (l *etcdLease) keepAlive(ch <-chan *clientv3.LeaseKeepAliveResponse) {
	defer l.close()
	for ka := range ch {
		if ka == nil {
			l.logger.Warn("Received nil keep-alive response", "lease_id", int64(l.id))
			continue
		}
		l.logger.Debug("Heartbeat sent", "lease_id", int64(l.id), "ttl", ka.TTL)
	}
	l.logger.Debug("Keep-alive channel closed", "key", l.key, "lease_id", int64(l.id))
}

func (l *etcdLease) close() {
	l.once.Do(func() { close(l.done) })
}

func (l *etcdLease) Done() <-chan struct{} {
	return l.done
}

func (l *etcdLease) Release(ctx context.Context) error {
	l.cancel()
	_, err := l.client.Revoke(ctx, l.id)
	l.close()
	if err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}
