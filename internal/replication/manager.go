// Package replication streams a primary's mutations to its backups.
// Delivery is at-most-once: no acks, no retries, and a backup that fails a
// write is dropped until the next Configure.
package replication

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/metrics"
	"github.com/soltixdb/ringkv/internal/storage"
)

const (
	defaultQueueSize   = 4096
	defaultDialTimeout = 3 * time.Second
)

// Failure reports a backup that was dropped.
type Failure struct {
	Peer string
	Err  error
}

// Manager holds one outbound stream per configured backup.
type Manager struct {
	mu    sync.Mutex
	peers map[string]*peer

	failures chan Failure
	events   chan peerExit
	done     chan struct{}
	once     sync.Once

	queueSize   int
	dialTimeout time.Duration
	logger      *logging.Logger
	metrics     *metrics.Metrics
}

type peerExit struct {
	peer *peer
	err  error
}

// NewManager creates a manager with no backups.
func NewManager(logger *logging.Logger, m *metrics.Metrics) *Manager {
	mgr := &Manager{
		peers:       make(map[string]*peer),
		failures:    make(chan Failure, 64),
		events:      make(chan peerExit, 64),
		done:        make(chan struct{}),
		queueSize:   defaultQueueSize,
		dialTimeout: defaultDialTimeout,
		logger:      logger.With("component", "replication"),
		metrics:     m,
	}
	go mgr.supervise()
	return mgr
}

// Configure replaces the backup set. Existing streams are closed and every
// address in backups is dialled afresh; unreachable backups are reported
// on Failures and left out.
func (m *Manager) Configure(ctx context.Context, backups []string) error {
	m.mu.Lock()
	old := m.peers
	m.peers = make(map[string]*peer)
	m.mu.Unlock()
	for _, p := range old {
		p.close()
	}

	var firstErr error
	for _, addr := range backups {
		d := net.Dialer{Timeout: m.dialTimeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			err = fmt.Errorf("failed to dial backup %s: %w", addr, err)
			m.report(Failure{Peer: addr, Err: err})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		p := newPeer(addr, conn, m.queueSize)
		m.mu.Lock()
		m.peers[addr] = p
		m.mu.Unlock()
		go func() {
			err := p.run(m.metrics)
			select {
			case m.events <- peerExit{peer: p, err: err}:
			case <-m.done:
			}
		}()
		m.logger.Info("Backup connected", "peer", addr)
	}
	return firstErr
}

// Replicate hands rec to every connected backup without waiting. A backup
// whose queue is full is dropped.
func (m *Manager) Replicate(rec storage.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for addr, p := range m.peers {
		if !p.enqueue(rec) {
			delete(m.peers, addr)
			p.close()
			m.report(Failure{Peer: addr, Err: fmt.Errorf("backup %s fell behind", addr)})
		}
	}
}

// Peers returns the connected backups.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for addr := range m.peers {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Failures delivers dropped backups. Reports are discarded when nobody reads.
func (m *Manager) Failures() <-chan Failure {
	return m.failures
}

// Close drops every backup.
func (m *Manager) Close() {
	m.once.Do(func() {
		m.mu.Lock()
		peers := m.peers
		m.peers = make(map[string]*peer)
		m.mu.Unlock()
		for _, p := range peers {
			p.close()
		}
		close(m.done)
	})
}

// supervise removes peers whose stream task ended with an error.
func (m *Manager) supervise() {
	for {
		select {
		case ev := <-m.events:
			if ev.err == nil {
				continue
			}
			m.mu.Lock()
			if cur, ok := m.peers[ev.peer.addr]; ok && cur == ev.peer {
				delete(m.peers, ev.peer.addr)
			}
			m.mu.Unlock()
			m.report(Failure{Peer: ev.peer.addr, Err: ev.err})
		case <-m.done:
			return
		}
	}
}

func (m *Manager) report(f Failure) {
	m.logger.Warn("Backup dropped", "peer", f.Peer, "error", f.Err)
	m.metrics.ReplicationFailed(f.Peer)
	select {
	case m.failures <- f:
	default:
	}
}

// peer is the stream task of one backup. Only run touches conn.
type peer struct {
	addr  string
	conn  net.Conn
	queue chan storage.Record
	stop  chan struct{}
	once  sync.Once
}

func newPeer(addr string, conn net.Conn, size int) *peer {
	return &peer{
		addr:  addr,
		conn:  conn,
		queue: make(chan storage.Record, size),
		stop:  make(chan struct{}),
	}
}

func (p *peer) enqueue(rec storage.Record) bool {
	select {
	case p.queue <- rec:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	p.once.Do(func() { close(p.stop) })
}

// run writes queued records until stopped (nil) or a write fails (error).
func (p *peer) run(m *metrics.Metrics) error {
	defer p.conn.Close()
	w := storage.NewRecordWriter(p.conn)
	for {
		select {
		case rec := <-p.queue:
			if err := w.Write(rec); err != nil {
				return err
			}
			m.AddRecords("replicated", 1)
			if len(p.queue) == 0 {
				if err := w.Flush(); err != nil {
					return fmt.Errorf("failed to flush to %s: %w", p.addr, err)
				}
			}
		case <-p.stop:
			_ = w.Close()
			return nil
		}
	}
}
