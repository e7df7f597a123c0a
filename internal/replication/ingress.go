package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/metrics"
	"github.com/soltixdb/ringkv/internal/storage"
)

// Ingress is the backup side: it accepts primary connections and applies
// every record straight to the local engine. No ownership checks are made;
// the primary is the range authority.
type Ingress struct {
	listener net.Listener
	engine   storage.Engine
	logger   *logging.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewIngress listens on addr.
func NewIngress(addr string, engine storage.Engine, logger *logging.Logger, m *metrics.Metrics) (*Ingress, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen for replication on %s: %w", addr, err)
	}
	return &Ingress{
		listener: ln,
		engine:   engine,
		logger:   logger.With("component", "replication-ingress"),
		metrics:  m,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the listening address.
func (i *Ingress) Addr() string {
	return i.listener.Addr().String()
}

// Serve accepts primaries until ctx ends or Close is called.
func (i *Ingress) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = i.Close() })
	defer stop()

	i.logger.Info("Replication ingress listening", "addr", i.Addr())
	for {
		conn, err := i.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("replication accept failed: %w", err)
		}
		i.track(conn, true)
		i.wg.Add(1)
		go i.apply(ctx, conn)
	}
}

func (i *Ingress) apply(ctx context.Context, conn net.Conn) {
	defer i.wg.Done()
	defer i.track(conn, false)
	defer conn.Close()

	peer := conn.RemoteAddr().String()
	i.logger.Info("Primary connected", "peer", peer)

	r := storage.NewStreamReader(conn)
	applied := 0
	for {
		rec, err := r.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				i.logger.Warn("Replication stream broken", "peer", peer, "error", err)
			}
			break
		}
		if err := i.engine.Apply(ctx, rec); err != nil {
			i.logger.Error("Failed to apply replicated record", "peer", peer, "key", rec.Key, "error", err)
			continue
		}
		applied++
		i.metrics.AddRecords("applied", 1)
	}
	i.logger.Info("Primary disconnected", "peer", peer, "applied", applied)
}

func (i *Ingress) track(conn net.Conn, add bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if add {
		i.conns[conn] = struct{}{}
	} else {
		delete(i.conns, conn)
	}
}

// Close stops accepting, drops open streams and waits for them to finish.
func (i *Ingress) Close() error {
	err := i.listener.Close()
	i.mu.Lock()
	for conn := range i.conns {
		_ = conn.Close()
	}
	i.mu.Unlock()
	i.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
