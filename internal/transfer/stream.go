// Package transfer moves a hash range of records from one node to another.
// The Coordinator drives the control steps from the orchestrator; Send and
// Receiver are the data plane run by the two endpoints.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/storage"
)

// Receiver is the destination side of one handoff. It owns its listening
// socket until Close.
type Receiver struct {
	listener      net.Listener
	acceptTimeout time.Duration
	once          sync.Once
}

// Listen opens a fresh intake socket on host with an OS-assigned port.
// Receive gives up when no sender connects within acceptTimeout; zero
// leaves the wait bounded by the context alone.
func Listen(host string, acceptTimeout time.Duration) (*Receiver, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, fmt.Errorf("failed to open intake socket: %w", err)
	}
	return &Receiver{listener: ln, acceptTimeout: acceptTimeout}, nil
}

// Port returns the intake port.
func (r *Receiver) Port() int {
	return r.listener.Addr().(*net.TCPAddr).Port
}

// Receive accepts one sender and appends every record it sends to engine
// without filtering. It returns the number of records applied.
func (r *Receiver) Receive(ctx context.Context, engine storage.Engine) (int, error) {
	defer r.Close()

	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	// The source dials as soon as it sees TRANSFER_BEGIN.
	if tl, ok := r.listener.(*net.TCPListener); ok && r.acceptTimeout > 0 {
		_ = tl.SetDeadline(time.Now().Add(r.acceptTimeout))
	}
	conn, err := r.listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return 0, fmt.Errorf("%w: no sender connected within %s", cluster.ErrTimeout, r.acceptTimeout)
		}
		return 0, fmt.Errorf("failed to accept sender: %w", err)
	}
	defer conn.Close()

	stopConn := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopConn()

	n, err := engine.BulkLoad(ctx, storage.NewStreamReader(conn))
	if err != nil {
		return n, fmt.Errorf("failed to load records: %w", err)
	}
	return n, nil
}

// Close releases the intake socket.
func (r *Receiver) Close() {
	r.once.Do(func() { _ = r.listener.Close() })
}

// Send streams every record in rng, tombstones included, to addr.
// The source alone decides which records belong to the range.
func Send(ctx context.Context, addr string, engine storage.Engine, rng hashring.Range) (int, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	w := storage.NewRecordWriter(conn)
	if err := engine.Scan(ctx, storage.InRange(rng), w.Write); err != nil {
		return w.Count(), fmt.Errorf("failed to stream range %s: %w", rng, err)
	}
	if err := w.Close(); err != nil {
		return w.Count(), fmt.Errorf("failed to flush stream: %w", err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.CloseWrite(); err != nil {
			return w.Count(), fmt.Errorf("failed to close stream: %w", err)
		}
		// Wait for the receiver to finish reading and close its side.
		var buf [1]byte
		_, _ = conn.Read(buf[:])
	}
	return w.Count(), nil
}

// Address joins a host and a port string received in TRANSFER_REQ_ACK.
func Address(host, port string) (string, error) {
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return "", fmt.Errorf("invalid intake port %q", port)
	}
	return hashring.JoinHostPort(host, p), nil
}
