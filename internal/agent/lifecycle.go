package agent

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/soltixdb/ringkv/internal/control"
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/storage"
	"github.com/soltixdb/ringkv/internal/transfer"
)

// handle answers one control request. Requests arrive one at a time.
func (a *Agent) handle(ctx context.Context, req control.Message) control.Message {
	reply := control.ReplyTo(req, a.opts.Name)
	if err := a.apply(ctx, req, &reply); err != nil {
		reply.Error = err.Error()
	}
	return reply
}

func (a *Agent) apply(ctx context.Context, req control.Message, reply *control.Message) error {
	switch req.Verb {
	case control.VerbInit:
		if !a.adoptRing([]byte(req.Value), "init") {
			return fmt.Errorf("invalid ring snapshot")
		}
		a.setStatus(hashring.StatusStarting)

	case control.VerbStart:
		a.setStatus(hashring.StatusRunning)

	case control.VerbStop:
		a.setStatus(hashring.StatusStopping)
		a.setStatus(hashring.StatusStopped)

	case control.VerbShutdown:
		if err := a.engine.Clear(ctx); err != nil {
			return fmt.Errorf("failed to wipe local data: %w", err)
		}
		a.setStatus(hashring.StatusOffline)

	case control.VerbLock:
		a.setLocked(true)

	case control.VerbUnlock:
		a.setLocked(false)
		if a.dropIntake() {
			a.logger.Info("Closed intake of an abandoned transfer")
		}

	case control.VerbTransferReq:
		port, err := a.openIntake()
		if err != nil {
			return err
		}
		reply.Value = strconv.Itoa(port)

	case control.VerbMoveData:
		if req.Range == nil || req.Address == "" {
			return fmt.Errorf("MOVE_DATA needs a range and an address")
		}
		// This node sends in the coming handoff.
		a.dropIntake()
		a.mu.Lock()
		a.move = &moveOrder{addr: req.Address, rng: *req.Range}
		a.mu.Unlock()

	case control.VerbTransferBegin:
		return a.runTransfer(ctx)

	case control.VerbDelete:
		if req.Range == nil {
			return fmt.Errorf("DELETE needs a range")
		}
		n, err := a.engine.Purge(ctx, storage.InRange(*req.Range))
		if err != nil {
			return fmt.Errorf("failed to purge %s: %w", req.Range, err)
		}
		a.logger.Info("Purged handed-off range", "range", req.Range.String(), "records", n)

	default:
		return fmt.Errorf("unsupported verb %s", req.Verb)
	}
	return nil
}

// afterReply runs once an acknowledgment is visible to the orchestrator.
func (a *Agent) afterReply(req, reply control.Message) {
	if req.Verb != control.VerbShutdown || reply.Error != "" {
		return
	}
	a.shutdownOnce.Do(func() {
		if err := a.registration.Deregister(context.Background()); err != nil {
			a.logger.Warn("Failed to deregister on shutdown", "error", err)
		}
		close(a.shutdown)
	})
}

func (a *Agent) setLocked(locked bool) {
	a.mu.Lock()
	a.locked = locked
	a.mu.Unlock()
	a.logger.Info("Write gate changed", "locked", locked)
}

// openIntake replaces any previous intake socket with a fresh one and
// forgets a send order left by an abandoned handoff.
func (a *Agent) openIntake() (int, error) {
	r, err := transfer.Listen(a.opts.TransferHost, a.opts.AcceptTimeout)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	if a.receiver != nil {
		a.receiver.Close()
	}
	a.receiver = r
	a.move = nil
	a.mu.Unlock()
	return r.Port(), nil
}

// dropIntake closes a pending intake socket and reports whether there was one.
func (a *Agent) dropIntake() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.receiver == nil {
		return false
	}
	a.receiver.Close()
	a.receiver = nil
	return true
}

// runTransfer performs this node's side of the pending handoff: receiving
// when TRANSFER_REQ opened an intake, sending when MOVE_DATA named a target.
func (a *Agent) runTransfer(ctx context.Context) error {
	a.mu.Lock()
	receiver, move := a.receiver, a.move
	a.receiver, a.move = nil, nil
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.opts.TransferTimeout)
	defer cancel()
	start := time.Now()

	switch {
	case receiver != nil:
		n, err := receiver.Receive(ctx, a.engine)
		a.metrics.AddRecords("received", n)
		if err != nil {
			return err
		}
		a.logger.Info("Range received", "records", n, "duration", time.Since(start))

	case move != nil:
		n, err := transfer.Send(ctx, move.addr, a.engine, move.rng)
		a.metrics.AddRecords("sent", n)
		if err != nil {
			return err
		}
		a.logger.Info("Range sent", "range", move.rng.String(), "to", move.addr, "records", n, "duration", time.Since(start))

	default:
		return fmt.Errorf("no transfer pending")
	}
	return nil
}
