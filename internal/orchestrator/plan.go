package orchestrator

import (
	"github.com/soltixdb/ringkv/internal/hashring"
	"github.com/soltixdb/ringkv/internal/transfer"
)

// ComputeTransferPlan lists the handoffs that realise candidate.
//
// A STARTING node receives its range from the nearest RUNNING node
// clockwise from it. A STOPPING node sends its range to the nearest RUNNING
// node clockwise from it. A node with no RUNNING node anywhere ahead of it
// gets no entry.
func ComputeTransferPlan(candidate *hashring.Ring) []transfer.Transfer {
	var plan []transfer.Transfer
	for _, n := range candidate.Nodes() {
		switch n.Status {
		case hashring.StatusStarting:
			if src, ok := nearestRunning(candidate, n.Name); ok {
				plan = append(plan, transfer.New(src, n, n.Range()))
			}
		case hashring.StatusStopping:
			if dst, ok := nearestRunning(candidate, n.Name); ok {
				plan = append(plan, transfer.New(n, dst, n.Range()))
			}
		}
	}
	return plan
}

// nearestRunning walks clockwise from name, at most once around the ring.
func nearestRunning(ring *hashring.Ring, name string) (hashring.Node, bool) {
	for _, n := range ring.Successors(name) {
		if n.Status == hashring.StatusRunning {
			return n, true
		}
	}
	return hashring.Node{}, false
}

// Waves splits plan into rounds in which no node takes part in more than one
// transfer, since a node's mailbox carries one request at a time.
func Waves(plan []transfer.Transfer) [][]transfer.Transfer {
	var waves [][]transfer.Transfer
	var busy []map[string]bool

	for _, t := range plan {
		placed := false
		for i := range waves {
			if busy[i][t.From.Name] || busy[i][t.To.Name] {
				continue
			}
			waves[i] = append(waves[i], t)
			busy[i][t.From.Name], busy[i][t.To.Name] = true, true
			placed = true
			break
		}
		if !placed {
			waves = append(waves, []transfer.Transfer{t})
			busy = append(busy, map[string]bool{t.From.Name: true, t.To.Name: true})
		}
	}
	return waves
}

func planKey(t transfer.Transfer) string {
	return t.From.Name + ">" + t.To.Name + " " + t.Range.String()
}
